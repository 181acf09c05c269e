package sensor

import (
	"context"
	"errors"
	"sort"
	"time"

	"watertank_node/internal/logger"
)

// Echo round-trip to one-way distance: 58 µs per cm for sound in air.
const microsecondsPerCm = 58.0

// ErrNoEcho is returned by a Transducer when no return edge arrives within
// the echo timeout.
var ErrNoEcho = errors.New("no echo within timeout")

// Transducer measures one echo round-trip. Implementations must bound the
// measurement by their configured timeout; this is the only blocking point
// the control loop tolerates.
type Transducer interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Options fixes the burst policy. Zero values are not usable; callers build
// it from config.
type Options struct {
	BurstSize  int
	Quorum     int
	MinValidCm float64
	MaxValidCm float64
	PulseGap   time.Duration
}

// Sampler reduces a burst of noisy raw pulses to one robust distance
// estimate.
type Sampler struct {
	tr  Transducer
	opt Options
	log *logger.Logger
}

func NewSampler(tr Transducer, opt Options, log *logger.Logger) *Sampler {
	return &Sampler{tr: tr, opt: opt, log: log.Component("sampler")}
}

// Burst fires BurstSize independent pulses with PulseGap between them,
// keeps the readings inside [MinValidCm, MaxValidCm], and returns the median
// of the valid subset. The second return is false when fewer than Quorum
// readings were valid; the zero distance then carries no meaning and must
// not be treated as a reading.
func (s *Sampler) Burst(ctx context.Context) (float64, bool) {
	valid := make([]float64, 0, s.opt.BurstSize)

	for i := 0; i < s.opt.BurstSize; i++ {
		if i > 0 {
			if !sleepCtx(ctx, s.opt.PulseGap) {
				return 0, false
			}
		}

		echo, err := s.tr.Ping(ctx)
		if err != nil {
			s.log.Debugw("pulse failed", "pulse", i, "err", err)
			continue
		}

		cm := float64(echo) / float64(time.Microsecond) / microsecondsPerCm
		if cm < s.opt.MinValidCm || cm > s.opt.MaxValidCm {
			s.log.Debugw("pulse out of range", "pulse", i, "distance_cm", cm)
			continue
		}
		valid = append(valid, cm)
	}

	if len(valid) < s.opt.Quorum {
		s.log.Debugw("burst below quorum", "valid", len(valid), "quorum", s.opt.Quorum)
		return 0, false
	}
	return median(valid), true
}

// median sorts in place and returns the element at index len/2, so an even
// count yields the upper-middle reading.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	return vals[len(vals)/2]
}

// sleepCtx waits d unless ctx is canceled first. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
