package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"watertank_node/internal/connectivity"
	"watertank_node/internal/level"
	"watertank_node/internal/logger"
	"watertank_node/internal/models"
	"watertank_node/internal/repository"
)

// SampleSource produces one robust distance estimate per burst. The second
// return is false on a sampling failure; the zero distance then carries no
// meaning.
type SampleSource interface {
	Burst(ctx context.Context) (float64, bool)
}

// Conn is the slice of the connectivity manager the publisher needs.
type Conn interface {
	Connected() bool
	Publish(topic string, retained bool, payload []byte) error
}

// Options fixes the publishing policy and the node identity fields.
type Options struct {
	MeasureInterval   time.Duration
	HeartbeatInterval time.Duration
	FailureThreshold  int

	Location   string
	SensorType string

	TelemetryTopic string
	StatusTopic    string
}

// Publisher runs the measurement and liveness schedules. Invoked once per
// control-loop iteration; every send is best-effort and never retried
// inline, the next scheduled opportunity is the retry.
type Publisher struct {
	sampler   SampleSource
	estimator *level.Estimator
	conn      Conn
	diag      DiagnosticsSource
	journal   repository.EventRepo
	opt       Options
	log       *logger.Logger
}

func New(sampler SampleSource, estimator *level.Estimator, conn Conn, diag DiagnosticsSource,
	journal repository.EventRepo, opt Options, log *logger.Logger) *Publisher {
	return &Publisher{
		sampler:   sampler,
		estimator: estimator,
		conn:      conn,
		diag:      diag,
		journal:   journal,
		opt:       opt,
		log:       log.Component("publisher"),
	}
}

// Tick advances both schedules. Sampling runs on its interval regardless of
// connectivity; a sample taken while disconnected is simply not published.
// The heartbeat runs on its own, longer interval so downstream liveness
// checks do not depend on sampling succeeding.
func (p *Publisher) Tick(ctx context.Context, now time.Time, st *models.NodeState) {
	if st.LastSampleAt.IsZero() || now.Sub(st.LastSampleAt) >= p.opt.MeasureInterval {
		p.measure(ctx, now, st)
	}
	if st.LastHeartbeatAt.IsZero() || now.Sub(st.LastHeartbeatAt) >= p.opt.HeartbeatInterval {
		p.heartbeat(now, st)
	}
}

func (p *Publisher) measure(ctx context.Context, now time.Time, st *models.NodeState) {
	st.LastSampleAt = now

	dist, ok := p.sampler.Burst(ctx)
	if !ok {
		st.ConsecutiveSampleFailures++
		p.log.Warnw("sampling failed", "consecutive", st.ConsecutiveSampleFailures)

		// Exactly one error report per failure streak: emitted when the
		// streak reaches the threshold, re-armed by the next success.
		if st.ConsecutiveSampleFailures == p.opt.FailureThreshold {
			p.reportSensorFailure(ctx, now, st)
		}
		return
	}

	st.ConsecutiveSampleFailures = 0
	reading := p.estimator.Reading(dist)
	p.publishTelemetry(now, st, reading)
}

func (p *Publisher) publishTelemetry(now time.Time, st *models.NodeState, reading models.LevelReading) {
	report := models.TelemetryReport{
		DistanceCm:   reading.DistanceCm,
		WaterLevelCm: reading.LevelCm,
		PercentFull:  reading.PercentFull,
		TankHeightCm: reading.TankHeightCm,
		SensorType:   p.opt.SensorType,
		Location:     p.opt.Location,
		RSSI:         p.diag.RSSI(),
		HeapFree:     p.diag.HeapFree(),
		UptimeS:      p.diag.UptimeS(now),
	}

	if err := p.send(p.opt.TelemetryTopic, false, report); err != nil {
		if errors.Is(err, connectivity.ErrNotConnected) {
			p.log.Debugw("telemetry skipped while disconnected",
				"percent_full", report.PercentFull)
		} else {
			p.log.Warnw("telemetry publish failed", "err", err)
		}
		return
	}

	st.LastPublishAt = now
	p.log.Infow("telemetry published",
		"distance_cm", report.DistanceCm,
		"water_level_cm", report.WaterLevelCm,
		"percent_full", report.PercentFull,
	)
}

// heartbeat refreshes the retained liveness record. Only attempted while
// connected; the timestamp is not advanced otherwise, so the first iteration
// after a reconnect refreshes it promptly. While a failure streak is at or
// past the threshold the heartbeat carries the error status, so the retained
// record keeps saying "online but sensor broken" instead of reverting to a
// plain "online".
func (p *Publisher) heartbeat(now time.Time, st *models.NodeState) {
	if !p.conn.Connected() {
		return
	}

	if err := p.send(p.opt.StatusTopic, true, p.statusFor(st)); err != nil {
		p.log.Warnw("heartbeat publish failed", "err", err)
		return
	}
	st.LastHeartbeatAt = now
}

// reportSensorFailure journals the streak and publishes the retained error
// status so downstream consumers can tell "device online but sensor broken"
// from "device offline".
func (p *Publisher) reportSensorFailure(ctx context.Context, now time.Time, st *models.NodeState) {
	if p.journal != nil {
		err := p.journal.Append(ctx, models.NodeEvent{
			OccurredAt:  now,
			Type:        models.EventSensorFailure,
			Description: "consecutive sampling failures reached threshold",
			Metadata:    map[string]any{"consecutive": st.ConsecutiveSampleFailures},
		})
		if err != nil {
			p.log.Warnw("journal append failed", "err", err)
		}
	}

	if err := p.send(p.opt.StatusTopic, true, p.statusFor(st)); err != nil {
		p.log.Warnw("error report publish failed", "err", err)
	}
}

// statusFor builds the retained status payload for the node's current
// condition: online, or error while the failure streak is at or past the
// threshold.
func (p *Publisher) statusFor(st *models.NodeState) models.NodeStatus {
	status := p.OnlineStatus(st)
	if p.opt.FailureThreshold > 0 && st.ConsecutiveSampleFailures >= p.opt.FailureThreshold {
		status.Status = models.StatusError
		status.ErrorType = models.ErrorSensorFailure
		status.ConsecutiveErrors = st.ConsecutiveSampleFailures
	}
	return status
}

// OnlineStatus builds the retained status payload. The connectivity manager
// uses it for the reconnect announcement; the heartbeat path reuses it.
func (p *Publisher) OnlineStatus(st *models.NodeState) models.NodeStatus {
	return models.NodeStatus{
		Status:     models.StatusOnline,
		BootCount:  st.BootCount,
		RSSI:       p.diag.RSSI(),
		IP:         p.diag.IP(),
		SensorType: p.opt.SensorType,
		Location:   p.opt.Location,
	}
}

func (p *Publisher) send(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(topic, retained, payload)
}
