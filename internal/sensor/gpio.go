package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// HC-SR04 trigger pulse shape.
const (
	triggerSettle = 2 * time.Microsecond
	triggerWidth  = 10 * time.Microsecond
)

// Ultrasonic drives an HC-SR04-style transducer over two GPIO lines: a
// trigger output and an echo input watched for both edges. The echo line's
// kernel timestamps give the round-trip time without busy-polling.
type Ultrasonic struct {
	trig    *gpiocdev.Line
	echo    *gpiocdev.Line
	events  chan gpiocdev.LineEvent
	timeout time.Duration
}

// NewUltrasonic requests the trigger and echo lines on the given chip
// (e.g. "gpiochip0"). Close releases both lines.
func NewUltrasonic(chip string, triggerPin, echoPin int, echoTimeout time.Duration) (*Ultrasonic, error) {
	trig, err := gpiocdev.RequestLine(chip, triggerPin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("tanknode-trigger"))
	if err != nil {
		return nil, fmt.Errorf("request trigger line %d on %s: %w", triggerPin, chip, err)
	}

	u := &Ultrasonic{
		trig: trig,
		// Buffered so the kernel handler never blocks; stale edges are
		// drained before each pulse.
		events:  make(chan gpiocdev.LineEvent, 16),
		timeout: echoTimeout,
	}

	echo, err := gpiocdev.RequestLine(chip, echoPin,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("tanknode-echo"),
		gpiocdev.WithEventHandler(u.onEdge))
	if err != nil {
		trig.Close()
		return nil, fmt.Errorf("request echo line %d on %s: %w", echoPin, chip, err)
	}
	u.echo = echo

	return u, nil
}

func (u *Ultrasonic) onEdge(evt gpiocdev.LineEvent) {
	select {
	case u.events <- evt:
	default:
		// Drop rather than block the event goroutine.
	}
}

// Ping fires one trigger pulse and measures the time between the rising and
// falling echo edges, bounded by the configured echo timeout.
func (u *Ultrasonic) Ping(ctx context.Context) (time.Duration, error) {
	u.drain()

	if err := u.fireTrigger(); err != nil {
		return 0, err
	}

	rise, err := u.waitEdge(ctx, gpiocdev.LineEventRisingEdge)
	if err != nil {
		return 0, err
	}
	fall, err := u.waitEdge(ctx, gpiocdev.LineEventFallingEdge)
	if err != nil {
		return 0, err
	}

	rt := fall.Timestamp - rise.Timestamp
	if rt <= 0 {
		return 0, ErrNoEcho
	}
	return rt, nil
}

func (u *Ultrasonic) fireTrigger() error {
	if err := u.trig.SetValue(0); err != nil {
		return fmt.Errorf("clear trigger: %w", err)
	}
	time.Sleep(triggerSettle)
	if err := u.trig.SetValue(1); err != nil {
		return fmt.Errorf("assert trigger: %w", err)
	}
	time.Sleep(triggerWidth)
	if err := u.trig.SetValue(0); err != nil {
		return fmt.Errorf("release trigger: %w", err)
	}
	return nil
}

func (u *Ultrasonic) waitEdge(ctx context.Context, want gpiocdev.LineEventType) (gpiocdev.LineEvent, error) {
	deadline := time.NewTimer(u.timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return gpiocdev.LineEvent{}, ctx.Err()
		case <-deadline.C:
			return gpiocdev.LineEvent{}, ErrNoEcho
		case evt := <-u.events:
			if evt.Type == want {
				return evt, nil
			}
			// Opposite edge left over from a previous pulse; keep waiting.
		}
	}
}

func (u *Ultrasonic) drain() {
	for {
		select {
		case <-u.events:
		default:
			return
		}
	}
}

func (u *Ultrasonic) Close() {
	u.echo.Close()
	u.trig.Close()
}
