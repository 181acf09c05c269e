// Package watchdog arms and feeds the hardware watchdog. The control loop
// kicks once per iteration before anything slow; if the loop ever stalls past
// the configured window, the hardware forces a full restart. That reset path
// is not handled in software.
package watchdog

// Watchdog is kicked once per control-loop iteration.
type Watchdog interface {
	// Kick re-arms the timer. Must be cheap and non-blocking.
	Kick() error
	// Close disarms the watchdog where the hardware supports it, so a
	// clean shutdown does not reboot the node.
	Close() error
}

// Nop satisfies Watchdog on hosts without a watchdog device (development
// machines, tests).
type Nop struct{}

func (Nop) Kick() error  { return nil }
func (Nop) Close() error { return nil }
