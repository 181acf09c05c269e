package models

// LoopEventKind tags the closed set of asynchronous signals the control loop
// consumes at its single dispatch point.
type LoopEventKind string

const (
	LoopNetUp          LoopEventKind = "net_up"
	LoopNetDown        LoopEventKind = "net_down"
	LoopSessionUp      LoopEventKind = "session_up"
	LoopSessionDown    LoopEventKind = "session_down"
	LoopUpdateRequest  LoopEventKind = "update_request"
	LoopUpdateProgress LoopEventKind = "update_progress"
)

// LoopEvent is one such signal. Producers enqueue without blocking; the loop
// drains the queue once per iteration.
type LoopEvent struct {
	Kind LoopEventKind

	// Update command parameters (LoopUpdateRequest).
	ImageURL string
	SHA256   string

	// Progress in bytes (LoopUpdateProgress).
	Bytes int64

	// Failure reason (LoopSessionDown).
	Reason string
}
