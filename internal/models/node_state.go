package models

import "time"

// NodeState gathers the node's mutable counters in one place so the control
// loop, publisher and connectivity manager operate on a single inspectable
// object instead of free-floating globals.
//
// Everything here is process-lifetime except BootCount, which is loaded from
// and persisted by the state repository so it survives power cycles.
type NodeState struct {
	BootCount                 int64
	ConsecutiveSampleFailures int
	StartedAt                 time.Time
	LastSampleAt              time.Time
	LastPublishAt             time.Time
	LastHeartbeatAt           time.Time
}
