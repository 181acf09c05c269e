package models

import "time"

// Journal event types.
const (
	EventBoot          = "BOOT"
	EventNetUp         = "NET_UP"
	EventNetDown       = "NET_DOWN"
	EventSessionUp     = "SESSION_UP"
	EventSessionDown   = "SESSION_DOWN"
	EventSensorFailure = "SENSOR_FAILURE"
	EventUpdateStart   = "UPDATE_START"
	EventUpdateDone    = "UPDATE_DONE"
	EventUpdateFail    = "UPDATE_FAIL"
)

// NodeEvent is a single entry in the local diagnostic journal. The journal
// never feeds the broker; outages still lose telemetry by design.
type NodeEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
