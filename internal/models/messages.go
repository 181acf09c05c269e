package models

// Status values carried on the status topic.
const (
	StatusOnline = "online"
	StatusError  = "error"
)

// Error types carried on the status topic when Status == "error".
const (
	ErrorSensorFailure = "sensor_failure"
)

// TelemetryReport is the per-measurement payload (not retained).
// Field types are part of the downstream ingestion contract: a numeric field
// must stay numeric message-to-message or the ingestion layer drops it.
type TelemetryReport struct {
	DistanceCm   float64 `json:"distance_cm"`
	WaterLevelCm float64 `json:"water_level_cm"`
	PercentFull  float64 `json:"percent_full"`
	TankHeightCm float64 `json:"tank_height_cm"`
	SensorType   string  `json:"sensor_type"`
	Location     string  `json:"location"`
	RSSI         int     `json:"rssi"`
	HeapFree     uint64  `json:"heap_free"`
	UptimeS      int64   `json:"uptime_s"`
}

// NodeStatus is the retained payload on the status topic. It doubles as the
// periodic heartbeat, the reconnect announcement, and (with Status "error")
// the persistent-sensor-failure report.
type NodeStatus struct {
	Status            string `json:"status"` // online | error
	BootCount         int64  `json:"boot_count"`
	RSSI              int    `json:"rssi"`
	IP                string `json:"ip"`
	SensorType        string `json:"sensor_type"`
	Location          string `json:"location"`
	ErrorType         string `json:"error_type,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
}
