package models

// NetworkState tracks low-level link association, independent of any
// messaging session on top of it.
type NetworkState string

const (
	NetDisconnected NetworkState = "DISCONNECTED"
	NetConnecting   NetworkState = "CONNECTING"
	NetAssociated   NetworkState = "ASSOCIATED"
)

// SessionState tracks the messaging session to the telemetry broker.
// A session may only be attempted while the network is ASSOCIATED.
type SessionState string

const (
	SessionDisconnected SessionState = "DISCONNECTED"
	SessionConnected    SessionState = "CONNECTED"
)

// ConnectionState is the two-axis connectivity snapshot. Owned and mutated
// by the connectivity manager; read-only everywhere else.
type ConnectionState struct {
	Network NetworkState `json:"network"`
	Session SessionState `json:"session"`
}
