package domain

import "time"

// StreamState describes the market data connection as seen by consumers.
type StreamState string

const (
	StreamIdle         StreamState = "idle"
	StreamConnecting   StreamState = "connecting"
	StreamConnected    StreamState = "connected"
	StreamReconnecting StreamState = "reconnecting"
	StreamDisconnected StreamState = "disconnected"
	StreamFailed       StreamState = "failed"
)

// StreamStatus is published on the bus whenever the connection state changes.
type StreamStatus struct {
	State      StreamState `json:"state"`
	Symbols    int         `json:"symbols"`
	Attempt    int         `json:"attempt,omitempty"`
	Reconnects int         `json:"reconnects"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}

// EngineStatus is the read-only status surface for API consumers. A
// disconnected stream and a healthy stream with no opportunities are
// reported through different fields.
type EngineStatus struct {
	Mode               string      `json:"mode"`
	StreamState        StreamState `json:"stream_state"`
	StreamRunning      bool        `json:"websocket_running"`
	Reconnects         int         `json:"reconnects"`
	DroppedTicks       int64       `json:"dropped_ticks"`
	Interval           string      `json:"interval"`
	MonitoredSymbols   int         `json:"monitored_symbols"`
	PricedSymbols      int         `json:"priced_symbols"`
	OpportunitiesFound int64       `json:"opportunities_found"`
	OpportunitiesHeld  int         `json:"opportunities_held"`
	ConnectedClients   int         `json:"connected_clients"`
	LastDetection      time.Time   `json:"last_detection,omitempty"`
	LastCycleDuration  string      `json:"last_cycle_duration,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
	UptimeSeconds      int64       `json:"uptime_seconds"`
}
