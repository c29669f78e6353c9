package domain

import "time"

// Event is the envelope published on the bus and pushed to WebSocket and SSE
// clients.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Event types.
const (
	EventPrice        = "price"
	EventOpportunity  = "opportunity"
	EventStreamStatus = "stream_status"
	EventStatus       = "status"
)

// ChannelStatus carries periodic EngineStatus snapshots.
const ChannelStatus = "status"

// StreamOpportunities is the durable Redis stream of recorded opportunities.
const StreamOpportunities = "stream:opportunities"
