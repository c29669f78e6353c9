package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Publisher is the fan-out side of the signal bus. The Redis SignalBus and
// the in-process WebSocket hub both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Streamer appends to a durable stream.
type Streamer interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// encodeEvent wraps payload in the bus envelope.
func encodeEvent(eventType string, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(domain.Event{Type: eventType, Payload: payload, At: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return data, nil
}
