package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest price per symbol for other processes.
type PriceCache interface {
	SetPrice(ctx context.Context, sample PriceSample) error
	GetPrice(ctx context.Context, symbol string) (PriceSample, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]PriceSample, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelPrices        = "prices"
	ChannelOpportunities = "opportunities"
	ChannelStreamStatus  = "stream_status"
)
