package domain

import (
	"context"
	"time"
)

// ObservationCache keeps the most recent observation for fast lookups.
type ObservationCache interface {
	SetLatest(ctx context.Context, obs Observation) error
	GetLatest(ctx context.Context) (Observation, error)
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
	// StreamTail returns the newest count entries, oldest first.
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// LockManager hands out short-lived exclusive locks shared between
// monitor instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
