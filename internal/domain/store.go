package domain

import (
	"context"
	"time"
)

// ObservationAppender durably appends observations to the time series.
type ObservationAppender interface {
	Append(ctx context.Context, obs Observation) error
}

// ObservationReader reads back the persisted time series.
type ObservationReader interface {
	Tail(n int) ([]Observation, error)
}

// ObservationSink receives a copy of every persisted observation. Sinks are
// best effort and never affect the primary time series.
type ObservationSink interface {
	Name() string
	Publish(ctx context.Context, obs Observation) error
}

// ObservationStore persists observations in a relational database.
type ObservationStore interface {
	Insert(ctx context.Context, obs Observation) error
	ListRecent(ctx context.Context, limit int) ([]Observation, error)
	ListSince(ctx context.Context, since time.Time) ([]Observation, error)
}
