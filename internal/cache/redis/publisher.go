package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// Publisher is the monitor sink for Redis. Each observation updates the
// latest key, is broadcast on ChannelArb and appended to StreamArb.
type Publisher struct {
	cache domain.ObservationCache
	bus   domain.SignalBus
}

// NewPublisher combines a cache and a bus into one sink.
func NewPublisher(cache domain.ObservationCache, bus domain.SignalBus) *Publisher {
	return &Publisher{cache: cache, bus: bus}
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string { return "redis" }

// Publish attempts all three writes and joins their errors.
func (p *Publisher) Publish(ctx context.Context, obs domain.Observation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("redis: marshal observation: %w", err)
	}

	var errs []error
	if err := p.cache.SetLatest(ctx, obs); err != nil {
		errs = append(errs, err)
	}
	if err := p.bus.Publish(ctx, ChannelArb, payload); err != nil {
		errs = append(errs, err)
	}
	if err := p.bus.StreamAppend(ctx, StreamArb, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ domain.ObservationSink = (*Publisher)(nil)
