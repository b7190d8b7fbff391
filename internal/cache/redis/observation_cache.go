package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// Keys and channels observations are published under.
const (
	LatestKey  = "arb:latest"
	ChannelArb = "ch:arb"
	StreamArb  = "stream:arb"
)

// ObservationCache implements domain.ObservationCache with a single JSON
// value under LatestKey.
type ObservationCache struct {
	rdb *redis.Client
}

// NewObservationCache creates an ObservationCache backed by the given Client.
func NewObservationCache(c *Client) *ObservationCache {
	return &ObservationCache{rdb: c.Underlying()}
}

// SetLatest overwrites the cached latest observation.
func (oc *ObservationCache) SetLatest(ctx context.Context, obs domain.Observation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("redis: marshal observation: %w", err)
	}
	if err := oc.rdb.Set(ctx, LatestKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set latest: %w", err)
	}
	return nil
}

// GetLatest returns the cached observation or domain.ErrNotFound.
func (oc *ObservationCache) GetLatest(ctx context.Context) (domain.Observation, error) {
	data, err := oc.rdb.Get(ctx, LatestKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Observation{}, domain.ErrNotFound
		}
		return domain.Observation{}, fmt.Errorf("redis: get latest: %w", err)
	}
	var obs domain.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return domain.Observation{}, fmt.Errorf("redis: decode latest: %w", err)
	}
	return obs, nil
}

var _ domain.ObservationCache = (*ObservationCache)(nil)
