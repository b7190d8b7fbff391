package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

func TestOptions(t *testing.T) {
	opts := options(ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 4, TLSEnabled: true})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, "arbmonitor", opts.ClientName)
	require.NotNil(t, opts.TLSConfig)

	assert.Nil(t, options(ClientConfig{Addr: "cache:6379"}).TLSConfig)
}

func TestNewSignalBusDefaultsMaxLen(t *testing.T) {
	c := &Client{rdb: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})}
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, DefaultStreamMaxLen, NewSignalBus(c, 0).maxLen)
	assert.Equal(t, int64(500), NewSignalBus(c, 500).maxLen)
}

func TestDecodeStream(t *testing.T) {
	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]any{"payload": `{"a":1}`}},
		{ID: "2-0", Values: map[string]any{"other": "x"}},
		{ID: "3-0", Values: map[string]any{"payload": []byte("raw")}},
		{ID: "4-0", Values: map[string]any{"payload": 42}},
	}

	got := decodeStream(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, "1-0", got[0].ID)
	assert.Equal(t, []byte(`{"a":1}`), got[0].Payload)
	assert.Equal(t, "3-0", got[1].ID)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "arbmonitor:lock:archive", lockKey("archive"))
}

type fakeCache struct {
	latest domain.Observation
	err    error
}

func (f *fakeCache) SetLatest(_ context.Context, obs domain.Observation) error {
	f.latest = obs
	return f.err
}

func (f *fakeCache) GetLatest(context.Context) (domain.Observation, error) {
	return f.latest, nil
}

type fakeBus struct {
	published map[string][]byte
	streamed  map[string][]byte
	pubErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][]byte{}, streamed: map[string][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = payload
	return b.pubErr
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = payload
	return nil
}

func (b *fakeBus) StreamTail(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestPublisher(t *testing.T) {
	obs := domain.Observation{
		ID:        "obs-1",
		Timestamp: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		Kalshi:    domain.QuotePair{AYes: 0.52, ANo: 0.48, BYes: 0.49, BNo: 0.51},
		Spreads:   domain.Spreads{NoSpreadReturnPct: 3.09, YesNoSpreadReturnPct: 1.01},
	}

	t.Run("writes all three", func(t *testing.T) {
		cache, bus := &fakeCache{}, newFakeBus()
		p := NewPublisher(cache, bus)

		require.NoError(t, p.Publish(context.Background(), obs))
		assert.Equal(t, "redis", p.Name())
		assert.Equal(t, obs, cache.latest)

		var decoded domain.Observation
		require.NoError(t, json.Unmarshal(bus.published[ChannelArb], &decoded))
		assert.Equal(t, obs, decoded)
		assert.Equal(t, bus.published[ChannelArb], bus.streamed[StreamArb])
	})

	t.Run("continues after a failure", func(t *testing.T) {
		cacheErr := errors.New("set failed")
		pubErr := errors.New("publish failed")
		cache, bus := &fakeCache{err: cacheErr}, newFakeBus()
		bus.pubErr = pubErr

		err := NewPublisher(cache, bus).Publish(context.Background(), obs)
		require.Error(t, err)
		assert.ErrorIs(t, err, cacheErr)
		assert.ErrorIs(t, err, pubErr)
		assert.Contains(t, bus.streamed, StreamArb)
	})
}

// newMiniClient returns a Client connected to an in-process Redis.
func newMiniClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := &Client{rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManagerAcquireRelease(t *testing.T) {
	c, mr := newMiniClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("arbmonitor:lock:archive"))
	assert.Equal(t, time.Minute, mr.TTL("arbmonitor:lock:archive"))

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	assert.False(t, mr.Exists("arbmonitor:lock:archive"))
	unlock()

	again, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManagerReleaseKeepsNewHolder(t *testing.T) {
	c, mr := newMiniClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "archive", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	holder, err := mr.Get("arbmonitor:lock:archive")
	require.NoError(t, err)

	stale()
	got, err := mr.Get("arbmonitor:lock:archive")
	require.NoError(t, err)
	assert.Equal(t, holder, got)
}

func TestLockManagerAcquireError(t *testing.T) {
	c, mr := newMiniClient(t)
	mr.Close()

	_, err := NewLockManager(c).Acquire(context.Background(), "archive", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)
	assert.Contains(t, err.Error(), "redis: acquire lock archive")
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c, _ := newMiniClient(t)
	bus := NewSignalBus(c, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, ChannelArb)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ChannelArb, []byte(`{"id":"obs-1"}`)))
	require.NoError(t, bus.Publish(ctx, "ch:other", []byte("ignored")))
	require.NoError(t, bus.Publish(ctx, ChannelArb, []byte(`{"id":"obs-2"}`)))

	for _, want := range []string{`{"id":"obs-1"}`, `{"id":"obs-2"}`} {
		select {
		case got := <-ch:
			assert.Equal(t, want, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestSignalBusStreamTail(t *testing.T) {
	c, _ := newMiniClient(t)
	bus := NewSignalBus(c, 100)
	ctx := context.Background()

	empty, err := bus.StreamTail(ctx, StreamArb, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, p := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, bus.StreamAppend(ctx, StreamArb, []byte(p)))
	}

	got, err := bus.StreamTail(ctx, StreamArb, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("three"), got[0].Payload)
	assert.Equal(t, []byte("four"), got[1].Payload)
	assert.Equal(t, []byte("five"), got[2].Payload)
	assert.NotEmpty(t, got[2].ID)

	none, err := bus.StreamTail(ctx, StreamArb, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}
