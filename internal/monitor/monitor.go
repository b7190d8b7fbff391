// Package monitor drives the fetch, normalize, compute, and persist cycle on
// a fixed interval.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbmonitor/internal/arbitrage"
	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// Normalizer converts the two venue payloads into quote pairs.
type Normalizer interface {
	Normalize(rawA, rawB domain.RawPayload) (domain.QuotePair, domain.QuotePair, error)
}

// Recorder receives cycle metrics.
type Recorder interface {
	FetchDone(venue domain.Venue, d time.Duration, err error)
	CycleSucceeded(obs domain.Observation)
	CycleFailed(stage State)
}

// FailureHandler is told about every failed cycle together with the current
// streak of consecutive failures.
type FailureHandler func(ctx context.Context, err *CycleError, streak int)

// Config holds monitor timing.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	SinkTimeout  time.Duration
}

// DefaultConfig matches the production cadence.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		FetchTimeout: 15 * time.Second,
		SinkTimeout:  5 * time.Second,
	}
}

// Monitor runs sequential cycles. Each cycle fetches both venues in
// parallel, joins, then normalizes, computes, and appends one observation.
type Monitor struct {
	cfg        Config
	kalshi     domain.VenueClient
	polymarket domain.VenueClient
	normalizer Normalizer
	store      domain.ObservationAppender
	sinks      []domain.ObservationSink
	recorder   Recorder
	onFailure  FailureHandler
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithSinks adds mirror sinks that receive every persisted observation.
func WithSinks(sinks ...domain.ObservationSink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithFailureHandler installs a callback for failed cycles.
func WithFailureHandler(fn FailureHandler) Option {
	return func(m *Monitor) { m.onFailure = fn }
}

// WithClock overrides the observation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. kalshi and polymarket must report their venues.
func New(
	cfg Config,
	kalshi, polymarket domain.VenueClient,
	normalizer Normalizer,
	store domain.ObservationAppender,
	logger *slog.Logger,
	opts ...Option,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:        cfg,
		kalshi:     kalshi,
		polymarket: polymarket,
		normalizer: normalizer,
		store:      store,
		recorder:   nopRecorder{},
		logger:     logger.With(slog.String("component", "monitor")),
		now:        time.Now,
		status:     Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns a copy of the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	if st.Last != nil {
		last := *st.Last
		st.Last = &last
	}
	return st
}

// State returns the current stage.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.State
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.status.State = s
	m.mu.Unlock()
}

// Run executes cycles until ctx is cancelled. Cancellation is observed
// between cycles, so a cycle in flight always completes.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Duration("fetch_timeout", m.cfg.FetchTimeout),
	)
	defer func() {
		m.setState(StateStopped)
		m.logger.Info("monitor stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, _ = m.RunCycle(ctx)

		m.setState(StateSleeping)
		timer := time.NewTimer(m.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle executes a single cycle. Stage failures are logged, counted, and
// returned as *CycleError; nothing is appended for a failed cycle. A panic
// in any stage is recovered and reported as a failure of that stage.
func (m *Monitor) RunCycle(ctx context.Context) (obs domain.Observation, err error) {
	base := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			obs = domain.Observation{}
			err = &CycleError{Stage: m.State(), Err: fmt.Errorf("panic: %v", r)}
			m.logger.Error("cycle panicked",
				slog.String("stage", m.State().String()),
				slog.String("stack", string(debug.Stack())),
			)
		}
		m.finishCycle(base, obs, err)
	}()

	m.setState(StateFetching)
	rawA, rawB, err := m.fetchBoth(base)
	if err != nil {
		return domain.Observation{}, &CycleError{Stage: StateFetching, Err: err}
	}

	m.setState(StateNormalizing)
	kq, pq, err := m.normalizer.Normalize(rawA, rawB)
	if err != nil {
		return domain.Observation{}, &CycleError{Stage: StateNormalizing, Err: err}
	}

	m.setState(StateComputing)
	spreads, err := arbitrage.Compute(kq, pq)
	if err != nil {
		return domain.Observation{}, &CycleError{Stage: StateComputing, Err: err}
	}

	obs = domain.Observation{
		ID:         uuid.NewString(),
		Timestamp:  m.now(),
		Kalshi:     kq,
		Polymarket: pq,
		Spreads:    spreads,
	}

	m.setState(StatePersisting)
	if err := m.store.Append(base, obs); err != nil {
		return domain.Observation{}, &CycleError{Stage: StatePersisting, Err: err}
	}

	m.publish(base, obs)
	return obs, nil
}

// fetchBoth fetches both venues concurrently, each bounded by FetchTimeout.
func (m *Monitor) fetchBoth(ctx context.Context) (domain.RawPayload, domain.RawPayload, error) {
	var rawA, rawB domain.RawPayload
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawA, err = m.fetch(gctx, m.kalshi)
		return err
	})
	g.Go(func() error {
		var err error
		rawB, err = m.fetch(gctx, m.polymarket)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.RawPayload{}, domain.RawPayload{}, err
	}
	return rawA, rawB, nil
}

// fetch runs on an errgroup goroutine, outside RunCycle's recover, so it
// recovers client panics itself.
func (m *Monitor) fetch(ctx context.Context, c domain.VenueClient) (raw domain.RawPayload, err error) {
	if m.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			raw = domain.RawPayload{}
			err = fmt.Errorf("%s: fetch panic: %v", c.Venue(), r)
			m.logger.Error("venue fetch panicked",
				slog.String("venue", string(c.Venue())),
				slog.String("stack", string(debug.Stack())),
			)
		}
		m.recorder.FetchDone(c.Venue(), time.Since(start), err)
	}()
	return c.FetchRaw(ctx)
}

// publish hands obs to every mirror sink. Sink failures are logged only.
func (m *Monitor) publish(ctx context.Context, obs domain.Observation) {
	for _, s := range m.sinks {
		sctx := ctx
		cancel := context.CancelFunc(func() {})
		if m.cfg.SinkTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, m.cfg.SinkTimeout)
		}
		if err := s.Publish(sctx, obs); err != nil {
			m.logger.Warn("mirror sink failed",
				slog.String("sink", s.Name()),
				slog.String("observation_id", obs.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

func (m *Monitor) finishCycle(ctx context.Context, obs domain.Observation, err error) {
	m.mu.Lock()
	m.status.Cycles++
	m.status.LastCycleAt = m.now()
	var ce *CycleError
	if err != nil {
		if !errors.As(err, &ce) {
			ce = &CycleError{Stage: m.status.State, Err: err}
		}
		m.status.Failures++
		m.status.ConsecutiveFailures++
		m.status.LastStage = ce.Stage.String()
		m.status.LastError = ce.Err.Error()
	} else {
		m.status.ConsecutiveFailures = 0
		m.status.LastStage = ""
		m.status.LastError = ""
		last := obs
		m.status.Last = &last
	}
	streak := m.status.ConsecutiveFailures
	m.mu.Unlock()

	if err != nil {
		m.recorder.CycleFailed(ce.Stage)
		m.logger.Error("cycle failed",
			slog.String("stage", ce.Stage.String()),
			slog.Int("consecutive_failures", streak),
			slog.String("error", ce.Err.Error()),
		)
		if m.onFailure != nil {
			m.onFailure(ctx, ce, streak)
		}
		return
	}

	m.recorder.CycleSucceeded(obs)
	m.logger.Info("arbitrage no spread",
		slog.String("legs", "polymarket kamala no + kalshi kamala no"),
		slog.Float64("return_pct", obs.NoSpreadReturnPct),
	)
	m.logger.Info("arbitrage yes/no spread",
		slog.String("legs", "polymarket kamala yes + kalshi kamala no"),
		slog.Float64("return_pct", obs.YesNoSpreadReturnPct),
	)
	m.logger.Debug("observation recorded",
		slog.String("observation_id", obs.ID),
		slog.Float64("kalshi_a_yes", obs.Kalshi.AYes),
		slog.Float64("kalshi_a_no", obs.Kalshi.ANo),
		slog.Float64("polymarket_a_yes", obs.Polymarket.AYes),
		slog.Float64("polymarket_a_no", obs.Polymarket.ANo),
	)
}

type nopRecorder struct{}

func (nopRecorder) FetchDone(domain.Venue, time.Duration, error) {}
func (nopRecorder) CycleSucceeded(domain.Observation)              {}
func (nopRecorder) CycleFailed(State)                              {}
