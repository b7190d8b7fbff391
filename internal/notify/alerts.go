package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/monitor"
)

// Notification titles.
const (
	TitleArbDetected   = "Arbitrage detected"
	TitleCyclesFailing = "Monitor cycles failing"
	TitleStarted       = "Arbitrage monitor started"
)

func isAlertTitle(title string) bool {
	return title == TitleArbDetected || title == TitleCyclesFailing
}

// AlertConfig holds the alert thresholds.
type AlertConfig struct {
	// MinReturnPct is the spread return at or above which arb_detected fires.
	MinReturnPct float64
	// Cooldown is the minimum gap between two arb_detected alerts.
	Cooldown time.Duration
	// FailureStreak is the number of consecutive failed cycles that triggers
	// cycle_failed. Zero disables the alert.
	FailureStreak int
}

// Alerter turns monitor results into notifications. It is registered with
// the monitor as an observation sink and as its failure handler.
type Alerter struct {
	notifier *Notifier
	cfg      AlertConfig
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastAlert time.Time
}

// NewAlerter creates an Alerter.
func NewAlerter(n *Notifier, cfg AlertConfig, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		notifier: n,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "alerter")),
		now:      time.Now,
	}
}

// Name implements domain.ObservationSink.
func (a *Alerter) Name() string { return "alerts" }

// Publish sends arb_detected when either spread return reaches the threshold
// and the cooldown has elapsed.
func (a *Alerter) Publish(ctx context.Context, obs domain.Observation) error {
	best := max(obs.NoSpreadReturnPct, obs.YesNoSpreadReturnPct)
	if best < a.cfg.MinReturnPct {
		return nil
	}

	a.mu.Lock()
	now := a.now()
	if !a.lastAlert.IsZero() && now.Sub(a.lastAlert) < a.cfg.Cooldown {
		a.mu.Unlock()
		a.logger.DebugContext(ctx, "arb alert suppressed by cooldown",
			slog.Float64("return_pct", best),
		)
		return nil
	}
	a.lastAlert = now
	a.mu.Unlock()

	msg := fmt.Sprintf(
		"No spread: %.2f%% (poly no %.2f + kalshi no %.2f)\nYes/No spread: %.2f%% (poly yes %.2f + kalshi no %.2f)\nAt %s",
		obs.NoSpreadReturnPct, obs.Polymarket.ANo, obs.Kalshi.ANo,
		obs.YesNoSpreadReturnPct, obs.Polymarket.AYes, obs.Kalshi.ANo,
		obs.Timestamp.Format(time.RFC3339),
	)
	return a.notifier.Notify(ctx, EventArbDetected, TitleArbDetected, msg)
}

// CycleFailed matches monitor.FailureHandler. It alerts exactly once when
// the failure streak reaches the configured length.
func (a *Alerter) CycleFailed(ctx context.Context, err *monitor.CycleError, streak int) {
	if a.cfg.FailureStreak <= 0 || streak != a.cfg.FailureStreak {
		return
	}
	msg := fmt.Sprintf("%d consecutive cycles failed.\nLast stage: %s\nError: %v", streak, err.Stage, err.Err)
	if nerr := a.notifier.Notify(ctx, EventCycleFailed, TitleCyclesFailing, msg); nerr != nil {
		a.logger.WarnContext(ctx, "failure alert not delivered", slog.String("error", nerr.Error()))
	}
}
