package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbmonitor/internal/cache/redis"
	"github.com/alanyoungcy/arbmonitor/internal/monitor"
	"github.com/alanyoungcy/arbmonitor/internal/notify"
	"github.com/alanyoungcy/arbmonitor/internal/server"
	"github.com/alanyoungcy/arbmonitor/internal/server/handler"
	"github.com/alanyoungcy/arbmonitor/internal/server/ws"
)

// MonitorMode runs the arbitrage monitor loop, plus the API server and the
// archive schedule when they are enabled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Duration("interval", a.cfg.Monitor.Interval.Duration),
		slog.String("csv_path", deps.Series.Path()),
	)

	sinks := deps.sinks()
	opts := []monitor.Option{monitor.WithRecorder(deps.Metrics)}

	if deps.Notifier.Enabled() {
		alerter := notify.NewAlerter(deps.Notifier, notify.AlertConfig{
			MinReturnPct:  a.cfg.Notify.MinReturnPct,
			Cooldown:      a.cfg.Notify.Cooldown.Duration,
			FailureStreak: a.cfg.Notify.FailureStreak,
		}, a.logger)
		sinks = append(sinks, alerter)
		opts = append(opts, monitor.WithFailureHandler(alerter.CycleFailed))
	}

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps.backlog())
		sinks = append(sinks, hub)
	}
	opts = append(opts, monitor.WithSinks(sinks...))

	mon := monitor.New(monitor.Config{
		Interval:     a.cfg.Monitor.Interval.Duration,
		FetchTimeout: a.cfg.Monitor.FetchTimeout.Duration,
		SinkTimeout:  a.cfg.Monitor.SinkTimeout.Duration,
	}, deps.Kalshi, deps.Polymarket, deps.Normalizer, deps.Series, a.logger, opts...)

	// Bind before anything runs so a taken port fails startup instead of
	// cancelling a running monitor.
	var api *httpServer
	if hub != nil {
		var err error
		if api, err = a.listenHTTP(deps, hub, mon); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(ctx)
	})
	if api != nil {
		api.start(ctx, g)
	}

	if a.cfg.Archive.Enabled {
		if arch := deps.newArchiver(a.cfg.Archive.Prefix, a.logger); arch != nil {
			g.Go(func() error {
				return arch.RunCron(ctx, a.cfg.Archive.Cron)
			})
		}
	}

	a.notifyStarted(ctx, deps, "monitor")
	return g.Wait()
}

// ServerMode serves the API over an existing CSV without contacting the
// venues. With Redis enabled, observations published by a monitor process
// are relayed to WebSocket clients.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	hub := a.newHub(deps.backlog())
	api, err := a.listenHTTP(deps, hub, nil)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	api.start(ctx, g)

	if deps.SignalBus != nil {
		g.Go(func() error {
			return hub.Relay(ctx, deps.SignalBus, redis.ChannelArb)
		})
	}

	return g.Wait()
}

func (a *App) newHub(backlog ws.BacklogFunc) *ws.Hub {
	return ws.NewHub(ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		BacklogSize:    a.cfg.Server.BacklogSize,
		Backlog:        backlog,
	}, a.logger)
}

// httpServer is an API server whose listener is already bound.
type httpServer struct {
	srv *server.Server
	hub *ws.Hub
	ln  net.Listener
}

// listenHTTP registers the API handlers and binds the listen address.
// mon is nil when no monitor runs in this process.
func (a *App) listenHTTP(deps *Dependencies, hub *ws.Hub, mon *monitor.Monitor) (*httpServer, error) {
	var status handler.StatusProvider
	if mon != nil {
		status = mon
	}

	obs := handler.NewObservationHandler(deps.Series, a.logger)
	if deps.Cache != nil {
		obs.WithCache(deps.Cache)
	}
	if deps.Observations != nil {
		obs.WithHistory(deps.Observations)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:       handler.NewStatusHandler(a.cfg.Mode, status),
		Observations: obs,
		Metrics:      deps.Metrics.Handler(),
		Instrument:   deps.Metrics.InstrumentHandler,
	}, hub, a.logger)

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("http server: listen %s: %w", srv.Addr(), err)
	}
	return &httpServer{srv: srv, hub: hub, ln: ln}, nil
}

// start runs the hub and serves on the bound listener in g.
func (h *httpServer) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return h.hub.Run(ctx)
	})
	g.Go(func() error {
		if err := h.srv.Serve(ctx, h.ln); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
}

func (a *App) notifyStarted(ctx context.Context, deps *Dependencies, mode string) {
	if !deps.Notifier.Enabled() {
		return
	}
	msg := fmt.Sprintf("mode=%s interval=%s", mode, a.cfg.Monitor.Interval.Duration)
	if err := deps.Notifier.Notify(ctx, notify.EventStarted, notify.TitleStarted, msg); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
}
