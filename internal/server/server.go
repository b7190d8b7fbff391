// Package server is the read-only HTTP and WebSocket API over the arbitrage
// time series.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/server/handler"
	"github.com/alanyoungcy/arbmonitor/internal/server/middleware"
	"github.com/alanyoungcy/arbmonitor/internal/server/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   float64
	RateBurst   int
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Observations *handler.ObservationHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Instrument wraps the whole chain when set.
	Instrument func(http.Handler) http.Handler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/observations", handlers.Observations.List)
	mux.HandleFunc("GET /api/observations/latest", handlers.Observations.Latest)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
		h = limiter.Handler(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if handlers.Instrument != nil {
		h = handlers.Instrument(h)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// The caller binds ln so listen errors surface before other components start.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: serve: %w", err)
			return
		}
		errCh <- nil
	}()

	var cleanup <-chan time.Time
	if s.limiter != nil {
		t := time.NewTicker(cleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	for {
		select {
		case err := <-errCh:
			return err
		case <-cleanup:
			s.limiter.Cleanup()
		case <-ctx.Done():
			return s.shutdown()
		}
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
