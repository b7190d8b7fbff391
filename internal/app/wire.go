package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/alanyoungcy/arbmonitor/internal/archive"
	s3blob "github.com/alanyoungcy/arbmonitor/internal/blob/s3"
	"github.com/alanyoungcy/arbmonitor/internal/cache/redis"
	"github.com/alanyoungcy/arbmonitor/internal/config"
	"github.com/alanyoungcy/arbmonitor/internal/crypto"
	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/metrics"
	"github.com/alanyoungcy/arbmonitor/internal/notify"
	"github.com/alanyoungcy/arbmonitor/internal/platform/kalshi"
	"github.com/alanyoungcy/arbmonitor/internal/platform/polymarket"
	"github.com/alanyoungcy/arbmonitor/internal/quote"
	"github.com/alanyoungcy/arbmonitor/internal/server/handler"
	"github.com/alanyoungcy/arbmonitor/internal/server/ws"
	"github.com/alanyoungcy/arbmonitor/internal/store/postgres"
	"github.com/alanyoungcy/arbmonitor/internal/timeseries"
)

// Dependencies bundles every concrete dependency the modes need. Optional
// integrations are nil when disabled in the config.
type Dependencies struct {
	Series     *timeseries.CSVStore
	Kalshi     domain.VenueClient
	Polymarket domain.VenueClient
	Normalizer *quote.Normalizer
	Metrics    *metrics.Collector

	// Postgres mirror
	Observations *postgres.ObservationStore

	// Redis
	Cache     domain.ObservationCache
	SignalBus domain.SignalBus
	Locks     domain.LockManager
	Publisher *redis.Publisher

	// Object storage
	Blob      domain.BlobWriter
	BlobIndex domain.BlobLister

	Notifier *notify.Notifier

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs the dependencies for cfg and returns them with a cleanup
// func that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.NewCollector(),
		Pingers: map[string]handler.Pinger{},
	}

	series, err := timeseries.Open(cfg.Storage.CSVPath)
	if err != nil {
		return fail(fmt.Errorf("wire: csv: %w", err))
	}
	closers = append(closers, func() { _ = series.Close() })
	deps.Series = series

	if strings.EqualFold(cfg.Mode, "monitor") {
		if err := wireVenues(deps, cfg, logger); err != nil {
			return fail(err)
		}
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Observations = postgres.NewObservationStore(pgClient.Pool())
		deps.Pingers["postgres"] = pgClient
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		cache := redis.NewObservationCache(redisClient)
		bus := redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Cache = cache
		deps.SignalBus = bus
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Publisher = redis.NewPublisher(cache, bus)
		deps.Pingers["redis"] = redisClient
	}

	// --- S3 ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		w := s3blob.NewWriter(s3Client)
		deps.Blob = w
		deps.BlobIndex = w
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireVenues loads the Kalshi credential and builds both venue clients.
func wireVenues(deps *Dependencies, cfg *config.Config, logger *slog.Logger) error {
	cred, err := crypto.LoadCredential(cfg.Kalshi.PrivateKeyPath, cfg.Kalshi.KeyIDPath, cfg.Kalshi.KeyPassword)
	if err != nil {
		return fmt.Errorf("wire: kalshi credential: %w", err)
	}
	signer, err := crypto.NewSigner(cred)
	if err != nil {
		return fmt.Errorf("wire: kalshi signer: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Monitor.FetchTimeout.Duration}

	kc, err := kalshi.NewClient(cfg.Kalshi.BaseURL, signer,
		kalshi.WithHTTPClient(httpClient),
		kalshi.WithEventTicker(cfg.Kalshi.EventTicker),
	)
	if err != nil {
		return fmt.Errorf("wire: kalshi client: %w", err)
	}
	deps.Kalshi = kc
	deps.Polymarket = polymarket.NewGammaClient(cfg.Polymarket.GammaHost,
		polymarket.WithHTTPClient(httpClient),
		polymarket.WithEventID(cfg.Polymarket.EventID),
	)
	deps.Normalizer = quote.NewNormalizer(quote.Selectors{
		KalshiTickerA:       cfg.Kalshi.TickerA,
		KalshiTickerB:       cfg.Kalshi.TickerB,
		PolymarketQuestionA: cfg.Polymarket.QuestionA,
		PolymarketQuestionB: cfg.Polymarket.QuestionB,
	}, logger.With(slog.String("component", "normalizer")))
	return nil
}

// sinks returns the enabled mirror sinks in a fixed order.
func (d *Dependencies) sinks() []domain.ObservationSink {
	var out []domain.ObservationSink
	if d.Observations != nil {
		out = append(out, d.Observations)
	}
	if d.Publisher != nil {
		out = append(out, d.Publisher)
	}
	return out
}

// backlog reads recent observations for new WebSocket clients, from the
// database mirror when wired, then the Redis stream, then the CSV.
func (d *Dependencies) backlog() ws.BacklogFunc {
	if d.Observations != nil {
		return func(ctx context.Context, n int) ([]domain.Observation, error) {
			rows, err := d.Observations.ListRecent(ctx, n)
			if err != nil {
				return nil, err
			}
			slices.Reverse(rows)
			return rows, nil
		}
	}
	if d.SignalBus != nil {
		return func(ctx context.Context, n int) ([]domain.Observation, error) {
			return streamBacklog(ctx, d.SignalBus, n)
		}
	}
	return func(_ context.Context, n int) ([]domain.Observation, error) {
		return d.Series.Tail(n)
	}
}

// streamBacklog decodes the newest n entries of the observation stream.
// Entries that do not decode are skipped.
func streamBacklog(ctx context.Context, bus domain.SignalBus, n int) ([]domain.Observation, error) {
	msgs, err := bus.StreamTail(ctx, redis.StreamArb, n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Observation, 0, len(msgs))
	for _, m := range msgs {
		var obs domain.Observation
		if err := json.Unmarshal(m.Payload, &obs); err != nil {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// newArchiver builds the scheduled archiver, or nil when object storage is
// not configured.
func (d *Dependencies) newArchiver(prefix string, logger *slog.Logger) *archive.Archiver {
	if d.Blob == nil {
		return nil
	}
	opts := []archive.Option{archive.WithRecorder(d.Metrics)}
	if d.Observations != nil {
		opts = append(opts, archive.WithHistory(d.Observations))
	}
	if d.Locks != nil {
		opts = append(opts, archive.WithLock(d.Locks))
	}
	if d.BlobIndex != nil {
		opts = append(opts, archive.WithExportIndex(d.BlobIndex))
	}
	return archive.NewArchiver(d.Blob, d.Series, prefix, logger, opts...)
}
