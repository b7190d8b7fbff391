// Package config defines the top-level configuration for the arbitrage
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBMON_* environment variables.
type Config struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	LogFile    string           `toml:"log_file"`
}

// KalshiConfig holds the Kalshi endpoint, event, and credential locations.
type KalshiConfig struct {
	BaseURL        string `toml:"base_url"`
	EventTicker    string `toml:"event_ticker"`
	TickerA        string `toml:"ticker_a"`
	TickerB        string `toml:"ticker_b"`
	PrivateKeyPath string `toml:"private_key_path"`
	KeyIDPath      string `toml:"key_id_path"`
	KeyPassword    string `toml:"key_password"`
}

// PolymarketConfig holds the Gamma endpoint and the market selectors.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	EventID   string `toml:"event_id"`
	QuestionA string `toml:"question_a"`
	QuestionB string `toml:"question_b"`
}

// MonitorConfig holds the cycle cadence.
type MonitorConfig struct {
	Interval     duration `toml:"interval"`
	FetchTimeout duration `toml:"fetch_timeout"`
	SinkTimeout  duration `toml:"sink_timeout"`
}

// StorageConfig locates the CSV time series.
type StorageConfig struct {
	CSVPath string `toml:"csv_path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the mirror sink.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules CSV snapshot uploads to S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
	// BacklogSize is the number of recent observations sent to a new
	// WebSocket client.
	BacklogSize int `toml:"backlog_size"`
}

// NotifyConfig holds notification channel credentials and alert thresholds.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinReturnPct      float64  `toml:"min_return_pct"`
	Cooldown          duration `toml:"cooldown"`
	FailureStreak     int      `toml:"failure_streak"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:        "https://api.elections.kalshi.com/trade-api/v2",
			EventTicker:    "POPVOTE-24",
			TickerA:        "POPVOTE-24-D",
			TickerB:        "POPVOTE-24-R",
			PrivateKeyPath: "kalshi-key.pem",
			KeyIDPath:      "kalshi-key-id.txt",
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			EventID:   "903216",
			QuestionA: "Kamala Harris",
			QuestionB: "Donald Trump",
		},
		Monitor: MonitorConfig{
			Interval:     duration{60 * time.Second},
			FetchTimeout: duration{15 * time.Second},
			SinkTimeout:  duration{5 * time.Second},
		},
		Storage: StorageConfig{
			CSVPath: "arbitrage_data.csv",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbmonitor",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbmonitor-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 3 * * *",
			Prefix:  "archive",
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   10,
			RateBurst:   20,
			BacklogSize: 60,
		},
		Notify: NotifyConfig{
			Events:        []string{"arb_detected", "cycle_failed"},
			MinReturnPct:  1.0,
			Cooldown:      duration{30 * time.Minute},
			FailureStreak: 5,
		},
		Mode:     "monitor",
		LogLevel: "info",
		LogFile:  "arbitrage_monitor.log",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi and Polymarket are only contacted in monitor mode.
	if strings.EqualFold(c.Mode, "monitor") {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if c.Kalshi.EventTicker == "" {
			errs = append(errs, "kalshi: event_ticker must not be empty")
		}
		if c.Kalshi.TickerA == "" || c.Kalshi.TickerB == "" {
			errs = append(errs, "kalshi: ticker_a and ticker_b must be set")
		}
		if c.Kalshi.PrivateKeyPath == "" {
			errs = append(errs, "kalshi: private_key_path must not be empty")
		}
		if c.Kalshi.KeyIDPath == "" {
			errs = append(errs, "kalshi: key_id_path must not be empty")
		}
		if c.Polymarket.GammaHost == "" {
			errs = append(errs, "polymarket: gamma_host must not be empty")
		}
		if c.Polymarket.EventID == "" {
			errs = append(errs, "polymarket: event_id must not be empty")
		}
		if c.Polymarket.QuestionA == "" || c.Polymarket.QuestionB == "" {
			errs = append(errs, "polymarket: question_a and question_b must be set")
		}
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be > 0")
		}
		if c.Monitor.FetchTimeout.Duration <= 0 {
			errs = append(errs, "monitor: fetch_timeout must be > 0")
		}
		if c.Monitor.SinkTimeout.Duration < 0 {
			errs = append(errs, "monitor: sink_timeout must be >= 0")
		}
	}

	if strings.TrimSpace(c.Storage.CSVPath) == "" {
		errs = append(errs, "storage: csv_path must not be empty")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must be >= 0")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	if c.Server.Enabled || strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BacklogSize < 0 {
			errs = append(errs, "server: backlog_size must be >= 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
			errs = append(errs, "server: rate_burst must be >= 1 when rate_limit is set")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}
	if c.Notify.Cooldown.Duration < 0 {
		errs = append(errs, "notify: cooldown must be >= 0")
	}
	if c.Notify.FailureStreak < 0 {
		errs = append(errs, "notify: failure_streak must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
