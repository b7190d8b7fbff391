package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBMON_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "ARBMON_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.EventTicker, "ARBMON_KALSHI_EVENT_TICKER")
	setStr(&cfg.Kalshi.TickerA, "ARBMON_KALSHI_TICKER_A")
	setStr(&cfg.Kalshi.TickerB, "ARBMON_KALSHI_TICKER_B")
	setStr(&cfg.Kalshi.PrivateKeyPath, "ARBMON_KALSHI_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.KeyIDPath, "ARBMON_KALSHI_KEY_ID_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "ARBMON_KALSHI_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "ARBMON_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.EventID, "ARBMON_POLYMARKET_EVENT_ID")
	setStr(&cfg.Polymarket.QuestionA, "ARBMON_POLYMARKET_QUESTION_A")
	setStr(&cfg.Polymarket.QuestionB, "ARBMON_POLYMARKET_QUESTION_B")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "ARBMON_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.FetchTimeout, "ARBMON_MONITOR_FETCH_TIMEOUT")
	setDuration(&cfg.Monitor.SinkTimeout, "ARBMON_MONITOR_SINK_TIMEOUT")

	// ── Storage ──
	setStr(&cfg.Storage.CSVPath, "ARBMON_STORAGE_CSV_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBMON_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBMON_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBMON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBMON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBMON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBMON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBMON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBMON_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBMON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBMON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBMON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBMON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBMON_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "ARBMON_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBMON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBMON_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBMON_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARBMON_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "ARBMON_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBMON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBMON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBMON_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBMON_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "ARBMON_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "ARBMON_SERVER_RATE_BURST")
	setInt(&cfg.Server.BacklogSize, "ARBMON_SERVER_BACKLOG_SIZE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBMON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBMON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBMON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBMON_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinReturnPct, "ARBMON_NOTIFY_MIN_RETURN_PCT")
	setDuration(&cfg.Notify.Cooldown, "ARBMON_NOTIFY_COOLDOWN")
	setInt(&cfg.Notify.FailureStreak, "ARBMON_NOTIFY_FAILURE_STREAK")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBMON_MODE")
	setStr(&cfg.LogLevel, "ARBMON_LOG_LEVEL")
	setStr(&cfg.LogFile, "ARBMON_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
