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
// built-in defaults, applies BTCGUESS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and yields defaults plus environment.
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

// applyEnvOverrides reads well-known BTCGUESS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BTCGUESS_MODE")
	setStr(&cfg.LogLevel, "BTCGUESS_LOG_LEVEL")

	// ── Store ──
	setStr(&cfg.Store.Backend, "BTCGUESS_STORE_BACKEND")

	// ── GraphQL ──
	setStr(&cfg.GraphQL.URL, "BTCGUESS_GRAPHQL_URL")
	setStr(&cfg.GraphQL.APIKey, "BTCGUESS_GRAPHQL_API_KEY")
	setStr(&cfg.GraphQL.RealtimeURL, "BTCGUESS_GRAPHQL_REALTIME_URL")
	setDuration(&cfg.GraphQL.RequestTimeout, "BTCGUESS_GRAPHQL_REQUEST_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BTCGUESS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BTCGUESS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BTCGUESS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BTCGUESS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BTCGUESS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BTCGUESS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BTCGUESS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BTCGUESS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BTCGUESS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BTCGUESS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BTCGUESS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BTCGUESS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BTCGUESS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BTCGUESS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BTCGUESS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BTCGUESS_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ScoreLockTTL, "BTCGUESS_REDIS_SCORE_LOCK_TTL")
	setDuration(&cfg.Redis.LockWait, "BTCGUESS_REDIS_LOCK_WAIT")
	setStr(&cfg.Redis.BusPrefix, "BTCGUESS_REDIS_BUS_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BTCGUESS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BTCGUESS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BTCGUESS_S3_REGION")
	setStr(&cfg.S3.Bucket, "BTCGUESS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BTCGUESS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BTCGUESS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BTCGUESS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BTCGUESS_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "BTCGUESS_S3_PREFIX")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.Backend, "BTCGUESS_SCHEDULER_BACKEND")
	setStr(&cfg.Scheduler.Region, "BTCGUESS_SCHEDULER_REGION")
	setStr(&cfg.Scheduler.Endpoint, "BTCGUESS_SCHEDULER_ENDPOINT")
	setStr(&cfg.Scheduler.GroupName, "BTCGUESS_SCHEDULER_GROUP_NAME")
	setStr(&cfg.Scheduler.TargetARN, "BTCGUESS_SCHEDULER_TARGET_ARN")
	setStr(&cfg.Scheduler.RoleARN, "BTCGUESS_SCHEDULER_ROLE_ARN")
	setDuration(&cfg.Scheduler.LocalInvokeTimeout, "BTCGUESS_SCHEDULER_LOCAL_INVOKE_TIMEOUT")

	// ── Settlement ──
	setDuration(&cfg.Settlement.FreshnessThreshold, "BTCGUESS_SETTLEMENT_FRESHNESS_THRESHOLD")
	setInt(&cfg.Settlement.MaxRetries, "BTCGUESS_SETTLEMENT_MAX_RETRIES")
	setDuration(&cfg.Settlement.RetryDelay, "BTCGUESS_SETTLEMENT_RETRY_DELAY")
	setInt(&cfg.Settlement.ScoreUpdateAttempts, "BTCGUESS_SETTLEMENT_SCORE_UPDATE_ATTEMPTS")

	// ── Realtime ──
	setDuration(&cfg.Realtime.ReconnectDelay, "BTCGUESS_REALTIME_RECONNECT_DELAY")
	setDuration(&cfg.Realtime.GracePeriod, "BTCGUESS_REALTIME_GRACE_PERIOD")
	setDuration(&cfg.Realtime.HandshakeTimeout, "BTCGUESS_REALTIME_HANDSHAKE_TIMEOUT")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "BTCGUESS_RECONCILE_ENABLED")
	setStr(&cfg.Reconcile.Cron, "BTCGUESS_RECONCILE_CRON")
	setDuration(&cfg.Reconcile.OverdueAfter, "BTCGUESS_RECONCILE_OVERDUE_AFTER")
	setInt(&cfg.Reconcile.BatchSize, "BTCGUESS_RECONCILE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BTCGUESS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BTCGUESS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BTCGUESS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BTCGUESS_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BTCGUESS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BTCGUESS_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BTCGUESS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BTCGUESS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BTCGUESS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BTCGUESS_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env helpers
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
