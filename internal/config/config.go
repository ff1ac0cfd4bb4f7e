// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BTCGUESS_* environment variables.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	GraphQL    GraphQLConfig    `toml:"graphql"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Settlement SettlementConfig `toml:"settlement"`
	Realtime   RealtimeConfig   `toml:"realtime"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StoreConfig selects the persistence backend for guesses, snapshots and
// user states.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// GraphQLConfig holds the hosted datastore endpoints.
type GraphQLConfig struct {
	URL            string   `toml:"url"`
	APIKey         string   `toml:"api_key"`
	RealtimeURL    string   `toml:"realtime_url"`
	RequestTimeout duration `toml:"request_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// score lock and the settlement bus.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	ScoreLockTTL duration `toml:"score_lock_ttl"`
	LockWait     duration `toml:"lock_wait"`
	BusPrefix    string   `toml:"bus_prefix"`
}

// S3Config holds S3-compatible storage parameters for the settlement archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// SchedulerConfig selects where settlement triggers are created.
type SchedulerConfig struct {
	Backend            string   `toml:"backend"`
	Region             string   `toml:"region"`
	Endpoint           string   `toml:"endpoint"`
	GroupName          string   `toml:"group_name"`
	TargetARN          string   `toml:"target_arn"`
	RoleARN            string   `toml:"role_arn"`
	LocalInvokeTimeout duration `toml:"local_invoke_timeout"`
}

// SettlementConfig tunes snapshot resolution and score writes.
type SettlementConfig struct {
	FreshnessThreshold  duration `toml:"freshness_threshold"`
	MaxRetries          int      `toml:"max_retries"`
	RetryDelay          duration `toml:"retry_delay"`
	ScoreUpdateAttempts int      `toml:"score_update_attempts"`
}

// RealtimeConfig tunes the upstream subscription manager.
type RealtimeConfig struct {
	ReconnectDelay   duration `toml:"reconnect_delay"`
	GracePeriod      duration `toml:"grace_period"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
}

// ReconcileConfig controls the overdue-guess sweep.
type ReconcileConfig struct {
	Enabled      bool     `toml:"enabled"`
	Cron         string   `toml:"cron"`
	OverdueAfter duration `toml:"overdue_after"`
	BatchSize    int      `toml:"batch_size"`
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
	// RateLimit caps requests per client IP per RateWindow. Zero disables it;
	// it also needs redis.
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// config.example.toml lists every key with these defaults.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "graphql"},
		GraphQL: GraphQLConfig{
			RequestTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "btcguess",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:     20,
			MaxRetries:   3,
			ScoreLockTTL: duration{10 * time.Second},
			LockWait:     duration{5 * time.Second},
			BusPrefix:    "btcguess",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "btcguess-settlements",
			ForcePathStyle: true,
			Prefix:         "settlements",
		},
		Scheduler: SchedulerConfig{
			Backend:            "local",
			Region:             "us-east-1",
			GroupName:          "default",
			LocalInvokeTimeout: duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			FreshnessThreshold:  duration{57 * time.Second},
			MaxRetries:          4,
			RetryDelay:          duration{2 * time.Second},
			ScoreUpdateAttempts: 3,
		},
		Realtime: RealtimeConfig{
			ReconnectDelay:   duration{3 * time.Second},
			GracePeriod:      duration{30 * time.Second},
			HandshakeTimeout: duration{15 * time.Second},
		},
		Reconcile: ReconcileConfig{
			Enabled:      true,
			Cron:         "@every 1m",
			OverdueAfter: duration{2 * time.Minute},
			BatchSize:    100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"snapshots_not_found"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"reconcile": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStoreBackends = map[string]bool{
	"graphql":  true,
	"postgres": true,
}

var validSchedulerBackends = map[string]bool{
	"eventbridge": true,
	"local":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, reconcile, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	backend := strings.ToLower(c.Store.Backend)
	if !validStoreBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: graphql, postgres)", c.Store.Backend))
	}
	if backend == "graphql" && c.GraphQL.URL == "" {
		errs = append(errs, "graphql: url must be set when store.backend is graphql")
	}
	if c.GraphQL.RequestTimeout.Duration < 0 {
		errs = append(errs, "graphql: request_timeout must be >= 0")
	}

	// Postgres
	if backend == "postgres" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: either dsn or host must be set when store.backend is postgres")
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

	// Redis
	if c.Redis.Addr != "" {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.ScoreLockTTL.Duration <= 0 {
			errs = append(errs, "redis: score_lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Scheduler
	switch sb := strings.ToLower(c.Scheduler.Backend); {
	case !validSchedulerBackends[sb]:
		errs = append(errs, fmt.Sprintf("scheduler: unknown backend %q (valid: eventbridge, local)", c.Scheduler.Backend))
	case sb == "eventbridge":
		if c.Scheduler.TargetARN == "" {
			errs = append(errs, "scheduler: target_arn must be set for the eventbridge backend")
		}
		if c.Scheduler.RoleARN == "" {
			errs = append(errs, "scheduler: role_arn must be set for the eventbridge backend")
		}
	}

	// Settlement
	if c.Settlement.FreshnessThreshold.Duration <= 0 {
		errs = append(errs, "settlement: freshness_threshold must be > 0")
	}
	if c.Settlement.MaxRetries < 0 {
		errs = append(errs, "settlement: max_retries must be >= 0")
	}
	if c.Settlement.RetryDelay.Duration < 0 {
		errs = append(errs, "settlement: retry_delay must be >= 0")
	}
	if c.Settlement.ScoreUpdateAttempts < 1 {
		errs = append(errs, "settlement: score_update_attempts must be >= 1")
	}

	// Realtime
	if c.Realtime.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "realtime: reconnect_delay must be > 0")
	}
	if c.Realtime.GracePeriod.Duration < 0 {
		errs = append(errs, "realtime: grace_period must be >= 0")
	}

	// Reconcile
	if c.Reconcile.Enabled {
		if c.Reconcile.Cron == "" {
			errs = append(errs, "reconcile: cron must not be empty when enabled")
		}
		if c.Reconcile.BatchSize < 1 {
			errs = append(errs, "reconcile: batch_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
