package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/btcguess/internal/blob/s3"
	"github.com/alanyoungcy/btcguess/internal/cache/redis"
	"github.com/alanyoungcy/btcguess/internal/config"
	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/notify"
	"github.com/alanyoungcy/btcguess/internal/observability"
	"github.com/alanyoungcy/btcguess/internal/platform/eventbridge"
	gqlclient "github.com/alanyoungcy/btcguess/internal/platform/graphql"
	"github.com/alanyoungcy/btcguess/internal/platform/realtime"
	"github.com/alanyoungcy/btcguess/internal/relay"
	"github.com/alanyoungcy/btcguess/internal/scheduler"
	"github.com/alanyoungcy/btcguess/internal/server/handler"
	"github.com/alanyoungcy/btcguess/internal/settlement"
	gqlstore "github.com/alanyoungcy/btcguess/internal/store/graphql"
	"github.com/alanyoungcy/btcguess/internal/store/postgres"
)

// Dependencies bundles every component the application modes run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Guesses   domain.GuessStore
	Snapshots domain.SnapshotStore
	Users     domain.UserStore

	// Redis-backed, nil when redis.addr is empty.
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Settlement archive, nil unless s3.enabled.
	Archiver domain.SettlementArchiver

	Executor  *settlement.Executor
	Triggers  domain.TriggerService
	Registrar *scheduler.Registrar

	// Relays, nil when graphql.realtime_url is empty.
	PriceFeed *relay.PriceRelay
	GuessFeed *relay.GuessRelay

	Notifier *notify.Notifier
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
		Health:   make(map[string]handler.HealthCheck),
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
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

		pool := pgClient.Pool()
		deps.Guesses = postgres.NewGuessStore(pool)
		deps.Snapshots = postgres.NewSnapshotStore(pool)
		deps.Users = postgres.NewUserStore(pool)
		deps.Health["postgres"] = pgClient.Health
	default:
		client := gqlclient.NewClient(cfg.GraphQL.URL, cfg.GraphQL.APIKey, cfg.GraphQL.RequestTimeout.Duration)
		deps.Guesses = gqlstore.NewGuessStore(client)
		deps.Snapshots = gqlstore.NewSnapshotStore(client)
		deps.Users = gqlstore.NewUserStore(client)
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
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

		deps.Locks = redis.NewLockManager(redisClient, cfg.Redis.LockWait.Duration)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.BusPrefix)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewSettlementArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Settlement executor ---
	resolver := settlement.NewResolver(deps.Snapshots, settlement.ResolverConfig{
		FreshnessThreshold: cfg.Settlement.FreshnessThreshold.Duration,
		MaxRetries:         cfg.Settlement.MaxRetries,
		RetryDelay:         cfg.Settlement.RetryDelay.Duration,
	}, deps.Metrics, logger)
	deps.Executor = settlement.NewExecutor(deps.Guesses, deps.Users, resolver, settlement.ExecutorConfig{
		ScoreUpdateAttempts: cfg.Settlement.ScoreUpdateAttempts,
		ScoreLockTTL:        cfg.Redis.ScoreLockTTL.Duration,
	}, logger)
	deps.Executor.SetMetrics(deps.Metrics)
	if deps.Locks != nil {
		deps.Executor.SetLocks(deps.Locks)
	}
	if deps.Bus != nil {
		deps.Executor.SetSignalBus(deps.Bus)
	}
	if deps.Archiver != nil {
		deps.Executor.SetArchiver(deps.Archiver)
	}

	// --- Settlement triggers ---
	switch strings.ToLower(cfg.Scheduler.Backend) {
	case "eventbridge":
		eb, err := eventbridge.New(ctx, eventbridge.ClientConfig{
			Region:   cfg.Scheduler.Region,
			Endpoint: cfg.Scheduler.Endpoint,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: eventbridge scheduler: %w", err))
		}
		deps.Triggers = eb
	default:
		local := scheduler.NewLocalTriggers(deps.Executor, cfg.Scheduler.LocalInvokeTimeout.Duration, logger)
		closers = append(closers, local.Stop)
		deps.Triggers = local
	}
	deps.Registrar = scheduler.NewRegistrar(deps.Triggers, scheduler.RegistrarConfig{
		GroupName:  cfg.Scheduler.GroupName,
		TargetID:   cfg.Scheduler.TargetARN,
		TargetAuth: cfg.Scheduler.RoleARN,
	}, deps.Metrics, logger)

	// --- Relays ---
	if cfg.GraphQL.RealtimeURL != "" {
		rtCfg := realtime.Config{
			URL:              cfg.GraphQL.RealtimeURL,
			APIKey:           cfg.GraphQL.APIKey,
			ReconnectDelay:   cfg.Realtime.ReconnectDelay.Duration,
			GracePeriod:      cfg.Realtime.GracePeriod.Duration,
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout.Duration,
		}
		deps.PriceFeed = relay.NewPriceRelay(rtCfg, deps.Metrics, logger)
		deps.GuessFeed = relay.NewGuessRelay(rtCfg, deps.Metrics, logger)
		closers = append(closers,
			func() { _ = deps.PriceFeed.Close() },
			func() { _ = deps.GuessFeed.Close() },
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
