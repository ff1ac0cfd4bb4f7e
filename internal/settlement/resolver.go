package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/observability"
)

// ResolverConfig tunes the end-snapshot freshness retry.
type ResolverConfig struct {
	FreshnessThreshold time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
}

// DefaultResolverConfig matches the upstream price feed cadence of roughly
// one snapshot per minute.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FreshnessThreshold: 57 * time.Second,
		MaxRetries:         4,
		RetryDelay:         2 * time.Second,
	}
}

// Resolver finds the price snapshots a guess settles against.
type Resolver struct {
	snapshots domain.SnapshotStore
	cfg       ResolverConfig
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolver creates a Resolver. metrics may be nil.
func NewResolver(snapshots domain.SnapshotStore, cfg ResolverConfig, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		snapshots: snapshots,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "resolver")),
		now:       time.Now,
	}
}

// ResolveSnapshot returns the newest snapshot whose source timestamp is at or
// before t, or nil when none exists.
func (r *Resolver) ResolveSnapshot(ctx context.Context, t time.Time) (*domain.PriceSnapshot, error) {
	snap, err := r.snapshots.LatestAtOrBefore(ctx, t)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot at %s: %w", t.Format(time.RFC3339), err)
	}
	if snap.SourceUpdatedAt.After(t) {
		r.logger.Warn("snapshot index returned a future snapshot",
			slog.String("snapshot_id", snap.ID),
			slog.Time("source_updated_at", snap.SourceUpdatedAt),
			slog.Time("target", t),
		)
		return nil, nil
	}
	return &snap, nil
}

// ResolveEndSnapshot resolves the snapshot for settleAt. When the best
// candidate lags settleAt by at least the freshness threshold it polls for a
// newer one. A newer snapshot at or before settleAt replaces the candidate; a
// newer one after settleAt keeps the candidate. If nothing newer arrives
// before the retries run out it returns nil.
func (r *Resolver) ResolveEndSnapshot(ctx context.Context, settleAt time.Time) (*domain.PriceSnapshot, error) {
	initial, err := r.ResolveSnapshot(ctx, settleAt)
	if err != nil || initial == nil {
		return initial, err
	}

	gap := settleAt.Sub(initial.SourceUpdatedAt)
	if gap < r.cfg.FreshnessThreshold {
		return initial, nil
	}

	log := r.logger.With(
		slog.Time("settle_at", settleAt),
		slog.String("initial_snapshot_id", initial.ID),
		slog.Duration("gap", gap),
	)
	log.Info("end snapshot is stale, waiting for a fresher one")

	var resolved *domain.PriceSnapshot
	found, err := Retry(ctx, r.cfg.MaxRetries, r.cfg.RetryDelay, func(attempt int) (bool, error) {
		latest, err := r.snapshots.LatestAtOrBefore(ctx, pollBound(r.now(), settleAt))
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("poll snapshot (attempt %d): %w", attempt, err)
		}
		if latest.SourceUpdatedAt.Equal(initial.SourceUpdatedAt) {
			log.Debug("no new snapshot yet", slog.Int("attempt", attempt))
			return false, nil
		}
		if latest.SourceUpdatedAt.After(settleAt) {
			log.Info("newer snapshot is past settle time, keeping initial",
				slog.String("snapshot_id", latest.ID), slog.Int("attempt", attempt))
			r.metrics.EndSnapshotRetry("kept_initial")
			resolved = initial
			return true, nil
		}
		log.Info("fresher end snapshot found",
			slog.String("snapshot_id", latest.ID), slog.Int("attempt", attempt))
		r.metrics.EndSnapshotRetry("refreshed")
		resolved = &latest
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		log.Warn("no new snapshot after retries", slog.Int("retries", r.cfg.MaxRetries))
		r.metrics.EndSnapshotRetry("exhausted")
		return nil, nil
	}
	return resolved, nil
}

// pollBound is the upper bound for freshness polls. It never falls below
// settleAt, so a local clock behind the price source cannot hide a snapshot
// taken at or before settleAt.
func pollBound(now, settleAt time.Time) time.Time {
	if now.Before(settleAt) {
		return settleAt
	}
	return now
}
