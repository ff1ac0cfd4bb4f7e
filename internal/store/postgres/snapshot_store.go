package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// LatestAtOrBefore returns the newest snapshot by source time that is not
// after t.
func (s *SnapshotStore) LatestAtOrBefore(ctx context.Context, t time.Time) (domain.PriceSnapshot, error) {
	var snap domain.PriceSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT id, partition_key, captured_at, source_updated_at, price_usd, source
		FROM price_snapshots
		WHERE partition_key = $1 AND source_updated_at <= $2
		ORDER BY source_updated_at DESC, id DESC
		LIMIT 1`,
		domain.SnapshotPartitionKey, t,
	).Scan(&snap.ID, &snap.PartitionKey, &snap.CapturedAt, &snap.SourceUpdatedAt, &snap.PriceUSD, &snap.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("postgres: latest snapshot at %s: %w", t.Format(time.RFC3339), err)
	}
	return snap, nil
}

// Insert appends a snapshot. The price feed owns writes in production; this
// exists for seeding and tests.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PriceSnapshot) error {
	if snap.PartitionKey == "" {
		snap.PartitionKey = domain.SnapshotPartitionKey
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_snapshots (id, partition_key, captured_at, source_updated_at, price_usd, source)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.PartitionKey, snap.CapturedAt, snap.SourceUpdatedAt, snap.PriceUSD, snap.Source)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
