package graphql

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

const latestSnapshotQuery = `
	query LatestSnapshot($partitionKey: String!, $at: String!) {
		snapshotsByPartitionAndSourceUpdatedAt(
			partitionKey: $partitionKey
			sourceUpdatedAt: { le: $at }
			sortDirection: DESC
			limit: 1
		) {
			items {
				id
				partitionKey
				capturedAt
				sourceUpdatedAt
				priceUsd
				source
			}
		}
	}`

// SnapshotStore implements domain.SnapshotStore against the
// partitionKey/sourceUpdatedAt secondary index.
type SnapshotStore struct {
	client Doer
}

// NewSnapshotStore creates a SnapshotStore backed by client.
func NewSnapshotStore(client Doer) *SnapshotStore {
	return &SnapshotStore{client: client}
}

// LatestAtOrBefore returns the most recent snapshot whose sourceUpdatedAt is
// at or before t.
func (s *SnapshotStore) LatestAtOrBefore(ctx context.Context, t time.Time) (domain.PriceSnapshot, error) {
	var out struct {
		Page struct {
			Items []domain.PriceSnapshot `json:"items"`
		} `json:"snapshotsByPartitionAndSourceUpdatedAt"`
	}
	vars := map[string]any{
		"partitionKey": domain.SnapshotPartitionKey,
		"at":           formatTime(t),
	}
	if err := s.client.Do(ctx, latestSnapshotQuery, vars, &out); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("graphql store: latest snapshot at %s: %w", formatTime(t), err)
	}
	if len(out.Page.Items) == 0 {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return out.Page.Items[0], nil
}
