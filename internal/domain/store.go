package domain

import (
	"context"
	"time"
)

// GuessStore reads and mutates guesses. Get returns ErrNotFound when the id
// does not exist.
type GuessStore interface {
	Get(ctx context.Context, id string) (Guess, error)
	MarkSettled(ctx context.Context, id string, s GuessSettlement) (Guess, error)
	MarkFailed(ctx context.Context, id string) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Guess, error)
}

// SnapshotStore queries the price snapshot time index.
type SnapshotStore interface {
	// LatestAtOrBefore returns the snapshot with the greatest SourceUpdatedAt
	// that is <= t, or ErrNotFound.
	LatestAtOrBefore(ctx context.Context, t time.Time) (PriceSnapshot, error)
}

// UserStore reads and writes player scores. UpdateScore is a conditional
// write: it fails with ErrConflict when the stored LastUpdatedAt no longer
// equals expected.
type UserStore interface {
	Get(ctx context.Context, id string) (UserState, error)
	UpdateScore(ctx context.Context, id string, score int, expected time.Time, now time.Time) (UserState, error)
}
