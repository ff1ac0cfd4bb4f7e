package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func snap(id string, at time.Time, price float64) domain.PriceSnapshot {
	return domain.PriceSnapshot{
		ID:              id,
		PartitionKey:    domain.SnapshotPartitionKey,
		SourceUpdatedAt: at,
		CapturedAt:      at.Add(time.Second),
		PriceUSD:        price,
		Source:          "test",
	}
}

func testResolver(store domain.SnapshotStore) *Resolver {
	r := NewResolver(store, ResolverConfig{
		FreshnessThreshold: 57 * time.Second,
		MaxRetries:         4,
		RetryDelay:         time.Millisecond,
	}, nil, quietLogger())
	r.now = func() time.Time { return t0.Add(time.Hour) }
	return r
}

func TestResolveSnapshotNone(t *testing.T) {
	r := testResolver(&fakeSnapshots{})
	got, err := r.ResolveSnapshot(context.Background(), t0)
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v; want nil, nil", got, err)
	}
}

func TestResolveSnapshotNeverReturnsFuture(t *testing.T) {
	r := testResolver(futureStore{snap("late", t0.Add(time.Second), 1)})
	got, err := r.ResolveSnapshot(context.Background(), t0)
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v; want nil, nil", got, err)
	}
}

func TestResolveSnapshotPropagatesStoreError(t *testing.T) {
	boom := errors.New("throttled")
	r := testResolver(&fakeSnapshots{err: boom})
	if _, err := r.ResolveSnapshot(context.Background(), t0); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveEndSnapshotFresh(t *testing.T) {
	store := &fakeSnapshots{snaps: []domain.PriceSnapshot{snap("a", t0.Add(59*time.Second), 110)}}
	r := testResolver(store)

	got, err := r.ResolveEndSnapshot(context.Background(), t0.Add(60*time.Second))
	if err != nil || got == nil || got.ID != "a" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if store.queryCount() != 1 {
		t.Fatalf("queries = %d, want 1", store.queryCount())
	}
}

func TestResolveEndSnapshotExhaustsRetries(t *testing.T) {
	store := &fakeSnapshots{snaps: []domain.PriceSnapshot{snap("old", t0.Add(-time.Second), 100)}}
	r := testResolver(store)

	got, err := r.ResolveEndSnapshot(context.Background(), t0.Add(60*time.Second))
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v; want nil, nil", got, err)
	}
	if store.queryCount() != 5 {
		t.Fatalf("queries = %d, want 1 initial + 4 retries", store.queryCount())
	}
}

func TestResolveEndSnapshotPicksUpFresherSnapshot(t *testing.T) {
	settleAt := t0.Add(60 * time.Second)
	store := &fakeSnapshots{
		snaps:   []domain.PriceSnapshot{snap("old", t0.Add(-time.Second), 100)},
		pending: map[int][]domain.PriceSnapshot{2: {snap("fresh", settleAt.Add(-2*time.Second), 105)}},
	}
	r := testResolver(store)

	got, err := r.ResolveEndSnapshot(context.Background(), settleAt)
	if err != nil || got == nil {
		t.Fatalf("got %+v, %v", got, err)
	}
	if got.ID != "fresh" {
		t.Fatalf("resolved %s, want fresh", got.ID)
	}
}

func TestResolveEndSnapshotKeepsInitialWhenNewerIsLate(t *testing.T) {
	settleAt := t0.Add(60 * time.Second)
	store := &fakeSnapshots{
		snaps:   []domain.PriceSnapshot{snap("old", t0.Add(-time.Second), 100)},
		pending: map[int][]domain.PriceSnapshot{1: {snap("late", settleAt.Add(5*time.Second), 120)}},
	}
	r := testResolver(store)

	got, err := r.ResolveEndSnapshot(context.Background(), settleAt)
	if err != nil || got == nil {
		t.Fatalf("got %+v, %v", got, err)
	}
	if got.ID != "old" {
		t.Fatalf("resolved %s, want the pre-retry snapshot", got.ID)
	}
	if store.queryCount() != 2 {
		t.Fatalf("queries = %d, want 2", store.queryCount())
	}
}

func TestResolveEndSnapshotLocalClockBehindSource(t *testing.T) {
	settleAt := t0.Add(60 * time.Second)
	store := &fakeSnapshots{
		snaps:   []domain.PriceSnapshot{snap("old", t0.Add(-time.Second), 100)},
		pending: map[int][]domain.PriceSnapshot{1: {snap("fresh", settleAt.Add(-time.Second), 105)}},
	}
	r := testResolver(store)
	r.now = func() time.Time { return settleAt.Add(-2 * time.Second) }

	got, err := r.ResolveEndSnapshot(context.Background(), settleAt)
	if err != nil || got == nil {
		t.Fatalf("got %+v, %v", got, err)
	}
	if got.ID != "fresh" {
		t.Fatalf("resolved %s, want fresh", got.ID)
	}
}

func TestPollBound(t *testing.T) {
	settleAt := t0.Add(time.Minute)
	if got := pollBound(settleAt.Add(-time.Second), settleAt); !got.Equal(settleAt) {
		t.Errorf("clock behind: bound = %v, want settleAt", got)
	}
	later := settleAt.Add(time.Minute)
	if got := pollBound(later, settleAt); !got.Equal(later) {
		t.Errorf("clock ahead: bound = %v, want now", got)
	}
}

func TestResolveEndSnapshotCancelled(t *testing.T) {
	store := &fakeSnapshots{snaps: []domain.PriceSnapshot{snap("old", t0.Add(-time.Second), 100)}}
	r := testResolver(store)
	r.cfg.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.ResolveEndSnapshot(ctx, t0.Add(60*time.Second)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

// futureStore ignores the bound, as a misbehaving index would.
type futureStore []domain.PriceSnapshot

func (f futureStore) LatestAtOrBefore(context.Context, time.Time) (domain.PriceSnapshot, error) {
	return f[0], nil
}
