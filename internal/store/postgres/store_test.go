package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "btc"})
	if got != "postgres://u:p@db:5432/btc?sslmode=disable" {
		t.Fatalf("DSN = %s", got)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("explicit DSN overridden: %s", got)
	}
}

// testClient connects to BTCGUESS_TEST_POSTGRES_DSN and applies migrations.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BTCGUESS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BTCGUESS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return c
}

func TestGuessLifecycle(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewGuessStore(c.Pool())

	id, owner := uuid.NewString(), uuid.NewString()
	settleAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	if _, err := c.Pool().Exec(ctx, `
		INSERT INTO guesses (id, owner, created_at, settle_at, direction)
		VALUES ($1, $2, $3, $4, 'UP')`, id, owner, settleAt.Add(-time.Minute), settleAt); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t.Cleanup(func() { c.Pool().Exec(context.Background(), `DELETE FROM guesses WHERE id = $1`, id) })

	pending, err := store.ListPendingBefore(ctx, time.Now(), 1000)
	if err != nil {
		t.Fatalf("ListPendingBefore: %v", err)
	}
	found := false
	for _, g := range pending {
		found = found || g.ID == id
	}
	if !found {
		t.Fatal("seeded guess not listed as pending")
	}

	g, err := store.MarkSettled(ctx, id, domain.GuessSettlement{
		StartSnapshotID: "s1", EndSnapshotID: "s2",
		StartPrice: 100, EndPrice: 110,
		Result: domain.PriceResultUp, Outcome: domain.OutcomeWin,
	})
	if err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if g.Status != domain.GuessStatusSettled || g.EndPrice == nil || *g.EndPrice != 110 {
		t.Fatalf("settled guess = %+v", g)
	}

	if _, err := store.MarkSettled(ctx, id, domain.GuessSettlement{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second MarkSettled err = %v, want ErrConflict", err)
	}
	if err := store.MarkFailed(ctx, id); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("MarkFailed on settled err = %v, want ErrConflict", err)
	}
}

func TestSnapshotLatestAtOrBefore(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewSnapshotStore(c.Pool())

	// Far-future range so other rows cannot interfere.
	base := time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{uuid.NewString(), uuid.NewString()}
	for i, id := range ids {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := store.Insert(ctx, domain.PriceSnapshot{ID: id, CapturedAt: at, SourceUpdatedAt: at, PriceUSD: float64(100 + i), Source: "test"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	t.Cleanup(func() {
		c.Pool().Exec(context.Background(), `DELETE FROM price_snapshots WHERE id = ANY($1)`, ids)
	})

	got, err := store.LatestAtOrBefore(ctx, base.Add(90*time.Second))
	if err != nil || got.ID != ids[1] {
		t.Fatalf("got %+v, %v; want %s", got, err, ids[1])
	}
	got, err = store.LatestAtOrBefore(ctx, base.Add(30*time.Second))
	if err != nil || got.ID != ids[0] {
		t.Fatalf("got %+v, %v; want %s", got, err, ids[0])
	}
}

func TestUserScoreConditionalWrite(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewUserStore(c.Pool())

	id := uuid.NewString()
	stamp := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := c.Pool().Exec(ctx, `INSERT INTO user_states (id, score, last_updated_at) VALUES ($1, 3, $2)`, id, stamp); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t.Cleanup(func() { c.Pool().Exec(context.Background(), `DELETE FROM user_states WHERE id = $1`, id) })

	u, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next := stamp.Add(time.Second)
	if _, err := store.UpdateScore(ctx, id, u.Score+1, u.LastUpdatedAt, next); err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if _, err := store.UpdateScore(ctx, id, u.Score+1, u.LastUpdatedAt, next); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale UpdateScore err = %v, want ErrConflict", err)
	}
	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}
