package settlement

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSnapshots struct {
	mu      sync.Mutex
	snaps   []domain.PriceSnapshot
	queries int
	err     error
	// pending snapshots become visible once queries exceeds their key.
	pending map[int][]domain.PriceSnapshot
}

func (f *fakeSnapshots) LatestAtOrBefore(_ context.Context, t time.Time) (domain.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return domain.PriceSnapshot{}, f.err
	}
	for after, snaps := range f.pending {
		if f.queries > after {
			f.snaps = append(f.snaps, snaps...)
			delete(f.pending, after)
		}
	}
	var cands []domain.PriceSnapshot
	for _, s := range f.snaps {
		if !s.SourceUpdatedAt.After(t) {
			cands = append(cands, s)
		}
	}
	if len(cands) == 0 {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].SourceUpdatedAt.After(cands[j].SourceUpdatedAt) })
	return cands[0], nil
}

func (f *fakeSnapshots) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeGuesses struct {
	mu      sync.Mutex
	guesses map[string]domain.Guess
	writes  int
	// settleErr overrides MarkSettled's result when set.
	settleErr error
	// raceTo, when set, moves the guess to that status just before the next
	// transition, as a concurrent invocation would.
	raceTo domain.GuessStatus
}

// race applies raceTo. The caller holds f.mu.
func (f *fakeGuesses) race(id string) {
	if f.raceTo == "" {
		return
	}
	g := f.guesses[id]
	g.Status = f.raceTo
	f.guesses[id] = g
	f.raceTo = ""
}

func newFakeGuesses(gs ...domain.Guess) *fakeGuesses {
	f := &fakeGuesses{guesses: make(map[string]domain.Guess)}
	for _, g := range gs {
		f.guesses[g.ID] = g
	}
	return f
}

func (f *fakeGuesses) Get(_ context.Context, id string) (domain.Guess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guesses[id]
	if !ok {
		return domain.Guess{}, domain.ErrNotFound
	}
	return g, nil
}

func (f *fakeGuesses) MarkSettled(_ context.Context, id string, s domain.GuessSettlement) (domain.Guess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return domain.Guess{}, f.settleErr
	}
	f.race(id)
	g, ok := f.guesses[id]
	if !ok || g.Status != domain.GuessStatusPending {
		return domain.Guess{}, domain.ErrConflict
	}
	f.writes++
	start, end := s.StartPrice, s.EndPrice
	g.Status = domain.GuessStatusSettled
	g.StartPrice, g.EndPrice = &start, &end
	g.StartSnapshotID, g.EndSnapshotID = s.StartSnapshotID, s.EndSnapshotID
	g.Result, g.Outcome = s.Result, s.Outcome
	f.guesses[id] = g
	return g, nil
}

func (f *fakeGuesses) MarkFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.race(id)
	g, ok := f.guesses[id]
	if !ok || g.Status != domain.GuessStatusPending {
		return domain.ErrConflict
	}
	f.writes++
	g.Status = domain.GuessStatusFailed
	f.guesses[id] = g
	return nil
}

func (f *fakeGuesses) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]domain.Guess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Guess
	for _, g := range f.guesses {
		if g.Status == domain.GuessStatusPending && g.SettleAt.Before(before) {
			out = append(out, g)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGuesses) get(id string) domain.Guess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guesses[id]
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]domain.UserState
	// conflicts makes the next n UpdateScore calls fail with ErrConflict.
	conflicts int
	updates   int
}

func newFakeUsers(us ...domain.UserState) *fakeUsers {
	f := &fakeUsers{users: make(map[string]domain.UserState)}
	for _, u := range us {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Get(_ context.Context, id string) (domain.UserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.UserState{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateScore(_ context.Context, id string, score int, expected, now time.Time) (domain.UserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !u.LastUpdatedAt.Equal(expected) {
		return domain.UserState{}, domain.ErrConflict
	}
	if f.conflicts > 0 {
		f.conflicts--
		// Simulate a concurrent writer bumping the row.
		u.Score += 10
		u.LastUpdatedAt = u.LastUpdatedAt.Add(time.Millisecond)
		f.users[id] = u
		return domain.UserState{}, domain.ErrConflict
	}
	f.updates++
	u.Score = score
	u.LastUpdatedAt = now
	f.users[id] = u
	return u, nil
}

func (f *fakeUsers) score(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].Score
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	results []domain.SettlementResult
}

func (a *fakeArchiver) ArchiveSettlement(_ context.Context, r domain.SettlementResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	return nil
}
