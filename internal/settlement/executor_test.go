package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

type harness struct {
	exec    *Executor
	guesses *fakeGuesses
	users   *fakeUsers
	snaps   *fakeSnapshots
	bus     *fakeBus
	archive *fakeArchiver
}

func pendingGuess() domain.Guess {
	return domain.Guess{
		ID:        "g-1",
		Owner:     "alice",
		CreatedAt: t0,
		SettleAt:  t0.Add(60 * time.Second),
		Direction: domain.DirectionUp,
		Status:    domain.GuessStatusPending,
	}
}

func newHarness(guess domain.Guess, snaps ...domain.PriceSnapshot) *harness {
	h := &harness{
		guesses: newFakeGuesses(guess),
		users:   newFakeUsers(domain.UserState{ID: "alice", Score: 5, LastUpdatedAt: t0.Add(-time.Hour)}),
		snaps:   &fakeSnapshots{snaps: snaps},
		bus:     &fakeBus{},
		archive: &fakeArchiver{},
	}
	h.exec = NewExecutor(h.guesses, h.users, testResolver(h.snaps), DefaultExecutorConfig(), quietLogger())
	h.exec.SetSignalBus(h.bus)
	h.exec.SetArchiver(h.archive)
	return h
}

func TestExecuteSettlesWinningGuess(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Outcome != domain.OutcomeWin || res.Result != domain.PriceResultUp {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.StartPrice != 100 || res.EndPrice != 110 || res.ScoreDelta != 1 {
		t.Fatalf("unexpected prices/delta: %+v", res)
	}
	if res.PriceChange != 10 || res.PriceChangePercent != 10 {
		t.Fatalf("unexpected change: %v / %v", res.PriceChange, res.PriceChangePercent)
	}

	g := h.guesses.get("g-1")
	if g.Status != domain.GuessStatusSettled || g.Outcome != domain.OutcomeWin {
		t.Fatalf("stored guess: %+v", g)
	}
	if *g.StartPrice != 100 || *g.EndPrice != 110 {
		t.Fatalf("stored prices: %v / %v", *g.StartPrice, *g.EndPrice)
	}
	if g.StartSnapshotID != "s-start" || g.EndSnapshotID != "s-end" {
		t.Fatalf("stored snapshot ids: %s / %s", g.StartSnapshotID, g.EndSnapshotID)
	}
	if got := h.users.score("alice"); got != 6 {
		t.Fatalf("score = %d, want 6", got)
	}

	msgs := h.bus.messages[domain.SettlementsChannel]
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var published domain.SettlementResult
	if err := json.Unmarshal(msgs[0], &published); err != nil || published.GuessID != "g-1" {
		t.Fatalf("published %s (%v)", msgs[0], err)
	}
	if len(h.archive.results) != 1 {
		t.Fatalf("archived %d results, want 1", len(h.archive.results))
	}
}

func TestExecuteTwiceIsNoOp(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	if _, err := h.exec.Execute(context.Background(), "g-1"); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	writes, updates := h.guesses.writes, h.users.updates

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if res.Success || res.Reason != domain.ReasonAlreadyProcessed {
		t.Fatalf("second result: %+v", res)
	}
	if h.guesses.writes != writes || h.users.updates != updates {
		t.Fatal("second invocation wrote to the store")
	}
	if got := h.users.score("alice"); got != 6 {
		t.Fatalf("score = %d, want 6", got)
	}
}

func TestExecuteFailsGuessWhenEndSnapshotStale(t *testing.T) {
	h := newHarness(pendingGuess(), snap("s-start", t0.Add(-time.Second), 100))

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Reason != domain.ReasonSnapshotsNotFound || res.Status != domain.GuessStatusFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if g := h.guesses.get("g-1"); g.Status != domain.GuessStatusFailed || g.StartPrice != nil {
		t.Fatalf("stored guess: %+v", g)
	}
	if got := h.users.score("alice"); got != 5 {
		t.Fatalf("score changed to %d", got)
	}
	if len(h.bus.messages[domain.SettlementsChannel]) != 1 {
		t.Fatal("failure was not published")
	}
}

func TestExecuteFailsGuessWhenStartSnapshotMissing(t *testing.T) {
	h := newHarness(pendingGuess(), snap("s-end", t0.Add(59*time.Second), 110))

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.ReasonSnapshotsNotFound {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteGuessNotFound(t *testing.T) {
	h := newHarness(pendingGuess())
	res, err := h.exec.Execute(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Reason != domain.ReasonGuessNotFound || res.GuessID != "missing" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.bus.messages) != 0 {
		t.Fatal("not-found should not be published")
	}
}

func TestExecuteInvalidInput(t *testing.T) {
	h := newHarness(pendingGuess())
	res, err := h.exec.Execute(context.Background(), "")
	if err != nil || res.Reason != domain.ReasonInvalidInput {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestExecuteMissingConfiguration(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, DefaultExecutorConfig(), quietLogger())
	res, err := exec.Execute(context.Background(), "g-1")
	if err != nil || res.Reason != domain.ReasonConfiguration {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestExecuteConcurrentSettleIsAlreadyProcessed(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	h.guesses.raceTo = domain.GuessStatusSettled

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.ReasonAlreadyProcessed || res.Status != domain.GuessStatusSettled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.guesses.writes != 0 {
		t.Fatalf("writes = %d, want 0", h.guesses.writes)
	}
	if h.users.updates != 0 {
		t.Fatal("score updated despite losing the race")
	}
}

func TestExecuteStoreErrorPropagates(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	boom := errors.New("store unavailable")
	h.guesses.settleErr = boom

	if _, err := h.exec.Execute(context.Background(), "g-1"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestExecuteRetriesScoreConflict(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 90),
	)
	h.users.conflicts = 2

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != domain.OutcomeLoss || res.ScoreDelta != -1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Two concurrent +10 writes landed before ours.
	if got := h.users.score("alice"); got != 5+20-1 {
		t.Fatalf("score = %d, want 24", got)
	}
}

func TestExecuteScoreConflictExhausted(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	h.users.conflicts = 10

	_, err := h.exec.Execute(context.Background(), "g-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestExecuteMissingUserSkipsScore(t *testing.T) {
	g := pendingGuess()
	g.Owner = "ghost"
	h := newHarness(g,
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 100),
	)

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Outcome != domain.OutcomeDraw {
		t.Fatalf("unexpected result: %+v", res)
	}
}

type recordingLocks struct {
	acquired []string
	released int
}

func (l *recordingLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

func TestExecuteTakesScoreLock(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	locks := &recordingLocks{}
	h.exec.SetLocks(locks)

	if _, err := h.exec.Execute(context.Background(), "g-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(locks.acquired) != 1 || locks.acquired[0] != "score:alice" || locks.released != 1 {
		t.Fatalf("locks = %+v", locks)
	}
}

func TestExecuteConcurrentFailReportsWinnerStatus(t *testing.T) {
	h := newHarness(pendingGuess())
	h.guesses.raceTo = domain.GuessStatusSettled

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.ReasonAlreadyProcessed {
		t.Fatalf("reason = %s, want ALREADY_PROCESSED", res.Reason)
	}
	if res.Status != domain.GuessStatusSettled || res.Owner != "alice" || res.Direction != domain.DirectionUp {
		t.Fatalf("result shape = %+v", res)
	}
}

func TestExecuteLostRaceMatchesEarlyAlreadyProcessedShape(t *testing.T) {
	snaps := []domain.PriceSnapshot{
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	}
	raced := newHarness(pendingGuess(), snaps...)
	raced.guesses.raceTo = domain.GuessStatusSettled
	lost, err := raced.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	done := pendingGuess()
	done.Status = domain.GuessStatusSettled
	early, err := newHarness(done, snaps...).exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if lost.Reason != early.Reason || lost.Status != early.Status ||
		lost.Owner != early.Owner || lost.Direction != early.Direction {
		t.Fatalf("lost race %+v differs from early branch %+v", lost, early)
	}
}

func TestExecuteScoresNeverScoredUser(t *testing.T) {
	h := newHarness(pendingGuess(),
		snap("s-start", t0.Add(-time.Second), 100),
		snap("s-end", t0.Add(59*time.Second), 110),
	)
	h.users = newFakeUsers(domain.UserState{ID: "alice"})
	h.exec = NewExecutor(h.guesses, h.users, testResolver(h.snaps), DefaultExecutorConfig(), quietLogger())

	res, err := h.exec.Execute(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || h.users.score("alice") != 1 {
		t.Fatalf("score = %d, result %+v", h.users.score("alice"), res)
	}
}
