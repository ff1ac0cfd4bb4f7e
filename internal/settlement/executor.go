package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/observability"
)

// ExecutorConfig tunes the score write.
type ExecutorConfig struct {
	ScoreUpdateAttempts int
	ScoreLockTTL        time.Duration
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{ScoreUpdateAttempts: 3, ScoreLockTTL: 10 * time.Second}
}

// Executor settles one guess per invocation. Expected failures come back as
// a SettlementResult with Success=false. Only infrastructure errors are
// returned as err, so the trigger that invoked it can retry.
type Executor struct {
	guesses  domain.GuessStore
	users    domain.UserStore
	resolver *Resolver
	cfg      ExecutorConfig
	logger   *slog.Logger
	now      func() time.Time

	locks    domain.LockManager
	bus      domain.SignalBus
	archiver domain.SettlementArchiver
	metrics  *observability.Metrics
}

// NewExecutor creates an Executor. A nil store or resolver is reported as a
// CONFIGURATION_ERROR on every call rather than a panic.
func NewExecutor(guesses domain.GuessStore, users domain.UserStore, resolver *Resolver, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScoreUpdateAttempts <= 0 {
		cfg.ScoreUpdateAttempts = 1
	}
	return &Executor{
		guesses:  guesses,
		users:    users,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "settlement")),
		now:      time.Now,
	}
}

// SetLocks serialises score writes per owner through lm.
func (e *Executor) SetLocks(lm domain.LockManager) { e.locks = lm }

// SetSignalBus publishes every terminal result on domain.SettlementsChannel.
func (e *Executor) SetSignalBus(bus domain.SignalBus) { e.bus = bus }

// SetArchiver stores a copy of every terminal result.
func (e *Executor) SetArchiver(a domain.SettlementArchiver) { e.archiver = a }

// SetMetrics enables settlement metrics.
func (e *Executor) SetMetrics(m *observability.Metrics) { e.metrics = m }

// Execute settles guessID.
func (e *Executor) Execute(ctx context.Context, guessID string) (domain.SettlementResult, error) {
	started := e.now()
	res, err := e.execute(ctx, guessID)
	res.ExecutionTimeMs = e.now().Sub(started).Milliseconds()

	status, reason := "ok", ""
	switch {
	case err != nil:
		status = "error"
	case !res.Success:
		status, reason = "failed", string(res.Reason)
	}
	e.metrics.ObserveSettlement(status, reason, e.now().Sub(started))

	if err != nil {
		e.logger.Error("settlement errored",
			slog.String("guess_id", guessID),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	e.logger.Info("settlement finished",
		slog.String("guess_id", guessID),
		slog.Bool("success", res.Success),
		slog.String("reason", string(res.Reason)),
		slog.String("outcome", string(res.Outcome)),
		slog.Int64("execution_ms", res.ExecutionTimeMs),
	)
	if res.Success || res.Reason == domain.ReasonSnapshotsNotFound {
		e.report(ctx, res)
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, guessID string) (domain.SettlementResult, error) {
	if guessID == "" {
		return failure(guessID, domain.ReasonInvalidInput, "guessId is required"), nil
	}
	if e.guesses == nil || e.users == nil || e.resolver == nil {
		return failure(guessID, domain.ReasonConfiguration, "settlement stores are not configured"), nil
	}

	guess, err := e.guesses.Get(ctx, guessID)
	if errors.Is(err, domain.ErrNotFound) {
		return failure(guessID, domain.ReasonGuessNotFound, "guess does not exist"), nil
	}
	if err != nil {
		return domain.SettlementResult{GuessID: guessID}, fmt.Errorf("load guess %s: %w", guessID, err)
	}
	if guess.Status != domain.GuessStatusPending {
		res := failure(guessID, domain.ReasonAlreadyProcessed, "guess is not pending")
		res.Owner, res.Status, res.Direction = guess.Owner, guess.Status, guess.Direction
		return res, nil
	}

	var startSnap, endSnap *domain.PriceSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.resolver.ResolveSnapshot(gctx, guess.CreatedAt)
		startSnap = s
		return err
	})
	g.Go(func() error {
		s, err := e.resolver.ResolveEndSnapshot(gctx, guess.SettleAt)
		endSnap = s
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SettlementResult{GuessID: guessID}, err
	}

	if startSnap == nil || endSnap == nil {
		e.logger.Warn("snapshots missing, failing guess",
			slog.String("guess_id", guessID),
			slog.Bool("start_found", startSnap != nil),
			slog.Bool("end_found", endSnap != nil),
		)
		if err := e.guesses.MarkFailed(ctx, guessID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return e.alreadyProcessed(ctx, guess)
			}
			return domain.SettlementResult{GuessID: guessID}, fmt.Errorf("mark guess %s failed: %w", guessID, err)
		}
		res := failure(guessID, domain.ReasonSnapshotsNotFound, "price snapshots unavailable for guess window")
		res.Owner, res.Status, res.Direction = guess.Owner, domain.GuessStatusFailed, guess.Direction
		return res, nil
	}

	verdict := ComputeOutcome(startSnap.PriceUSD, endSnap.PriceUSD, guess.Direction)
	settled, err := e.guesses.MarkSettled(ctx, guessID, domain.GuessSettlement{
		StartSnapshotID: startSnap.ID,
		EndSnapshotID:   endSnap.ID,
		StartPrice:      startSnap.PriceUSD,
		EndPrice:        endSnap.PriceUSD,
		Result:          verdict.Result,
		Outcome:         verdict.Outcome,
	})
	if errors.Is(err, domain.ErrConflict) {
		return e.alreadyProcessed(ctx, guess)
	}
	if err != nil {
		return domain.SettlementResult{GuessID: guessID}, fmt.Errorf("settle guess %s: %w", guessID, err)
	}

	if err := e.applyScore(ctx, guess.Owner, verdict.ScoreDelta); err != nil {
		return domain.SettlementResult{GuessID: guessID}, err
	}

	change, pct := PriceChange(startSnap.PriceUSD, endSnap.PriceUSD)
	return domain.SettlementResult{
		Success:            true,
		GuessID:            guessID,
		Owner:              guess.Owner,
		Status:             settled.Status,
		Outcome:            verdict.Outcome,
		Direction:          guess.Direction,
		Result:             verdict.Result,
		StartPrice:         startSnap.PriceUSD,
		EndPrice:           endSnap.PriceUSD,
		PriceChange:        change,
		PriceChangePercent: pct,
		ScoreDelta:         verdict.ScoreDelta,
	}, nil
}

// applyScore adds delta to the owner's score with a conditional write on
// LastUpdatedAt, re-reading on conflict. A missing user is logged and skipped.
func (e *Executor) applyScore(ctx context.Context, owner string, delta int) error {
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "score:"+owner, e.cfg.ScoreLockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			e.logger.Debug("score lock held, relying on conditional write", slog.String("owner", owner))
		default:
			e.logger.Warn("score lock unavailable",
				slog.String("owner", owner), slog.String("error", err.Error()))
		}
	}

	for attempt := 1; attempt <= e.cfg.ScoreUpdateAttempts; attempt++ {
		user, err := e.users.Get(ctx, owner)
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("user state missing, score not updated", slog.String("owner", owner))
			return nil
		}
		if err != nil {
			return fmt.Errorf("load user %s: %w", owner, err)
		}

		_, err = e.users.UpdateScore(ctx, owner, user.Score+delta, user.LastUpdatedAt, e.now().UTC())
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("update score for %s: %w", owner, err)
		}
		e.metrics.ScoreConflict()
		e.logger.Debug("score write raced, retrying",
			slog.String("owner", owner), slog.Int("attempt", attempt))
	}
	return fmt.Errorf("update score for %s after %d attempts: %w", owner, e.cfg.ScoreUpdateAttempts, domain.ErrConflict)
}

// alreadyProcessed builds the result for a transition that lost the race to
// another invocation. The guess is re-read so Status carries the winner's
// terminal state.
func (e *Executor) alreadyProcessed(ctx context.Context, g domain.Guess) (domain.SettlementResult, error) {
	current, err := e.guesses.Get(ctx, g.ID)
	if err != nil {
		return domain.SettlementResult{GuessID: g.ID}, fmt.Errorf("reload guess %s after conflict: %w", g.ID, err)
	}
	res := failure(g.ID, domain.ReasonAlreadyProcessed, "guess was settled concurrently")
	res.Owner, res.Status, res.Direction = g.Owner, current.Status, g.Direction
	return res, nil
}

// report fans the result out to the bus and the archive. Neither is allowed
// to fail the settlement.
func (e *Executor) report(ctx context.Context, res domain.SettlementResult) {
	if e.bus != nil {
		payload, err := json.Marshal(res)
		if err == nil {
			err = e.bus.Publish(ctx, domain.SettlementsChannel, payload)
		}
		if err != nil {
			e.logger.Warn("publish settlement failed",
				slog.String("guess_id", res.GuessID), slog.String("error", err.Error()))
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveSettlement(ctx, res); err != nil {
			e.logger.Warn("archive settlement failed",
				slog.String("guess_id", res.GuessID), slog.String("error", err.Error()))
		}
	}
}

func failure(guessID string, reason domain.FailureReason, msg string) domain.SettlementResult {
	return domain.SettlementResult{
		Success: false,
		Reason:  reason,
		Message: msg,
		GuessID: guessID,
	}
}
