// Package reconcile periodically settles guesses whose trigger never fired.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// Settler runs one settlement.
type Settler interface {
	Execute(ctx context.Context, guessID string) (domain.SettlementResult, error)
}

// Config tunes the sweep.
type Config struct {
	// Schedule is a cron spec with an optional seconds field, or a
	// descriptor such as "@every 1m".
	Schedule     string
	OverdueAfter time.Duration
	BatchSize    int
}

// Reconciler re-drives PENDING guesses that are well past their settle time.
// Settlement is idempotent, so racing a late trigger is harmless.
type Reconciler struct {
	guesses domain.GuessStore
	settler Settler
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Reconciler.
func New(guesses domain.GuessStore, settler Settler, cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.OverdueAfter <= 0 {
		cfg.OverdueAfter = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		guesses: guesses,
		settler: settler,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "reconciler")),
		now:     time.Now,
	}
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Overdue int
	Settled int
	Failed  int
	Skipped int
	Errors  int
}

// Sweep settles one batch of overdue guesses sequentially. Per-guess errors
// are logged and counted; only a failed listing is returned.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	cutoff := r.now().Add(-r.cfg.OverdueAfter)
	overdue, err := r.guesses.ListPendingBefore(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return SweepStats{}, fmt.Errorf("reconcile: list overdue guesses: %w", err)
	}

	stats := SweepStats{Overdue: len(overdue)}
	for _, g := range overdue {
		if ctx.Err() != nil {
			break
		}
		res, err := r.settler.Execute(ctx, g.ID)
		switch {
		case err != nil:
			stats.Errors++
			r.logger.Warn("overdue settlement errored",
				slog.String("guess_id", g.ID), slog.String("error", err.Error()))
		case res.Success:
			stats.Settled++
		case res.Reason == domain.ReasonSnapshotsNotFound:
			stats.Failed++
		default:
			stats.Skipped++
		}
	}

	if stats.Overdue > 0 {
		r.logger.Info("sweep finished",
			slog.Int("overdue", stats.Overdue),
			slog.Int("settled", stats.Settled),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped),
			slog.Int("errors", stats.Errors),
		)
	}
	return stats, nil
}

// Run sweeps on the configured schedule until ctx ends. Overlapping runs are
// skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	clog := cronLogger{r.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("reconcile: schedule %q: %w", r.cfg.Schedule, err)
	}

	r.logger.Info("reconciler started", slog.String("schedule", r.cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reconciler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
