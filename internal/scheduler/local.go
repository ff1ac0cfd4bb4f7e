package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// Settler runs a settlement. *settlement.Executor satisfies it.
type Settler interface {
	Execute(ctx context.Context, guessID string) (domain.SettlementResult, error)
}

// LocalTriggers is an in-process domain.TriggerService for development and
// single-node deployments. Triggers are lost on restart; the reconciler
// picks those guesses up.
type LocalTriggers struct {
	settler Settler
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewLocalTriggers creates a LocalTriggers that invokes settler when a
// trigger fires, bounding each invocation by timeout.
func NewLocalTriggers(settler Settler, timeout time.Duration, logger *slog.Logger) *LocalTriggers {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &LocalTriggers{
		settler: settler,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "local_triggers")),
		timers:  make(map[string]*time.Timer),
	}
}

// CreateOneShot arms a timer for t. A live trigger with the same name yields
// an error wrapping domain.ErrAlreadyExists.
func (l *LocalTriggers) CreateOneShot(_ context.Context, t domain.OneShotTrigger) error {
	var req domain.SettleRequest
	if err := json.Unmarshal([]byte(t.PayloadJSON), &req); err != nil {
		return fmt.Errorf("local trigger %s: decode payload: %w", t.Name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return fmt.Errorf("local trigger %s: scheduler stopped", t.Name)
	}
	if _, ok := l.timers[t.Name]; ok {
		return fmt.Errorf("local trigger %s: %w", t.Name, domain.ErrAlreadyExists)
	}

	l.wg.Add(1)
	l.timers[t.Name] = time.AfterFunc(time.Until(t.FireAt), func() {
		defer l.wg.Done()
		l.fire(t, req.GuessID)
	})
	return nil
}

func (l *LocalTriggers) fire(t domain.OneShotTrigger, guessID string) {
	if t.AutoDeleteAfterFiring {
		l.mu.Lock()
		delete(l.timers, t.Name)
		l.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	res, err := l.settler.Execute(ctx, guessID)
	if err != nil {
		l.logger.Error("local trigger invocation failed",
			slog.String("schedule", t.Name),
			slog.String("guess_id", guessID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.logger.Info("local trigger fired",
		slog.String("schedule", t.Name),
		slog.String("guess_id", guessID),
		slog.Bool("success", res.Success),
		slog.String("reason", string(res.Reason)),
	)
}

// Pending returns the number of registered triggers that have not been
// removed.
func (l *LocalTriggers) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Stop cancels every armed trigger and waits for in-flight invocations.
func (l *LocalTriggers) Stop() {
	l.mu.Lock()
	l.stopped = true
	for name, t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, name)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

var _ domain.TriggerService = (*LocalTriggers)(nil)
