package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// Watcher turns settlement results on the signal bus into notifications.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run consumes domain.SettlementsChannel until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, domain.SettlementsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe settlements: %w", err)
	}
	w.logger.Info("watching settlements")

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, payload []byte) {
	var res domain.SettlementResult
	if err := json.Unmarshal(payload, &res); err != nil {
		w.logger.Warn("undecodable settlement payload", slog.String("error", err.Error()))
		return
	}

	event, title, msg := describe(res)
	if event == "" {
		return
	}
	if err := w.notifier.Notify(ctx, event, title, msg); err != nil {
		w.logger.Warn("notification failed",
			slog.String("guess_id", res.GuessID), slog.String("error", err.Error()))
	}
}

func describe(res domain.SettlementResult) (event, title, msg string) {
	switch {
	case res.Success:
		return EventSettled, "Guess settled",
			fmt.Sprintf("%s %s %s: %.2f → %.2f (%+.4f%%), score %+d",
				res.GuessID, res.Direction, res.Outcome,
				res.StartPrice, res.EndPrice, res.PriceChangePercent, res.ScoreDelta)
	case res.Reason == domain.ReasonSnapshotsNotFound:
		return EventSnapshotsNotFound, "Price data gap",
			fmt.Sprintf("guess %s failed: no usable price snapshot around its window; check the price feed", res.GuessID)
	default:
		return "", "", ""
	}
}
