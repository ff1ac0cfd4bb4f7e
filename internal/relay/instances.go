package relay

import (
	"log/slog"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/observability"
	"github.com/alanyoungcy/btcguess/internal/platform/realtime"
)

// PriceTopic is the single topic price ticks are published on.
const PriceTopic = "global"

const (
	priceSubscription = `subscription OnCreatePriceSnapshot {
  onCreatePriceSnapshot { id partitionKey capturedAt sourceUpdatedAt priceUsd source }
}`

	guessSubscription = `subscription OnUpdateGuess($owner: String!) {
  onUpdateGuess(owner: $owner) {
    id owner createdAt settleAt direction status
    startPrice endPrice startSnapshotId endSnapshotId result outcome updatedAt
  }
}`
)

// PriceRelay fans price ticks out to every connected client.
type PriceRelay = Relay[domain.PriceSnapshot]

// GuessRelay fans settled guesses out to their owner.
type GuessRelay = Relay[domain.Guess]

// NewPriceRelay builds the price relay on top of an upstream subscription to
// new price snapshots.
func NewPriceRelay(cfg realtime.Config, metrics *observability.Metrics, logger *slog.Logger) *PriceRelay {
	m := realtime.NewManager("prices", cfg, realtime.Subscription[domain.PriceSnapshot]{
		Field: "onCreatePriceSnapshot",
		Request: func(string) (string, map[string]any) {
			return priceSubscription, nil
		},
		Valid: ValidPriceSnapshot,
	}, metrics, logger)
	r := New[domain.PriceSnapshot]("prices", m, metrics, logger)
	m.SetSink(r)
	return r
}

// NewGuessRelay builds the per-owner guess relay. Only terminal updates are
// delivered.
func NewGuessRelay(cfg realtime.Config, metrics *observability.Metrics, logger *slog.Logger) *GuessRelay {
	m := realtime.NewManager("guesses", cfg, realtime.Subscription[domain.Guess]{
		Field: "onUpdateGuess",
		Request: func(owner string) (string, map[string]any) {
			return guessSubscription, map[string]any{"owner": owner}
		},
		Valid:  ValidGuess,
		Filter: TerminalGuess,
	}, metrics, logger)
	r := New[domain.Guess]("guesses", m, metrics, logger)
	m.SetSink(r)
	return r
}

// ValidPriceSnapshot reports whether s looks like a real tick.
func ValidPriceSnapshot(s domain.PriceSnapshot) bool {
	return s.ID != "" && s.PriceUSD > 0 && !s.SourceUpdatedAt.IsZero()
}

// ValidGuess reports whether g carries the identity fields listeners need.
func ValidGuess(g domain.Guess) bool {
	return g.ID != "" && g.Owner != "" && g.Status.Known()
}

// TerminalGuess passes only SETTLED and FAILED guesses.
func TerminalGuess(g domain.Guess) bool {
	return g.Status.Terminal()
}
