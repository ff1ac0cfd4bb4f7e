// Package settlement resolves price snapshots for a guess, computes the
// outcome and persists the result.
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// Verdict is the pure result of comparing two prices against a guess.
type Verdict struct {
	Result     domain.PriceResult
	Outcome    domain.Outcome
	ScoreDelta int
}

// ComputeOutcome compares end against start. Equality is exact: no tolerance
// band is applied, so only identical prices produce a DRAW.
func ComputeOutcome(start, end float64, direction domain.Direction) Verdict {
	s := decimal.NewFromFloat(start)
	e := decimal.NewFromFloat(end)

	var result domain.PriceResult
	switch e.Cmp(s) {
	case 0:
		result = domain.PriceResultEqual
	case 1:
		result = domain.PriceResultUp
	default:
		result = domain.PriceResultDown
	}

	switch {
	case result == domain.PriceResultEqual:
		return Verdict{Result: result, Outcome: domain.OutcomeDraw, ScoreDelta: 0}
	case string(result) == string(direction):
		return Verdict{Result: result, Outcome: domain.OutcomeWin, ScoreDelta: 1}
	default:
		return Verdict{Result: result, Outcome: domain.OutcomeLoss, ScoreDelta: -1}
	}
}

// PriceChange returns end-start and the percentage move relative to start,
// rounded to four decimal places. A zero start yields a zero percentage.
func PriceChange(start, end float64) (change, percent float64) {
	s := decimal.NewFromFloat(start)
	diff := decimal.NewFromFloat(end).Sub(s)
	change = diff.InexactFloat64()
	if s.IsZero() {
		return change, 0
	}
	percent = diff.Div(s).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
	return change, percent
}
