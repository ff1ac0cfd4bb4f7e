package domain

import "time"

// Direction is the player's call on where the price goes next.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Valid reports whether d is one of the two playable directions.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// GuessStatus tracks the guess lifecycle. Transitions are PENDING→SETTLED or
// PENDING→FAILED, never backward.
type GuessStatus string

const (
	GuessStatusPending GuessStatus = "PENDING"
	GuessStatusSettled GuessStatus = "SETTLED"
	GuessStatusFailed  GuessStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s GuessStatus) Terminal() bool {
	return s == GuessStatusSettled || s == GuessStatusFailed
}

// Known reports whether s is a recognised status value.
func (s GuessStatus) Known() bool {
	return s == GuessStatusPending || s.Terminal()
}

// PriceResult is the observed price movement between the two snapshots.
type PriceResult string

const (
	PriceResultUp    PriceResult = "UP"
	PriceResultDown  PriceResult = "DOWN"
	PriceResultEqual PriceResult = "EQUAL"
)

// Outcome is the player-facing verdict for a settled guess.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
	OutcomeDraw Outcome = "DRAW"
)

// Guess is a single higher/lower prediction. Result, Outcome and the prices
// stay empty until the guess is SETTLED.
type Guess struct {
	ID              string      `json:"id"`
	Owner           string      `json:"owner"`
	CreatedAt       time.Time   `json:"createdAt"`
	SettleAt        time.Time   `json:"settleAt"`
	Direction       Direction   `json:"direction"`
	Status          GuessStatus `json:"status"`
	StartPrice      *float64    `json:"startPrice"`
	EndPrice        *float64    `json:"endPrice"`
	StartSnapshotID string      `json:"startSnapshotId,omitempty"`
	EndSnapshotID   string      `json:"endSnapshotId,omitempty"`
	Result          PriceResult `json:"result,omitempty"`
	Outcome         Outcome     `json:"outcome,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// GuessSettlement is the single write that moves a guess to SETTLED.
type GuessSettlement struct {
	StartSnapshotID string
	EndSnapshotID   string
	StartPrice      float64
	EndPrice        float64
	Result          PriceResult
	Outcome         Outcome
}
