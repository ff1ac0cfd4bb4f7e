package domain

// FailureReason explains why a settlement invocation did not settle a guess.
// Every reason is terminal for the invocation; none should be retried.
type FailureReason string

const (
	ReasonGuessNotFound     FailureReason = "GUESS_NOT_FOUND"
	ReasonAlreadyProcessed  FailureReason = "ALREADY_PROCESSED"
	ReasonSnapshotsNotFound FailureReason = "SNAPSHOTS_NOT_FOUND"
	ReasonConfiguration     FailureReason = "CONFIGURATION_ERROR"
	ReasonInvalidInput      FailureReason = "INVALID_INPUT"
)

// SettlementResult is the structured report of one executor invocation.
type SettlementResult struct {
	Success            bool          `json:"success"`
	Reason             FailureReason `json:"reason,omitempty"`
	Message            string        `json:"message,omitempty"`
	GuessID            string        `json:"guessId"`
	Owner              string        `json:"owner,omitempty"`
	Status             GuessStatus   `json:"status,omitempty"`
	Outcome            Outcome       `json:"outcome,omitempty"`
	Direction          Direction     `json:"direction,omitempty"`
	Result             PriceResult   `json:"result,omitempty"`
	StartPrice         float64       `json:"startPrice,omitempty"`
	EndPrice           float64       `json:"endPrice,omitempty"`
	PriceChange        float64       `json:"priceChange"`
	PriceChangePercent float64       `json:"priceChangePercent"`
	ScoreDelta         int           `json:"scoreDelta"`
	ExecutionTimeMs    int64         `json:"executionTimeMs"`
}

// SettleRequest is the sole argument the time trigger delivers.
type SettleRequest struct {
	GuessID string `json:"guessId"`
}

// SettlementsChannel is the pub/sub channel every terminal SettlementResult
// is published on.
const SettlementsChannel = "settlements"
