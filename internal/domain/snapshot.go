package domain

import "time"

// SnapshotPartitionKey is the constant partition every price snapshot is
// written under, so that the time index can be scanned as one range.
const SnapshotPartitionKey = "PriceSnapshot"

// PriceSnapshot is an append-only BTC/USD price observation. SourceUpdatedAt
// is when the price was true at the source and may lag CapturedAt.
type PriceSnapshot struct {
	ID              string    `json:"id"`
	PartitionKey    string    `json:"partitionKey"`
	CapturedAt      time.Time `json:"capturedAt"`
	SourceUpdatedAt time.Time `json:"sourceUpdatedAt"`
	PriceUSD        float64   `json:"priceUsd"`
	Source          string    `json:"source"`
}
