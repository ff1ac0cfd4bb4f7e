package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SettlementArchiver keeps a cold copy of every terminal settlement report.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, result SettlementResult) error
}
