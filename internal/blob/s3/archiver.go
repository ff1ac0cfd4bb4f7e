package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// SettlementArchiver stores each terminal settlement report as one JSON
// object under <prefix>/YYYY/MM/DD/<guessId>.json, dated by archive time.
type SettlementArchiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewSettlementArchiver creates a SettlementArchiver writing through w.
func NewSettlementArchiver(w domain.BlobWriter, prefix string) *SettlementArchiver {
	if prefix == "" {
		prefix = "settlements"
	}
	return &SettlementArchiver{writer: w, prefix: prefix, now: time.Now}
}

// ArchiveSettlement uploads res.
func (a *SettlementArchiver) ArchiveSettlement(ctx context.Context, res domain.SettlementResult) error {
	if res.GuessID == "" {
		return fmt.Errorf("s3blob: archive settlement: empty guess id")
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("s3blob: marshal settlement %s: %w", res.GuessID, err)
	}
	key := a.key(res.GuessID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: %w", res.GuessID, err)
	}
	return nil
}

func (a *SettlementArchiver) key(guessID string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), guessID+".json")
}

var _ domain.SettlementArchiver = (*SettlementArchiver)(nil)
