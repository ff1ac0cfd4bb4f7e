package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/scheduler"
)

// RecordHandler accepts change-feed records and registers triggers.
type RecordHandler interface {
	HandleRecord(ctx context.Context, rec domain.ChangeRecord) (scheduler.Disposition, error)
}

// ScheduleHandler receives guess-table change records from the feed bridge.
type ScheduleHandler struct {
	records RecordHandler
	logger  *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(records RecordHandler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{records: records, logger: logger}
}

type recordResponse struct {
	Disposition scheduler.Disposition `json:"disposition"`
}

// HandleRecord registers a settlement trigger for one record. A failure is
// returned as 502 so the feed redelivers; duplicates and ignored records are
// successes.
// POST /api/schedules/records
func (h *ScheduleHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var rec domain.ChangeRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err).Error())
		return
	}

	disp, err := h.records.HandleRecord(r.Context(), rec)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: register trigger failed",
			slog.String("event_type", string(rec.EventType)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "trigger registration failed")
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Disposition: disp})
}
