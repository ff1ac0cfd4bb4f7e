package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// Settler settles one guess.
type Settler interface {
	Execute(ctx context.Context, guessID string) (domain.SettlementResult, error)
}

// SettlementHandler is the HTTP target the settlement trigger invokes.
type SettlementHandler struct {
	settler Settler
	logger  *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settler Settler, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settler: settler, logger: logger}
}

// Settle runs the executor for the guess named in the body and returns the
// structured result. Business failures are 200 responses carrying a reason;
// only infrastructure errors produce a 5xx.
// POST /api/settlements
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.GuessID = strings.TrimSpace(req.GuessID)

	res, err := h.settler.Execute(r.Context(), req.GuessID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: settlement failed",
			slog.String("guess_id", req.GuessID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	status := http.StatusOK
	if res.Reason == domain.ReasonInvalidInput {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}
