package handlers

import (
	"net/http"

	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/rs/zerolog"
)

// SummaryHandler serves derived balances and bills.
type SummaryHandler struct {
	cache *ledger.SummaryCache
	log   zerolog.Logger
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(cache *ledger.SummaryCache, log zerolog.Logger) *SummaryHandler {
	return &SummaryHandler{cache: cache, log: log}
}

// GetSummary handles GET /api/summary
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	s, err := h.cache.Get(r.Context(), user)
	if err != nil {
		writeLedgerError(w, requestLogger(r.Context(), h.log), err, "Failed to load summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}
