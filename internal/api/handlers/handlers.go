// Package handlers implements the JSON HTTP endpoints. Every handler reads the
// acting user from the context set by middleware.Auth.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// userID returns the authenticated user or writes 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing user")
	}
	return id, ok
}

// requestLogger returns the request-scoped logger set by middleware.Logger,
// or fallback.
func requestLogger(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := ctx.Value(logger.LoggerKey).(zerolog.Logger); ok {
		return l
	}
	return fallback
}

// decode reads a JSON body into v or writes 400.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeLedgerError maps ledger and store failures to a status. Unexpected
// errors are logged and reported with msg.
func writeLedgerError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, store.ErrInvalidFields):
		middleware.WriteError(w, http.StatusBadRequest, invalidReason(err))
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrOwnership):
		middleware.WriteError(w, http.StatusBadRequest, "Unknown account or card")
	case ledger.IsPartialTransfer(err):
		log.Error().Err(err).Msg("Transfer left partially applied")
		middleware.WriteError(w, http.StatusInternalServerError, "Transfer incomplete")
	default:
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// invalidReason drops operation prefixes from a validation error.
func invalidReason(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{ledger.ErrInvalidInput, store.ErrInvalidFields} {
		if i := strings.Index(msg, sentinel.Error()); i >= 0 {
			return msg[i:]
		}
	}
	return msg
}

// writeAssistantError maps the assistant error taxonomy to a status. Upstream
// bodies are logged by the assistant and never returned.
func writeAssistantError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var (
		cfg *assistant.ConfigurationError
		up  *assistant.UpstreamError
	)
	switch {
	case errors.As(err, &cfg):
		log.Error().Err(err).Msg("Assistant not configured")
		middleware.WriteError(w, http.StatusInternalServerError, "Assistant not configured")
	case errors.As(err, &up):
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch from completion service")
	case errors.Is(err, assistant.ErrInvalidResponseShape):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "Invalid JSON from AI")
	default:
		log.Error().Err(err).Msg("Assistant request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process message")
	}
}

// Changes is told about every successful ledger mutation made over HTTP, so
// cached views and the mirror follow the ledger.
type Changes struct {
	cache     assistant.Invalidator
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewChanges creates a Changes. cache and publisher may be nil.
func NewChanges(cache assistant.Invalidator, publisher jobs.Publisher, log zerolog.Logger) *Changes {
	if publisher == nil {
		publisher = jobs.NopPublisher{}
	}
	return &Changes{cache: cache, publisher: publisher, log: log}
}

// Invalidate drops the user's cached views.
func (c *Changes) Invalidate(ctx context.Context, userID string) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, userID)
	}
}

// Transactions invalidates and queues the mirror for the given transactions.
func (c *Changes) Transactions(ctx context.Context, userID string, ids ...string) {
	c.Invalidate(ctx, userID)
	if len(ids) == 0 {
		return
	}
	job := &jobs.MirrorTransactionsJob{UserID: userID, TransactionIDs: ids}
	if err := c.publisher.PublishMirrorTransactions(ctx, job); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Strs("transaction_ids", ids).Msg("Failed to queue mirror job")
	}
}

func transactionIDs(txs ...*domain.Transaction) []string {
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	return ids
}

var _ assistant.Invalidator = (*Changes)(nil)
