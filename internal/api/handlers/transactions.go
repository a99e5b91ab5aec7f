package handlers

import (
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	ledger  *ledger.Ledger
	changes *Changes
	log     zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l *ledger.Ledger, changes *Changes, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger:  l,
		changes: changes,
		log:     log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := ledger.TransactionFilter{
		AccountID:    query.Get("account_id"),
		CreditCardID: query.Get("credit_card_id"),
	}
	for name, dst := range map[string]**civil.Date{"start_date": &filter.From, "end_date": &filter.To} {
		s := query.Get(name)
		if s == "" {
			continue
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid "+name+" format")
			return
		}
		*dst = &d
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	ctx := r.Context()
	transactions, err := h.ledger.ListTransactions(ctx, user, filter)
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

type transactionRequest struct {
	Date          *civil.Date      `json:"data"`
	Description   *string          `json:"descricao"`
	Amount        *decimal.Decimal `json:"valor"`
	Direction     *string          `json:"direcao"`
	Category      *string          `json:"categoria"`
	PaymentMethod *string          `json:"meio_pagamento"`
	AccountID     *string          `json:"account_id"`
	CreditCardID  *string          `json:"credit_card_id"`
	Notes         *string          `json:"observacoes"`
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	dir, ok := domain.ParseDirection(str(req.Direction))
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "direcao must be SAIDA or ENTRADA")
		return
	}
	if req.Amount == nil {
		middleware.WriteError(w, http.StatusBadRequest, "valor is required")
		return
	}

	ctx := r.Context()
	tx, err := h.ledger.CreateTransaction(ctx, user, ledger.NewTransaction{
		Date:          req.Date,
		Description:   str(req.Description),
		Amount:        *req.Amount,
		Direction:     dir,
		Category:      str(req.Category),
		PaymentMethod: str(req.PaymentMethod),
		AccountID:     req.AccountID,
		CreditCardID:  req.CreditCardID,
		Notes:         req.Notes,
	})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to create transaction")
		return
	}
	h.changes.Transactions(ctx, user, tx.ID)
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PATCH /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	patch := ledger.TransactionPatch{
		Date:          req.Date,
		Description:   req.Description,
		Amount:        req.Amount,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	if req.Direction != nil {
		dir, ok := domain.ParseDirection(*req.Direction)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "direcao must be SAIDA or ENTRADA")
			return
		}
		patch.Direction = &dir
	}

	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.ledger.UpdateTransaction(ctx, user, id, patch); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to update transaction")
		return
	}
	h.changes.Transactions(ctx, user, id)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.ledger.DeleteTransaction(ctx, user, id); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to delete transaction")
		return
	}
	h.changes.Transactions(ctx, user, id)
	w.WriteHeader(http.StatusNoContent)
}
