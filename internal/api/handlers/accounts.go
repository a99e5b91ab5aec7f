package handlers

import (
	"net/http"

	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountsHandler handles bank accounts, credit cards, budgets and the direct
// transfer and card payment endpoints.
type AccountsHandler struct {
	ledger  *ledger.Ledger
	changes *Changes
	log     zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(l *ledger.Ledger, changes *Changes, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		ledger:  l,
		changes: changes,
		log:     log,
	}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	accounts, err := h.ledger.ListAccounts(r.Context(), user)
	if err != nil {
		writeLedgerError(w, requestLogger(r.Context(), h.log), err, "Failed to list accounts")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name           string             `json:"nome"`
		Type           domain.AccountType `json:"tipo"`
		InitialBalance decimal.Decimal    `json:"saldo_inicial"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	acc, err := h.ledger.CreateAccount(ctx, user, ledger.NewAccount{
		Name:           req.Name,
		Type:           req.Type,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to create account")
		return
	}
	h.changes.Invalidate(ctx, user)
	middleware.WriteJSON(w, http.StatusCreated, acc)
}

// UpdateAccount handles PATCH /api/accounts/{id}
func (h *AccountsHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		InitialBalance *decimal.Decimal `json:"saldo_inicial"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.InitialBalance == nil {
		middleware.WriteError(w, http.StatusBadRequest, "saldo_inicial is required")
		return
	}

	ctx := r.Context()
	if err := h.ledger.UpdateAccountInitialBalance(ctx, user, r.PathValue("id"), *req.InitialBalance); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to update account")
		return
	}
	h.changes.Invalidate(ctx, user)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount handles DELETE /api/accounts/{id}
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.ledger.DeleteAccount(ctx, user, r.PathValue("id")); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to delete account")
		return
	}
	h.changes.Invalidate(ctx, user)
	w.WriteHeader(http.StatusNoContent)
}

// Transfer handles POST /api/accounts/transfer
func (h *AccountsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		FromAccountID string          `json:"de_conta_id"`
		ToAccountID   string          `json:"para_conta_id"`
		Amount        decimal.Decimal `json:"valor"`
		Description   string          `json:"descricao"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	res, err := h.ledger.Transfer(ctx, user, ledger.TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to transfer")
		return
	}
	h.changes.Transactions(ctx, user, transactionIDs(res.Outflow, res.Inflow)...)
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// ListCreditCards handles GET /api/credit-cards
func (h *AccountsHandler) ListCreditCards(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	cards, err := h.ledger.ListCreditCards(r.Context(), user)
	if err != nil {
		writeLedgerError(w, requestLogger(r.Context(), h.log), err, "Failed to list credit cards")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cards)
}

// CreateCreditCard handles POST /api/credit-cards
func (h *AccountsHandler) CreateCreditCard(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name       string          `json:"nome"`
		Limit      decimal.Decimal `json:"limite"`
		ClosingDay int             `json:"dia_fechamento"`
		DueDay     int             `json:"dia_vencimento"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	card, err := h.ledger.CreateCreditCard(ctx, user, ledger.NewCreditCard{
		Name:       req.Name,
		Limit:      req.Limit,
		ClosingDay: req.ClosingDay,
		DueDay:     req.DueDay,
	})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to create credit card")
		return
	}
	h.changes.Invalidate(ctx, user)
	middleware.WriteJSON(w, http.StatusCreated, card)
}

// DeleteCreditCard handles DELETE /api/credit-cards/{id}
func (h *AccountsHandler) DeleteCreditCard(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.ledger.DeleteCreditCard(ctx, user, r.PathValue("id")); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to delete credit card")
		return
	}
	h.changes.Invalidate(ctx, user)
	w.WriteHeader(http.StatusNoContent)
}

// PayCreditCard handles POST /api/credit-cards/pay
func (h *AccountsHandler) PayCreditCard(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		CreditCardID  string          `json:"cartao_id"`
		FromAccountID string          `json:"conta_id"`
		Amount        decimal.Decimal `json:"valor"`
		CardName      string          `json:"cartao_nome"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tx, err := h.ledger.PayCreditCard(ctx, user, ledger.CardPaymentInput{
		CreditCardID:  req.CreditCardID,
		FromAccountID: req.FromAccountID,
		Amount:        req.Amount,
		CardName:      req.CardName,
	})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to pay credit card")
		return
	}
	h.changes.Transactions(ctx, user, tx.ID)
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// ListBudgets handles GET /api/budgets
func (h *AccountsHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	budgets, err := h.ledger.ListBudgets(r.Context(), user)
	if err != nil {
		writeLedgerError(w, requestLogger(r.Context(), h.log), err, "Failed to list budgets")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, budgets)
}

// CreateBudget handles POST /api/budgets
func (h *AccountsHandler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Category string          `json:"categoria"`
		Limit    decimal.Decimal `json:"limite"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	b, err := h.ledger.CreateBudget(ctx, user, ledger.NewBudget{Category: req.Category, Limit: req.Limit})
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to create budget")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, b)
}

// DeleteBudget handles DELETE /api/budgets/{id}
func (h *AccountsHandler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.ledger.DeleteBudget(ctx, user, r.PathValue("id")); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to delete budget")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
