// Package api assembles the HTTP routes and middleware chain.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/financinha/internal/api/handlers"
	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers. Jobs may be nil when no mirror runs.
type Handlers struct {
	Chat         *handlers.ChatHandler
	Sessions     *handlers.SessionsHandler
	Transactions *handlers.TransactionsHandler
	Accounts     *handlers.AccountsHandler
	Summary      *handlers.SummaryHandler
	Jobs         *handlers.JobsHandler
}

// NewRouter registers every route and wraps them in the middleware chain.
// /health is served without authentication.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("POST /api/chat", h.Chat.Chat)

	apiMux.HandleFunc("POST /api/sessions", h.Sessions.Open)
	apiMux.HandleFunc("GET /api/sessions/{id}", h.Sessions.Get)
	apiMux.HandleFunc("DELETE /api/sessions/{id}", h.Sessions.Close)
	apiMux.HandleFunc("POST /api/sessions/{id}/messages", h.Sessions.Send)
	apiMux.HandleFunc("POST /api/sessions/{id}/confirm", h.Sessions.Confirm)
	apiMux.HandleFunc("POST /api/sessions/{id}/cancel", h.Sessions.Cancel)

	apiMux.HandleFunc("GET /api/transactions", h.Transactions.ListTransactions)
	apiMux.HandleFunc("POST /api/transactions", h.Transactions.CreateTransaction)
	apiMux.HandleFunc("PATCH /api/transactions/{id}", h.Transactions.UpdateTransaction)
	apiMux.HandleFunc("DELETE /api/transactions/{id}", h.Transactions.DeleteTransaction)

	apiMux.HandleFunc("GET /api/accounts", h.Accounts.ListAccounts)
	apiMux.HandleFunc("POST /api/accounts", h.Accounts.CreateAccount)
	apiMux.HandleFunc("POST /api/accounts/transfer", h.Accounts.Transfer)
	apiMux.HandleFunc("PATCH /api/accounts/{id}", h.Accounts.UpdateAccount)
	apiMux.HandleFunc("DELETE /api/accounts/{id}", h.Accounts.DeleteAccount)

	apiMux.HandleFunc("GET /api/credit-cards", h.Accounts.ListCreditCards)
	apiMux.HandleFunc("POST /api/credit-cards", h.Accounts.CreateCreditCard)
	apiMux.HandleFunc("POST /api/credit-cards/pay", h.Accounts.PayCreditCard)
	apiMux.HandleFunc("DELETE /api/credit-cards/{id}", h.Accounts.DeleteCreditCard)

	apiMux.HandleFunc("GET /api/budgets", h.Accounts.ListBudgets)
	apiMux.HandleFunc("POST /api/budgets", h.Accounts.CreateBudget)
	apiMux.HandleFunc("DELETE /api/budgets/{id}", h.Accounts.DeleteBudget)

	apiMux.HandleFunc("GET /api/summary", h.Summary.GetSummary)

	if h.Jobs != nil {
		apiMux.HandleFunc("GET /api/jobs", h.Jobs.ListJobs)
		apiMux.HandleFunc("GET /api/jobs/{id}", h.Jobs.GetJob)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.Auth(apiMux))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}
