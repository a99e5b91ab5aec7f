// Package ledger holds the typed operations over the owner-scoped record store:
// transactions, accounts, credit cards and budgets, plus the derived balances
// and bills.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Ledger performs domain mutations and reads through a store.Store.
type Ledger struct {
	store store.Store
	now   func() time.Time
	loc   *time.Location
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// New creates a Ledger over s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: s, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the current calendar day in the ledger's time zone.
func (l *Ledger) Today() civil.Date {
	return civil.DateOf(l.now().In(l.loc))
}

// Now is the current instant in the ledger's time zone.
func (l *Ledger) Now() time.Time {
	return l.now().In(l.loc)
}

// NewTransaction is the input for CreateTransaction. A nil Date means today.
type NewTransaction struct {
	Date          *civil.Date
	Description   string
	Amount        decimal.Decimal
	Direction     domain.Direction
	Category      string
	PaymentMethod string
	AccountID     *string
	CreditCardID  *string
	Notes         *string
}

// CreateTransaction validates, normalizes and stores a transaction. The
// category is upper-cased and AffectsCash is derived from the payment method.
func (l *Ledger) CreateTransaction(ctx context.Context, userID string, in NewTransaction) (*domain.Transaction, error) {
	tx, err := l.buildTransaction(in)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	created, err := insertTransaction(ctx, l.store, userID, tx)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	return created, nil
}

func (l *Ledger) buildTransaction(in NewTransaction) (*domain.Transaction, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, invalid("description is required")
	}
	if !in.Amount.IsPositive() {
		return nil, invalid("amount must be positive, got %s", in.Amount)
	}
	if in.Direction != domain.Outflow && in.Direction != domain.Inflow {
		return nil, invalid("unknown direction %q", in.Direction)
	}
	category := domain.NormalizeCategory(in.Category)
	if category == "" {
		return nil, invalid("category is required")
	}
	method := domain.NormalizePaymentMethod(in.PaymentMethod)
	if method == "" {
		return nil, invalid("payment method is required")
	}
	accountID := nonEmpty(in.AccountID)
	cardID := nonEmpty(in.CreditCardID)
	if method == domain.MethodCredit && cardID == nil {
		return nil, invalid("credit purchases need a credit card")
	}

	date := l.Today()
	if in.Date != nil {
		if !in.Date.IsValid() {
			return nil, invalid("invalid date %s", in.Date)
		}
		date = *in.Date
	}

	return &domain.Transaction{
		Date:          date,
		Description:   desc,
		Amount:        in.Amount.Round(2),
		Direction:     in.Direction,
		Category:      category,
		PaymentMethod: method,
		AccountID:     accountID,
		CreditCardID:  cardID,
		AffectsCash:   domain.AffectsCash(method),
		Notes:         nonEmpty(in.Notes),
	}, nil
}

func insertTransaction(ctx context.Context, s store.Store, userID string, tx *domain.Transaction) (*domain.Transaction, error) {
	rec, err := s.Insert(ctx, store.KindTransactions, transactionFields(tx), userID)
	if err != nil {
		return nil, err
	}
	return transactionFromRecord(rec)
}

// TransactionPatch lists the fields UpdateTransaction may change. Nil means unchanged.
type TransactionPatch struct {
	Date          *civil.Date
	Description   *string
	Amount        *decimal.Decimal
	Direction     *domain.Direction
	Category      *string
	PaymentMethod *string
	Notes         *string
}

// UpdateTransaction applies patch to one of the user's transactions.
func (l *Ledger) UpdateTransaction(ctx context.Context, userID, id string, patch TransactionPatch) error {
	fields := store.Fields{}
	if patch.Date != nil {
		if !patch.Date.IsValid() {
			return fmt.Errorf("UpdateTransaction: %w", invalid("invalid date"))
		}
		fields["date"] = *patch.Date
	}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if d == "" {
			return fmt.Errorf("UpdateTransaction: %w", invalid("description is required"))
		}
		fields["description"] = d
	}
	if patch.Amount != nil {
		if !patch.Amount.IsPositive() {
			return fmt.Errorf("UpdateTransaction: %w", invalid("amount must be positive"))
		}
		fields["amount"] = patch.Amount.Round(2)
	}
	if patch.Direction != nil {
		if *patch.Direction != domain.Outflow && *patch.Direction != domain.Inflow {
			return fmt.Errorf("UpdateTransaction: %w", invalid("unknown direction %q", *patch.Direction))
		}
		fields["direction"] = string(*patch.Direction)
	}
	if patch.Category != nil {
		c := domain.NormalizeCategory(*patch.Category)
		if c == "" {
			return fmt.Errorf("UpdateTransaction: %w", invalid("category is required"))
		}
		fields["category"] = c
	}
	if patch.PaymentMethod != nil {
		m := domain.NormalizePaymentMethod(*patch.PaymentMethod)
		if m == "" {
			return fmt.Errorf("UpdateTransaction: %w", invalid("payment method is required"))
		}
		fields["payment_method"] = m
		fields["affects_cash"] = domain.AffectsCash(m)
	}
	if patch.Notes != nil {
		fields["notes"] = nonEmpty(patch.Notes)
	}
	if len(fields) == 0 {
		return fmt.Errorf("UpdateTransaction: %w", invalid("nothing to update"))
	}

	// The patch cannot attach a card, so the row must already carry one.
	if fields["payment_method"] == domain.MethodCredit {
		current, err := l.findTransaction(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("UpdateTransaction: %w", err)
		}
		if current.CreditCardID == nil {
			return fmt.Errorf("UpdateTransaction: %w", invalid("credit purchases need a credit card"))
		}
	}

	if err := l.store.UpdateWhere(ctx, store.KindTransactions, id, userID, fields); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	return nil
}

// DeleteTransaction removes one of the user's transactions.
func (l *Ledger) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := l.store.DeleteWhere(ctx, store.KindTransactions, id, userID); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// TransactionFilter narrows ListTransactions. Zero value lists everything.
type TransactionFilter struct {
	From         *civil.Date
	To           *civil.Date
	AccountID    string
	CreditCardID string
	IDs          []string
	Limit        int
}

// ListTransactions returns the user's transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*domain.Transaction, error) {
	q := store.Query{OrderBy: "date", Desc: true, Limit: f.Limit}
	if f.From != nil {
		q.Filters = append(q.Filters, store.Filter{Field: "date", Op: store.OpGte, Value: *f.From})
	}
	if f.To != nil {
		q.Filters = append(q.Filters, store.Filter{Field: "date", Op: store.OpLte, Value: *f.To})
	}
	if f.AccountID != "" {
		q.Filters = append(q.Filters, store.Filter{Field: "account_id", Op: store.OpEq, Value: f.AccountID})
	}
	if f.CreditCardID != "" {
		q.Filters = append(q.Filters, store.Filter{Field: "credit_card_id", Op: store.OpEq, Value: f.CreditCardID})
	}

	var want map[string]bool
	if len(f.IDs) > 0 {
		want = make(map[string]bool, len(f.IDs))
		for _, id := range f.IDs {
			want[id] = true
		}
		if len(f.IDs) == 1 {
			q.Filters = append(q.Filters, store.Filter{Field: store.ColID, Op: store.OpEq, Value: f.IDs[0]})
		}
	}

	recs, err := l.store.QueryByOwner(ctx, store.KindTransactions, userID, q)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}

	out := make([]*domain.Transaction, 0, len(recs))
	for _, rec := range recs {
		if want != nil && !want[rec.ID] {
			continue
		}
		tx, err := transactionFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: decoding %s: %w", rec.ID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
