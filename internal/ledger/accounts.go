package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
)

// NewAccount is the input for CreateAccount.
type NewAccount struct {
	Name           string
	Type           domain.AccountType
	InitialBalance decimal.Decimal
}

// CreateAccount stores a bank account.
func (l *Ledger) CreateAccount(ctx context.Context, userID string, in NewAccount) (*domain.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("CreateAccount: %w", invalid("name is required"))
	}
	if in.Type == "" {
		in.Type = domain.AccountChecking
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("CreateAccount: %w", invalid("unknown account type %q", in.Type))
	}

	rec, err := l.store.Insert(ctx, store.KindAccounts, store.Fields{
		"name":            name,
		"type":            string(in.Type),
		"initial_balance": in.InitialBalance.Round(2),
	}, userID)
	if err != nil {
		return nil, fmt.Errorf("CreateAccount: %w", err)
	}
	return accountFromRecord(rec)
}

// ListAccounts returns the user's accounts in creation order.
func (l *Ledger) ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error) {
	recs, err := l.store.QueryByOwner(ctx, store.KindAccounts, userID, store.Query{OrderBy: store.ColCreatedAt})
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	out := make([]*domain.Account, 0, len(recs))
	for _, rec := range recs {
		acc, err := accountFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: decoding %s: %w", rec.ID, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

// UpdateAccountInitialBalance changes the opening balance of an account.
func (l *Ledger) UpdateAccountInitialBalance(ctx context.Context, userID, id string, balance decimal.Decimal) error {
	err := l.store.UpdateWhere(ctx, store.KindAccounts, id, userID, store.Fields{"initial_balance": balance.Round(2)})
	if err != nil {
		return fmt.Errorf("UpdateAccountInitialBalance: %w", err)
	}
	return nil
}

// DeleteAccount removes an account. Its transactions are kept without the reference.
func (l *Ledger) DeleteAccount(ctx context.Context, userID, id string) error {
	if err := l.store.DeleteWhere(ctx, store.KindAccounts, id, userID); err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	return nil
}

// NewCreditCard is the input for CreateCreditCard.
type NewCreditCard struct {
	Name       string
	Limit      decimal.Decimal
	ClosingDay int
	DueDay     int
}

// CreateCreditCard stores a credit card.
func (l *Ledger) CreateCreditCard(ctx context.Context, userID string, in NewCreditCard) (*domain.CreditCard, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("CreateCreditCard: %w", invalid("name is required"))
	}
	if in.Limit.IsNegative() {
		return nil, fmt.Errorf("CreateCreditCard: %w", invalid("limit cannot be negative"))
	}
	if !domain.ValidDay(in.ClosingDay) || !domain.ValidDay(in.DueDay) {
		return nil, fmt.Errorf("CreateCreditCard: %w", invalid("closing and due days must be between 1 and 31"))
	}

	rec, err := l.store.Insert(ctx, store.KindCreditCards, store.Fields{
		"name":         name,
		"credit_limit": in.Limit.Round(2),
		"closing_day":  in.ClosingDay,
		"due_day":      in.DueDay,
	}, userID)
	if err != nil {
		return nil, fmt.Errorf("CreateCreditCard: %w", err)
	}
	return cardFromRecord(rec)
}

// ListCreditCards returns the user's cards in creation order.
func (l *Ledger) ListCreditCards(ctx context.Context, userID string) ([]*domain.CreditCard, error) {
	recs, err := l.store.QueryByOwner(ctx, store.KindCreditCards, userID, store.Query{OrderBy: store.ColCreatedAt})
	if err != nil {
		return nil, fmt.Errorf("ListCreditCards: %w", err)
	}
	out := make([]*domain.CreditCard, 0, len(recs))
	for _, rec := range recs {
		card, err := cardFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("ListCreditCards: decoding %s: %w", rec.ID, err)
		}
		out = append(out, card)
	}
	return out, nil
}

// DeleteCreditCard removes a card. Its transactions are kept without the reference.
func (l *Ledger) DeleteCreditCard(ctx context.Context, userID, id string) error {
	if err := l.store.DeleteWhere(ctx, store.KindCreditCards, id, userID); err != nil {
		return fmt.Errorf("DeleteCreditCard: %w", err)
	}
	return nil
}

// NewBudget is the input for CreateBudget.
type NewBudget struct {
	Category string
	Limit    decimal.Decimal
}

// CreateBudget stores a monthly limit for a category.
func (l *Ledger) CreateBudget(ctx context.Context, userID string, in NewBudget) (*domain.Budget, error) {
	category := domain.NormalizeCategory(in.Category)
	if category == "" {
		return nil, fmt.Errorf("CreateBudget: %w", invalid("category is required"))
	}
	if !in.Limit.IsPositive() {
		return nil, fmt.Errorf("CreateBudget: %w", invalid("limit must be positive"))
	}

	rec, err := l.store.Insert(ctx, store.KindBudgets, store.Fields{
		"category":      category,
		"monthly_limit": in.Limit.Round(2),
	}, userID)
	if err != nil {
		return nil, fmt.Errorf("CreateBudget: %w", err)
	}
	return budgetFromRecord(rec)
}

// ListBudgets returns the user's budgets ordered by category.
func (l *Ledger) ListBudgets(ctx context.Context, userID string) ([]*domain.Budget, error) {
	recs, err := l.store.QueryByOwner(ctx, store.KindBudgets, userID, store.Query{OrderBy: "category"})
	if err != nil {
		return nil, fmt.Errorf("ListBudgets: %w", err)
	}
	out := make([]*domain.Budget, 0, len(recs))
	for _, rec := range recs {
		b, err := budgetFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("ListBudgets: decoding %s: %w", rec.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// DeleteBudget removes a budget.
func (l *Ledger) DeleteBudget(ctx context.Context, userID, id string) error {
	if err := l.store.DeleteWhere(ctx, store.KindBudgets, id, userID); err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	return nil
}
