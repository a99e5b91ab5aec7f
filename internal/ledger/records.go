package ledger

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
)

// Field accessors tolerate missing keys so a malformed row surfaces as a
// decode error instead of a panic.

func getString(f store.Fields, name string) (string, error) {
	switch v := f[name].(type) {
	case string:
		return v, nil
	case *string:
		if v != nil {
			return *v, nil
		}
	}
	return "", fmt.Errorf("field %q is %T, want string", name, f[name])
}

func getOptionalString(f store.Fields, name string) *string {
	switch v := f[name].(type) {
	case string:
		return &v
	case *string:
		if v != nil {
			s := *v
			return &s
		}
	}
	return nil
}

func getMoney(f store.Fields, name string) (decimal.Decimal, error) {
	d, ok := f[name].(decimal.Decimal)
	if !ok {
		return decimal.Zero, fmt.Errorf("field %q is %T, want decimal", name, f[name])
	}
	return d, nil
}

func getDate(f store.Fields, name string) (civil.Date, error) {
	d, ok := f[name].(civil.Date)
	if !ok {
		return civil.Date{}, fmt.Errorf("field %q is %T, want date", name, f[name])
	}
	return d, nil
}

func getInt(f store.Fields, name string) (int, error) {
	switch v := f[name].(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("field %q is %T, want int", name, f[name])
}

func transactionFromRecord(rec *store.Record) (*domain.Transaction, error) {
	f := rec.Fields
	tx := &domain.Transaction{
		ID:           rec.ID,
		UserID:       rec.OwnerID,
		CreatedAt:    rec.CreatedAt,
		AccountID:    getOptionalString(f, "account_id"),
		CreditCardID: getOptionalString(f, "credit_card_id"),
		Notes:        getOptionalString(f, "notes"),
	}

	var err error
	if tx.Date, err = getDate(f, "date"); err != nil {
		return nil, err
	}
	if tx.Description, err = getString(f, "description"); err != nil {
		return nil, err
	}
	if tx.Amount, err = getMoney(f, "amount"); err != nil {
		return nil, err
	}
	dir, err := getString(f, "direction")
	if err != nil {
		return nil, err
	}
	tx.Direction = domain.Direction(dir)
	if tx.Category, err = getString(f, "category"); err != nil {
		return nil, err
	}
	if tx.PaymentMethod, err = getString(f, "payment_method"); err != nil {
		return nil, err
	}
	affects, ok := f["affects_cash"].(bool)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, want bool", "affects_cash", f["affects_cash"])
	}
	tx.AffectsCash = affects
	return tx, nil
}

func transactionFields(tx *domain.Transaction) store.Fields {
	return store.Fields{
		"date":           tx.Date,
		"description":    tx.Description,
		"amount":         tx.Amount,
		"direction":      string(tx.Direction),
		"category":       tx.Category,
		"payment_method": tx.PaymentMethod,
		"account_id":     tx.AccountID,
		"credit_card_id": tx.CreditCardID,
		"affects_cash":   tx.AffectsCash,
		"notes":          tx.Notes,
	}
}

func accountFromRecord(rec *store.Record) (*domain.Account, error) {
	acc := &domain.Account{ID: rec.ID, UserID: rec.OwnerID, CreatedAt: rec.CreatedAt}
	var err error
	if acc.Name, err = getString(rec.Fields, "name"); err != nil {
		return nil, err
	}
	typ, err := getString(rec.Fields, "type")
	if err != nil {
		return nil, err
	}
	acc.Type = domain.AccountType(typ)
	if acc.InitialBalance, err = getMoney(rec.Fields, "initial_balance"); err != nil {
		return nil, err
	}
	return acc, nil
}

func cardFromRecord(rec *store.Record) (*domain.CreditCard, error) {
	card := &domain.CreditCard{ID: rec.ID, UserID: rec.OwnerID, CreatedAt: rec.CreatedAt}
	var err error
	if card.Name, err = getString(rec.Fields, "name"); err != nil {
		return nil, err
	}
	if card.Limit, err = getMoney(rec.Fields, "credit_limit"); err != nil {
		return nil, err
	}
	if card.ClosingDay, err = getInt(rec.Fields, "closing_day"); err != nil {
		return nil, err
	}
	if card.DueDay, err = getInt(rec.Fields, "due_day"); err != nil {
		return nil, err
	}
	return card, nil
}

func budgetFromRecord(rec *store.Record) (*domain.Budget, error) {
	b := &domain.Budget{ID: rec.ID, UserID: rec.OwnerID, CreatedAt: rec.CreatedAt}
	var err error
	if b.Category, err = getString(rec.Fields, "category"); err != nil {
		return nil, err
	}
	if b.Limit, err = getMoney(rec.Fields, "monthly_limit"); err != nil {
		return nil, err
	}
	return b, nil
}
