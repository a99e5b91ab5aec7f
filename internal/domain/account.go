package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies a bank account.
type AccountType string

const (
	AccountChecking   AccountType = "corrente"
	AccountSavings    AccountType = "poupanca"
	AccountInvestment AccountType = "investimento"
	AccountCash       AccountType = "dinheiro"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountInvestment, AccountCash:
		return true
	}
	return false
}

// Account is a bank account. Its current balance is derived from transactions.
type Account struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"nome"`
	Type           AccountType     `json:"tipo"`
	InitialBalance decimal.Decimal `json:"saldo_inicial"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreditCard is a card whose bill is derived from the transactions charged to it.
type CreditCard struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Name       string          `json:"nome"`
	Limit      decimal.Decimal `json:"limite"`
	ClosingDay int             `json:"dia_fechamento"`
	DueDay     int             `json:"dia_vencimento"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Budget is a monthly spending limit for one category.
type Budget struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Category  string          `json:"categoria"`
	Limit     decimal.Decimal `json:"limite"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValidDay reports whether d is a usable day of month.
func ValidDay(d int) bool {
	return d >= 1 && d <= 31
}
