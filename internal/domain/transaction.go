package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction is the side of a ledger entry. Values match the stored column.
type Direction string

const (
	// Outflow is money leaving the user (SAIDA).
	Outflow Direction = "SAIDA"
	// Inflow is money arriving to the user (ENTRADA).
	Inflow Direction = "ENTRADA"
)

// ParseDirection accepts the stored values and their English aliases.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAIDA", "SAÍDA", "OUTFLOW":
		return Outflow, true
	case "ENTRADA", "INFLOW":
		return Inflow, true
	}
	return "", false
}

// Payment methods the UI offers. Free text is accepted on write.
const (
	MethodCredit   = "credito"
	MethodDebit    = "debito"
	MethodPix      = "pix"
	MethodCash     = "dinheiro"
	MethodTransfer = "transferencia"
)

var methodAliases = map[string]string{
	"crédito":           MethodCredit,
	"credit":            MethodCredit,
	"cartao de credito": MethodCredit,
	"cartão de crédito": MethodCredit,
	"débito":            MethodDebit,
	"debit":             MethodDebit,
	"cartao de debito":  MethodDebit,
	"cartão de débito":  MethodDebit,
	"transferência":     MethodTransfer,
	"transfer":          MethodTransfer,
	"cash":              MethodCash,
}

// NormalizePaymentMethod lower-cases the method and folds common aliases.
func NormalizePaymentMethod(s string) string {
	m := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := methodAliases[m]; ok {
		return alias
	}
	return m
}

// AffectsCash reports whether a transaction paid with method moves cash now.
// Credit-card purchases only hit cash when the bill is paid.
func AffectsCash(method string) bool {
	return NormalizePaymentMethod(method) != MethodCredit
}

// Reserved categories written by the ledger itself.
const (
	CategoryTransfer    = "TRANSFERENCIA"
	CategoryCardPayment = "CARTAO"
)

// NormalizeCategory trims and upper-cases a category name.
func NormalizeCategory(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}

// Transaction is a single ledger entry owned by one user.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Date          civil.Date      `json:"data"`
	Description   string          `json:"descricao"`
	Amount        decimal.Decimal `json:"valor"`
	Direction     Direction       `json:"direcao"`
	Category      string          `json:"categoria"`
	PaymentMethod string          `json:"meio_pagamento"`
	AccountID     *string         `json:"account_id,omitempty"`
	CreditCardID  *string         `json:"credit_card_id,omitempty"`
	AffectsCash   bool            `json:"afeta_caixa"`
	Notes         *string         `json:"observacoes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the amount with outflows negative.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Direction == Outflow {
		return t.Amount.Neg()
	}
	return t.Amount
}
