package assistant

import (
	"encoding/json"
	"fmt"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/shopspring/decimal"
)

// ActionType is the "tipo" discriminator of a model response.
type ActionType string

const (
	TypeTransaction ActionType = "transacao"
	TypeTransfer    ActionType = "transferencia"
	TypeCardPayment ActionType = "pagamento_fatura"
	TypeQuery       ActionType = "consulta"
	TypeSummary     ActionType = "resumo"
	TypeQuestion    ActionType = "pergunta"
	TypeReply       ActionType = "conversa"
)

// Action is one parsed model response. The set of implementations is closed:
// the ones declared in this file.
type Action interface {
	Type() ActionType
	// Text is what the assistant says in the conversation for this action.
	Text() string
	sealed()
}

// Proposal is an Action that mutates the ledger once the user confirms it.
type Proposal interface {
	Action
	proposal()
}

// TransactionProposal records a single income or expense.
type TransactionProposal struct {
	Description   string
	Amount        decimal.Decimal
	Direction     domain.Direction
	Category      string
	PaymentMethod string
	AccountID     *string
	CreditCardID  *string
	AffectsCash   bool
}

// TransferProposal moves money between two of the user's accounts.
type TransferProposal struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Description   string
}

// CardPaymentProposal pays a credit card bill from an account.
type CardPaymentProposal struct {
	CreditCardID  string
	FromAccountID string
	Amount        decimal.Decimal
	CardName      string
}

// Answer is an informational reply to a query or a summary request.
type Answer struct {
	Kind     ActionType
	Response string
}

// Question asks the user for missing details. It never stages an action.
type Question struct {
	Question string
}

// Reply is free conversation.
type Reply struct {
	Response string
}

func (TransactionProposal) Type() ActionType { return TypeTransaction }
func (TransferProposal) Type() ActionType    { return TypeTransfer }
func (CardPaymentProposal) Type() ActionType { return TypeCardPayment }
func (a Answer) Type() ActionType            { return a.Kind }
func (Question) Type() ActionType            { return TypeQuestion }
func (Reply) Type() ActionType               { return TypeReply }

func (p TransactionProposal) Text() string {
	return fmt.Sprintf("Entendido! Deseja salvar: %s no valor de %s?", p.Description, domain.FormatBRL(p.Amount))
}

func (p TransferProposal) Text() string {
	return fmt.Sprintf("Entendido! Deseja transferir %s (%s)?", domain.FormatBRL(p.Amount), p.Description)
}

func (p CardPaymentProposal) Text() string {
	return fmt.Sprintf("Entendido! Deseja pagar %s da fatura do cartão %s?", domain.FormatBRL(p.Amount), p.CardName)
}

func (a Answer) Text() string   { return a.Response }
func (q Question) Text() string { return q.Question }
func (r Reply) Text() string    { return r.Response }

func (TransactionProposal) sealed() {}
func (TransferProposal) sealed()    {}
func (CardPaymentProposal) sealed() {}
func (Answer) sealed()              {}
func (Question) sealed()            {}
func (Reply) sealed()               {}

func (TransactionProposal) proposal() {}
func (TransferProposal) proposal()    {}
func (CardPaymentProposal) proposal() {}

// Wire format, shared by the parser and by HTTP responses.

type wireTransaction struct {
	Description   string          `json:"descricao"`
	Amount        decimal.Decimal `json:"valor"`
	Direction     string          `json:"direcao"`
	Category      string          `json:"categoria"`
	PaymentMethod string          `json:"meio_pagamento"`
	AccountID     *string         `json:"conta_id,omitempty"`
	CreditCardID  *string         `json:"cartao_id,omitempty"`
	AffectsCash   bool            `json:"afeta_caixa"`
}

type wireTransfer struct {
	FromAccountID string          `json:"de_conta_id"`
	ToAccountID   string          `json:"para_conta_id"`
	Amount        decimal.Decimal `json:"valor"`
	Description   string          `json:"descricao"`
}

type wireCardPayment struct {
	CreditCardID  string          `json:"cartao_id"`
	FromAccountID string          `json:"conta_id"`
	Amount        decimal.Decimal `json:"valor"`
	CardName      string          `json:"cartao_nome"`
}

type wireAction struct {
	Type        ActionType       `json:"tipo"`
	Transaction *wireTransaction `json:"transacao,omitempty"`
	Transfer    *wireTransfer    `json:"transferencia,omitempty"`
	CardPayment *wireCardPayment `json:"pagamento_fatura,omitempty"`
	Question    string           `json:"pergunta,omitempty"`
	Response    string           `json:"resposta,omitempty"`
	// Message is the assistant turn text rendered for this action.
	Message string `json:"mensagem,omitempty"`
}

// MarshalAction encodes a into the same JSON shape the model produces.
func MarshalAction(a Action) ([]byte, error) {
	w, err := toWire(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// ActionJSON wraps an Action for embedding in JSON responses.
type ActionJSON struct {
	Action
}

// MarshalJSON implements json.Marshaler.
func (a ActionJSON) MarshalJSON() ([]byte, error) {
	if a.Action == nil {
		return []byte("null"), nil
	}
	return MarshalAction(a.Action)
}

func toWire(a Action) (*wireAction, error) {
	w := &wireAction{Type: a.Type(), Message: a.Text()}
	switch v := a.(type) {
	case TransactionProposal:
		w.Transaction = &wireTransaction{
			Description:   v.Description,
			Amount:        v.Amount,
			Direction:     string(v.Direction),
			Category:      v.Category,
			PaymentMethod: v.PaymentMethod,
			AccountID:     v.AccountID,
			CreditCardID:  v.CreditCardID,
			AffectsCash:   v.AffectsCash,
		}
	case TransferProposal:
		w.Transfer = &wireTransfer{
			FromAccountID: v.FromAccountID,
			ToAccountID:   v.ToAccountID,
			Amount:        v.Amount,
			Description:   v.Description,
		}
	case CardPaymentProposal:
		w.CardPayment = &wireCardPayment{
			CreditCardID:  v.CreditCardID,
			FromAccountID: v.FromAccountID,
			Amount:        v.Amount,
			CardName:      v.CardName,
		}
	case Answer:
		w.Response = v.Response
	case Question:
		w.Question = v.Question
	case Reply:
		w.Response = v.Response
	default:
		return nil, fmt.Errorf("toWire: unknown action %T", a)
	}
	return w, nil
}
