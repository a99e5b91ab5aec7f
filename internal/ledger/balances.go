package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountBalance is an account with its derived current balance.
type AccountBalance struct {
	Account *domain.Account `json:"conta"`
	Balance decimal.Decimal `json:"saldo"`
}

// CardBill is a card with its derived bill. The bill is the lifetime total of
// purchases charged to the card minus refunds; payments never offset it.
type CardBill struct {
	Card      *domain.CreditCard `json:"cartao"`
	Bill      decimal.Decimal    `json:"fatura"`
	Available decimal.Decimal    `json:"disponivel"`
}

// ComputeBalances derives each account's balance from its initial balance
// and the signed sum of its transactions.
func ComputeBalances(accounts []*domain.Account, txs []*domain.Transaction) []AccountBalance {
	sums := make(map[string]decimal.Decimal, len(accounts))
	for _, tx := range txs {
		if tx.AccountID == nil {
			continue
		}
		sums[*tx.AccountID] = sums[*tx.AccountID].Add(tx.Signed())
	}

	out := make([]AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountBalance{
			Account: acc,
			Balance: acc.InitialBalance.Add(sums[acc.ID]),
		})
	}
	return out
}

// ComputeBills derives each card's bill from the transactions charged to it.
func ComputeBills(cards []*domain.CreditCard, txs []*domain.Transaction) []CardBill {
	sums := make(map[string]decimal.Decimal, len(cards))
	for _, tx := range txs {
		if tx.CreditCardID == nil {
			continue
		}
		sums[*tx.CreditCardID] = sums[*tx.CreditCardID].Sub(tx.Signed())
	}

	out := make([]CardBill, 0, len(cards))
	for _, card := range cards {
		bill := sums[card.ID]
		out = append(out, CardBill{
			Card:      card,
			Bill:      bill,
			Available: card.Limit.Sub(bill),
		})
	}
	return out
}

// Summary is the balances-and-bills view.
type Summary struct {
	Accounts     []AccountBalance `json:"contas"`
	Cards        []CardBill       `json:"cartoes"`
	TotalBalance decimal.Decimal  `json:"saldo_total"`
	TotalBills   decimal.Decimal  `json:"fatura_total"`
}

// Summarize loads everything needed for the summary view.
func (l *Ledger) Summarize(ctx context.Context, userID string) (*Summary, error) {
	accounts, err := l.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Summarize: %w", err)
	}
	cards, err := l.ListCreditCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Summarize: %w", err)
	}
	txs, err := l.ListTransactions(ctx, userID, TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("Summarize: %w", err)
	}

	s := &Summary{
		Accounts:     ComputeBalances(accounts, txs),
		Cards:        ComputeBills(cards, txs),
		TotalBalance: decimal.Zero,
		TotalBills:   decimal.Zero,
	}
	for _, b := range s.Accounts {
		s.TotalBalance = s.TotalBalance.Add(b.Balance)
	}
	for _, b := range s.Cards {
		s.TotalBills = s.TotalBills.Add(b.Bill)
	}
	return s, nil
}
