package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
)

// Label prefixes written on ledger-generated rows.
const (
	TransferPrefix    = "Transferência: "
	CardPaymentPrefix = "Pagamento fatura: "
)

// PartialTransferError means the outflow leg of a transfer was stored, the
// inflow leg failed, and removing the outflow leg failed too. The ledger is
// left with OrphanID until someone deletes it.
type PartialTransferError struct {
	OrphanID        string
	Err             error
	CompensationErr error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("partial transfer: inflow failed (%v) and outflow %s could not be removed (%v)",
		e.Err, e.OrphanID, e.CompensationErr)
}

func (e *PartialTransferError) Unwrap() []error {
	return []error{e.Err, e.CompensationErr}
}

// TransferInput moves Amount from one of the user's accounts to another.
type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Description   string
}

// TransferResult holds the two rows written by Transfer.
type TransferResult struct {
	Outflow *domain.Transaction `json:"saida"`
	Inflow  *domain.Transaction `json:"entrada"`
}

// Transfer writes an outflow on the source account and an inflow on the
// destination, both dated today. Stores implementing store.Transactor write
// both rows atomically; otherwise the outflow is deleted if the inflow fails.
func (l *Ledger) Transfer(ctx context.Context, userID string, in TransferInput) (*TransferResult, error) {
	from := strings.TrimSpace(in.FromAccountID)
	to := strings.TrimSpace(in.ToAccountID)
	switch {
	case from == "" || to == "":
		return nil, fmt.Errorf("Transfer: %w", invalid("source and destination accounts are required"))
	case from == to:
		return nil, fmt.Errorf("Transfer: %w", invalid("source and destination must differ"))
	case !in.Amount.IsPositive():
		return nil, fmt.Errorf("Transfer: %w", invalid("amount must be positive"))
	}

	today := l.Today()
	desc := strings.TrimSuffix(TransferPrefix, ": ")
	if d := strings.TrimSpace(in.Description); d != "" {
		desc = TransferPrefix + d
	}
	leg := func(dir domain.Direction, account string) *domain.Transaction {
		return &domain.Transaction{
			Date:          today,
			Description:   desc,
			Amount:        in.Amount.Round(2),
			Direction:     dir,
			Category:      domain.CategoryTransfer,
			PaymentMethod: domain.MethodTransfer,
			AccountID:     &account,
			AffectsCash:   true,
		}
	}
	outLeg, inLeg := leg(domain.Outflow, from), leg(domain.Inflow, to)

	if txr, ok := l.store.(store.Transactor); ok {
		var res TransferResult
		err := txr.WithinTx(ctx, func(s store.Store) error {
			var err error
			if res.Outflow, err = insertTransaction(ctx, s, userID, outLeg); err != nil {
				return err
			}
			res.Inflow, err = insertTransaction(ctx, s, userID, inLeg)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("Transfer: %w", err)
		}
		return &res, nil
	}

	out, err := insertTransaction(ctx, l.store, userID, outLeg)
	if err != nil {
		return nil, fmt.Errorf("Transfer: outflow: %w", err)
	}
	inflow, err := insertTransaction(ctx, l.store, userID, inLeg)
	if err != nil {
		if delErr := l.store.DeleteWhere(ctx, store.KindTransactions, out.ID, userID); delErr != nil {
			return nil, &PartialTransferError{OrphanID: out.ID, Err: err, CompensationErr: delErr}
		}
		return nil, fmt.Errorf("Transfer: inflow: %w", err)
	}
	return &TransferResult{Outflow: out, Inflow: inflow}, nil
}

// CardPaymentInput pays a card bill from an account.
type CardPaymentInput struct {
	CreditCardID  string
	FromAccountID string
	Amount        decimal.Decimal
	CardName      string
}

// PayCreditCard writes one outflow on the source account labelled with the
// card name. The row does not reference the card, so the derived bill is
// unchanged.
func (l *Ledger) PayCreditCard(ctx context.Context, userID string, in CardPaymentInput) (*domain.Transaction, error) {
	if strings.TrimSpace(in.CreditCardID) == "" {
		return nil, fmt.Errorf("PayCreditCard: %w", invalid("credit card is required"))
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("PayCreditCard: %w", invalid("amount must be positive"))
	}

	card, err := l.findCard(ctx, userID, in.CreditCardID)
	if err != nil {
		return nil, fmt.Errorf("PayCreditCard: %w", err)
	}
	name := strings.TrimSpace(in.CardName)
	if name == "" {
		name = card.Name
	}

	row := &domain.Transaction{
		Date:          l.Today(),
		Description:   CardPaymentPrefix + name,
		Amount:        in.Amount.Round(2),
		Direction:     domain.Outflow,
		Category:      domain.CategoryCardPayment,
		PaymentMethod: domain.MethodTransfer,
		AccountID:     nonEmpty(&in.FromAccountID),
		AffectsCash:   true,
	}
	created, err := insertTransaction(ctx, l.store, userID, row)
	if err != nil {
		return nil, fmt.Errorf("PayCreditCard: %w", err)
	}
	return created, nil
}

func (l *Ledger) findCard(ctx context.Context, userID, id string) (*domain.CreditCard, error) {
	recs, err := l.store.QueryByOwner(ctx, store.KindCreditCards, userID, store.Query{
		Filters: []store.Filter{{Field: store.ColID, Op: store.OpEq, Value: id}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &store.PersistenceError{Op: "lookup", Kind: store.KindCreditCards, Err: store.ErrOwnership}
	}
	return cardFromRecord(recs[0])
}

func (l *Ledger) findTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	recs, err := l.store.QueryByOwner(ctx, store.KindTransactions, userID, store.Query{
		Filters: []store.Filter{{Field: store.ColID, Op: store.OpEq, Value: id}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &store.PersistenceError{Op: "update", Kind: store.KindTransactions, Err: store.ErrNotFound}
	}
	return transactionFromRecord(recs[0])
}

// IsPartialTransfer reports whether err carries a *PartialTransferError.
func IsPartialTransfer(err error) bool {
	var pte *PartialTransferError
	return errors.As(err, &pte)
}
