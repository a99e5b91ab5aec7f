package assistant

import (
	"context"
	"fmt"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/rs/zerolog"
)

// LedgerWriter is the mutation side of the ledger used by the Executor.
type LedgerWriter interface {
	CreateTransaction(ctx context.Context, userID string, in ledger.NewTransaction) (*domain.Transaction, error)
	Transfer(ctx context.Context, userID string, in ledger.TransferInput) (*ledger.TransferResult, error)
	PayCreditCard(ctx context.Context, userID string, in ledger.CardPaymentInput) (*domain.Transaction, error)
}

// Invalidator drops cached views that depend on a user's ledger.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Executor applies confirmed proposals to the ledger.
type Executor struct {
	ledger    LedgerWriter
	cache     Invalidator
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewExecutor creates an Executor. cache and publisher may be nil.
func NewExecutor(l LedgerWriter, cache Invalidator, publisher jobs.Publisher, log zerolog.Logger) *Executor {
	if publisher == nil {
		publisher = jobs.NopPublisher{}
	}
	return &Executor{ledger: l, cache: cache, publisher: publisher, log: log}
}

// Execute writes p for userID and returns the rows it created.
func (e *Executor) Execute(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error) {
	var created []*domain.Transaction

	switch v := p.(type) {
	case TransactionProposal:
		tx, err := e.ledger.CreateTransaction(ctx, userID, ledger.NewTransaction{
			Description:   v.Description,
			Amount:        v.Amount,
			Direction:     v.Direction,
			Category:      v.Category,
			PaymentMethod: v.PaymentMethod,
			AccountID:     v.AccountID,
			CreditCardID:  v.CreditCardID,
		})
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		created = append(created, tx)
	case TransferProposal:
		res, err := e.ledger.Transfer(ctx, userID, ledger.TransferInput{
			FromAccountID: v.FromAccountID,
			ToAccountID:   v.ToAccountID,
			Amount:        v.Amount,
			Description:   v.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		created = append(created, res.Outflow, res.Inflow)
	case CardPaymentProposal:
		tx, err := e.ledger.PayCreditCard(ctx, userID, ledger.CardPaymentInput{
			CreditCardID:  v.CreditCardID,
			FromAccountID: v.FromAccountID,
			Amount:        v.Amount,
			CardName:      v.CardName,
		})
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		created = append(created, tx)
	default:
		return nil, fmt.Errorf("Execute: unsupported proposal %T", p)
	}

	e.afterWrite(ctx, userID, created)
	return created, nil
}

// afterWrite invalidates cached views and queues the mirror job.
func (e *Executor) afterWrite(ctx context.Context, userID string, created []*domain.Transaction) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, userID)
	}

	ids := make([]string, 0, len(created))
	for _, tx := range created {
		ids = append(ids, tx.ID)
	}
	job := &jobs.MirrorTransactionsJob{UserID: userID, TransactionIDs: ids}
	if err := e.publisher.PublishMirrorTransactions(ctx, job); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Strs("transaction_ids", ids).Msg("queueing mirror job failed")
	}
}
