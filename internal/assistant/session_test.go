package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*jobs.MirrorTransactionsJob
	err  error
}

func (p *recordingPublisher) PublishMirrorTransactions(ctx context.Context, job *jobs.MirrorTransactionsJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type countingInvalidator struct {
	users []string
}

func (c *countingInvalidator) Invalidate(ctx context.Context, userID string) {
	c.users = append(c.users, userID)
}

type executorFunc func(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error)

func (f executorFunc) Execute(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error) {
	return f(ctx, userID, p)
}

func (f *fixture) session(c Completer) *Session {
	x := NewExecutor(f.ledger, nil, nil, nopLog)
	return NewSession("s-1", user, f.assistant(c), x, nopLog)
}

func (f *fixture) transactions(t *testing.T) []*domain.Transaction {
	t.Helper()
	txs, err := f.ledger.ListTransactions(context.Background(), user, ledger.TransactionFilter{})
	require.NoError(t, err)
	return txs
}

const pizzaReply = `{"tipo":"transacao","transacao":{"descricao":"Pizza","valor":25,"direcao":"SAIDA","categoria":"restaurante/ifood","meio_pagamento":"pix"}}`

func TestSession_SimpleExpense(t *testing.T) {
	f := newFixture(t)
	s := f.session(&scriptedCompleter{replies: []string{pizzaReply}})
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.View().Turns, "greeting is not part of the history")
	assert.Equal(t, Greeting, s.View().Greeting)

	out := s.Send(ctx, "gastei 25 em pizza")
	require.False(t, out.Ignored)
	require.NoError(t, out.Err)
	assert.Equal(t, StatePendingConfirmation, out.State)
	require.Len(t, out.Turns, 2)
	assert.Equal(t, "Entendido! Deseja salvar: Pizza no valor de R$ 25,00?", out.Turns[1].Content)
	assert.False(t, s.InputEnabled())
	assert.Empty(t, f.transactions(t), "nothing is written before confirmation")

	out = s.Confirm(ctx)
	require.NoError(t, out.Err)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, "Transação salva com sucesso!", out.Turns[0].Content)
	assert.Nil(t, s.Pending())

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.True(t, tx.Amount.Equal(dec("25")))
	assert.Equal(t, domain.Outflow, tx.Direction)
	assert.Equal(t, "RESTAURANTE/IFOOD", tx.Category)
	assert.Equal(t, f.ledger.Today(), tx.Date)
	assert.True(t, tx.AffectsCash)
}

func TestSession_GateWhilePending(t *testing.T) {
	f := newFixture(t)
	c := &scriptedCompleter{replies: []string{pizzaReply, pizzaReply}}
	s := f.session(c)
	ctx := context.Background()

	s.Send(ctx, "gastei 25 em pizza")
	require.Equal(t, StatePendingConfirmation, s.State())
	turns := len(s.View().Turns)

	out := s.Send(ctx, "na verdade foram 30")
	assert.True(t, out.Ignored)
	assert.Equal(t, 1, c.calls(), "no second request while a proposal is pending")
	assert.Len(t, s.View().Turns, turns)
	assert.Equal(t, StatePendingConfirmation, s.State())
}

func TestSession_BlankInputIgnored(t *testing.T) {
	f := newFixture(t)
	c := &scriptedCompleter{}
	s := f.session(c)

	assert.True(t, s.Send(context.Background(), "   ").Ignored)
	assert.Equal(t, 0, c.calls())
	assert.True(t, s.Confirm(context.Background()).Ignored)
	assert.True(t, s.Cancel().Ignored)
}

func TestSession_CancelThenResend(t *testing.T) {
	f := newFixture(t)
	c := &scriptedCompleter{replies: []string{pizzaReply, pizzaReply}}
	s := f.session(c)
	ctx := context.Background()

	s.Send(ctx, "gastei 25 em pizza")
	out := s.Cancel()
	assert.False(t, out.Ignored)
	assert.Equal(t, StateIdle, out.State)
	assert.Nil(t, s.Pending())
	assert.True(t, s.InputEnabled())

	out = s.Send(ctx, "gastei 25 em pizza")
	require.NoError(t, out.Err)
	assert.Equal(t, StatePendingConfirmation, out.State)
	assert.Equal(t, 2, c.calls())

	s.Confirm(ctx)
	assert.Len(t, f.transactions(t), 1)
}

func TestSession_HistoryExcludesNewMessage(t *testing.T) {
	f := newFixture(t)
	c := &scriptedCompleter{replies: []string{
		`{"tipo":"conversa","resposta":"Oi! Tudo bem?"}`,
		`{"tipo":"conversa","resposta":"Que bom!"}`,
	}}
	s := f.session(c)
	ctx := context.Background()

	s.Send(ctx, "oi")
	s.Send(ctx, "tudo ótimo")

	require.Len(t, c.requests, 2)
	second := c.requests[1]
	require.Len(t, second, 4)
	assert.Equal(t, Message{Role: RoleUser, Content: "oi"}, second[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Oi! Tudo bem?"}, second[2])
	assert.Equal(t, Message{Role: RoleUser, Content: "tudo ótimo"}, second[3])
}

func TestSession_Transfer(t *testing.T) {
	f := newFixture(t)
	reply := `{"tipo":"transferencia","transferencia":{"de_conta_id":"` + f.checking.ID + `","para_conta_id":"` + f.savings.ID + `","valor":1000,"descricao":"reserva"}}`
	s := f.session(&scriptedCompleter{replies: []string{reply}})
	ctx := context.Background()

	out := s.Send(ctx, "transfere 1000 pra reserva")
	require.Equal(t, StatePendingConfirmation, out.State)

	out = s.Confirm(ctx)
	require.NoError(t, out.Err)
	assert.Equal(t, "Transferência realizada com sucesso!", out.Turns[0].Content)
	require.Len(t, out.Created, 2)

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	byDir := map[domain.Direction]*domain.Transaction{}
	for _, tx := range txs {
		byDir[tx.Direction] = tx
		assert.True(t, tx.Amount.Equal(dec("1000")))
		assert.Equal(t, f.ledger.Today(), tx.Date)
		assert.True(t, strings.Contains(tx.Description, "Transferência"))
	}
	assert.Equal(t, f.checking.ID, *byDir[domain.Outflow].AccountID)
	assert.Equal(t, f.savings.ID, *byDir[domain.Inflow].AccountID)
}

func TestSession_CardPaymentLeavesBillUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, day(3, 10), "Mercado", "800", domain.Outflow, "mercado", "credito", nil, &f.card.ID)

	before, err := f.ledger.Summarize(ctx, user)
	require.NoError(t, err)

	reply := `{"tipo":"pagamento_fatura","pagamento_fatura":{"cartao_id":"` + f.card.ID + `","conta_id":"` + f.checking.ID + `","valor":500,"cartao_nome":"Roxinho"}}`
	s := f.session(&scriptedCompleter{replies: []string{reply}})
	s.Send(ctx, "paguei 500 da fatura do roxinho")
	out := s.Confirm(ctx)
	require.NoError(t, out.Err)
	require.Len(t, out.Created, 1)

	row := out.Created[0]
	assert.Equal(t, domain.Outflow, row.Direction)
	assert.True(t, row.Amount.Equal(dec("500")))
	assert.Equal(t, f.checking.ID, *row.AccountID)
	assert.Equal(t, "Pagamento fatura: Roxinho", row.Description)
	assert.Len(t, f.transactions(t), 2)

	after, err := f.ledger.Summarize(ctx, user)
	require.NoError(t, err)
	assert.True(t, before.Cards[0].Bill.Equal(after.Cards[0].Bill))
}

func TestSession_AmbiguousTransferAsksQuestion(t *testing.T) {
	f := newFixture(t)
	s := f.session(&scriptedCompleter{replies: []string{`{"tipo":"pergunta","pergunta":"Para qual conta você quer transferir?"}`}})

	out := s.Send(context.Background(), "transfere uns 100 pra conta")
	require.NoError(t, out.Err)
	assert.Equal(t, StateIdle, out.State)
	assert.Nil(t, s.Pending())
	assert.Equal(t, "Para qual conta você quer transferir?", out.Turns[1].Content)
	assert.True(t, s.Confirm(context.Background()).Ignored)
}

func TestSession_FailuresBecomeTurns(t *testing.T) {
	tests := []struct {
		name string
		c    Completer
		want string
	}{
		{name: "upstream", c: &scriptedCompleter{err: &UpstreamError{Provider: "test", StatusCode: 500}}, want: "Ops, houve um erro ao processar. Tente novamente."},
		{name: "invalid shape", c: &scriptedCompleter{replies: []string{"não é json"}}, want: "Desculpe, não consegui entender. Tente novamente."},
		{name: "not configured", c: &scriptedCompleter{err: &ConfigurationError{Setting: "KEY"}}, want: "O assistente não está configurado no momento."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.session(tt.c)
			out := s.Send(context.Background(), "gastei 25 em pizza")
			require.Error(t, out.Err)
			assert.Equal(t, StateIdle, out.State)
			assert.Nil(t, s.Pending())
			require.Len(t, out.Turns, 2)
			assert.Equal(t, RoleAssistant, out.Turns[1].Role)
			assert.Equal(t, tt.want, out.Turns[1].Content)
			assert.True(t, s.InputEnabled())
		})
	}
}

func TestSession_ExecutionFailureClearsPending(t *testing.T) {
	f := newFixture(t)
	failing := executorFunc(func(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error) {
		return nil, &store.PersistenceError{Op: "insert", Kind: store.KindTransactions, Err: store.ErrOwnership}
	})
	s := NewSession("s-1", user, f.assistant(&scriptedCompleter{replies: []string{pizzaReply}}), failing, nopLog)
	ctx := context.Background()

	s.Send(ctx, "gastei 25 em pizza")
	out := s.Confirm(ctx)
	require.Error(t, out.Err)
	assert.Equal(t, "Erro ao salvar a transação.", out.Turns[0].Content)
	assert.Equal(t, StateIdle, out.State)
	assert.Nil(t, s.Pending())
}

func TestSession_PartialTransferMessage(t *testing.T) {
	f := newFixture(t)
	partial := executorFunc(func(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error) {
		return nil, &ledger.PartialTransferError{OrphanID: "tx-1", Err: errors.New("insert failed"), CompensationErr: errors.New("delete failed")}
	})
	reply := `{"tipo":"transferencia","transferencia":{"de_conta_id":"` + f.checking.ID + `","para_conta_id":"` + f.savings.ID + `","valor":10}}`
	s := NewSession("s-1", user, f.assistant(&scriptedCompleter{replies: []string{reply}}), partial, nopLog)

	s.Send(context.Background(), "transfere 10")
	out := s.Confirm(context.Background())
	assert.Equal(t, "A transferência ficou incompleta. Confira suas transações antes de tentar de novo.", out.Turns[0].Content)
}

func TestSession_GateWhileAwaitingModel(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	c := CompleteFunc(func(ctx context.Context, _ []Message) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return `{"tipo":"conversa","resposta":"Oi"}`, nil
	})
	s := f.session(c)

	done := make(chan Outcome)
	go func() { done <- s.Send(context.Background(), "oi") }()

	<-started
	assert.Equal(t, StateAwaitingModel, s.State())
	assert.False(t, s.InputEnabled())
	assert.True(t, s.Send(context.Background(), "de novo").Ignored)

	close(release)
	out := <-done
	assert.Equal(t, StateIdle, out.State)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestExecutor_AfterWrite(t *testing.T) {
	f := newFixture(t)
	cache := &countingInvalidator{}
	pub := &recordingPublisher{}
	x := NewExecutor(f.ledger, cache, pub, nopLog)

	created, err := x.Execute(context.Background(), user, TransactionProposal{
		Description: "Pizza", Amount: dec("25"), Direction: domain.Outflow, Category: "restaurante", PaymentMethod: "pix",
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "RESTAURANTE", created[0].Category)
	assert.Equal(t, []string{user}, cache.users)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, []string{created[0].ID}, pub.jobs[0].TransactionIDs)
	assert.Equal(t, user, pub.jobs[0].UserID)
}

func TestExecutor_FailureSkipsAfterWrite(t *testing.T) {
	f := newFixture(t)
	cache := &countingInvalidator{}
	pub := &recordingPublisher{}
	x := NewExecutor(f.ledger, cache, pub, nopLog)

	_, err := x.Execute(context.Background(), "someone-else", TransactionProposal{
		Description: "x", Amount: dec("1"), Direction: domain.Outflow, Category: "c", PaymentMethod: "pix", AccountID: ptr(f.checking.ID),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrOwnership)
	assert.Empty(t, cache.users)
	assert.Empty(t, pub.jobs)
}

func TestExecutor_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	x := NewExecutor(f.ledger, nil, &recordingPublisher{err: errors.New("queue is closed")}, nopLog)

	created, err := x.Execute(context.Background(), user, CardPaymentProposal{
		CreditCardID: f.card.ID, FromAccountID: f.checking.ID, Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Pagamento fatura: Roxinho", created[0].Description)
}

// otherProposal stands in for a proposal kind the executor does not know.
type otherProposal struct{ TransactionProposal }

func TestExecutor_UnknownProposal(t *testing.T) {
	f := newFixture(t)
	x := NewExecutor(f.ledger, nil, nil, nopLog)
	_, err := x.Execute(context.Background(), user, otherProposal{})
	assert.ErrorContains(t, err, "unsupported proposal")
}

func TestSessions_Registry(t *testing.T) {
	f := newFixture(t)
	now := fixedNow
	reg := NewSessions(f.assistant(&scriptedCompleter{}), NewExecutor(f.ledger, nil, nil, nopLog), nopLog, 10*time.Minute)
	reg.now = func() time.Time { return now }

	s := reg.Open(user)
	got, err := reg.Get(user, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = reg.Get("intruder", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Close("intruder", s.ID), ErrSessionNotFound)

	now = now.Add(11 * time.Minute)
	_, err = reg.Get(user, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, reg.Len())

	s2 := reg.Open(user)
	reg.Open(user)
	require.NoError(t, reg.Close(user, s2.ID))
	assert.Equal(t, 1, reg.Len())
	now = now.Add(time.Hour)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 0, reg.Len())
}
