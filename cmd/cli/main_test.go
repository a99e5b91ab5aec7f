package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/financinha/internal/archive"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/store/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user = "u1"

func newSession(t *testing.T, replies ...string) (*assistant.Session, *ledger.Ledger, *int) {
	t.Helper()
	log := zerolog.New(io.Discard)
	l := ledger.New(inmemory.NewStore(), ledger.WithLocation(time.UTC))

	calls := 0
	c := assistant.CompleteFunc(func(ctx context.Context, _ []assistant.Message) (string, error) {
		r := replies[calls]
		calls++
		return r, nil
	})
	a := assistant.New(l, c, log)
	x := assistant.NewExecutor(l, ledger.NewSummaryCache(l, 0), jobs.NopPublisher{}, log)
	return assistant.NewSession("s1", user, a, x, log), l, &calls
}

const pizza = `{"tipo":"transacao","transacao":{"descricao":"Pizza","valor":25,"direcao":"SAIDA","categoria":"restaurante","meio_pagamento":"pix"}}`

func TestChatLoop_ConfirmSaves(t *testing.T) {
	s, l, calls := newSession(t, pizza)
	var out bytes.Buffer

	in := strings.NewReader("gastei 25 em pizza\noutra coisa\nsim\n/sair\n")
	require.NoError(t, chatLoop(context.Background(), s, in, &out))

	text := out.String()
	assert.Contains(t, text, assistant.Greeting)
	assert.Contains(t, text, "Deseja salvar: Pizza no valor de R$ 25,00?")
	assert.Contains(t, text, "Responda 'sim'")
	assert.Contains(t, text, "Transação salva com sucesso!")
	assert.Equal(t, 1, *calls, "text while pending is not sent")

	txs, err := l.ListTransactions(context.Background(), user, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "RESTAURANTE", txs[0].Category)
}

func TestChatLoop_CancelThenEOF(t *testing.T) {
	s, l, _ := newSession(t, pizza, `{"tipo":"conversa","resposta":"Tudo bem!"}`)
	var out bytes.Buffer

	in := strings.NewReader("gastei 25 em pizza\nnão\nobrigado\n")
	require.NoError(t, chatLoop(context.Background(), s, in, &out))

	assert.Contains(t, out.String(), "Cancelado.")
	assert.Contains(t, out.String(), "Tudo bem!")
	assert.Equal(t, assistant.StateIdle, s.State())

	txs, err := l.ListTransactions(context.Background(), user, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPrintSummary(t *testing.T) {
	acc := &domain.Account{Name: "Nubank", Type: domain.AccountChecking}
	card := &domain.CreditCard{Name: "Roxinho"}
	var out bytes.Buffer
	printSummary(&out, &ledger.Summary{
		Accounts:     []ledger.AccountBalance{{Account: acc, Balance: decimal.RequireFromString("1234.5")}},
		Cards:        []ledger.CardBill{{Card: card, Bill: decimal.NewFromInt(200), Available: decimal.NewFromInt(4800)}},
		TotalBalance: decimal.RequireFromString("1234.5"),
		TotalBills:   decimal.NewFromInt(200),
	})

	text := out.String()
	assert.Contains(t, text, "R$ 1.234,50")
	assert.Contains(t, text, "fatura R$ 200,00  disponível R$ 4.800,00")
	assert.Contains(t, text, "Fatura total: R$ 200,00")
}

func TestPrintEntry(t *testing.T) {
	var out bytes.Buffer
	printEntry(&out, &archive.Entry{
		ID:         "e1",
		UserID:     user,
		CreatedAt:  time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
		Message:    "oi",
		RawOutput:  "not json",
		ParseError: "not a JSON object",
	})
	text := out.String()
	assert.Contains(t, text, "Created: 2025-03-15T12:00:00Z")
	assert.Contains(t, text, "Error:   not a JSON object")
	assert.NotContains(t, text, "parses today")
}
