package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInsert(t *testing.T) {
	table, _ := store.Schema(store.KindBudgets)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	sql, args := buildInsert(table, "id-1", "alice", created, store.Fields{
		"category":      "MERCADO",
		"monthly_limit": decimal.RequireFromString("500.00"),
	})

	assert.Equal(t,
		`INSERT INTO "budgets" ("id", "user_id", "created_at", "category", "monthly_limit") VALUES ($1, $2, $3, $4, $5::numeric)`,
		sql)
	assert.Equal(t, []any{"id-1", "alice", created, "MERCADO", "500"}, args)
}

func TestBuildUpdate(t *testing.T) {
	table, _ := store.Schema(store.KindAccounts)

	sql, args := buildUpdate(table, "acc-1", "alice", store.Fields{
		"name":            "Nubank",
		"initial_balance": decimal.NewFromInt(10),
	})

	assert.Equal(t,
		`UPDATE "accounts" SET "initial_balance" = $1::numeric, "name" = $2 WHERE "id" = $3 AND "user_id" = $4`,
		sql)
	assert.Equal(t, []any{"10", "Nubank", "acc-1", "alice"}, args)
}

func TestBuildDelete(t *testing.T) {
	table, _ := store.Schema(store.KindCreditCards)
	sql, args := buildDelete(table, "c1", "bob")
	assert.Equal(t, `DELETE FROM "credit_cards" WHERE "id" = $1 AND "user_id" = $2`, sql)
	assert.Equal(t, []any{"c1", "bob"}, args)
}

func TestBuildSelect(t *testing.T) {
	table, _ := store.Schema(store.KindTransactions)

	sql, args, err := buildSelect(table, "alice", store.Query{
		Filters: []store.Filter{
			{Field: "date", Op: store.OpGte, Value: civil.Date{Year: 2025, Month: 3, Day: 1}},
			{Field: "direction", Op: store.OpEq, Value: "SAIDA"},
		},
		OrderBy: "date",
		Desc:    true,
		Limit:   200,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, `FROM "transactions" WHERE "user_id" = $1 AND "date" >= $2::date AND "direction" = $3`)
	assert.Contains(t, sql, `to_char("date", 'YYYY-MM-DD')`)
	assert.Contains(t, sql, `"amount"::text`)
	assert.Contains(t, sql, `ORDER BY "date" DESC, "created_at" DESC LIMIT 200`)
	assert.Equal(t, []any{"alice", "2025-03-01", "SAIDA"}, args)

	_, _, err = buildSelect(table, "alice", store.Query{OrderBy: "user_id; drop table"})
	assert.ErrorIs(t, err, store.ErrInvalidFields)

	_, _, err = buildSelect(table, "alice", store.Query{Filters: []store.Filter{{Field: "amount", Op: "LIKE"}}})
	assert.ErrorIs(t, err, store.ErrInvalidFields)
}

// TestStore_Integration runs against a real database when TEST_DATABASE_URL
// points at one with migrations/postgres applied.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	owner := "it-" + time.Now().Format("150405.000000")
	acc, err := s.Insert(ctx, store.KindAccounts, store.Fields{
		"name":            "Conta",
		"type":            "corrente",
		"initial_balance": decimal.RequireFromString("100.10"),
	}, owner)
	require.NoError(t, err)

	got, err := s.QueryByOwner(ctx, store.KindAccounts, owner, store.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, decimal.RequireFromString("100.10").Equal(got[0].Fields["initial_balance"].(decimal.Decimal)))

	err = s.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateWhere(ctx, store.KindAccounts, acc.ID, owner, store.Fields{"name": "X"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err = s.QueryByOwner(ctx, store.KindAccounts, owner, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, "Conta", got[0].Fields["name"])

	require.NoError(t, s.DeleteWhere(ctx, store.KindAccounts, acc.ID, owner))
	assert.ErrorIs(t, s.DeleteWhere(ctx, store.KindAccounts, acc.ID, owner), store.ErrNotFound)
}
