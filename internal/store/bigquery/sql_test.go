package bigquery

import (
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInsert(t *testing.T) {
	table, _ := store.Schema(store.KindAccounts)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	stmt := buildInsert("proj", "finance", table, "a1", "alice", created, store.Fields{
		"name":            "Nubank",
		"type":            "corrente",
		"initial_balance": decimal.RequireFromString("12.34"),
	})

	assert.Equal(t,
		"INSERT INTO `proj.finance.accounts` (id, user_id, created_at, name, type, initial_balance) VALUES (@id, @user_id, @created_at, @name, @type, @initial_balance)",
		stmt.SQL)
	require.Len(t, stmt.Params, 6)
	rat, ok := stmt.Params[5].Value.(*big.Rat)
	require.True(t, ok)
	assert.Equal(t, "12.34", rat.FloatString(2))
}

func TestParam_NullableString(t *testing.T) {
	assert.Equal(t, bigquery.NullString{}, param("x", (*string)(nil)).Value)

	s := "acc"
	assert.Equal(t, bigquery.NullString{StringVal: "acc", Valid: true}, param("x", &s).Value)
}

func TestBuildUpdateAndDelete(t *testing.T) {
	table, _ := store.Schema(store.KindBudgets)

	stmt := buildUpdate("p", "d", table, "b1", "alice", store.Fields{"monthly_limit": decimal.NewFromInt(5), "category": "LAZER"})
	assert.Equal(t, "UPDATE `p.d.budgets` SET category = @set_category, monthly_limit = @set_monthly_limit WHERE id = @id AND user_id = @user_id", stmt.SQL)
	assert.Len(t, stmt.Params, 4)

	del := buildDelete("p", "d", store.KindBudgets, "b1", "alice")
	assert.Equal(t, "DELETE FROM `p.d.budgets` WHERE id = @id AND user_id = @user_id", del.SQL)

	nul := buildNullRefs("p", "d", store.Backref{Kind: store.KindTransactions, Column: "account_id"}, "a1", "alice")
	assert.Equal(t, "UPDATE `p.d.transactions` SET account_id = NULL WHERE account_id = @ref AND user_id = @user_id", nul.SQL)
}

func TestBuildSelect(t *testing.T) {
	table, _ := store.Schema(store.KindTransactions)
	acc := "a1"

	stmt, err := buildSelect("p", "d", table, "alice", store.Query{
		Filters: []store.Filter{
			{Field: "account_id", Op: store.OpEq, Value: &acc},
			{Field: "date", Op: store.OpLte, Value: civil.Date{Year: 2025, Month: 2, Day: 28}},
		},
		OrderBy: "date",
		Desc:    true,
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "WHERE user_id = @user_id AND account_id = @f0 AND date <= @f1")
	assert.Contains(t, stmt.SQL, "ORDER BY date DESC, created_at DESC LIMIT 10")
	assert.Equal(t, "a1", stmt.Params[1].Value)

	_, err = buildSelect("p", "d", table, "alice", store.Query{Filters: []store.Filter{{Field: "x", Op: store.OpEq}}})
	assert.ErrorIs(t, err, store.ErrInvalidFields)
}

func TestDecodeRow(t *testing.T) {
	table, _ := store.Schema(store.KindTransactions)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rec, err := decodeRow(table, map[string]bigquery.Value{
		"id":             "t1",
		"user_id":        "alice",
		"created_at":     created,
		"date":           civil.Date{Year: 2025, Month: 1, Day: 1},
		"description":    "pizza",
		"amount":         big.NewRat(2550, 100),
		"direction":      "SAIDA",
		"category":       "ALIMENTACAO",
		"payment_method": "credito",
		"account_id":     nil,
		"credit_card_id": "c1",
		"affects_cash":   false,
		"notes":          nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ID)
	assert.True(t, decimal.RequireFromString("25.50").Equal(rec.Fields["amount"].(decimal.Decimal)))
	assert.Equal(t, "c1", *rec.Fields["credit_card_id"].(*string))
	assert.Nil(t, rec.Fields["account_id"].(*string))

	_, err = decodeRow(table, map[string]bigquery.Value{"id": "t1", "description": nil})
	assert.Error(t, err)
}
