package store

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	acc := "acc-1"

	tests := []struct {
		name    string
		kind    Kind
		fields  Fields
		partial bool
		wantErr bool
	}{
		{
			name: "complete transaction",
			kind: KindTransactions,
			fields: Fields{
				"date":           civil.Date{Year: 2025, Month: 1, Day: 2},
				"description":    "pizza",
				"amount":         decimal.NewFromInt(25),
				"direction":      "SAIDA",
				"category":       "ALIMENTACAO",
				"payment_method": "pix",
				"account_id":     &acc,
				"affects_cash":   true,
			},
		},
		{
			name:    "missing required column",
			kind:    KindAccounts,
			fields:  Fields{"name": "x"},
			wantErr: true,
		},
		{
			name:    "wrong money type",
			kind:    KindBudgets,
			fields:  Fields{"category": "X", "monthly_limit": 10.5},
			wantErr: true,
		},
		{
			name:    "partial patch",
			kind:    KindAccounts,
			fields:  Fields{"initial_balance": decimal.NewFromInt(3)},
			partial: true,
		},
		{
			name:    "empty patch",
			kind:    KindAccounts,
			fields:  Fields{},
			partial: true,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			kind:    Kind("nope"),
			fields:  Fields{},
			wantErr: true,
		},
		{
			name:    "null in required column",
			kind:    KindBudgets,
			fields:  Fields{"category": nil, "monthly_limit": decimal.NewFromInt(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.kind, tt.fields, tt.partial)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFields)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalize_CanonicalTypes(t *testing.T) {
	out, err := Normalize(KindCreditCards, Fields{
		"name":         "Visa",
		"credit_limit": decimal.NewFromInt(5000),
		"closing_day":  10,
		"due_day":      int64(20),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out["closing_day"])
	assert.Equal(t, int64(20), out["due_day"])

	out, err = Normalize(KindTransactions, Fields{
		"date":           civil.Date{Year: 2025, Month: 1, Day: 2},
		"description":    "x",
		"amount":         decimal.NewFromInt(1),
		"direction":      "SAIDA",
		"category":       "X",
		"payment_method": "pix",
		"notes":          "plain string",
		"affects_cash":   true,
	}, false)
	require.NoError(t, err)
	notes, ok := out["notes"].(*string)
	require.True(t, ok)
	assert.Equal(t, "plain string", *notes)
	assert.Nil(t, out["account_id"].(*string))
}

func TestReferences(t *testing.T) {
	table, _ := Schema(KindTransactions)
	acc := "a1"
	refs := table.References(Fields{"account_id": &acc, "credit_card_id": (*string)(nil)})
	require.Len(t, refs, 1)
	assert.Equal(t, Reference{Column: "account_id", Kind: KindAccounts, ID: "a1"}, refs[0])

	back := ReferencedBy(KindCreditCards)
	assert.Equal(t, []Backref{{Kind: KindTransactions, Column: "credit_card_id"}}, back)
}

func TestCompare(t *testing.T) {
	s := "b"
	assert.Equal(t, -1, Compare("a", "b"))
	assert.Equal(t, 0, Compare(&s, "b"))
	assert.Equal(t, -1, Compare(nil, "a"))
	assert.Equal(t, 1, Compare(decimal.NewFromInt(2), decimal.NewFromInt(1)))
	assert.Equal(t, -1, Compare(civil.Date{Year: 2025, Month: 1, Day: 1}, civil.Date{Year: 2025, Month: 1, Day: 2}))
	assert.Equal(t, 0, Compare(int64(3), 3))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("insert", KindBudgets, nil))

	err := Wrap("insert", KindBudgets, ErrNotFound)
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindBudgets, pe.Kind)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Same(t, err, Wrap("other", KindAccounts, err))
}
