// Package store defines the owner-scoped record store every backend implements.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind names a record collection.
type Kind string

const (
	KindTransactions Kind = "transactions"
	KindAccounts     Kind = "accounts"
	KindCreditCards  Kind = "credit_cards"
	KindBudgets      Kind = "budgets"
)

// Fields holds column values keyed by column name. Values use the Go types
// listed in the schema: string, *string, decimal.Decimal, civil.Date, bool, int64.
type Fields map[string]any

// Record is a stored row.
type Record struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	Fields    Fields
}

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter restricts a query on one column.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query shapes a QueryByOwner call. Zero value returns everything in
// insertion order.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the generic, owner-scoped CRUD contract. Every statement carries the
// acting owner; rows of other owners are invisible and immutable.
type Store interface {
	Insert(ctx context.Context, kind Kind, fields Fields, ownerID string) (*Record, error)
	DeleteWhere(ctx context.Context, kind Kind, id, ownerID string) error
	UpdateWhere(ctx context.Context, kind Kind, id, ownerID string, patch Fields) error
	QueryByOwner(ctx context.Context, kind Kind, ownerID string, q Query) ([]*Record, error)
}

// Transactor is implemented by backends that can commit several writes atomically.
// fn receives a Store bound to the transaction; returning an error rolls back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

var (
	// ErrNotFound means no row with the id exists for the owner.
	ErrNotFound = errors.New("record not found")
	// ErrOwnership means a referenced row is missing or belongs to someone else.
	ErrOwnership = errors.New("referenced record not owned by user")
	// ErrInvalidFields means the fields do not match the schema.
	ErrInvalidFields = errors.New("invalid fields")
)

// PersistenceError wraps every failure coming out of a store.
type PersistenceError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *PersistenceError unless it already is one.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Kind: kind, Err: err}
}
