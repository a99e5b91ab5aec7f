// Package postgres implements the record store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgreSQL error codes mapped to store sentinels.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is a store.Store backed by a pgx connection pool. Ownership of
// referenced rows is enforced by composite foreign keys (see migrations/postgres).
type Store struct {
	pool *pgxpool.Pool
	db   querier
	now  func() time.Time
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool, now: time.Now}
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, kind store.Kind, fields store.Fields, ownerID string) (*store.Record, error) {
	if ownerID == "" {
		return nil, store.Wrap("insert", kind, fmt.Errorf("owner is required"))
	}
	table, norm, err := prepare(kind, fields, false)
	if err != nil {
		return nil, store.Wrap("insert", kind, err)
	}

	rec := &store.Record{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC(),
		Fields:    norm,
	}
	sql, args := buildInsert(table, rec.ID, ownerID, rec.CreatedAt, norm)
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return nil, store.Wrap("insert", kind, mapError(err))
	}
	return rec, nil
}

// DeleteWhere implements store.Store.
func (s *Store) DeleteWhere(ctx context.Context, kind store.Kind, id, ownerID string) error {
	table, ok := store.Schema(kind)
	if !ok {
		return store.Wrap("delete", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}
	sql, args := buildDelete(table, id, ownerID)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return store.Wrap("delete", kind, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.Wrap("delete", kind, store.ErrNotFound)
	}
	return nil
}

// UpdateWhere implements store.Store.
func (s *Store) UpdateWhere(ctx context.Context, kind store.Kind, id, ownerID string, patch store.Fields) error {
	table, norm, err := prepare(kind, patch, true)
	if err != nil {
		return store.Wrap("update", kind, err)
	}
	sql, args := buildUpdate(table, id, ownerID, norm)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return store.Wrap("update", kind, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.Wrap("update", kind, store.ErrNotFound)
	}
	return nil
}

// QueryByOwner implements store.Store.
func (s *Store) QueryByOwner(ctx context.Context, kind store.Kind, ownerID string, q store.Query) ([]*store.Record, error) {
	table, ok := store.Schema(kind)
	if !ok {
		return nil, store.Wrap("query", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}
	sql, args, err := buildSelect(table, ownerID, q)
	if err != nil {
		return nil, store.Wrap("query", kind, err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.Wrap("query", kind, mapError(err))
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows, table)
		if err != nil {
			return nil, store.Wrap("query", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("query", kind, mapError(err))
	}
	return out, nil
}

// WithinTx implements store.Transactor using a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{db: tx, now: s.now})
	})
}

func prepare(kind store.Kind, fields store.Fields, partial bool) (store.Table, store.Fields, error) {
	table, ok := store.Schema(kind)
	if !ok {
		return store.Table{}, nil, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields)
	}
	norm, err := store.Normalize(kind, fields, partial)
	if err != nil {
		return store.Table{}, nil, err
	}
	return table, norm, nil
}

func scanRecord(rows pgx.Rows, table store.Table) (*store.Record, error) {
	rec := &store.Record{Fields: make(store.Fields, len(table.Columns))}
	dest := []any{&rec.ID, &rec.OwnerID, &rec.CreatedAt}

	raw := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		switch {
		case c.Nullable:
			raw[i] = new(*string)
		case c.Type == store.TypeBool:
			raw[i] = new(bool)
		case c.Type == store.TypeInt:
			raw[i] = new(int64)
		default:
			raw[i] = new(string)
		}
		dest = append(dest, raw[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanRecord: %w", err)
	}

	for i, c := range table.Columns {
		v, err := decodeColumn(c, raw[i])
		if err != nil {
			return nil, fmt.Errorf("scanRecord: %s: %w", c.Name, err)
		}
		rec.Fields[c.Name] = v
	}
	return rec, nil
}

func decodeColumn(c store.Column, raw any) (any, error) {
	switch p := raw.(type) {
	case **string:
		return *p, nil
	case *bool:
		return *p, nil
	case *int64:
		return *p, nil
	case *string:
		switch c.Type {
		case store.TypeMoney:
			return decimal.NewFromString(*p)
		case store.TypeDate:
			return civil.ParseDate(*p)
		}
		return *p, nil
	}
	return nil, fmt.Errorf("unexpected scan target %T", raw)
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", store.ErrOwnership, pgErr.ConstraintName)
		case codeUniqueViolation:
			return fmt.Errorf("duplicate row: %s: %w", pgErr.ConstraintName, err)
		}
	}
	return err
}

// Ensure Store implements the store interfaces.
var _ store.Store = (*Store)(nil)
var _ store.Transactor = (*Store)(nil)
