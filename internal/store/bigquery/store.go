// Package bigquery implements the record store on BigQuery DML.
//
// BigQuery has no foreign keys, so reference ownership is checked with a
// lookup before each write. The store does not implement store.Transactor;
// callers that need several writes to land together compensate on failure.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// Store is a store.Store backed by a shared BigQuery client.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
	now     func() time.Time
}

// New creates a client for project and binds the store to dataset.
func New(ctx context.Context, project, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery.New: creating client: %w", err)
	}
	return NewWithClient(client, project, dataset), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *bigquery.Client, project, dataset string) *Store {
	return &Store{client: client, project: project, dataset: dataset, now: time.Now}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, kind store.Kind, fields store.Fields, ownerID string) (*store.Record, error) {
	if ownerID == "" {
		return nil, store.Wrap("insert", kind, fmt.Errorf("owner is required"))
	}
	table, ok := store.Schema(kind)
	if !ok {
		return nil, store.Wrap("insert", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}
	norm, err := store.Normalize(kind, fields, false)
	if err != nil {
		return nil, store.Wrap("insert", kind, err)
	}
	if err := s.checkRefs(ctx, table, norm, ownerID); err != nil {
		return nil, store.Wrap("insert", kind, err)
	}

	rec := &store.Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC(),
		Fields:    norm,
	}
	if _, err := s.exec(ctx, buildInsert(s.project, s.dataset, table, rec.ID, ownerID, rec.CreatedAt, norm)); err != nil {
		return nil, store.Wrap("insert", kind, err)
	}
	return rec, nil
}

// DeleteWhere implements store.Store. References to the deleted row are nulled afterwards.
func (s *Store) DeleteWhere(ctx context.Context, kind store.Kind, id, ownerID string) error {
	if _, ok := store.Schema(kind); !ok {
		return store.Wrap("delete", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}

	n, err := s.exec(ctx, buildDelete(s.project, s.dataset, kind, id, ownerID))
	if err != nil {
		return store.Wrap("delete", kind, err)
	}
	if n == 0 {
		return store.Wrap("delete", kind, store.ErrNotFound)
	}

	for _, br := range store.ReferencedBy(kind) {
		if _, err := s.exec(ctx, buildNullRefs(s.project, s.dataset, br, id, ownerID)); err != nil {
			return store.Wrap("delete", kind, fmt.Errorf("clearing %s.%s: %w", br.Kind, br.Column, err))
		}
	}
	return nil
}

// UpdateWhere implements store.Store.
func (s *Store) UpdateWhere(ctx context.Context, kind store.Kind, id, ownerID string, patch store.Fields) error {
	table, ok := store.Schema(kind)
	if !ok {
		return store.Wrap("update", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}
	norm, err := store.Normalize(kind, patch, true)
	if err != nil {
		return store.Wrap("update", kind, err)
	}
	if err := s.checkRefs(ctx, table, norm, ownerID); err != nil {
		return store.Wrap("update", kind, err)
	}

	n, err := s.exec(ctx, buildUpdate(s.project, s.dataset, table, id, ownerID, norm))
	if err != nil {
		return store.Wrap("update", kind, err)
	}
	if n == 0 {
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
	stmt, err := buildSelect(s.project, s.dataset, table, ownerID, q)
	if err != nil {
		return nil, store.Wrap("query", kind, err)
	}

	query := s.client.Query(stmt.SQL)
	query.Parameters = stmt.Params
	it, err := query.Read(ctx)
	if err != nil {
		return nil, store.Wrap("query", kind, fmt.Errorf("query read: %w", err))
	}

	var out []*store.Record
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, store.Wrap("query", kind, fmt.Errorf("iter next: %w", err))
		}
		rec, err := decodeRow(table, row)
		if err != nil {
			return nil, store.Wrap("query", kind, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) checkRefs(ctx context.Context, table store.Table, fields store.Fields, ownerID string) error {
	for _, ref := range table.References(fields) {
		stmt := buildExists(s.project, s.dataset, ref.Kind, ref.ID, ownerID)
		query := s.client.Query(stmt.SQL)
		query.Parameters = stmt.Params

		it, err := query.Read(ctx)
		if err != nil {
			return fmt.Errorf("checkRefs: query read: %w", err)
		}
		var row struct{ N int64 }
		if err := it.Next(&row); err != nil {
			return fmt.Errorf("checkRefs: iter next: %w", err)
		}
		if row.N == 0 {
			return fmt.Errorf("%w: %s=%s", store.ErrOwnership, ref.Column, ref.ID)
		}
	}
	return nil
}

// exec runs a DML statement and returns the number of affected rows, or -1
// when the job carries no DML statistics.
func (s *Store) exec(ctx context.Context, stmt statement) (int64, error) {
	q := s.client.Query(stmt.SQL)
	q.Parameters = stmt.Params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return -1, nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
