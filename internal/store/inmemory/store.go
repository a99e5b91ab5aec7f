// Package inmemory is a map-backed record store for local development and tests.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/financinha/internal/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data map[store.Kind]map[string]*store.Record
	seq  map[string]int64
	now  func() time.Time

	// failInsert lets tests reject selected inserts.
	failInsert func(kind store.Kind, fields store.Fields) error

	// journal collects the writes of a WithinTx copy for replay on commit.
	journal *[]func(*Store) error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	s := &Store{
		data: make(map[store.Kind]map[string]*store.Record),
		seq:  make(map[string]int64),
		now:  time.Now,
	}
	for _, k := range store.Kinds() {
		s.data[k] = make(map[string]*store.Record)
	}
	return s
}

// FailInsertWhen installs a hook that can reject inserts. Passing nil removes it.
func (s *Store) FailInsertWhen(fn func(kind store.Kind, fields store.Fields) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInsert = fn
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, kind store.Kind, fields store.Fields, ownerID string) (*store.Record, error) {
	if ownerID == "" {
		return nil, store.Wrap("insert", kind, fmt.Errorf("owner is required"))
	}
	norm, err := store.Normalize(kind, fields, false)
	if err != nil {
		return nil, store.Wrap("insert", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsert != nil {
		if err := s.failInsert(kind, norm); err != nil {
			return nil, store.Wrap("insert", kind, err)
		}
	}

	rec := &store.Record{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC(),
		Fields:    norm,
	}
	if err := s.put(kind, rec); err != nil {
		return nil, store.Wrap("insert", kind, err)
	}
	saved := copyRecord(rec)
	s.record(func(live *Store) error {
		return store.Wrap("insert", kind, live.put(kind, copyRecord(saved)))
	})

	return copyRecord(rec), nil
}

func (s *Store) put(kind store.Kind, rec *store.Record) error {
	table, _ := store.Schema(kind)
	if err := s.checkRefs(table, rec.Fields, rec.OwnerID); err != nil {
		return err
	}
	s.data[kind][rec.ID] = rec
	s.seq[rec.ID] = int64(len(s.seq))
	return nil
}

// DeleteWhere implements store.Store. References to the deleted row are nulled.
func (s *Store) DeleteWhere(ctx context.Context, kind store.Kind, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.remove(kind, id, ownerID); err != nil {
		return store.Wrap("delete", kind, err)
	}
	s.record(func(live *Store) error {
		return store.Wrap("delete", kind, live.remove(kind, id, ownerID))
	})
	return nil
}

func (s *Store) remove(kind store.Kind, id, ownerID string) error {
	rows, ok := s.data[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind", store.ErrInvalidFields)
	}
	rec, ok := rows[id]
	if !ok || rec.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(rows, id)

	for _, br := range store.ReferencedBy(kind) {
		for _, other := range s.data[br.Kind] {
			if other.OwnerID != ownerID {
				continue
			}
			if p, ok := other.Fields[br.Column].(*string); ok && p != nil && *p == id {
				other.Fields[br.Column] = (*string)(nil)
			}
		}
	}
	return nil
}

// UpdateWhere implements store.Store.
func (s *Store) UpdateWhere(ctx context.Context, kind store.Kind, id, ownerID string, patch store.Fields) error {
	norm, err := store.Normalize(kind, patch, true)
	if err != nil {
		return store.Wrap("update", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.patch(kind, id, ownerID, norm); err != nil {
		return store.Wrap("update", kind, err)
	}
	s.record(func(live *Store) error {
		return store.Wrap("update", kind, live.patch(kind, id, ownerID, copyFields(norm)))
	})
	return nil
}

func (s *Store) patch(kind store.Kind, id, ownerID string, fields store.Fields) error {
	rec, ok := s.data[kind][id]
	if !ok || rec.OwnerID != ownerID {
		return store.ErrNotFound
	}

	table, _ := store.Schema(kind)
	if err := s.checkRefs(table, fields, ownerID); err != nil {
		return err
	}

	for k, v := range fields {
		rec.Fields[k] = v
	}
	return nil
}

// QueryByOwner implements store.Store.
func (s *Store) QueryByOwner(ctx context.Context, kind store.Kind, ownerID string, q store.Query) ([]*store.Record, error) {
	table, ok := store.Schema(kind)
	if !ok {
		return nil, store.Wrap("query", kind, fmt.Errorf("%w: unknown kind", store.ErrInvalidFields))
	}
	for _, f := range q.Filters {
		if !table.Filterable(f.Field) {
			return nil, store.Wrap("query", kind, fmt.Errorf("%w: cannot filter on %s", store.ErrInvalidFields, f.Field))
		}
	}
	if q.OrderBy != "" && !table.Filterable(q.OrderBy) {
		return nil, store.Wrap("query", kind, fmt.Errorf("%w: cannot order by %s", store.ErrInvalidFields, q.OrderBy))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*store.Record
	for _, rec := range s.data[kind] {
		if rec.OwnerID != ownerID || !matches(rec, q.Filters) {
			continue
		}
		result = append(result, copyRecord(rec))
	}

	sort.SliceStable(result, func(i, j int) bool {
		if q.OrderBy != "" {
			c := store.Compare(value(result[i], q.OrderBy), value(result[j], q.OrderBy))
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		// Ties keep insertion order, newest first when descending.
		if q.Desc {
			return s.seq[result[i].ID] > s.seq[result[j].ID]
		}
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})

	if q.Limit > 0 && q.Limit < len(result) {
		result = result[:q.Limit]
	}
	return result, nil
}

// WithinTx implements store.Transactor. fn works on a private copy and its
// writes are replayed onto the live store when fn succeeds, so writes made
// outside the transaction in the meantime are kept. The replay is all or
// nothing: if a replayed write no longer applies, nothing is committed.
// Transactions are serialized with each other.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := s.clone()
	tx.failInsert = s.failInsert
	s.mu.RUnlock()

	var journal []func(*Store) error
	tx.journal = &journal

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	for _, op := range journal {
		if err := op(next); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	s.data = next.data
	s.seq = next.seq
	for _, op := range journal {
		s.record(op)
	}
	return nil
}

// record appends a write to the journal when s is a transaction copy.
func (s *Store) record(op func(*Store) error) {
	if s.journal != nil {
		*s.journal = append(*s.journal, op)
	}
}

// clone copies the rows and insertion order. The caller holds s.mu.
func (s *Store) clone() *Store {
	c := &Store{
		data: make(map[store.Kind]map[string]*store.Record, len(s.data)),
		seq:  make(map[string]int64, len(s.seq)),
		now:  s.now,
	}
	for k, rows := range s.data {
		c.data[k] = make(map[string]*store.Record, len(rows))
		for id, rec := range rows {
			c.data[k][id] = copyRecord(rec)
		}
	}
	for id, n := range s.seq {
		c.seq[id] = n
	}
	return c
}

func (s *Store) checkRefs(table store.Table, fields store.Fields, ownerID string) error {
	for _, ref := range table.References(fields) {
		target, ok := s.data[ref.Kind][ref.ID]
		if !ok || target.OwnerID != ownerID {
			return fmt.Errorf("%w: %s=%s", store.ErrOwnership, ref.Column, ref.ID)
		}
	}
	return nil
}

func matches(rec *store.Record, filters []store.Filter) bool {
	for _, f := range filters {
		c := store.Compare(value(rec, f.Field), f.Value)
		switch f.Op {
		case store.OpEq:
			if c != 0 {
				return false
			}
		case store.OpGte:
			if c < 0 {
				return false
			}
		case store.OpLte:
			if c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func value(rec *store.Record, field string) any {
	switch field {
	case store.ColID:
		return rec.ID
	case store.ColCreatedAt:
		return rec.CreatedAt
	}
	return rec.Fields[field]
}

func copyRecord(rec *store.Record) *store.Record {
	cp := *rec
	cp.Fields = copyFields(rec.Fields)
	return &cp
}

func copyFields(fields store.Fields) store.Fields {
	cp := make(store.Fields, len(fields))
	for k, v := range fields {
		if p, ok := v.(*string); ok && p != nil {
			s := *p
			v = &s
		}
		cp[k] = v
	}
	return cp
}

// Ensure Store implements the store interfaces.
var _ store.Store = (*Store)(nil)
var _ store.Transactor = (*Store)(nil)
