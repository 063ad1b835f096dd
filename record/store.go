/*
store.go - Collection-keyed record store

PURPOSE:
  Generic create/read/update/delete/query over named collections, backed by
  any KV. Each record lives under "<collection>:<id>" as one JSON object.

CONTRACT:
  Create:    assigns "<singular>_id" (UUID v4) when absent, stamps created_at
             and updated_at when absent, validates, writes.
  GetByID:   returns nil when absent. Backend read errors are logged and
             reported as absence.
  Update:    NotFound when the key has no record. Shallow merge: named fields
             overwrite, others are kept. updated_at always advances.
             Re-validates the merged record. UpdateWhere adds a guard that
             sees the stored record under the key lock (compare-and-set).
  Delete:    best effort, returns a success flag, never an error.
  Query:     full prefix scan then in-memory predicates. O(collection size).
  Replace:   overwrites a whole collection (bulk import).

CONCURRENCY:
  Update is read-modify-write. Concurrent updates of the same key inside one
  process are serialised with per-key locks. Writers in other processes are
  not coordinated; the last write wins.
*/
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Observer is notified after every store operation. err is nil on success.
type Observer func(collection, op string, err error)

// Store implements the record contract on top of a KV.
type Store struct {
	kv       KV
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	observe  Observer
	locks    keyLocks
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *zap.Logger) Option          { return func(s *Store) { s.logger = l } }
func WithClock(now func() time.Time) Option    { return func(s *Store) { s.now = now } }
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }
func WithObserver(o Observer) Option           { return func(s *Store) { s.observe = o } }

// NewStore creates a record store over kv for the collections in registry.
func NewStore(kv KV, registry *Registry, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		observe:  func(string, string, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the collections this store accepts.
func (s *Store) Registry() *Registry { return s.registry }

// =============================================================================
// WRITES
// =============================================================================

// Create stores a new record and returns it with id and timestamps filled in.
// A caller-supplied id that is already stored fails with *ConflictError.
func (s *Store) Create(ctx context.Context, collection string, data Record) (_ Record, err error) {
	defer func() { s.observe(collection, "create", err) }()

	col, err := s.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}

	rec := data.Clone()
	pk := col.PrimaryKey()
	id, _ := rec[pk].(string)
	if id == "" {
		id = s.newID()
		rec[pk] = id
	}
	key := col.Key(id)

	unlock := s.locks.lock(key)
	defer unlock()

	existing, err := s.fetch(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	if existing != nil {
		return nil, &ConflictError{Collection: collection, ID: id}
	}

	now := Timestamp(s.now())
	if v, ok := rec[FieldCreatedAt]; !ok || v == nil || v == "" {
		rec[FieldCreatedAt] = now
	}
	if v, ok := rec[FieldUpdatedAt]; !ok || v == nil || v == "" {
		rec[FieldUpdatedAt] = now
	}

	if err := Validate(col, rec); err != nil {
		return nil, err
	}
	if err := s.put(ctx, key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges partial into the stored record and returns the merged result.
func (s *Store) Update(ctx context.Context, collection, id string, partial Record) (Record, error) {
	return s.UpdateWhere(ctx, collection, id, nil, partial)
}

// UpdateWhere is Update with a guard run against the stored record while the
// key is locked. A non-nil guard error aborts the write and is returned as is.
func (s *Store) UpdateWhere(ctx context.Context, collection, id string, guard func(existing Record) error, partial Record) (_ Record, err error) {
	defer func() { s.observe(collection, "update", err) }()

	col, err := s.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	key := col.Key(id)

	unlock := s.locks.lock(key)
	defer unlock()

	existing, err := s.fetch(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	if existing == nil {
		return nil, &NotFoundError{Collection: collection, ID: id}
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return nil, err
		}
	}

	merged := existing.Clone()
	for k, v := range partial {
		merged[k] = v
	}
	merged[col.PrimaryKey()] = id
	merged[FieldUpdatedAt] = Timestamp(s.advance(existing.String(FieldUpdatedAt)))

	if err := Validate(col, merged); err != nil {
		return nil, err
	}
	if err := s.put(ctx, key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes a record. It reports false when the backend failed.
func (s *Store) Delete(ctx context.Context, collection, id string) bool {
	col, err := s.registry.Lookup(collection)
	if err != nil {
		s.logger.Error("delete from unknown collection", zap.String("collection", collection))
		s.observe(collection, "delete", err)
		return false
	}
	key := col.Key(id)
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Error("delete failed", zap.String("key", key), zap.Error(err))
		s.observe(collection, "delete", err)
		return false
	}
	s.observe(collection, "delete", nil)
	return true
}

// Replace overwrites the whole collection with records. Every record is
// validated before anything is deleted.
func (s *Store) Replace(ctx context.Context, collection string, records []Record) (err error) {
	defer func() { s.observe(collection, "replace", err) }()

	col, err := s.registry.Lookup(collection)
	if err != nil {
		return err
	}

	prepared := make([]Record, 0, len(records))
	now := Timestamp(s.now())
	for _, r := range records {
		rec := r.Clone()
		if id, _ := rec[col.PrimaryKey()].(string); id == "" {
			rec[col.PrimaryKey()] = s.newID()
		}
		if _, ok := rec[FieldCreatedAt]; !ok {
			rec[FieldCreatedAt] = now
		}
		if _, ok := rec[FieldUpdatedAt]; !ok {
			rec[FieldUpdatedAt] = now
		}
		if err := Validate(col, rec); err != nil {
			return err
		}
		prepared = append(prepared, rec)
	}

	keys, err := s.kv.Keys(ctx, col.Prefix())
	if err != nil {
		return &StorageError{Op: "keys", Key: col.Prefix(), Err: err}
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return &StorageError{Op: "delete", Key: k, Err: err}
		}
	}
	for _, rec := range prepared {
		if err := s.put(ctx, col.Key(rec.String(col.PrimaryKey())), rec); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// GetByID returns the record or nil. Only an unknown collection is an error.
func (s *Store) GetByID(ctx context.Context, collection, id string) (Record, error) {
	col, err := s.registry.Lookup(collection)
	if err != nil {
		s.observe(collection, "get", err)
		return nil, err
	}
	key := col.Key(id)
	rec, err := s.fetch(ctx, key)
	if err != nil {
		s.logger.Error("read failed", zap.String("key", key), zap.Error(err))
		s.observe(collection, "get", err)
		return nil, nil
	}
	s.observe(collection, "get", nil)
	return rec, nil
}

// Query scans the collection and keeps records matching every predicate.
func (s *Store) Query(ctx context.Context, collection string, preds ...Predicate) ([]Record, error) {
	col, err := s.registry.Lookup(collection)
	if err != nil {
		s.observe(collection, "query", err)
		return nil, err
	}

	keys, err := s.kv.Keys(ctx, col.Prefix())
	if err != nil {
		s.logger.Error("listing keys failed", zap.String("prefix", col.Prefix()), zap.Error(err))
		s.observe(collection, "query", err)
		return []Record{}, nil
	}

	match := And(preds...)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := s.fetch(ctx, k)
		if err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("key", k), zap.Error(err))
			continue
		}
		if rec == nil || !match(rec) {
			continue
		}
		out = append(out, rec)
	}
	s.observe(collection, "query", nil)
	return out, nil
}

// FindByField returns records whose field equals value.
func (s *Store) FindByField(ctx context.Context, collection, field string, value any) ([]Record, error) {
	return s.Query(ctx, collection, Eq(field, value))
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) fetch(ctx context.Context, key string) (Record, error) {
	b, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) put(ctx context.Context, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// advance returns the current time, nudged past prev if the clock has not moved.
func (s *Store) advance(prev string) time.Time {
	now := s.now().UTC()
	if p, ok := ParseTime(prev); ok && !now.After(p) {
		return p.Add(time.Microsecond)
	}
	return now
}

// keyLocks hands out one mutex per key, released when the last holder leaves.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (kl *keyLocks) lock(key string) func() {
	kl.mu.Lock()
	if kl.locks == nil {
		kl.locks = make(map[string]*keyLock)
	}
	l, ok := kl.locks[key]
	if !ok {
		l = &keyLock{}
		kl.locks[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		kl.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mu.Unlock()
	}
}
