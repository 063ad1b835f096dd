/*
kv.go - Persistence port between the record store and a key-value backend

PURPOSE:
  The record store is the only code that talks to storage. It sees the
  backend as a flat string-keyed store of JSON blobs plus one prefix listing
  primitive. No schema, no secondary index, no transactions across keys.

IMPLEMENTATIONS:
  - record/kvstore/memory.go: In-memory, for tests and local runs
  - store/sqlite/sqlite.go:   SQLite single-table backend

SEE ALSO:
  - store.go: Record store built on KV
*/
package record

import "context"

// KV is a string-keyed blob store.
type KV interface {
	// Get returns the stored value, or nil with no error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
