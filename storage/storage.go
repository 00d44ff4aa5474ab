// Package storage fronts the key-value layer: the interfaces callers program
// against live in storage/shared, the pebble implementation in
// storage/internal/kv, and this package re-exports both so the rest of the
// tree imports a single name.
package storage

import (
	"rmcore/storage/internal/kv"
	"rmcore/storage/shared"
)

// WriteOptions controls durability of a single write.
type WriteOptions = shared.WriteOptions

var (
	DefaultWriteOptions = shared.DefaultWriteOptions
	SyncWriteOptions    = shared.SyncWriteOptions
)

// KV is the key-value store interface the KVS builds on.
type KV = shared.KV

// Batch groups writes for an atomic commit.
type Batch = shared.Batch

// IteratorOptions bounds and orders an iteration.
type IteratorOptions = shared.IteratorOptions

// Iterator walks key-value pairs in key order.
type Iterator = shared.Iterator

// Snapshot is a stable read-only view of the store.
type Snapshot = shared.Snapshot

// KVStats reports store-level counters.
type KVStats = shared.KVStats

var (
	ErrNotFound = shared.ErrNotFound
	ErrClosed   = shared.ErrClosed
)

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return shared.IsNotFound(err)
}

// PebbleConfig tunes the pebble-backed store.
type PebbleConfig = kv.PebbleConfig

// NewPebbleKV opens a pebble-backed KV store.
func NewPebbleKV(config *PebbleConfig) (KV, error) {
	return kv.NewPebbleKV(config)
}

// DefaultPebbleConfig returns the production tuning for path.
func DefaultPebbleConfig(path string) *PebbleConfig {
	return kv.DefaultPebbleConfig(path)
}

// TestPebbleConfig returns a small-footprint tuning for tests.
func TestPebbleConfig(path string) *PebbleConfig {
	return kv.TestPebbleConfig(path)
}
