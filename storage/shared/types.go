// Package shared holds the storage interfaces and sentinel errors that both
// the pebble implementation and its callers depend on.
package shared

import (
	"context"
	"io"
)

// WriteOptions selects durability for a single write. Sync forces the WAL
// to disk before the write returns.
type WriteOptions struct {
	Sync bool
}

var (
	DefaultWriteOptions = &WriteOptions{Sync: false}
	SyncWriteOptions    = &WriteOptions{Sync: true}
)

// KV is the key-value store the KVS namespace is built on.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	SetWithOptions(ctx context.Context, key, value []byte, opts *WriteOptions) error
	Delete(ctx context.Context, key []byte) error
	DeleteWithOptions(ctx context.Context, key []byte, opts *WriteOptions) error
	NewBatch() Batch
	CommitBatch(ctx context.Context, batch Batch) error
	CommitBatchWithOptions(ctx context.Context, batch Batch, opts *WriteOptions) error
	NewIterator(opts *IteratorOptions) Iterator
	NewSnapshot() (Snapshot, error)
	Stats() KVStats
	Flush() error
	Close() error
}

// Batch accumulates writes for one atomic commit.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Reset()
	Close() error
}

// IteratorOptions bounds an iteration to [LowerBound, UpperBound) and
// optionally reverses it.
type IteratorOptions struct {
	LowerBound []byte
	UpperBound []byte
	Reverse    bool
}

// Iterator walks key-value pairs in key order.
type Iterator interface {
	io.Closer
	Valid() bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() []byte
	Error() error
	SeekGE(key []byte) bool
	SeekLT(key []byte) bool
	First() bool
	Last() bool
}

// Snapshot is a stable read-only view of the store.
type Snapshot interface {
	io.Closer
	Get(key []byte) ([]byte, error)
	NewIterator(opts *IteratorOptions) Iterator
}

// KVStats reports store-level counters for diagnostics.
type KVStats struct {
	ApproximateSize int64
	MemTableSize    int64
	FlushCount      int64
	CompactionCount int64
	PendingWrites   int64
}

// Sentinel errors.
var (
	ErrNotFound = &kvError{msg: "key not found"}
	ErrClosed   = &kvError{msg: "kv store closed"}
)

type kvError struct {
	msg string
}

func (e *kvError) Error() string {
	return e.msg
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == ErrNotFound {
		return true
	}
	if e, ok := err.(*kvError); ok {
		return e.msg == "key not found"
	}
	return false
}
