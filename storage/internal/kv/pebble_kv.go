// Package kv implements the storage interfaces on cockroachdb/pebble.
package kv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"rmcore/storage/shared"
)

// PebbleKV is a pebble-backed shared.KV. Writes are asynchronous by default;
// a background ticker flushes the WAL so unsynced writes have a bounded
// window, and SyncWriteOptions forces durability per write.
type PebbleKV struct {
	db   *pebble.DB
	path string

	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64

	flushTicker *time.Ticker
	flushDone   chan struct{}
}

// NewPebbleKV opens (or creates) the store at config.Path.
func NewPebbleKV(config *PebbleConfig) (*PebbleKV, error) {
	opts := pebbleOptions(config)
	db, err := pebble.Open(config.Path, opts)
	// Open holds its own reference to the cache; release the creator's.
	opts.Cache.Unref()
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", config.Path, err)
	}

	p := &PebbleKV{
		db:          db,
		path:        config.Path,
		flushTicker: time.NewTicker(config.FlushInterval),
		flushDone:   make(chan struct{}),
	}
	go p.backgroundFlush()
	return p, nil
}

func pebbleOptions(config *PebbleConfig) *pebble.Options {
	cache := pebble.NewCache(config.CacheSize)

	compression := pebble.SnappyCompression
	if !config.CompressionEnabled {
		compression = pebble.NoCompression
	}

	opts := &pebble.Options{
		Cache:                       cache,
		MaxOpenFiles:                config.MaxOpenFiles,
		MemTableSize:                uint64(config.MemTableSize),
		MemTableStopWritesThreshold: 8,
		L0CompactionThreshold:       config.L0CompactionThreshold,
		L0StopWritesThreshold:       config.L0StopWritesThreshold,
		LBaseMaxBytes:               config.LBaseMaxBytes,
		MaxManifestFileSize:         config.MaxManifestFileSize,
		MaxConcurrentCompactions:    func() int { return config.CompactionConcurrency },
	}
	for _, size := range []int64{config.TargetFileSize, config.TargetFileSize * 4, config.TargetFileSize * 16} {
		level := pebble.LevelOptions{
			TargetFileSize: size,
			BlockSize:      config.BlockSize,
			Compression:    compression,
		}
		if config.EnableBloomFilter {
			level.FilterPolicy = bloom.FilterPolicy(config.BloomFilterBitsPerKey)
			level.FilterType = pebble.TableFilter
		}
		opts.Levels = append(opts.Levels, level)
	}
	return opts
}

func (p *PebbleKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, shared.ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (p *PebbleKV) Set(ctx context.Context, key, value []byte) error {
	return p.SetWithOptions(ctx, key, value, nil)
}

func (p *PebbleKV) SetWithOptions(ctx context.Context, key, value []byte, opts *shared.WriteOptions) error {
	return p.write(func() error {
		return p.db.Set(key, value, pebbleWriteOptions(opts))
	})
}

func (p *PebbleKV) Delete(ctx context.Context, key []byte) error {
	return p.DeleteWithOptions(ctx, key, nil)
}

func (p *PebbleKV) DeleteWithOptions(ctx context.Context, key []byte, opts *shared.WriteOptions) error {
	return p.write(func() error {
		return p.db.Delete(key, pebbleWriteOptions(opts))
	})
}

func (p *PebbleKV) NewBatch() shared.Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

func (p *PebbleKV) CommitBatch(ctx context.Context, batch shared.Batch) error {
	return p.CommitBatchWithOptions(ctx, batch, nil)
}

func (p *PebbleKV) CommitBatchWithOptions(ctx context.Context, batch shared.Batch, opts *shared.WriteOptions) error {
	pb, ok := batch.(*pebbleBatch)
	if !ok {
		return fmt.Errorf("commit: batch not created by this store")
	}
	return p.write(func() error {
		return p.db.Apply(pb.b, pebbleWriteOptions(opts))
	})
}

// write serializes a mutation against Close and tracks it for the background
// flusher.
func (p *PebbleKV) write(apply func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return shared.ErrClosed
	}

	p.pending.Add(1)
	defer p.pending.Add(-1)

	if err := apply(); err != nil {
		return fmt.Errorf("pebble write: %w", err)
	}
	return nil
}

// NewIterator returns nil if the store is closed or the bounds are unusable.
func (p *PebbleKV) NewIterator(opts *shared.IteratorOptions) shared.Iterator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}

	it, err := p.db.NewIter(pebbleIterOptions(opts))
	if err != nil {
		return nil
	}
	return &pebbleIter{it: it, reverse: opts != nil && opts.Reverse}
}

func (p *PebbleKV) NewSnapshot() (shared.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, shared.ErrClosed
	}
	return &pebbleSnap{snap: p.db.NewSnapshot()}, nil
}

func (p *PebbleKV) Stats() shared.KVStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return shared.KVStats{}
	}

	m := p.db.Metrics()
	return shared.KVStats{
		ApproximateSize: int64(m.DiskSpaceUsage()),
		MemTableSize:    int64(m.MemTable.Size),
		FlushCount:      int64(m.Flush.Count),
		CompactionCount: int64(m.Compact.Count),
		PendingWrites:   p.pending.Load(),
	}
}

func (p *PebbleKV) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return shared.ErrClosed
	}
	return p.db.Flush()
}

func (p *PebbleKV) backgroundFlush() {
	for {
		select {
		case <-p.flushTicker.C:
			if p.pending.Load() == 0 {
				continue
			}
			p.mu.Lock()
			if !p.closed {
				_ = p.db.Flush()
			}
			p.mu.Unlock()
		case <-p.flushDone:
			return
		}
	}
}

func (p *PebbleKV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.flushTicker.Stop()
	close(p.flushDone)
	return p.db.Close()
}

func pebbleWriteOptions(opts *shared.WriteOptions) *pebble.WriteOptions {
	if opts == nil {
		return nil
	}
	return &pebble.WriteOptions{Sync: opts.Sync}
}

func pebbleIterOptions(opts *shared.IteratorOptions) *pebble.IterOptions {
	if opts == nil {
		return nil
	}
	return &pebble.IterOptions{
		LowerBound: opts.LowerBound,
		UpperBound: opts.UpperBound,
	}
}
