package kv

import (
	"github.com/cockroachdb/pebble"
)

// pebbleBatch accumulates writes for one atomic commit through
// PebbleKV.CommitBatch.
type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

func (b *pebbleBatch) Count() int {
	return int(b.b.Count())
}

func (b *pebbleBatch) Reset() {
	b.b.Reset()
}

func (b *pebbleBatch) Close() error {
	return b.b.Close()
}
