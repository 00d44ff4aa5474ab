package kv

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"rmcore/storage/shared"
)

// pebbleSnap is a stable read-only view taken with PebbleKV.NewSnapshot.
type pebbleSnap struct {
	snap *pebble.Snapshot
}

func (s *pebbleSnap) Get(key []byte) ([]byte, error) {
	value, closer, err := s.snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot get: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *pebbleSnap) NewIterator(opts *shared.IteratorOptions) shared.Iterator {
	it, err := s.snap.NewIter(pebbleIterOptions(opts))
	if err != nil {
		return nil
	}
	return &pebbleIter{it: it, reverse: opts != nil && opts.Reverse}
}

func (s *pebbleSnap) Close() error {
	return s.snap.Close()
}
