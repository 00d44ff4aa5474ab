package kv

import (
	"github.com/cockroachdb/pebble"
)

// pebbleIter adapts a pebble.Iterator to shared.Iterator. With reverse set,
// the direction flips here so callers always drive the iteration with
// First/Next regardless of order.
type pebbleIter struct {
	it      *pebble.Iterator
	reverse bool
}

func (i *pebbleIter) Valid() bool {
	return i.it.Valid()
}

func (i *pebbleIter) First() bool {
	if i.reverse {
		return i.it.Last()
	}
	return i.it.First()
}

func (i *pebbleIter) Last() bool {
	if i.reverse {
		return i.it.First()
	}
	return i.it.Last()
}

func (i *pebbleIter) Next() bool {
	if i.reverse {
		return i.it.Prev()
	}
	return i.it.Next()
}

func (i *pebbleIter) Prev() bool {
	if i.reverse {
		return i.it.Next()
	}
	return i.it.Prev()
}

func (i *pebbleIter) SeekGE(key []byte) bool {
	if i.reverse {
		return i.it.SeekLT(key)
	}
	return i.it.SeekGE(key)
}

func (i *pebbleIter) SeekLT(key []byte) bool {
	if i.reverse {
		return i.it.SeekGE(key)
	}
	return i.it.SeekLT(key)
}

func (i *pebbleIter) Key() []byte {
	return i.it.Key()
}

func (i *pebbleIter) Value() []byte {
	return i.it.Value()
}

func (i *pebbleIter) Error() error {
	return i.it.Error()
}

func (i *pebbleIter) Close() error {
	return i.it.Close()
}
