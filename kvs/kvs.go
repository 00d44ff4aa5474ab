// Package kvs implements the broker's hierarchical key-value store. Keys are
// dot-separated paths ("resource.r0.state"). Writes go through transactions
// that commit atomically against the backing store; every commit advances a
// root sequence number and publishes a kvs.setroot event naming the changed
// keys, which is what watchers key off.
package kvs

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"rmcore/events"
	"rmcore/rpc"
	"rmcore/storage"
)

// Storage key prefixes. Values, checkpoints and store metadata share one
// backing KV keyspace.
const (
	prefixValue      = "v:"
	prefixCheckpoint = "c:"
	keyRootSeq       = "m:rootseq"
)

// SetRootTopic is the event published after every commit.
const SetRootTopic = "kvs.setroot"

// SetRoot is the payload of a SetRootTopic event.
type SetRoot struct {
	Seq  uint64   `json:"seq"`
	Keys []string `json:"keys"`
}

// ValidKey reports whether key is a usable KVS path.
func ValidKey(key string) bool {
	return rpc.ValidTopic(key)
}

// Store is the KVS service state.
type Store struct {
	kv         storage.KV
	dispatcher *events.Dispatcher

	mu      sync.Mutex
	rootSeq uint64
}

// NewStore opens the namespace on kv, recovering the root sequence number
// from a previous run if present.
func NewStore(kv storage.KV, dispatcher *events.Dispatcher) (*Store, error) {
	s := &Store{kv: kv, dispatcher: dispatcher}

	raw, err := kv.Get(context.Background(), []byte(keyRootSeq))
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("corrupt root sequence record")
		}
		s.rootSeq = binary.BigEndian.Uint64(raw)
	case storage.IsNotFound(err):
		// Fresh store.
	default:
		return nil, fmt.Errorf("load root sequence: %w", err)
	}
	return s, nil
}

// RootSeq returns the current root sequence number.
func (s *Store) RootSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootSeq
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, rpc.Errorf(rpc.ErrCodeInvalid, "invalid key %q", key)
	}
	val, err := s.kv.Get(ctx, []byte(prefixValue+key))
	if storage.IsNotFound(err) {
		return nil, rpc.Errorf(rpc.ErrCodeNotFound, "no such key: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("kvs get %s: %w", key, err)
	}
	return val, nil
}

// Put stores value at key in a single-operation transaction.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	txn := s.NewTxn()
	if err := txn.Put(key, value); err != nil {
		return err
	}
	_, err := txn.Commit(ctx)
	return err
}

// Unlink removes key and everything below it in a single-operation
// transaction.
func (s *Store) Unlink(ctx context.Context, key string) error {
	txn := s.NewTxn()
	if err := txn.Unlink(key); err != nil {
		return err
	}
	_, err := txn.Commit(ctx)
	return err
}

// Dir returns the distinct immediate child names under key. The empty key
// lists the namespace roots.
func (s *Store) Dir(ctx context.Context, key string) ([]string, error) {
	if key != "" && !ValidKey(key) {
		return nil, rpc.Errorf(rpc.ErrCodeInvalid, "invalid key %q", key)
	}

	prefix := prefixValue
	if key != "" {
		prefix = prefixValue + key + "."
	}

	iter := s.kv.NewIterator(&storage.IteratorOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if iter == nil {
		return nil, fmt.Errorf("kvs dir %s: store closed", key)
	}
	defer iter.Close()

	var names []string
	seen := make(map[string]bool)
	for ok := iter.First(); ok; ok = iter.Next() {
		rest := strings.TrimPrefix(string(iter.Key()), prefix)
		name, _, _ := strings.Cut(rest, ".")
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("kvs dir %s: %w", key, err)
	}
	return names, nil
}

// Watch returns a channel of updates for key and everything below it. The
// cancel func must be called to release the subscription. Watchers receive
// the commit sequence and re-read values themselves.
func (s *Store) Watch(key string) (<-chan SetRoot, func(), error) {
	if !ValidKey(key) {
		return nil, nil, rpc.Errorf(rpc.ErrCodeInvalid, "invalid key %q", key)
	}

	evCh, cancel := s.dispatcher.Subscribe(SetRootTopic)
	out := make(chan SetRoot)

	// Updates to a watcher that has not caught up coalesce: only the newest
	// matching SetRoot is held, so slow consumers skip intermediate roots
	// but always observe the latest one.
	go func() {
		defer close(out)
		var pending *SetRoot
		for {
			sendCh := chan SetRoot(nil)
			var send SetRoot
			if pending != nil {
				sendCh = out
				send = *pending
			}

			select {
			case ev, ok := <-evCh:
				if !ok {
					return
				}
				var sr SetRoot
				if err := json.Unmarshal(ev.Payload, &sr); err != nil {
					continue
				}
				if setRootMatches(sr, key) {
					pending = &sr
				}
			case sendCh <- send:
				pending = nil
			}
		}
	}()

	return out, cancel, nil
}

func setRootMatches(sr SetRoot, key string) bool {
	for _, changed := range sr.Keys {
		if changed == key || strings.HasPrefix(changed, key+".") {
			return true
		}
	}
	return false
}

type txnOp struct {
	key    string
	value  []byte
	unlink bool
}

// Txn accumulates puts and unlinks for one atomic commit.
type Txn struct {
	store *Store
	ops   []txnOp
}

// NewTxn starts an empty transaction.
func (s *Store) NewTxn() *Txn {
	return &Txn{store: s}
}

// Put schedules value to be stored at key.
func (t *Txn) Put(key string, value []byte) error {
	if !ValidKey(key) {
		return rpc.Errorf(rpc.ErrCodeInvalid, "invalid key %q", key)
	}
	t.ops = append(t.ops, txnOp{key: key, value: value})
	return nil
}

// Unlink schedules removal of key and its children.
func (t *Txn) Unlink(key string) error {
	if !ValidKey(key) {
		return rpc.Errorf(rpc.ErrCodeInvalid, "invalid key %q", key)
	}
	t.ops = append(t.ops, txnOp{key: key, unlink: true})
	return nil
}

// Len returns the number of scheduled operations.
func (t *Txn) Len() int {
	return len(t.ops)
}

// Commit applies the transaction atomically, advances the root sequence and
// publishes the setroot event. Returns the new root sequence.
func (t *Txn) Commit(ctx context.Context) (uint64, error) {
	if len(t.ops) == 0 {
		return t.store.RootSeq(), nil
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.kv.NewBatch()
	defer batch.Close()

	changed := make([]string, 0, len(t.ops))
	for _, op := range t.ops {
		if op.unlink {
			if err := s.unlinkInto(batch, op.key); err != nil {
				return 0, err
			}
		} else {
			if err := batch.Set([]byte(prefixValue+op.key), op.value); err != nil {
				return 0, fmt.Errorf("kvs txn put %s: %w", op.key, err)
			}
		}
		changed = append(changed, op.key)
	}

	seq := s.rootSeq + 1
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	if err := batch.Set([]byte(keyRootSeq), seqBuf[:]); err != nil {
		return 0, fmt.Errorf("kvs txn rootseq: %w", err)
	}

	if err := s.kv.CommitBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("kvs commit: %w", err)
	}
	s.rootSeq = seq
	t.ops = nil

	payload, _ := json.Marshal(SetRoot{Seq: seq, Keys: changed})
	if _, err := s.dispatcher.Publish(SetRootTopic, payload); err != nil {
		return seq, fmt.Errorf("kvs setroot publish: %w", err)
	}
	return seq, nil
}

// unlinkInto schedules deletion of key and all children into batch.
// Caller holds s.mu.
func (s *Store) unlinkInto(batch storage.Batch, key string) error {
	if err := batch.Delete([]byte(prefixValue + key)); err != nil {
		return fmt.Errorf("kvs txn unlink %s: %w", key, err)
	}

	prefix := prefixValue + key + "."
	iter := s.kv.NewIterator(&storage.IteratorOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if iter == nil {
		return fmt.Errorf("kvs txn unlink %s: store closed", key)
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		if err := batch.Delete(k); err != nil {
			return fmt.Errorf("kvs txn unlink %s: %w", key, err)
		}
	}
	return iter.Error()
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}
