package kvs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmcore/events"
	"rmcore/rpc"
	"rmcore/storage"
)

func newTestStore(t *testing.T) (*Store, *events.Dispatcher) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "kvs-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	kv, err := storage.NewPebbleKV(storage.TestPebbleConfig(filepath.Join(tmpDir, "db")))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	d := events.NewDispatcher()
	t.Cleanup(d.Close)

	store, err := NewStore(kv, d)
	require.NoError(t, err)
	return store, d
}

func TestPutGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "resource.r0.state", []byte("up")))

	val, err := store.Get(ctx, "resource.r0.state")
	require.NoError(t, err)
	assert.Equal(t, "up", string(val))
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, rpc.IsNotFound(err))
}

func TestInvalidKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", ".", "a..b", "a."} {
		assert.Error(t, store.Put(ctx, key, []byte("v")), "key %q", key)
		_, err := store.Get(ctx, key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestTxnCommitAtomicAndSequenced(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.Equal(t, uint64(0), store.RootSeq())

	txn := store.NewTxn()
	require.NoError(t, txn.Put("a.one", []byte("1")))
	require.NoError(t, txn.Put("a.two", []byte("2")))
	seq, err := txn.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(1), store.RootSeq())

	// Empty transaction does not advance the root.
	seq, err = store.NewTxn().Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	for key, want := range map[string]string{"a.one": "1", "a.two": "2"} {
		val, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, string(val))
	}
}

func TestUnlinkRemovesSubtree(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "jobs.j1.state", []byte("RUN")))
	require.NoError(t, store.Put(ctx, "jobs.j1.eventlog", []byte("...")))
	require.NoError(t, store.Put(ctx, "jobs.j2.state", []byte("NEW")))

	require.NoError(t, store.Unlink(ctx, "jobs.j1"))

	_, err := store.Get(ctx, "jobs.j1.state")
	assert.True(t, rpc.IsNotFound(err))
	_, err = store.Get(ctx, "jobs.j1.eventlog")
	assert.True(t, rpc.IsNotFound(err))

	// Sibling survives.
	_, err = store.Get(ctx, "jobs.j2.state")
	assert.NoError(t, err)
}

func TestDir(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "resource.r0.state", []byte("up")))
	require.NoError(t, store.Put(ctx, "resource.r0.rank", []byte("0")))
	require.NoError(t, store.Put(ctx, "resource.r1.state", []byte("down")))
	require.NoError(t, store.Put(ctx, "jobs.j1.state", []byte("NEW")))

	children, err := store.Dir(ctx, "resource")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r0", "r1"}, children)

	roots, err := store.Dir(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"resource", "jobs"}, roots)

	none, err := store.Dir(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetRootEventPublished(t *testing.T) {
	store, d := newTestStore(t)
	ctx := context.Background()

	ch, cancel := d.Subscribe(SetRootTopic)
	defer cancel()

	require.NoError(t, store.Put(ctx, "a.b", []byte("v")))

	select {
	case ev := <-ch:
		assert.Equal(t, SetRootTopic, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("no setroot event received")
	}
}

func TestWatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel, err := store.Watch("jobs.j1")
	require.NoError(t, err)
	defer cancel()

	// Unrelated commit should not wake the watcher.
	require.NoError(t, store.Put(ctx, "resource.r0.state", []byte("up")))
	// Matching commit (child of watched key) should.
	require.NoError(t, store.Put(ctx, "jobs.j1.state", []byte("RUN")))

	select {
	case sr := <-ch:
		assert.Contains(t, sr.Keys, "jobs.j1.state")
		assert.Equal(t, store.RootSeq(), sr.Seq)
	case <-time.After(time.Second):
		t.Fatal("watcher did not fire")
	}

	select {
	case sr := <-ch:
		t.Errorf("unexpected extra update: %+v", sr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchCoalescesToLatest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel, err := store.Watch("cfg")
	require.NoError(t, err)
	defer cancel()

	// Commit far more updates than any watcher buffer; a consumer that only
	// starts reading afterwards may skip intermediates but must still reach
	// the newest root sequence.
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Put(ctx, "cfg.value", []byte{byte(i)}))
	}
	latest := store.RootSeq()

	deadline := time.After(2 * time.Second)
	var prev uint64
	for {
		select {
		case sr := <-ch:
			assert.Greater(t, sr.Seq, prev, "sequences must advance")
			prev = sr.Seq
			if sr.Seq == latest {
				return
			}
		case <-deadline:
			t.Fatalf("never observed latest root seq %d (got to %d)", latest, prev)
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.b", []byte("v")))

	cp, err := store.PutCheckpoint(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cp.RootSeq)

	got, err := store.GetCheckpoint(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, cp.Name, got.Name)
	assert.Equal(t, cp.RootSeq, got.RootSeq)

	_, err = store.GetCheckpoint(ctx, "missing")
	assert.True(t, rpc.IsNotFound(err))
}

func TestRootSeqRecovery(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kvs-recover-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "db")
	d := events.NewDispatcher()
	defer d.Close()

	kv, err := storage.NewPebbleKV(storage.TestPebbleConfig(path))
	require.NoError(t, err)
	store, err := NewStore(kv, d)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a.b", []byte("1")))
	require.NoError(t, store.Put(ctx, "a.c", []byte("2")))
	require.Equal(t, uint64(2), store.RootSeq())
	require.NoError(t, kv.Close())

	kv2, err := storage.NewPebbleKV(storage.TestPebbleConfig(path))
	require.NoError(t, err)
	defer kv2.Close()

	store2, err := NewStore(kv2, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), store2.RootSeq())

	val, err := store2.Get(ctx, "a.b")
	require.NoError(t, err)
	assert.Equal(t, "1", string(val))
}
