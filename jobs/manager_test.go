package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmcore/events"
	"rmcore/kvs"
	"rmcore/logger"
	"rmcore/rpc"
	"rmcore/storage"
)

type testEnv struct {
	store      *kvs.Store
	dispatcher *events.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "jobs-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	kv, err := storage.NewPebbleKV(storage.TestPebbleConfig(filepath.Join(tmpDir, "db")))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	d := events.NewDispatcher()
	t.Cleanup(d.Close)

	store, err := kvs.NewStore(kv, d)
	require.NoError(t, err)
	return &testEnv{store: store, dispatcher: d}
}

func newTestManager(t *testing.T, env *testEnv, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithBatchTimeout(5 * time.Millisecond)}, opts...)
	m, err := NewManager(env.store, env.dispatcher, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestOperationLogsCarryJobID(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	var buf bytes.Buffer
	old := logger.Logger
	logger.Logger = logger.NewLogger(logger.Config{
		Level:  slog.LevelDebug,
		Format: "json",
		Writer: &buf,
	})
	defer func() { logger.Logger = old }()

	info, err := m.Submit(ctx, Spec{Name: "traced", Priority: 1})
	require.NoError(t, err)
	require.NoError(t, m.Finish(ctx, info.ID, 0))

	out := buf.String()
	assert.Contains(t, out, `"msg":"job submitted"`)
	assert.Contains(t, out, `"msg":"job finished"`)
	assert.Contains(t, out, `"job_id":"`+info.ID+`"`)
}

func TestSubmitRunsImmediately(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	info, err := m.Submit(ctx, Spec{Name: "sleep", Priority: 16})
	require.NoError(t, err)

	// With a free slot the submit chain runs through to RUN synchronously.
	assert.Equal(t, "RUN", info.State)
	assert.Equal(t, 16, info.Priority)
	assert.NotEmpty(t, info.ID)
}

func TestQueueingAndSlotRelease(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env, WithSlots(1))
	ctx := context.Background()

	first, err := m.Submit(ctx, Spec{Name: "first"})
	require.NoError(t, err)
	require.Equal(t, "RUN", first.State)

	second, err := m.Submit(ctx, Spec{Name: "second"})
	require.NoError(t, err)
	assert.Equal(t, "SCHED", second.State)

	require.NoError(t, m.Finish(ctx, first.ID, 0))

	info, _, err := m.Lookup(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "INACTIVE", info.State)

	info, _, err = m.Lookup(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUN", info.State)
}

func TestPriorityOrdering(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env, WithSlots(1))
	ctx := context.Background()

	runner, err := m.Submit(ctx, Spec{Name: "runner"})
	require.NoError(t, err)

	low, err := m.Submit(ctx, Spec{Name: "low", Priority: 1})
	require.NoError(t, err)
	high, err := m.Submit(ctx, Spec{Name: "high", Priority: 31})
	require.NoError(t, err)

	require.NoError(t, m.Finish(ctx, runner.ID, 0))

	info, _, err := m.Lookup(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUN", info.State, "higher priority job should be allocated first")

	info, _, err = m.Lookup(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, "SCHED", info.State)
}

func TestSetPriorityReorders(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env, WithSlots(1))
	ctx := context.Background()

	runner, err := m.Submit(ctx, Spec{Name: "runner"})
	require.NoError(t, err)

	a, err := m.Submit(ctx, Spec{Name: "a", Priority: 10})
	require.NoError(t, err)
	b, err := m.Submit(ctx, Spec{Name: "b", Priority: 5})
	require.NoError(t, err)

	// Bump b above a while both are queued.
	require.NoError(t, m.SetPriority(ctx, b.ID, 20))

	// Reprioritizing a running job is rejected.
	err = m.SetPriority(ctx, runner.ID, 1)
	assert.Error(t, err)

	require.NoError(t, m.Finish(ctx, runner.ID, 0))

	info, _, err := m.Lookup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUN", info.State)

	info, _, err = m.Lookup(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "SCHED", info.State)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	info, err := m.Submit(ctx, Spec{Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, info.ID, "user request"))

	got, log, err := m.Lookup(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "INACTIVE", got.State)

	var names []string
	for _, e := range log {
		names = append(names, e.Name)
	}
	assert.Equal(t,
		[]string{EventSubmit, EventDepend, EventPriority, EventAlloc, EventStart, EventException, EventClean},
		names)

	// Cancelling an inactive job fails.
	assert.Error(t, m.Cancel(ctx, info.ID, "again"))
}

func TestLookupUnknown(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)

	_, _, err := m.Lookup(context.Background(), "not-a-uuid")
	assert.Error(t, err)

	_, _, err = m.Lookup(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, rpc.IsNotFound(err))
}

func TestJournalPublished(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	ch, cancel := env.dispatcher.Subscribe(JournalTopic)
	defer cancel()

	info, err := m.Submit(ctx, Spec{Name: "watched"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		var journal Journal
		require.NoError(t, json.Unmarshal(ev.Payload, &journal))
		require.NotEmpty(t, journal.Transitions)

		// The whole submit chain lands in one batched journal event.
		var states []string
		for _, tr := range journal.Transitions {
			assert.Equal(t, info.ID, tr.ID)
			states = append(states, tr.State)
		}
		assert.Equal(t, []string{"DEPEND", "PRIORITY", "SCHED", "RUN"}, states)
	case <-time.After(time.Second):
		t.Fatal("no journal event received")
	}
}

func TestEventlogPersisted(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	info, err := m.Submit(ctx, Spec{Name: "durable"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := env.store.Get(ctx, "jobs."+info.ID+".eventlog")
		return err == nil
	}, time.Second, 10*time.Millisecond, "eventlog batch should be committed")

	raw, err := env.store.Get(ctx, "jobs."+info.ID+".eventlog")
	require.NoError(t, err)
	entries, err := decodeEventlog(raw)
	require.NoError(t, err)
	assert.Equal(t, EventSubmit, entries[0].Name)

	state, err := env.store.Get(ctx, "jobs."+info.ID+".state")
	require.NoError(t, err)
	assert.Equal(t, "RUN", string(state))
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m1, err := NewManager(env.store, env.dispatcher,
		WithSlots(1), WithBatchTimeout(5*time.Millisecond))
	require.NoError(t, err)

	running, err := m1.Submit(ctx, Spec{Name: "running"})
	require.NoError(t, err)
	queued, err := m1.Submit(ctx, Spec{Name: "queued"})
	require.NoError(t, err)
	done, err := m1.Submit(ctx, Spec{Name: "done"})
	require.NoError(t, err)
	require.NoError(t, m1.Cancel(ctx, done.ID, "cleanup before restart"))

	require.NoError(t, m1.Close(ctx))

	m2, err := NewManager(env.store, env.dispatcher,
		WithSlots(1), WithBatchTimeout(5*time.Millisecond))
	require.NoError(t, err)
	defer m2.Close(ctx)

	info, _, err := m2.Lookup(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUN", info.State)

	info, _, err = m2.Lookup(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "SCHED", info.State)

	info, _, err = m2.Lookup(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "INACTIVE", info.State)

	// The recovered running job still occupies the slot; finishing it lets
	// the recovered queued job run.
	require.NoError(t, m2.Finish(ctx, running.ID, 0))
	info, _, err = m2.Lookup(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUN", info.State)
}

func TestAutoFinish(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	info, err := m.Submit(ctx, Spec{Name: "timed", Duration: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, "RUN", info.State)

	require.Eventually(t, func() bool {
		got, _, err := m.Lookup(ctx, info.ID)
		return err == nil && got.State == "INACTIVE"
	}, time.Second, 10*time.Millisecond)
}

func TestListOrdered(t *testing.T) {
	env := newTestEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := m.Submit(ctx, Spec{Name: "n"})
		require.NoError(t, err)
		ids = append(ids, info.ID)
		time.Sleep(2 * time.Millisecond)
	}

	infos := m.List(ctx)
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, ids[i], info.ID)
	}
}
