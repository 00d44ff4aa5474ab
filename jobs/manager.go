// Package jobs implements the job manager: a state machine driven by
// eventlog events, persisted in the KVS and announced on the event bus.
//
// Every posted event appends an entry to the job's eventlog. For throughput,
// eventlog writes are not committed one at a time: posts accumulate in a
// batch that a short timer flushes as a single KVS transaction, and the
// state transitions observed in that batch are published together as one
// job-state event. A KVS commit failure is fatal to the manager.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rmcore/events"
	"rmcore/kvs"
	"rmcore/logger"
	"rmcore/rpc"
)

const (
	// DefaultBatchTimeout bounds how long a posted event waits before its
	// eventlog batch is committed.
	DefaultBatchTimeout = 10 * time.Millisecond

	// DefaultSlots is the default number of concurrently running jobs.
	DefaultSlots = 4

	// JournalTopic is the event topic carrying batched state transitions.
	JournalTopic = "job-state"

	kvsRoot = "jobs"
)

// Spec describes a job at submission.
type Spec struct {
	Name     string        `json:"name,omitempty"`
	Priority int           `json:"priority"`
	Duration time.Duration `json:"duration,omitempty"` // >0: complete automatically after Duration
}

// Info is the externally visible snapshot of a job.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	State     string    `json:"state"`
	Priority  int       `json:"priority"`
	Submitted time.Time `json:"submitted"`
}

// Transition records one state change for the journal.
type Transition struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	State string `json:"state"`
}

// Journal is the payload of a JournalTopic event.
type Journal struct {
	Transitions []Transition `json:"transitions"`
}

type job struct {
	id        uuid.UUID
	spec      Spec
	state     State
	priority  int
	submitted time.Time
	eventlog  []LogEntry
	specDirty bool
}

func (j *job) info() Info {
	return Info{
		ID:        j.id.String(),
		Name:      j.spec.Name,
		State:     j.state.String(),
		Priority:  j.priority,
		Submitted: j.submitted,
	}
}

type batch struct {
	dirty       map[uuid.UUID]*job
	transitions []Transition
}

// Option configures a Manager.
type Option func(*Manager)

// WithSlots sets the number of jobs that may run concurrently.
func WithSlots(n int) Option {
	return func(m *Manager) { m.slots = n }
}

// WithBatchTimeout sets the eventlog commit batching window.
func WithBatchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.batchTimeout = d }
}

// Manager owns all job state.
type Manager struct {
	store      *kvs.Store
	dispatcher *events.Dispatcher

	slots        int
	batchTimeout time.Duration

	mu      sync.Mutex
	jobs    map[uuid.UUID]*job
	queue   []*job
	running map[uuid.UUID]bool
	timers  map[uuid.UUID]*time.Timer

	batch      *batch
	batchTimer *time.Timer

	errCh  chan error
	closed bool
}

// NewManager creates a job manager backed by store, recovering any jobs a
// previous instance persisted.
func NewManager(store *kvs.Store, dispatcher *events.Dispatcher, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:        store,
		dispatcher:   dispatcher,
		slots:        DefaultSlots,
		batchTimeout: DefaultBatchTimeout,
		jobs:         make(map[uuid.UUID]*job),
		running:      make(map[uuid.UUID]bool),
		timers:       make(map[uuid.UUID]*time.Timer),
		errCh:        make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.slots < 1 {
		return nil, fmt.Errorf("job manager requires at least one slot")
	}

	if err := m.recover(context.Background()); err != nil {
		return nil, fmt.Errorf("job manager recovery: %w", err)
	}
	return m, nil
}

// Err delivers a fatal error (a failed eventlog commit) at most once.
func (m *Manager) Err() <-chan error {
	return m.errCh
}

// Submit creates a job from spec and posts its submit event. The returned
// Info reflects the job's state after all immediate transitions.
func (m *Manager) Submit(ctx context.Context, spec Spec) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Info{}, rpc.Errorf(rpc.ErrCodeInternal, "job manager closed")
	}

	j := &job{
		id:        uuid.New(),
		spec:      spec,
		state:     StateNew,
		priority:  spec.Priority,
		submitted: time.Now().UTC(),
		specDirty: true,
	}
	m.jobs[j.id] = j

	if err := m.post(j, EventSubmit, map[string]any{"priority": j.priority}); err != nil {
		delete(m.jobs, j.id)
		return Info{}, err
	}
	logger.InfoContext(jobContext(ctx, j.id), "job submitted",
		"name", spec.Name, "priority", j.priority, "state", j.state.String())
	return j.info(), nil
}

// jobContext tags ctx with the job ID so context-aware log calls carry it.
func jobContext(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, logger.JobIDKey, id.String())
}

// Cancel raises a fatal exception on the job, moving it to CLEANUP.
func (m *Manager) Cancel(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !j.state.Active() {
		return rpc.Errorf(rpc.ErrCodeInvalid, "job %s is inactive", id)
	}
	if err := m.post(j, EventException, map[string]any{
		"type": "cancel",
		"note": reason,
	}); err != nil {
		return err
	}
	logger.InfoContext(jobContext(ctx, j.id), "job cancelled", "reason", reason)
	return nil
}

// Finish completes a running job with the given status.
func (m *Manager) Finish(ctx context.Context, id string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.post(j, EventFinish, map[string]any{"status": status}); err != nil {
		return err
	}
	logger.InfoContext(jobContext(ctx, j.id), "job finished", "status", status)
	return nil
}

// SetPriority reorders a queued job. Only jobs waiting for allocation can be
// reprioritized.
func (m *Manager) SetPriority(ctx context.Context, id string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(id)
	if err != nil {
		return err
	}
	if j.state != StateSched {
		return rpc.Errorf(rpc.ErrCodeInvalid,
			"priority of job %s cannot change in state %s", id, j.state)
	}
	j.priority = priority
	if err := m.post(j, EventPriority, map[string]any{"priority": priority}); err != nil {
		return err
	}
	logger.DebugContext(jobContext(ctx, j.id), "job priority changed", "priority", priority)
	return nil
}

// List returns all jobs ordered by submission time.
func (m *Manager) List(ctx context.Context) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.jobs))
	for _, j := range m.jobs {
		infos = append(infos, j.info())
	}
	sort.Slice(infos, func(a, b int) bool {
		if infos[a].Submitted.Equal(infos[b].Submitted) {
			return infos[a].ID < infos[b].ID
		}
		return infos[a].Submitted.Before(infos[b].Submitted)
	})
	return infos
}

// Lookup returns a job's snapshot and its full eventlog.
func (m *Manager) Lookup(ctx context.Context, id string) (Info, []LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(id)
	if err != nil {
		return Info{}, nil, err
	}
	log := make([]LogEntry, len(j.eventlog))
	copy(log, j.eventlog)
	return j.info(), log, nil
}

// Close flushes any batched eventlog updates and stops the manager.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
	}
	return m.flushLocked(ctx)
}

func (m *Manager) lookup(id string) (*job, error) {
	jid, err := uuid.Parse(id)
	if err != nil {
		return nil, rpc.Errorf(rpc.ErrCodeInvalid, "invalid job id %q", id)
	}
	j, ok := m.jobs[jid]
	if !ok {
		return nil, rpc.Errorf(rpc.ErrCodeNotFound, "no such job: %s", id)
	}
	return j, nil
}

// post appends an event to the job's eventlog and drives the state machine.
// State entry actions may post further events into the same batch. Caller
// holds m.mu.
func (m *Manager) post(j *job, event string, eventCtx map[string]any) error {
	if m.closed {
		return rpc.Errorf(rpc.ErrCodeInternal, "job manager closed")
	}
	next, err := nextState(j.state, event)
	if err != nil {
		return err
	}

	j.eventlog = append(j.eventlog, newLogEntry(event, eventCtx))
	m.addToBatch(j, event, next)

	if next != j.state {
		prev := j.state
		j.state = next
		logger.DebugContext(jobContext(context.Background(), j.id),
			"job state transition", "event", event,
			"from", prev.String(), "to", next.String())
		m.onStateEntry(j)
	}
	return nil
}

// onStateEntry takes the action associated with entering a state. Actions
// are idempotent with respect to the job's current state. Caller holds m.mu.
func (m *Manager) onStateEntry(j *job) {
	switch j.state {
	case StateDepend:
		// No dependency system; release immediately.
		_ = m.post(j, EventDepend, nil)
	case StatePriority:
		_ = m.post(j, EventPriority, map[string]any{"priority": j.priority})
	case StateSched:
		m.queue = append(m.queue, j)
		m.grant()
	case StateRun:
		_ = m.post(j, EventStart, nil)
		if j.spec.Duration > 0 {
			id := j.id
			m.timers[id] = time.AfterFunc(j.spec.Duration, func() {
				if err := m.Finish(context.Background(), id.String(), 0); err != nil {
					logger.WarnContext(jobContext(context.Background(), id),
						"auto-finish failed", "error", err)
				}
			})
		}
	case StateCleanup:
		m.dequeue(j)
		if m.running[j.id] {
			delete(m.running, j.id)
		}
		if t, ok := m.timers[j.id]; ok {
			t.Stop()
			delete(m.timers, j.id)
		}
		_ = m.post(j, EventClean, nil)
	case StateInactive:
		m.grant()
	}
}

// grant allocates free slots to the highest-priority queued jobs. Caller
// holds m.mu.
func (m *Manager) grant() {
	sort.SliceStable(m.queue, func(a, b int) bool {
		if m.queue[a].priority != m.queue[b].priority {
			return m.queue[a].priority > m.queue[b].priority
		}
		return m.queue[a].submitted.Before(m.queue[b].submitted)
	})

	for len(m.running) < m.slots && len(m.queue) > 0 {
		j := m.queue[0]
		m.queue = m.queue[1:]
		m.running[j.id] = true
		_ = m.post(j, EventAlloc, nil)
	}
}

func (m *Manager) dequeue(j *job) {
	for i, queued := range m.queue {
		if queued.id == j.id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// addToBatch records a dirty job and, if the event changed state, the
// transition for the journal. Arms the flush timer on first use. Caller
// holds m.mu.
func (m *Manager) addToBatch(j *job, event string, next State) {
	if m.batch == nil {
		m.batch = &batch{dirty: make(map[uuid.UUID]*job)}
		if !m.closed {
			m.batchTimer = time.AfterFunc(m.batchTimeout, m.flushTimerFired)
		}
	}
	m.batch.dirty[j.id] = j
	if next != j.state {
		m.batch.transitions = append(m.batch.transitions, Transition{
			ID:    j.id.String(),
			Event: event,
			State: next.String(),
		})
	}
}

func (m *Manager) flushTimerFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flushLocked(context.Background()); err != nil {
		// An eventlog commit failure is fatal to the manager.
		m.closed = true
		select {
		case m.errCh <- err:
		default:
		}
		logger.Error("eventlog commit failed, job manager stopped", "error", err)
	}
}

// flushLocked commits the pending batch as one KVS transaction and publishes
// the accumulated state transitions as a single journal event.
func (m *Manager) flushLocked(ctx context.Context) error {
	b := m.batch
	if b == nil {
		return nil
	}
	m.batch = nil
	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
	}

	txn := m.store.NewTxn()
	for _, j := range b.dirty {
		log, err := encodeEventlog(j.eventlog)
		if err != nil {
			return err
		}
		base := kvsRoot + "." + j.id.String()
		if err := txn.Put(base+".eventlog", log); err != nil {
			return err
		}
		if err := txn.Put(base+".state", []byte(j.state.String())); err != nil {
			return err
		}
		if j.specDirty {
			spec, err := json.Marshal(j.spec)
			if err != nil {
				return fmt.Errorf("encode job spec: %w", err)
			}
			if err := txn.Put(base+".spec", spec); err != nil {
				return err
			}
			j.specDirty = false
		}
	}

	if _, err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("eventlog batch commit: %w", err)
	}

	if len(b.transitions) > 0 {
		payload, err := json.Marshal(Journal{Transitions: b.transitions})
		if err != nil {
			return fmt.Errorf("encode journal: %w", err)
		}
		if _, err := m.dispatcher.Publish(JournalTopic, payload); err != nil {
			return fmt.Errorf("journal publish: %w", err)
		}
	}
	return nil
}

// recover rebuilds jobs persisted by a previous instance by replaying their
// eventlogs, then resumes scheduling.
func (m *Manager) recover(ctx context.Context) error {
	ids, err := m.store.Dir(ctx, kvsRoot)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range ids {
		id, err := uuid.Parse(name)
		if err != nil {
			logger.Warn("skipping unparseable job entry", "key", name)
			continue
		}
		j, err := m.recoverJob(ctx, id)
		if err != nil {
			return fmt.Errorf("recover job %s: %w", id, err)
		}
		m.jobs[id] = j

		switch j.state {
		case StateSched:
			m.queue = append(m.queue, j)
		case StateRun:
			m.running[id] = true
			if j.spec.Duration > 0 {
				// Remaining runtime is unknown after restart; grant the
				// full duration again.
				jid := id
				m.timers[jid] = time.AfterFunc(j.spec.Duration, func() {
					_ = m.Finish(context.Background(), jid.String(), 0)
				})
			}
		case StateCleanup:
			_ = m.post(j, EventClean, nil)
		}
	}

	if len(m.jobs) > 0 {
		logger.Info("recovered jobs", "count", len(m.jobs))
	}
	m.grant()
	return nil
}

func (m *Manager) recoverJob(ctx context.Context, id uuid.UUID) (*job, error) {
	base := kvsRoot + "." + id.String()

	rawSpec, err := m.store.Get(ctx, base+".spec")
	if err != nil {
		return nil, err
	}
	var spec Spec
	if err := json.Unmarshal(rawSpec, &spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}

	rawLog, err := m.store.Get(ctx, base+".eventlog")
	if err != nil {
		return nil, err
	}
	entries, err := decodeEventlog(rawLog)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty eventlog")
	}

	j := &job{
		id:        id,
		spec:      spec,
		state:     StateNew,
		priority:  spec.Priority,
		submitted: time.Unix(0, int64(entries[0].Timestamp*1e9)).UTC(),
		eventlog:  entries,
	}
	for _, e := range entries {
		next, err := nextState(j.state, e.Name)
		if err != nil {
			return nil, fmt.Errorf("replay event %q: %w", e.Name, err)
		}
		j.state = next
		if e.Name == EventPriority && e.Context != nil {
			if p, ok := e.Context["priority"].(float64); ok {
				j.priority = int(p)
			}
		}
	}
	return j, nil
}
