package turns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrUnknownTask is returned when a task id was never issued or its
// record has been garbage collected.
var ErrUnknownTask = errors.New("unknown task")

// DefaultMaxTasksPerContext bounds retained task records per context
// when Options.MaxTasksPerContext is zero.
const DefaultMaxTasksPerContext = 50

// Options tunes a Store. Zero values select production defaults; the
// function fields exist as test seams.
type Options struct {
	// MaxTasksPerContext caps retained records per context; once
	// exceeded, the oldest terminal tasks are pruned.
	MaxTasksPerContext int
	// Clock supplies timestamps. Defaults to time.Now in UTC.
	Clock func() time.Time
	// NewTaskID issues task ids. Defaults to ULIDs.
	NewTaskID func() string
	// NewMessageID issues message ids. Defaults to UUIDs.
	NewMessageID func() string
}

// Store schedules and tracks turn tasks. Tasks in the same context run
// strictly one at a time in enqueue order; tasks in distinct contexts
// run concurrently. All reads return immutable snapshots.
type Store struct {
	run    TurnFunc
	maxPer int

	now          func() time.Time
	newTaskID    func() string
	newMessageID func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	tasks        map[string]*task
	contexts     map[string]*contextState
	contextOrder []string
	listeners    map[int]*listener
	nextListener int
	closed       bool
}

// contextState is per-context bookkeeping. retained holds every live
// record id oldest-first (the GC prunes its head); queue holds ids not
// yet finished, head is the running or next task.
type contextState struct {
	retained []string
	queue    []string
	active   bool
}

// NewStore builds a Store that executes each task by calling run.
func NewStore(run TurnFunc, opts Options) *Store {
	s := &Store{
		run:          run,
		maxPer:       opts.MaxTasksPerContext,
		now:          opts.Clock,
		newTaskID:    opts.NewTaskID,
		newMessageID: opts.NewMessageID,
		tasks:        make(map[string]*task),
		contexts:     make(map[string]*contextState),
		listeners:    make(map[int]*listener),
	}
	if s.maxPer <= 0 {
		s.maxPer = DefaultMaxTasksPerContext
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newTaskID == nil {
		s.newTaskID = func() string { return ulid.Make().String() }
	}
	if s.newMessageID == nil {
		s.newMessageID = uuid.NewString
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Close cancels in-flight turns and detaches all listeners. Workers
// drain their queues (turn functions observe the cancelled context and
// fail fast); further EnqueueTurn calls still record tasks but their
// turns fail immediately.
func (s *Store) Close() {
	s.cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detached := make([]*listener, 0, len(s.listeners))
	for id, l := range s.listeners {
		detached = append(detached, l)
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	for _, l := range detached {
		l.stop()
	}
}

// EnqueueTurn records a new submitted task for contextID and schedules
// it behind any earlier tasks of the same context. The created event is
// queued to every listener before EnqueueTurn returns.
func (s *Store) EnqueueTurn(contextID, userText string) *Handle {
	s.mu.Lock()
	now := s.now()
	t := &task{
		id:            s.newTaskID(),
		contextID:     contextID,
		state:         StateSubmitted,
		createdAt:     now,
		updatedAt:     now,
		userText:      userText,
		userMessageID: s.newMessageID(),
	}
	s.tasks[t.id] = t

	cs := s.contexts[contextID]
	if cs == nil {
		cs = &contextState{}
		s.contexts[contextID] = cs
		s.contextOrder = append(s.contextOrder, contextID)
	}
	cs.retained = append(cs.retained, t.id)
	cs.queue = append(cs.queue, t.id)
	startedImmediately := !cs.active && len(cs.queue) == 1

	created := t.snapshot()
	s.emitLocked(Event{Kind: EventCreated, Task: created, PrevState: StateSubmitted})
	if !cs.active {
		cs.active = true
		go s.worker(contextID)
	}
	s.gcLocked(contextID, cs)
	s.mu.Unlock()

	return &Handle{
		store:              s,
		taskID:             t.id,
		contextID:          contextID,
		created:            created,
		startedImmediately: startedImmediately,
	}
}

// worker drains one context's queue. Exactly one worker goroutine runs
// per context while its queue is non-empty.
func (s *Store) worker(contextID string) {
	for {
		s.mu.Lock()
		cs := s.contexts[contextID]
		if cs == nil {
			s.mu.Unlock()
			return
		}
		if len(cs.queue) == 0 {
			cs.active = false
			s.mu.Unlock()
			return
		}
		id := cs.queue[0]
		t := s.tasks[id]
		if t == nil {
			cs.queue = cs.queue[1:]
			s.mu.Unlock()
			continue
		}
		if t.state == StateSubmitted {
			started := s.now()
			t.state = StateWorking
			t.startedAt = &started
			t.updatedAt = started
			s.notifyLocked(t, StateSubmitted)
		}
		turn := Turn{
			TaskID:    id,
			ContextID: contextID,
			UserText:  t.userText,
			OnChunk:   func(text string) { s.appendChunk(id, text) },
		}
		runCtx := s.ctx
		s.mu.Unlock()

		err := s.invoke(runCtx, turn)

		s.mu.Lock()
		ended := s.now()
		prev := t.state
		if err != nil {
			t.state = StateFailed
			t.errText = err.Error()
		} else {
			t.state = StateCompleted
		}
		t.endedAt = &ended
		t.updatedAt = ended
		s.notifyLocked(t, prev)
		if cs := s.contexts[contextID]; cs != nil && len(cs.queue) > 0 && cs.queue[0] == id {
			cs.queue = cs.queue[1:]
			s.gcLocked(contextID, cs)
		}
		s.mu.Unlock()
	}
}

// invoke runs the turn function, converting a panic into a failure so
// one bad turn never kills a context's worker.
func (s *Store) invoke(ctx context.Context, turn Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn panicked", "context", turn.ContextID, "panic", r)
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()
	return s.run(ctx, turn)
}

// appendChunk records one unit of agent output for a working task and
// pairs it with a fresh message id. Calls for tasks that already left
// working are dropped.
func (s *Store) appendChunk(taskID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[taskID]
	if t == nil || t.state != StateWorking {
		return
	}
	t.chunks = append(t.chunks, text)
	t.agentMessageIDs = append(t.agentMessageIDs, s.newMessageID())
	t.finalText = text
	t.updatedAt = s.now()
	s.notifyLocked(t, StateWorking)
}

// notifyLocked emits an updated event for t and resolves any waiters
// whose predicate is now satisfied. Caller holds s.mu.
func (s *Store) notifyLocked(t *task, prev State) {
	snap := t.snapshot()
	s.emitLocked(Event{
		Kind:         EventUpdated,
		Task:         snap,
		PrevState:    prev,
		StateChanged: prev != t.state,
	})
	if len(t.waiters) == 0 {
		return
	}
	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if w.pred(snap) {
			w.resolve(snap)
		} else {
			remaining = append(remaining, w)
		}
	}
	t.waiters = remaining
}

// Snapshot returns a copy of the task record, or false if the id is
// unknown or collected.
func (s *Store) Snapshot(taskID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[taskID]
	if t == nil {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// HasTask reports whether the id names a live record.
func (s *Store) HasTask(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID] != nil
}

// ContextIDs lists contexts holding at least one retained task, in the
// order they were first seen.
func (s *Store) ContextIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.contextOrder))
	for _, id := range s.contextOrder {
		if cs := s.contexts[id]; cs != nil && len(cs.retained) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// TaskIDs lists a context's retained task ids, oldest first.
func (s *Store) TaskIDs(contextID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.contexts[contextID]
	if cs == nil {
		return nil
	}
	return append([]string(nil), cs.retained...)
}

// Snapshots returns retained task snapshots oldest-first for one
// context, or for every context in discovery order when contextID is
// empty.
func (s *Store) Snapshots(contextID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	ids := s.contextOrder
	if contextID != "" {
		ids = []string{contextID}
	}
	for _, ctxID := range ids {
		cs := s.contexts[ctxID]
		if cs == nil {
			continue
		}
		for _, taskID := range cs.retained {
			if t := s.tasks[taskID]; t != nil {
				out = append(out, t.snapshot())
			}
		}
	}
	return out
}

// WaitFor blocks until pred holds for the task's snapshot, the context
// is done, or the record disappears. The current snapshot is tested
// first, so a wakeup is never missed. Waiters on a record pruned by GC
// fail with ErrUnknownTask.
func (s *Store) WaitFor(ctx context.Context, taskID string, pred func(Snapshot) bool) (Snapshot, error) {
	s.mu.Lock()
	t := s.tasks[taskID]
	if t == nil {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("wait for task %q: %w", taskID, ErrUnknownTask)
	}
	snap := t.snapshot()
	if pred(snap) {
		s.mu.Unlock()
		return snap, nil
	}
	w := &waiter{pred: pred, ch: make(chan waitResult, 1)}
	t.waiters = append(t.waiters, w)
	s.mu.Unlock()

	select {
	case res := <-w.ch:
		return res.snap, res.err
	case <-ctx.Done():
		s.dropWaiter(taskID, w)
		// A resolution may have raced the cancellation.
		select {
		case res := <-w.ch:
			return res.snap, res.err
		default:
		}
		return Snapshot{}, ctx.Err()
	}
}

func (s *Store) dropWaiter(taskID string, target *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[taskID]
	if t == nil {
		return
	}
	for i, w := range t.waiters {
		if w == target {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// OnEvent registers a listener and returns its disposer. Each listener
// receives every subsequent store event exactly once, in emission
// order, on a dedicated delivery goroutine; a slow or re-entrant
// listener never blocks the store.
func (s *Store) OnEvent(fn func(Event)) func() {
	l := newListener(fn)
	go l.loop()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.stop()
		return func() {}
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			l.stop()
		})
	}
}

// emitLocked appends ev to every listener queue. Caller holds s.mu,
// which defines the global event order all listeners agree on.
func (s *Store) emitLocked(ev Event) {
	for _, l := range s.listeners {
		l.push(ev)
	}
}

// gcLocked prunes the oldest terminal tasks of a context while more
// than maxPer records are retained. It stops at the first non-terminal
// record, so a running or queued task is never collected and the
// surviving set stays a suffix of the retention order. Caller holds
// s.mu.
func (s *Store) gcLocked(contextID string, cs *contextState) {
	for len(cs.retained) > s.maxPer {
		oldest := s.tasks[cs.retained[0]]
		if oldest == nil {
			cs.retained = cs.retained[1:]
			continue
		}
		if !oldest.state.Terminal() {
			return
		}
		cs.retained = cs.retained[1:]
		delete(s.tasks, oldest.id)
		for _, w := range oldest.waiters {
			w.fail(fmt.Errorf("wait for task %q: %w", oldest.id, ErrUnknownTask))
		}
		oldest.waiters = nil
	}
	if len(cs.retained) == 0 && len(cs.queue) == 0 && !cs.active {
		delete(s.contexts, contextID)
		for i, id := range s.contextOrder {
			if id == contextID {
				s.contextOrder = append(s.contextOrder[:i], s.contextOrder[i+1:]...)
				break
			}
		}
	}
}

// waiter is one blocked WaitFor call.
type waiter struct {
	pred func(Snapshot) bool
	ch   chan waitResult
}

type waitResult struct {
	snap Snapshot
	err  error
}

func (w *waiter) resolve(snap Snapshot) {
	select {
	case w.ch <- waitResult{snap: snap}:
	default:
	}
}

func (w *waiter) fail(err error) {
	select {
	case w.ch <- waitResult{err: err}:
	default:
	}
}

// listener owns one subscriber's FIFO delivery queue.
type listener struct {
	fn   func(Event)
	mu   sync.Mutex
	buf  []Event
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newListener(fn func(Event)) *listener {
	return &listener{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *listener) push(ev Event) {
	l.mu.Lock()
	l.buf = append(l.buf, ev)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *listener) loop() {
	for {
		l.mu.Lock()
		pending := l.buf
		l.buf = nil
		l.mu.Unlock()
		for _, ev := range pending {
			l.deliver(ev)
		}
		if len(pending) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-l.done:
			return
		}
	}
}

func (l *listener) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "task", ev.Task.ID, "panic", r)
		}
	}()
	l.fn(ev)
}
