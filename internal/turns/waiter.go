package turns

import (
	"context"
	"sync"
)

// EventWaiter adapts the push event bus to a pull interface for stream
// consumers. Attach it before enqueueing, then Bind it to the task id:
// every event for that task, including the created event emitted
// during the enqueue, is buffered in order and returned by Next.
type EventWaiter struct {
	mu     sync.Mutex
	taskID string
	buf    []Event

	wake   chan struct{}
	closed chan struct{}
	unsub  func()
	once   sync.Once
}

// NewEventWaiter subscribes to the store's event bus. Until Bind is
// called, events for every task are buffered.
func NewEventWaiter(store *Store) *EventWaiter {
	w := &EventWaiter{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	w.unsub = store.OnEvent(w.push)
	return w
}

// Bind narrows the waiter to one task id, dropping buffered events for
// other tasks. Call it with the id returned by EnqueueTurn.
func (w *EventWaiter) Bind(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.taskID = taskID
	kept := w.buf[:0]
	for _, ev := range w.buf {
		if ev.Task.ID == taskID {
			kept = append(kept, ev)
		}
	}
	w.buf = kept
}

func (w *EventWaiter) push(ev Event) {
	w.mu.Lock()
	if w.taskID != "" && ev.Task.ID != w.taskID {
		w.mu.Unlock()
		return
	}
	w.buf = append(w.buf, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Next returns the next buffered event in emission order. It blocks
// until an event arrives, the context is done, or the waiter is
// closed; ok is false once the waiter is closed and drained.
func (w *EventWaiter) Next(ctx context.Context) (ev Event, ok bool, err error) {
	for {
		w.mu.Lock()
		if len(w.buf) > 0 {
			ev = w.buf[0]
			w.buf = w.buf[1:]
			w.mu.Unlock()
			return ev, true, nil
		}
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		case <-w.closed:
			w.mu.Lock()
			if len(w.buf) > 0 {
				ev = w.buf[0]
				w.buf = w.buf[1:]
				w.mu.Unlock()
				return ev, true, nil
			}
			w.mu.Unlock()
			return Event{}, false, nil
		}
	}
}

// Close detaches the waiter from the bus. Buffered events remain
// readable; afterwards Next reports ok=false.
func (w *EventWaiter) Close() {
	w.once.Do(func() {
		w.unsub()
		close(w.closed)
	})
}
