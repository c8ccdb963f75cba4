package turns

import (
	"context"
	"fmt"
)

// Handle is a caller-facing reference to one enqueued task. It carries
// the creation snapshot, so the submitted state is observable even
// when the worker finishes the task before the caller looks.
type Handle struct {
	store              *Store
	taskID             string
	contextID          string
	created            Snapshot
	startedImmediately bool
}

// TaskID returns the task's id.
func (h *Handle) TaskID() string { return h.taskID }

// ContextID returns the task's context id.
func (h *Handle) ContextID() string { return h.contextID }

// Created returns the snapshot taken at enqueue time, always in the
// submitted state.
func (h *Handle) Created() Snapshot { return h.created }

// StartedImmediately reports whether the task was at the head of its
// context's queue when enqueued, i.e. did not wait behind earlier
// tasks.
func (h *Handle) StartedImmediately() bool { return h.startedImmediately }

// Snapshot returns the task's current snapshot. After garbage
// collection the error wraps ErrUnknownTask.
func (h *Handle) Snapshot() (Snapshot, error) {
	snap, ok := h.store.Snapshot(h.taskID)
	if !ok {
		return Snapshot{}, fmt.Errorf("task %q: %w", h.taskID, ErrUnknownTask)
	}
	return snap, nil
}

// WaitForStarted blocks until the task has left the submitted state.
func (h *Handle) WaitForStarted(ctx context.Context) (Snapshot, error) {
	return h.store.WaitFor(ctx, h.taskID, func(s Snapshot) bool {
		return s.State != StateSubmitted
	})
}

// WaitForTerminal blocks until the task completed or failed.
func (h *Handle) WaitForTerminal(ctx context.Context) (Snapshot, error) {
	return h.store.WaitFor(ctx, h.taskID, func(s Snapshot) bool {
		return s.State.Terminal()
	})
}
