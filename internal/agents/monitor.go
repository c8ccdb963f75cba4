package agents

import (
	"github.com/lectic-ai/lectic/internal/turns"
)

// Monitor is the optional observability capability of an agent. The
// gateway type-asserts for it instead of probing methods, so a handler
// either exposes the whole monitoring surface or none of it.
type Monitor interface {
	AgentName() string
	ContextIDs() []string
	TaskSnapshots(contextID string) []turns.Snapshot
	TaskSnapshot(taskID string) (turns.Snapshot, bool)
	OnTaskEvent(fn func(turns.Event)) func()
}

var _ Monitor = (*Handler)(nil)

// AgentName returns the interlocutor name the handler serves.
func (h *Handler) AgentName() string { return h.name }

// ContextIDs lists contexts with retained tasks, discovery order.
func (h *Handler) ContextIDs() []string { return h.store.ContextIDs() }

// TaskSnapshots lists retained tasks, optionally scoped to a context.
func (h *Handler) TaskSnapshots(contextID string) []turns.Snapshot {
	return h.store.Snapshots(contextID)
}

// TaskSnapshot reads one task.
func (h *Handler) TaskSnapshot(taskID string) (turns.Snapshot, bool) {
	return h.store.Snapshot(taskID)
}

// OnTaskEvent subscribes to the store's live feed; the returned
// disposer detaches.
func (h *Handler) OnTaskEvent(fn func(turns.Event)) func() {
	return h.store.OnEvent(fn)
}
