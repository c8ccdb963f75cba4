// Package turns implements the turn-task engine: per-context FIFO
// scheduling of conversational turns, lifecycle tracking, snapshot
// reads, blocking waits, an event bus, and garbage collection of
// completed history.
package turns

import (
	"context"
	"time"
)

// State is the lifecycle state of a turn task.
type State string

const (
	StateSubmitted State = "submitted"
	StateWorking   State = "working"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is an immutable point-in-time copy of a task record. Slices
// are copies; mutating them never affects the store.
type Snapshot struct {
	ID        string     `json:"id"`
	ContextID string     `json:"context_id"`
	State     State      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	UserText      string `json:"user_text"`
	UserMessageID string `json:"user_message_id"`

	// Chunks and AgentMessageIDs are index-paired: one generated message
	// id per chunk reported during execution.
	Chunks          []string `json:"chunks"`
	AgentMessageIDs []string `json:"agent_message_ids"`
	FinalText       string   `json:"final_text"`

	Error string `json:"error,omitempty"`
}

// Turn is the unit of work handed to a TurnFunc. OnChunk reports one
// unit of incrementally produced agent output; it is safe to call from
// the turn's own goroutine and is a no-op once the task left working.
type Turn struct {
	TaskID    string
	ContextID string
	UserText  string
	OnChunk   func(text string)
}

// TurnFunc performs one conversational turn. It returns nil on success
// (having called OnChunk zero or more times) or an error on failure.
// The function may block, call a model backend and persist a
// transcript; the store treats it as opaque.
type TurnFunc func(ctx context.Context, turn Turn) error

// EventKind discriminates task events.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event is an immutable notification describing a task creation or
// mutation. For updated events PrevState holds the state before the
// mutation and StateChanged reports whether the state moved.
type Event struct {
	Kind         EventKind `json:"kind"`
	Task         Snapshot  `json:"task"`
	PrevState    State     `json:"prev_state,omitempty"`
	StateChanged bool      `json:"state_changed,omitempty"`
}

// task is the store-owned mutable record backing snapshots.
type task struct {
	id        string
	contextID string
	state     State
	createdAt time.Time
	updatedAt time.Time
	startedAt *time.Time
	endedAt   *time.Time

	userText      string
	userMessageID string

	chunks          []string
	agentMessageIDs []string
	finalText       string

	errText string

	waiters []*waiter
}

func (t *task) snapshot() Snapshot {
	snap := Snapshot{
		ID:            t.id,
		ContextID:     t.contextID,
		State:         t.state,
		CreatedAt:     t.createdAt,
		UpdatedAt:     t.updatedAt,
		UserText:      t.userText,
		UserMessageID: t.userMessageID,
		FinalText:     t.finalText,
		Error:         t.errText,
	}
	if t.startedAt != nil {
		started := *t.startedAt
		snap.StartedAt = &started
	}
	if t.endedAt != nil {
		ended := *t.endedAt
		snap.EndedAt = &ended
	}
	snap.Chunks = append([]string(nil), t.chunks...)
	snap.AgentMessageIDs = append([]string(nil), t.agentMessageIDs...)
	return snap
}
