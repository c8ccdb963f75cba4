// Package agents exposes one interlocutor's turn-task store over the
// A2A method set: send with a fast path, server-streamed send,
// snapshot reads and stream resumption.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/lectic-ai/lectic/internal/a2a"
	"github.com/lectic-ai/lectic/internal/turns"
)

// contextIDPattern is the conservative token shape accepted for
// client-supplied context ids.
var contextIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// DefaultFastPathWait bounds how long Send waits for a turn to finish
// before falling back to returning the task object.
const DefaultFastPathWait = 2 * time.Second

// Agent is the method surface the gateway dispatches to.
type Agent interface {
	Card() a2a.AgentCard
	Send(ctx context.Context, params a2a.MessageSendParams) (a2a.StreamEvent, error)
	SendStream(ctx context.Context, params a2a.MessageSendParams, yield func(a2a.StreamEvent) error) error
	GetTask(ctx context.Context, params a2a.TaskQueryParams) (a2a.Task, error)
	Resubscribe(ctx context.Context, params a2a.TaskQueryParams, yield func(a2a.StreamEvent) error) error
}

// Handler serves one named interlocutor backed by a turn-task store.
type Handler struct {
	name         string
	description  string
	store        *turns.Store
	fastPathWait time.Duration
}

// NewHandler wires a handler to its store. A non-positive fastPathWait
// selects DefaultFastPathWait.
func NewHandler(name, description string, store *turns.Store, fastPathWait time.Duration) *Handler {
	if fastPathWait <= 0 {
		fastPathWait = DefaultFastPathWait
	}
	return &Handler{
		name:         name,
		description:  description,
		store:        store,
		fastPathWait: fastPathWait,
	}
}

// Card describes the agent for discovery. The URL is filled in by the
// transport, which knows where it mounted the handler.
func (h *Handler) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:        h.name,
		Description: h.description,
		Streaming:   true,
		InputModes:  []string{"text"},
		OutputModes: []string{"text"},
	}
}

// validate checks the incoming message and resolves its context id,
// generating one when absent.
func (h *Handler) validate(msg a2a.Message) (contextID, userText string, err error) {
	if msg.TaskID != "" {
		// Client-chosen task ids are never accepted, with distinct
		// diagnostics for ids we know versus ids we do not.
		if h.store.HasTask(msg.TaskID) {
			return "", "", a2a.ErrInvalidParams("task id %q refers to an existing task; tasks cannot be resumed via message/send", msg.TaskID)
		}
		return "", "", a2a.ErrInvalidParams("unknown task id %q; this server does not accept client-supplied task ids", msg.TaskID)
	}
	if len(msg.Parts) == 0 {
		return "", "", a2a.ErrInvalidParams("message has no parts")
	}
	contextID = msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	} else if !contextIDPattern.MatchString(contextID) {
		return "", "", a2a.ErrInvalidParams("invalid context id %q", contextID)
	}
	return contextID, msg.Text(), nil
}

// Send enqueues a turn. When the task dispatches immediately and
// completes within the fast-path window, the reply is the synthesized
// final message; otherwise the current task object.
func (h *Handler) Send(ctx context.Context, params a2a.MessageSendParams) (a2a.StreamEvent, error) {
	contextID, userText, err := h.validate(params.Message)
	if err != nil {
		return a2a.StreamEvent{}, err
	}
	handle := h.store.EnqueueTurn(contextID, userText)

	snap := handle.Created()
	if handle.StartedImmediately() {
		waitCtx, cancel := context.WithTimeout(ctx, h.fastPathWait)
		terminal, err := handle.WaitForTerminal(waitCtx)
		cancel()
		if err == nil {
			snap = terminal
			if terminal.State == turns.StateCompleted {
				msg := h.terminalMessage(terminal)
				return a2a.StreamEvent{Message: &msg}, nil
			}
		}
	}
	if current, err := handle.Snapshot(); err == nil {
		snap = current
	}
	task := h.taskFromSnapshot(snap, true)
	return a2a.StreamEvent{Task: &task}, nil
}

// SendStream enqueues a turn and yields the full fresh-stream
// sequence: the submitted task object, a working transition, one
// status event per chunk and a final terminal status.
func (h *Handler) SendStream(ctx context.Context, params a2a.MessageSendParams, yield func(a2a.StreamEvent) error) error {
	contextID, userText, err := h.validate(params.Message)
	if err != nil {
		return err
	}
	// Subscribe before enqueueing so no event can slip past.
	w := turns.NewEventWaiter(h.store)
	defer w.Close()
	handle := h.store.EnqueueTurn(contextID, userText)
	w.Bind(handle.TaskID())

	task := h.taskFromSnapshot(handle.Created(), true)
	if err := yield(a2a.StreamEvent{Task: &task}); err != nil {
		return err
	}
	return h.streamEvents(ctx, w, yield, false, 0)
}

// GetTask returns the task's current snapshot as a protocol task with
// full synthesized history.
func (h *Handler) GetTask(ctx context.Context, params a2a.TaskQueryParams) (a2a.Task, error) {
	if params.ID == "" {
		return a2a.Task{}, a2a.ErrInvalidParams("missing task id")
	}
	snap, ok := h.store.Snapshot(params.ID)
	if !ok {
		return a2a.Task{}, a2a.ErrInvalidParams("unknown task id %q", params.ID)
	}
	return h.taskFromSnapshot(snap, true), nil
}

// Resubscribe attaches to an existing task mid-flight: the current
// task object, then only new chunks and transitions from this point
// on.
func (h *Handler) Resubscribe(ctx context.Context, params a2a.TaskQueryParams, yield func(a2a.StreamEvent) error) error {
	if params.ID == "" {
		return a2a.ErrInvalidParams("missing task id")
	}
	w := turns.NewEventWaiter(h.store)
	defer w.Close()
	w.Bind(params.ID)
	snap, ok := h.store.Snapshot(params.ID)
	if !ok {
		return a2a.ErrInvalidParams("unknown task id %q", params.ID)
	}

	task := h.taskFromSnapshot(snap, true)
	if err := yield(a2a.StreamEvent{Task: &task}); err != nil {
		return err
	}
	if snap.State.Terminal() {
		final := h.terminalStatusEvent(snap)
		return yield(a2a.StreamEvent{Status: &final})
	}
	return h.streamEvents(ctx, w, yield, snap.State == turns.StateWorking, len(snap.Chunks))
}

// streamEvents drains the waiter into status updates until the task
// terminates. delivered counts chunks the consumer already has.
func (h *Handler) streamEvents(ctx context.Context, w *turns.EventWaiter, yield func(a2a.StreamEvent) error, sawWorking bool, delivered int) error {
	for {
		ev, ok, err := w.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if ev.Kind == turns.EventCreated {
			continue
		}
		snap := ev.Task
		if !sawWorking && snap.State != turns.StateSubmitted {
			sawWorking = true
			working := a2a.NewStatusUpdate(snap.ID, snap.ContextID,
				a2a.NewTaskStatus(a2a.TaskStateWorking, nil, snap.UpdatedAt), false)
			if err := yield(a2a.StreamEvent{Status: &working}); err != nil {
				return err
			}
		}
		for delivered < len(snap.Chunks) {
			msg := a2a.NewAgentMessage(snap.AgentMessageIDs[delivered], snap.ID, snap.ContextID, snap.Chunks[delivered])
			chunk := a2a.NewStatusUpdate(snap.ID, snap.ContextID,
				a2a.NewTaskStatus(a2a.TaskStateWorking, &msg, snap.UpdatedAt), false)
			if err := yield(a2a.StreamEvent{Status: &chunk}); err != nil {
				return err
			}
			delivered++
		}
		if snap.State.Terminal() {
			final := h.terminalStatusEvent(snap)
			return yield(a2a.StreamEvent{Status: &final})
		}
	}
}

// taskFromSnapshot converts a store snapshot to the protocol task
// shape, optionally with the synthesized message history.
func (h *Handler) taskFromSnapshot(snap turns.Snapshot, withHistory bool) a2a.Task {
	task := a2a.Task{
		Kind:      "task",
		ID:        snap.ID,
		ContextID: snap.ContextID,
		Status:    a2a.NewTaskStatus(protoState(snap.State), nil, snap.UpdatedAt),
	}
	if snap.State.Terminal() {
		msg := h.terminalMessage(snap)
		task.Status.Message = &msg
	}
	if withHistory {
		task.History = append(task.History,
			a2a.NewUserMessage(snap.UserMessageID, snap.ID, snap.ContextID, snap.UserText))
		for i, chunk := range snap.Chunks {
			task.History = append(task.History,
				a2a.NewAgentMessage(snap.AgentMessageIDs[i], snap.ID, snap.ContextID, chunk))
		}
	}
	return task
}

// terminalMessage synthesizes the final agent message for a terminal
// snapshot: the last chunk's text on success, "Task failed: <error>"
// on failure, empty when there is nothing to say.
func (h *Handler) terminalMessage(snap turns.Snapshot) a2a.Message {
	text := snap.FinalText
	messageID := ""
	if n := len(snap.AgentMessageIDs); n > 0 {
		messageID = snap.AgentMessageIDs[n-1]
	}
	if snap.State == turns.StateFailed {
		messageID = ""
		switch {
		case snap.Error != "":
			text = fmt.Sprintf("Task failed: %s", snap.Error)
		case len(snap.Chunks) > 0:
			// Partial output exists but the error carried no text.
			text = "Task failed"
		default:
			text = ""
		}
	}
	return a2a.NewAgentMessage(messageID, snap.ID, snap.ContextID, text)
}

func (h *Handler) terminalStatusEvent(snap turns.Snapshot) a2a.TaskStatusUpdateEvent {
	msg := h.terminalMessage(snap)
	return a2a.NewStatusUpdate(snap.ID, snap.ContextID,
		a2a.NewTaskStatus(protoState(snap.State), &msg, snap.UpdatedAt), true)
}

func protoState(s turns.State) a2a.TaskState {
	switch s {
	case turns.StateSubmitted:
		return a2a.TaskStateSubmitted
	case turns.StateWorking:
		return a2a.TaskStateWorking
	case turns.StateCompleted:
		return a2a.TaskStateCompleted
	default:
		return a2a.TaskStateFailed
	}
}
