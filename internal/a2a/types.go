// Package a2a defines the wire objects of the Agent-to-Agent protocol
// surface exposed by lectic: messages, tasks, status update events and
// the JSON-RPC 2.0 envelope they travel in.
package a2a

import (
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the mutually exclusive states a task may be in.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part is one content fragment of a message. Only text parts are
// produced by this server.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

// Message is a single conversational message exchanged over the protocol.
type Message struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// NewAgentMessage builds an agent-authored text message bound to a task.
func NewAgentMessage(messageID, taskID, contextID, text string) Message {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return Message{
		Kind:      "message",
		MessageID: messageID,
		Role:      RoleAgent,
		Parts:     []Part{TextPart(text)},
		TaskID:    taskID,
		ContextID: contextID,
	}
}

// NewUserMessage builds a user-authored text message bound to a task.
func NewUserMessage(messageID, taskID, contextID, text string) Message {
	m := NewAgentMessage(messageID, taskID, contextID, text)
	m.Role = RoleUser
	return m
}

// Text returns the concatenated text content of the message's parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == "text" {
			out += p.Text
		}
	}
	return out
}

// TaskStatus captures a task's state at a point in time, optionally with
// the message produced by that state change.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// NewTaskStatus builds a status stamped with ts in RFC3339 form.
func NewTaskStatus(state TaskState, msg *Message, ts time.Time) TaskStatus {
	return TaskStatus{
		State:     state,
		Message:   msg,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
}

// Task is the protocol view of one scheduled conversational turn.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history,omitempty"`
}

// TaskStatusUpdateEvent is a streamed progress notification for a task.
// Final marks the last event of a stream.
type TaskStatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// NewStatusUpdate builds a status-update event for a task.
func NewStatusUpdate(taskID, contextID string, status TaskStatus, final bool) TaskStatusUpdateEvent {
	return TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status:    status,
		Final:     final,
	}
}

// StreamEvent is the union of objects a method may produce: exactly
// one of Message, Task or Status is set. message/send yields a Message
// or a Task; the streaming methods yield Tasks and Statuses.
type StreamEvent struct {
	Message *Message
	Task    *Task
	Status  *TaskStatusUpdateEvent
}

// Payload returns the populated member for serialization.
func (e StreamEvent) Payload() any {
	switch {
	case e.Message != nil:
		return e.Message
	case e.Task != nil:
		return e.Task
	default:
		return e.Status
	}
}

// MessageSendParams is the input of message/send and message/stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskQueryParams is the input of tasks/get and tasks/resubscribe.
type TaskQueryParams struct {
	ID string `json:"id"`
}

// AgentCard describes one interlocutor endpoint for discovery.
type AgentCard struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	Streaming   bool     `json:"streaming"`
	InputModes  []string `json:"defaultInputModes"`
	OutputModes []string `json:"defaultOutputModes"`
}
