package gateway

import (
	"github.com/lectic-ai/lectic/internal/agents"
	"github.com/lectic-ai/lectic/internal/turns"
)

// AgentTask pairs a task snapshot with the agent owning it.
type AgentTask struct {
	Agent string         `json:"agent"`
	Task  turns.Snapshot `json:"task"`
}

// AgentEvent is one live store event tagged with its agent.
type AgentEvent struct {
	Agent        string         `json:"agent"`
	Kind         string         `json:"kind"`
	Task         turns.Snapshot `json:"task"`
	StateChanged bool           `json:"state_changed,omitempty"`
}

// Feed aggregates the monitoring capability of every registered agent
// into one surface for the SSE and WS transports. Agents without the
// capability are simply absent from it.
type Feed struct {
	order    []string
	monitors map[string]agents.Monitor
}

// NewFeed collects the monitorable agents, keeping registration order.
func NewFeed(names []string, byName map[string]agents.Agent) *Feed {
	f := &Feed{monitors: make(map[string]agents.Monitor)}
	for _, name := range names {
		if mon, ok := byName[name].(agents.Monitor); ok {
			f.order = append(f.order, name)
			f.monitors[name] = mon
		}
	}
	return f
}

// Agents lists monitorable agent names in registration order.
func (f *Feed) Agents() []string {
	return append([]string(nil), f.order...)
}

// Snapshots lists retained tasks, optionally filtered by agent and
// context.
func (f *Feed) Snapshots(agent, contextID string) []AgentTask {
	out := []AgentTask{}
	for _, name := range f.order {
		if agent != "" && name != agent {
			continue
		}
		for _, snap := range f.monitors[name].TaskSnapshots(contextID) {
			out = append(out, AgentTask{Agent: name, Task: snap})
		}
	}
	return out
}

// Find locates a task by id across all agents.
func (f *Feed) Find(taskID string) (AgentTask, bool) {
	for _, name := range f.order {
		if snap, ok := f.monitors[name].TaskSnapshot(taskID); ok {
			return AgentTask{Agent: name, Task: snap}, true
		}
	}
	return AgentTask{}, false
}

// Subscribe attaches fn to every monitorable agent's live feed
// (optionally one agent) and returns a combined disposer.
func (f *Feed) Subscribe(agent string, fn func(AgentEvent)) func() {
	var disposers []func()
	for _, name := range f.order {
		if agent != "" && name != agent {
			continue
		}
		name := name
		disposers = append(disposers, f.monitors[name].OnTaskEvent(func(ev turns.Event) {
			fn(AgentEvent{
				Agent:        name,
				Kind:         string(ev.Kind),
				Task:         ev.Task,
				StateChanged: ev.StateChanged,
			})
		}))
	}
	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}
