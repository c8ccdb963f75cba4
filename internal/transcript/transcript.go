// Package transcript persists finished conversational turns so a turn
// runtime can rebuild an interlocutor's history across restarts.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Turn is one completed user/agent exchange within a context.
type Turn struct {
	Agent     string    `json:"agent"`
	ContextID string    `json:"context_id"`
	TaskID    string    `json:"task_id"`
	UserText  string    `json:"user_text"`
	AgentText string    `json:"agent_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store records turns and replays a context's history oldest-first.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	History(ctx context.Context, agent, contextID string) ([]Turn, error)
}

// MemoryStore is an in-process Store used in tests and when no
// transcript path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	turns []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, agent, contextID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	for _, t := range s.turns {
		if t.Agent == agent && t.ContextID == contextID {
			out = append(out, t)
		}
	}
	return out, nil
}
