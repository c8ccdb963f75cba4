package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ChatRole tags a history message for the model.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one history entry passed to a ChatModel.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatModel produces one assistant reply for a conversation. onDelta
// receives incremental output in order; the returned string is the
// full reply. Provider-backed implementations live outside this
// module.
type ChatModel interface {
	Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(text string)) (string, error)
}

// ScriptModel is a deterministic ChatModel for local serving and
// tests. With a non-empty script it replies with the scripted lines in
// rotation; otherwise it echoes the last user message. Chunking splits
// on whitespace so streams carry more than one delta.
type ScriptModel struct {
	Script []string

	mu    sync.Mutex
	calls int
}

func (m *ScriptModel) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (string, error) {
	reply := ""
	if len(m.Script) > 0 {
		m.mu.Lock()
		reply = m.Script[m.calls%len(m.Script)]
		m.calls++
		m.mu.Unlock()
	} else {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == ChatRoleUser {
				reply = history[i].Content
				break
			}
		}
	}
	for _, word := range strings.Fields(reply) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if onDelta != nil {
			onDelta(word)
		}
	}
	return reply, nil
}

// FailModel always errors, for exercising failure paths.
type FailModel struct {
	Err error
}

func (m *FailModel) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return "", fmt.Errorf("model unavailable")
}
