// Package runtime turns an interlocutor document into an executable
// turn function: history comes from the transcript store, the reply
// from a ChatModel, and finished exchanges are persisted back.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lectic-ai/lectic/internal/document"
	"github.com/lectic-ai/lectic/internal/transcript"
	"github.com/lectic-ai/lectic/internal/turns"
)

// Interlocutor binds a parsed document to a model and transcript store
// and yields the TurnFunc its task store executes.
type Interlocutor struct {
	Name        string
	Prompt      string
	Seed        []ChatMessage
	model       ChatModel
	transcripts transcript.Store
}

// NewInterlocutor builds the runtime for doc. The document's own body
// blocks become seed history preceding anything in the transcript
// store.
func NewInterlocutor(doc *document.Document, model ChatModel, store transcript.Store) *Interlocutor {
	it := &Interlocutor{
		Name:        doc.Header.Interlocutor.Name,
		Prompt:      doc.Header.Interlocutor.Prompt,
		model:       model,
		transcripts: store,
	}
	for _, b := range doc.Blocks {
		role := ChatRoleUser
		if b.Role == document.RoleInterlocutor {
			role = ChatRoleAssistant
		}
		it.Seed = append(it.Seed, ChatMessage{Role: role, Content: strings.TrimSpace(b.Content)})
	}
	return it
}

// TurnFunc returns the function executed for each enqueued turn.
func (it *Interlocutor) TurnFunc() turns.TurnFunc {
	return func(ctx context.Context, turn turns.Turn) error {
		history, err := it.history(ctx, turn.ContextID)
		if err != nil {
			return err
		}
		history = append(history, ChatMessage{Role: ChatRoleUser, Content: turn.UserText})

		reply, err := it.model.Stream(ctx, it.Prompt, history, turn.OnChunk)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}

		record := transcript.Turn{
			Agent:     it.Name,
			ContextID: turn.ContextID,
			TaskID:    turn.TaskID,
			UserText:  turn.UserText,
			AgentText: reply,
			CreatedAt: time.Now().UTC(),
		}
		if err := it.transcripts.Append(ctx, record); err != nil {
			// The reply already streamed; losing the transcript row is
			// not worth failing the turn over.
			slog.Warn("transcript append failed", "agent", it.Name, "context", turn.ContextID, "error", err)
		}
		return nil
	}
}

// history rebuilds the model-facing conversation for a context: the
// document's seed blocks followed by persisted turns.
func (it *Interlocutor) history(ctx context.Context, contextID string) ([]ChatMessage, error) {
	past, err := it.transcripts.History(ctx, it.Name, contextID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := append([]ChatMessage(nil), it.Seed...)
	for _, t := range past {
		history = append(history,
			ChatMessage{Role: ChatRoleUser, Content: t.UserText},
			ChatMessage{Role: ChatRoleAssistant, Content: t.AgentText},
		)
	}
	return history, nil
}
