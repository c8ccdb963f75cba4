package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// feedFrame is one monitoring SSE frame. Type is hello, snapshot or
// event.
type feedFrame struct {
	Type   string      `json:"type"`
	Agents []string    `json:"agents,omitempty"`
	Task   *AgentTask  `json:"task,omitempty"`
	Event  *AgentEvent `json:"event,omitempty"`
}

// handleEvents streams the monitoring feed: a hello frame, one
// snapshot frame per currently-known task, then live events. Query
// params agent and context filter the feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	agentFilter := r.URL.Query().Get("agent")
	contextFilter := r.URL.Query().Get("context")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before snapshotting so nothing falls between the
	// snapshot set and the live feed.
	live := make(chan AgentEvent, 256)
	unsubscribe := s.feed.Subscribe(agentFilter, func(ev AgentEvent) {
		if contextFilter != "" && ev.Task.ContextID != contextFilter {
			return
		}
		select {
		case live <- ev:
		default:
			// Consumer too slow, skip.
		}
	})
	defer unsubscribe()

	frames := []feedFrame{{Type: "hello", Agents: s.feed.Agents()}}
	for _, task := range s.feed.Snapshots(agentFilter, contextFilter) {
		task := task
		frames = append(frames, feedFrame{Type: "snapshot", Task: &task})
	}
	for _, frame := range frames {
		if err := writeSSE(w, frame); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case ev := <-live:
			if err := writeSSE(w, feedFrame{Type: "event", Event: &ev}); err != nil {
				slog.Debug("sse write", "error", err)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSE frames v as one data: line.
func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
