package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lectic-ai/lectic/internal/a2a"
)

// unsupportedMethods are protocol operations this server deliberately
// does not implement; each fails naming the method.
var unsupportedMethods = map[string]bool{
	"tasks/cancel":                        true,
	"tasks/pushNotificationConfig/set":    true,
	"tasks/pushNotificationConfig/get":    true,
	"tasks/pushNotificationConfig/list":   true,
	"tasks/pushNotificationConfig/delete": true,
	"agent/getAuthenticatedExtendedCard":  true,
}

// handleRPC dispatches one JSON-RPC request to the routed agent.
// Streaming methods answer with an SSE body carrying one Response
// object per event; the rest answer with a single JSON Response.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name, agent, ok := s.agentFor(r)
	if !ok {
		http.Error(w, "unknown agent: "+name, http.StatusNotFound)
		return
	}

	var req a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, a2a.NewErrorResponse(nil, a2a.ErrInvalidParams("malformed request: %v", err)))
		return
	}

	switch req.Method {
	case "message/send":
		var params a2a.MessageSendParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrInvalidParams("malformed params: %v", err)))
			return
		}
		out, err := agent.Send(r.Context(), params)
		if err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, err))
			return
		}
		writeJSON(w, a2a.NewResponse(req.ID, out.Payload()))

	case "tasks/get":
		var params a2a.TaskQueryParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrInvalidParams("malformed params: %v", err)))
			return
		}
		task, err := agent.GetTask(r.Context(), params)
		if err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, err))
			return
		}
		writeJSON(w, a2a.NewResponse(req.ID, task))

	case "message/stream":
		var params a2a.MessageSendParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrInvalidParams("malformed params: %v", err)))
			return
		}
		s.streamRPC(w, r, req.ID, func(yield func(a2a.StreamEvent) error) error {
			return agent.SendStream(r.Context(), params, yield)
		})

	case "tasks/resubscribe":
		var params a2a.TaskQueryParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrInvalidParams("malformed params: %v", err)))
			return
		}
		s.streamRPC(w, r, req.ID, func(yield func(a2a.StreamEvent) error) error {
			return agent.Resubscribe(r.Context(), params, yield)
		})

	default:
		if unsupportedMethods[req.Method] {
			writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrUnsupportedOperation(req.Method)))
			return
		}
		writeJSON(w, a2a.NewErrorResponse(req.ID, a2a.ErrMethodNotFound(req.Method)))
	}
}

// streamRPC runs a streaming method and frames each yielded event as
// an SSE data line carrying a JSON-RPC Response. Validation errors
// surface as a single error Response; a consumer disconnect just ends
// the stream.
func (s *Server) streamRPC(w http.ResponseWriter, r *http.Request, id json.RawMessage, run func(yield func(a2a.StreamEvent) error) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	err := run(func(ev a2a.StreamEvent) error {
		if err := writeSSE(w, a2a.NewResponse(id, ev.Payload())); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if r.Context().Err() != nil {
			slog.Debug("stream consumer went away", "path", r.URL.Path)
			return
		}
		if writeErr := writeSSE(w, a2a.NewErrorResponse(id, err)); writeErr == nil {
			flusher.Flush()
		}
	}
}
