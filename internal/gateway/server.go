// Package gateway serves the A2A JSON-RPC endpoints and the
// monitoring surface over HTTP, SSE and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lectic-ai/lectic/internal/a2a"
	"github.com/lectic-ai/lectic/internal/agents"
	"github.com/lectic-ai/lectic/internal/gateway/ws"
)

// Server is the lectic gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	feed       *Feed
	agents     map[string]agents.Agent
	order      []string
	host       string
	port       int
}

// NewServer mounts the registered agents and the monitoring routes.
// names fixes the registration order used by listings.
func NewServer(names []string, byName map[string]agents.Agent, host string, port int) *Server {
	feed := NewFeed(names, byName)
	hub := ws.NewHub(feedBridge{feed})

	s := &Server{
		hub:    hub,
		feed:   feed,
		agents: byName,
		order:  append([]string(nil), names...),
		host:   host,
		port:   port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// A2A protocol surface, one endpoint per interlocutor.
	r.Get("/a2a/{agent}", s.handleAgentCard)
	r.Post("/a2a/{agent}", s.handleRPC)

	// Monitoring surface.
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/agents", s.handleAgents)
	r.Get("/api/tasks", s.handleTasks)
	r.Get("/api/tasks/{id}", s.handleTask)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/ws", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler exposes the router, for tests driving the server through
// httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("lectic gateway listening", "addr", ln.Addr().String(), "agents", len(s.order))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// agentFor resolves the {agent} route parameter.
func (s *Server) agentFor(r *http.Request) (string, agents.Agent, bool) {
	name := chi.URLParam(r, "agent")
	agent, ok := s.agents[name]
	return name, agent, ok
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	name, agent, ok := s.agentFor(r)
	if !ok {
		http.Error(w, "unknown agent: "+name, http.StatusNotFound)
		return
	}
	card := agent.Card()
	card.URL = fmt.Sprintf("http://%s/a2a/%s", r.Host, name)
	writeJSON(w, card)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	cards := make([]a2a.AgentCard, 0, len(s.order))
	for _, name := range s.order {
		card := s.agents[name].Card()
		card.URL = fmt.Sprintf("http://%s/a2a/%s", r.Host, name)
		cards = append(cards, card)
	}
	writeJSON(w, cards)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	contextID := r.URL.Query().Get("context")
	writeJSON(w, s.feed.Snapshots(agent, contextID))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.feed.Find(id)
	if !ok {
		http.Error(w, "unknown task: "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, task)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

// feedBridge adapts the Feed to the hub's narrower interface without
// importing the gateway package from ws.
type feedBridge struct {
	feed *Feed
}

func (b feedBridge) Agents() []string { return b.feed.Agents() }

func (b feedBridge) Snapshots(agent, contextID string) []any {
	tasks := b.feed.Snapshots(agent, contextID)
	out := make([]any, len(tasks))
	for i, task := range tasks {
		out[i] = task
	}
	return out
}

func (b feedBridge) Subscribe(fn func(agent string, payload any)) func() {
	return b.feed.Subscribe("", func(ev AgentEvent) {
		fn(ev.Agent, ev)
	})
}
