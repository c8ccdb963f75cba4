package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Feed is the monitoring surface the hub bridges to clients. The
// gateway package supplies it.
type Feed interface {
	Agents() []string
	Snapshots(agent, contextID string) []any
	Subscribe(fn func(agent string, payload any)) func()
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub manages WebSocket clients and bridges the monitoring feed to
// them.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	feed        Feed
	unsubscribe func()
}

// NewHub creates a hub bridging feed events to connected clients.
func NewHub(feed Feed) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		feed:    feed,
	}

	h.unsubscribe = feed.Subscribe(func(agent string, payload any) {
		frame, err := NewEventFrame(EventTask, agent, payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(data)
	})

	return h
}

// sendBuffer is the live-event headroom of a client's send queue,
// beyond the catchup frames queued at admission.
const sendBuffer = 256

// broadcast sends data to all connected clients.
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// admit registers a new client with its catchup frames already queued.
// Catchup and registration happen under the hub lock, so no broadcast
// can precede hello or fall between the snapshot set and the live
// feed, and the send queue always holds the complete catchup.
func (h *Hub) admit(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	catchup := h.catchupFrames()
	c.send = make(chan []byte, len(catchup)+sendBuffer)
	for _, data := range catchup {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

// catchupFrames marshals the hello frame and one snapshot frame per
// currently-known task.
func (h *Hub) catchupFrames() [][]byte {
	var out [][]byte
	if hello, err := NewEventFrame(EventHello, "", map[string]any{"agents": h.feed.Agents()}); err == nil {
		if data, err := MarshalFrame(hello); err == nil {
			out = append(out, data)
		}
	}
	for _, task := range h.feed.Snapshots("", "") {
		frame, err := NewEventFrame(EventSnapshot, "", task)
		if err != nil {
			continue
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
// A fresh client first receives hello and one snapshot frame per
// known task, so it can reconstruct state before live events arrive.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		hub:  h,
	}
	h.admit(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *Client) queueFrame(f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch). The
// surface is read-only; turns are enqueued over the RPC endpoints.
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch frame.Method {
	case MethodListAgents:
		c.sendOK(ctx, frame.ID, map[string]any{"agents": c.hub.feed.Agents()})

	case MethodListTasks:
		var params struct {
			Agent   string `json:"agent"`
			Context string `json:"context"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params")
				return
			}
		}
		c.sendOK(ctx, frame.ID, map[string]any{"tasks": c.hub.feed.Snapshots(params.Agent, params.Context)})

	default:
		c.sendError(ctx, frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	c.queueFrame(f)
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	c.queueFrame(f)
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
