package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lectic-ai/lectic/internal/a2a"
	"github.com/lectic-ai/lectic/internal/agents"
	"github.com/lectic-ai/lectic/internal/gateway/ws"
	"github.com/lectic-ai/lectic/internal/turns"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := turns.NewStore(func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("echo: " + turn.UserText)
		return nil
	}, turns.Options{})
	t.Cleanup(store.Close)

	handler := agents.NewHandler("sage", "echo interlocutor", store, time.Second)
	s := NewServer([]string{"sage"}, map[string]agents.Agent{"sage": handler}, "127.0.0.1", 0)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postRPC(t *testing.T, url, method string, params any) a2a.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out a2a.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAgentCard(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/a2a/sage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Name != "sage" || !card.Streaming {
		t.Fatalf("card = %+v", card)
	}
	if !strings.HasSuffix(card.URL, "/a2a/sage") {
		t.Fatalf("card url = %q", card.URL)
	}

	if resp, err := http.Get(ts.URL + "/a2a/nobody"); err == nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("unknown agent status = %d", resp.StatusCode)
		}
	}
}

func TestRPCSendFastPath(t *testing.T) {
	_, ts := newTestServer(t)
	out := postRPC(t, ts.URL+"/a2a/sage", "message/send", a2a.MessageSendParams{
		Message: a2a.NewUserMessage("", "", "ctx-1", "hello"),
	})
	if out.Error != nil {
		t.Fatalf("rpc error: %+v", out.Error)
	}
	raw, _ := json.Marshal(out.Result)
	var msg a2a.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("result not a message: %v", err)
	}
	if msg.Kind != "message" || msg.Text() != "echo: hello" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestRPCGetUnknownTask(t *testing.T) {
	_, ts := newTestServer(t)
	out := postRPC(t, ts.URL+"/a2a/sage", "tasks/get", a2a.TaskQueryParams{ID: "nope"})
	if out.Error == nil || out.Error.Code != a2a.CodeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", out.Error)
	}
}

func TestRPCUnsupportedAndUnknownMethods(t *testing.T) {
	_, ts := newTestServer(t)
	for method, wantCode := range map[string]int{
		"tasks/cancel":                       a2a.CodeUnsupportedOperation,
		"tasks/pushNotificationConfig/set":   a2a.CodeUnsupportedOperation,
		"tasks/pushNotificationConfig/get":   a2a.CodeUnsupportedOperation,
		"agent/getAuthenticatedExtendedCard": a2a.CodeUnsupportedOperation,
		"message/bogus":                      a2a.CodeMethodNotFound,
	} {
		out := postRPC(t, ts.URL+"/a2a/sage", method, map[string]any{})
		if out.Error == nil || out.Error.Code != wantCode {
			t.Fatalf("%s error = %+v, want code %d", method, out.Error, wantCode)
		}
		if wantCode == a2a.CodeUnsupportedOperation && !strings.Contains(out.Error.Message, method) {
			t.Fatalf("%s error does not name the method: %q", method, out.Error.Message)
		}
	}
}

func TestRPCStream(t *testing.T) {
	_, ts := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "message/stream",
		"params": a2a.MessageSendParams{
			Message: a2a.NewUserMessage("", "", "ctx-1", "hello"),
		},
	})
	resp, err := http.Post(ts.URL+"/a2a/sage", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var responses []a2a.Response
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var r a2a.Response
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &r); err != nil {
			t.Fatalf("bad sse line %q: %v", line, err)
		}
		responses = append(responses, r)
	}

	// task(submitted), working, one chunk, final.
	if len(responses) != 4 {
		t.Fatalf("got %d stream responses, want 4", len(responses))
	}
	for _, r := range responses {
		if r.Error != nil {
			t.Fatalf("stream error: %+v", r.Error)
		}
		if string(r.ID) != "7" {
			t.Fatalf("response id = %s", r.ID)
		}
	}
	last, _ := json.Marshal(responses[len(responses)-1].Result)
	var final a2a.TaskStatusUpdateEvent
	if err := json.Unmarshal(last, &final); err != nil {
		t.Fatalf("final event: %v", err)
	}
	if !final.Final || final.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("final = %+v", final)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	// Seed one finished task.
	out := postRPC(t, ts.URL+"/a2a/sage", "message/send", a2a.MessageSendParams{
		Message: a2a.NewUserMessage("", "", "ctx-1", "hello"),
	})
	if out.Error != nil {
		t.Fatalf("seed send: %+v", out.Error)
	}

	resp, err := http.Get(ts.URL + "/api/agents")
	if err != nil {
		t.Fatalf("get agents: %v", err)
	}
	var cards []a2a.AgentCard
	json.NewDecoder(resp.Body).Decode(&cards)
	resp.Body.Close()
	if len(cards) != 1 || cards[0].Name != "sage" {
		t.Fatalf("cards = %+v", cards)
	}

	resp, err = http.Get(ts.URL + "/api/tasks?agent=sage&context=ctx-1")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	var tasks []AgentTask
	json.NewDecoder(resp.Body).Decode(&tasks)
	resp.Body.Close()
	if len(tasks) != 1 || tasks[0].Agent != "sage" || tasks[0].Task.ContextID != "ctx-1" {
		t.Fatalf("tasks = %+v", tasks)
	}

	resp, err = http.Get(ts.URL + "/api/tasks/" + tasks[0].Task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	var single AgentTask
	json.NewDecoder(resp.Body).Decode(&single)
	resp.Body.Close()
	if single.Task.ID != tasks[0].Task.ID {
		t.Fatalf("single = %+v", single)
	}

	resp, err = http.Get(ts.URL + "/api/tasks/unknown-id")
	if err != nil {
		t.Fatalf("get unknown task: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/tasks?context=other")
	if err != nil {
		t.Fatalf("get filtered tasks: %v", err)
	}
	var empty []AgentTask
	json.NewDecoder(resp.Body).Decode(&empty)
	resp.Body.Close()
	if len(empty) != 0 {
		t.Fatalf("filter leaked tasks: %+v", empty)
	}
}

func TestMonitoringSSEFeed(t *testing.T) {
	_, ts := newTestServer(t)

	// Seed one finished task so the snapshot phase has content.
	postRPC(t, ts.URL+"/a2a/sage", "message/send", a2a.MessageSendParams{
		Message: a2a.NewUserMessage("", "", "ctx-1", "hello"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()

	frames := make(chan feedFrame, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var f feedFrame
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f) == nil {
				frames <- f
			}
		}
	}()

	next := func() feedFrame {
		select {
		case f := <-frames:
			return f
		case <-ctx.Done():
			t.Fatal("timed out waiting for sse frame")
			return feedFrame{}
		}
	}

	hello := next()
	if hello.Type != "hello" || len(hello.Agents) != 1 || hello.Agents[0] != "sage" {
		t.Fatalf("hello = %+v", hello)
	}
	snapshot := next()
	if snapshot.Type != "snapshot" || snapshot.Task == nil || snapshot.Task.Task.ContextID != "ctx-1" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	// A new send must appear as live events.
	postRPC(t, ts.URL+"/a2a/sage", "message/send", a2a.MessageSendParams{
		Message: a2a.NewUserMessage("", "", "ctx-2", "more"),
	})
	for {
		f := next()
		if f.Type != "event" || f.Event == nil {
			t.Fatalf("live frame = %+v", f)
		}
		if f.Event.Task.ContextID != "ctx-2" {
			continue
		}
		if f.Event.Kind == string(turns.EventCreated) {
			break
		}
	}
}

func TestMonitoringWSCatchup(t *testing.T) {
	_, ts := newTestServer(t)

	// More tasks than any fixed channel buffer, so a lossy catchup
	// would come up short.
	const total = 300
	for i := 0; i < total; i++ {
		out := postRPC(t, ts.URL+"/a2a/sage", "message/send", a2a.MessageSendParams{
			Message: a2a.NewUserMessage("", "", fmt.Sprintf("ctx-%03d", i), "hello"),
		})
		if out.Error != nil {
			t.Fatalf("seed send %d: %+v", i, out.Error)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readFrame := func() ws.Frame {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f, err := ws.UnmarshalFrame(data)
		if err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	}

	if f := readFrame(); f.Event != ws.EventHello {
		t.Fatalf("first frame = %+v, want hello", f)
	}
	for i := 0; i < total; i++ {
		f := readFrame()
		if f.Event != ws.EventSnapshot {
			t.Fatalf("catchup frame %d = %+v, want snapshot", i, f)
		}
	}
}
