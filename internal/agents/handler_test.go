package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lectic-ai/lectic/internal/a2a"
	"github.com/lectic-ai/lectic/internal/turns"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestHandler(t *testing.T, run turns.TurnFunc, opts turns.Options) *Handler {
	t.Helper()
	store := turns.NewStore(run, opts)
	t.Cleanup(store.Close)
	return NewHandler("sage", "test interlocutor", store, time.Second)
}

func userMessage(contextID, text string) a2a.MessageSendParams {
	return a2a.MessageSendParams{
		Message: a2a.NewUserMessage("", "", contextID, text),
	}
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()
	var rpcErr *a2a.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *a2a.Error", err)
	}
	return rpcErr.Code
}

func TestSendFastPathReturnsMessage(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("quick reply")
		return nil
	}, turns.Options{})

	out, err := h.Send(ctx, userMessage("ctx-1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Message == nil {
		t.Fatalf("fast path returned %+v, want message", out)
	}
	if out.Message.Text() != "quick reply" {
		t.Fatalf("message text = %q", out.Message.Text())
	}
	if out.Message.Role != a2a.RoleAgent || out.Message.ContextID != "ctx-1" {
		t.Fatalf("message = %+v", out.Message)
	}
}

func TestSendSlowTurnReturnsTask(t *testing.T) {
	ctx := testContext(t)
	release := make(chan struct{})
	store := turns.NewStore(func(ctx context.Context, turn turns.Turn) error {
		<-release
		return nil
	}, turns.Options{})
	t.Cleanup(store.Close)
	t.Cleanup(func() { close(release) })
	h := NewHandler("sage", "", store, 50*time.Millisecond)

	out, err := h.Send(ctx, userMessage("ctx-1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Task == nil {
		t.Fatalf("slow send returned %+v, want task", out)
	}
	if out.Task.Status.State != a2a.TaskStateWorking && out.Task.Status.State != a2a.TaskStateSubmitted {
		t.Fatalf("task state = %q", out.Task.Status.State)
	}
}

func TestSendFailedTurnReturnsTaskWithFailureMessage(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		return errors.New("boom")
	}, turns.Options{})

	out, err := h.Send(ctx, userMessage("ctx-1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Task == nil {
		t.Fatalf("failed send returned %+v, want task", out)
	}
	if out.Task.Status.State != a2a.TaskStateFailed {
		t.Fatalf("state = %q, want failed", out.Task.Status.State)
	}
	msg := out.Task.Status.Message
	if msg == nil {
		t.Fatal("terminal status missing message")
	}
	text := msg.Text()
	if !strings.Contains(text, "Task failed") || !strings.Contains(text, "boom") {
		t.Fatalf("failure message = %q", text)
	}
}

func TestSendQueuedBehindEarlierTaskSkipsFastPath(t *testing.T) {
	ctx := testContext(t)
	release := make(chan struct{})
	store := turns.NewStore(func(ctx context.Context, turn turns.Turn) error {
		if turn.UserText == "blocker" {
			<-release
		}
		return nil
	}, turns.Options{})
	t.Cleanup(store.Close)
	t.Cleanup(func() { close(release) })
	h := NewHandler("sage", "", store, time.Second)

	go h.Send(ctx, userMessage("ctx-1", "blocker"))
	// Give the blocker time to occupy the context's worker.
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	out, err := h.Send(ctx, userMessage("ctx-1", "queued"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Task == nil || out.Task.Status.State != a2a.TaskStateSubmitted {
		t.Fatalf("queued send = %+v, want submitted task", out)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("queued send waited %v, fast path should be skipped", elapsed)
	}
}

func TestSendValidation(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error { return nil }, turns.Options{})

	// Invalid context id shapes.
	for _, bad := range []string{".starts-with-dot", "has space", "has/slash", strings.Repeat("x", 129)} {
		if _, err := h.Send(ctx, userMessage(bad, "hi")); rpcCode(t, err) != a2a.CodeInvalidParams {
			t.Fatalf("context id %q accepted", bad)
		}
	}

	// Missing context id gets one generated.
	out, err := h.Send(ctx, userMessage("", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	gotCtx := ""
	if out.Message != nil {
		gotCtx = out.Message.ContextID
	} else if out.Task != nil {
		gotCtx = out.Task.ContextID
	}
	if gotCtx == "" {
		t.Fatal("no context id generated")
	}

	// Empty message.
	if _, err := h.Send(ctx, a2a.MessageSendParams{Message: a2a.Message{Kind: "message"}}); rpcCode(t, err) != a2a.CodeInvalidParams {
		t.Fatal("partless message accepted")
	}
}

func TestSendRejectsClientTaskIDs(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error { return nil }, turns.Options{})

	// Seed a real task so we can reference its id.
	out, err := h.Send(ctx, userMessage("ctx-1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var realID string
	if out.Message != nil {
		realID = out.Message.TaskID
	} else {
		realID = out.Task.ID
	}

	params := userMessage("ctx-1", "resume?")
	params.Message.TaskID = "never-issued"
	_, errUnknown := h.Send(ctx, params)
	if rpcCode(t, errUnknown) != a2a.CodeInvalidParams {
		t.Fatal("unknown client task id accepted")
	}

	params.Message.TaskID = realID
	_, errKnown := h.Send(ctx, params)
	if rpcCode(t, errKnown) != a2a.CodeInvalidParams {
		t.Fatal("existing client task id accepted")
	}
	if errUnknown.Error() == errKnown.Error() {
		t.Fatalf("expected distinct messages, both were %q", errKnown.Error())
	}
}

func TestSendStreamSequence(t *testing.T) {
	ctx := testContext(t)
	gate := make(chan struct{})
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("first")
		<-gate
		turn.OnChunk("second")
		return nil
	}, turns.Options{})
	close(gate)

	var events []a2a.StreamEvent
	err := h.SendStream(ctx, userMessage("ctx-1", "hi"), func(ev a2a.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("send stream: %v", err)
	}

	// task(submitted), status(working), chunk, chunk, status(final).
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}
	if events[0].Task == nil || events[0].Task.Status.State != a2a.TaskStateSubmitted {
		t.Fatalf("event 0 = %+v, want submitted task", events[0])
	}
	if events[1].Status == nil || events[1].Status.Status.State != a2a.TaskStateWorking || events[1].Status.Status.Message != nil {
		t.Fatalf("event 1 = %+v, want bare working status", events[1])
	}
	for i, want := range []string{"first", "second"} {
		st := events[2+i].Status
		if st == nil || st.Status.Message == nil || st.Status.Message.Text() != want {
			t.Fatalf("chunk event %d = %+v, want %q", i, events[2+i], want)
		}
		if st.Final {
			t.Fatalf("chunk event %d marked final", i)
		}
	}
	last := events[4].Status
	if last == nil || !last.Final || last.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("final event = %+v", events[4])
	}
	if last.Status.Message == nil || last.Status.Message.Text() != "second" {
		t.Fatalf("final message = %+v, want last chunk text", last.Status.Message)
	}
}

func TestSendStreamFailure(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		return errors.New("boom")
	}, turns.Options{})

	var final *a2a.TaskStatusUpdateEvent
	err := h.SendStream(ctx, userMessage("ctx-1", "hi"), func(ev a2a.StreamEvent) error {
		if ev.Status != nil && ev.Status.Final {
			final = ev.Status
		}
		return nil
	})
	if err != nil {
		t.Fatalf("send stream: %v", err)
	}
	if final == nil || final.Status.State != a2a.TaskStateFailed {
		t.Fatalf("final = %+v, want failed", final)
	}
	if got := final.Status.Message.Text(); !strings.Contains(got, "Task failed: boom") {
		t.Fatalf("failure text = %q", got)
	}
}

func TestGetTask(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("a")
		turn.OnChunk("b")
		return nil
	}, turns.Options{})

	if _, err := h.GetTask(ctx, a2a.TaskQueryParams{}); rpcCode(t, err) != a2a.CodeInvalidParams {
		t.Fatal("missing id accepted")
	}
	if _, err := h.GetTask(ctx, a2a.TaskQueryParams{ID: "nope"}); rpcCode(t, err) != a2a.CodeInvalidParams {
		t.Fatal("unknown id accepted")
	}

	out, err := h.Send(ctx, userMessage("ctx-1", "question"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	task, err := h.GetTask(ctx, a2a.TaskQueryParams{ID: out.Message.TaskID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("state = %q", task.Status.State)
	}
	// user message + one agent message per chunk.
	if len(task.History) != 3 {
		t.Fatalf("history = %+v, want 3 messages", task.History)
	}
	if task.History[0].Role != a2a.RoleUser || task.History[0].Text() != "question" {
		t.Fatalf("history[0] = %+v", task.History[0])
	}
	if task.History[2].Text() != "b" {
		t.Fatalf("history[2] = %+v", task.History[2])
	}
	if task.Status.Message == nil || task.Status.Message.Text() != "b" {
		t.Fatalf("terminal message = %+v", task.Status.Message)
	}
}

func TestGetTaskAfterGC(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error { return nil }, turns.Options{
		MaxTasksPerContext: 2,
	})

	ids := make([]string, 0, 3)
	for _, text := range []string{"one", "two", "three"} {
		out, err := h.Send(ctx, userMessage("ctx-1", text))
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, out.Message.TaskID)
	}

	if _, err := h.GetTask(ctx, a2a.TaskQueryParams{ID: ids[0]}); rpcCode(t, err) != a2a.CodeInvalidParams {
		t.Fatal("collected task still readable")
	}
	for _, id := range ids[1:] {
		if _, err := h.GetTask(ctx, a2a.TaskQueryParams{ID: id}); err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
	}
}

func TestResubscribeTerminalTask(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("done")
		return nil
	}, turns.Options{})

	out, err := h.Send(ctx, userMessage("ctx-1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var events []a2a.StreamEvent
	err = h.Resubscribe(ctx, a2a.TaskQueryParams{ID: out.Message.TaskID}, func(ev a2a.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	// Current task object, then the terminal status. No chunk replay.
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Task == nil || events[0].Task.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Status == nil || !events[1].Status.Final {
		t.Fatalf("event 1 = %+v", events[1])
	}
}

func TestResubscribeInFlightSkipsOldChunks(t *testing.T) {
	ctx := testContext(t)
	firstChunk := make(chan struct{})
	release := make(chan struct{})
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error {
		turn.OnChunk("old")
		close(firstChunk)
		<-release
		turn.OnChunk("new")
		return nil
	}, turns.Options{})

	store := h.store
	handle := store.EnqueueTurn("ctx-1", "hi")
	<-firstChunk

	events := make([]a2a.StreamEvent, 0, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.Resubscribe(ctx, a2a.TaskQueryParams{ID: handle.TaskID()}, func(ev a2a.StreamEvent) error {
			events = append(events, ev)
			if ev.Task != nil {
				// Snapshot taken, let the turn finish.
				close(release)
			}
			return nil
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("resubscribe: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("resubscribe never finished")
	}

	if events[0].Task == nil || events[0].Task.Status.State != a2a.TaskStateWorking {
		t.Fatalf("event 0 = %+v, want working task", events[0])
	}
	for _, ev := range events[1:] {
		if ev.Status == nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		if m := ev.Status.Status.Message; m != nil && m.Text() == "old" && !ev.Status.Final {
			t.Fatalf("historical chunk replayed: %+v", ev)
		}
		if ev.Status.Status.State == a2a.TaskStateWorking && ev.Status.Status.Message == nil {
			t.Fatalf("synthetic working transition emitted on late attach: %+v", ev)
		}
	}
	last := events[len(events)-1]
	if last.Status == nil || !last.Status.Final || last.Status.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("last event = %+v", last)
	}
}

func TestMonitorCapability(t *testing.T) {
	ctx := testContext(t)
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error { return nil }, turns.Options{})

	var agent Agent = h
	mon, ok := agent.(Monitor)
	if !ok {
		t.Fatal("handler should expose the monitoring capability")
	}
	if mon.AgentName() != "sage" {
		t.Fatalf("agent name = %q", mon.AgentName())
	}

	if _, err := h.Send(ctx, userMessage("ctx-1", "hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := mon.ContextIDs(); len(got) != 1 || got[0] != "ctx-1" {
		t.Fatalf("contexts = %v", got)
	}
	snaps := mon.TaskSnapshots("ctx-1")
	if len(snaps) != 1 || snaps[0].State != turns.StateCompleted {
		t.Fatalf("snapshots = %+v", snaps)
	}
	if _, ok := mon.TaskSnapshot(snaps[0].ID); !ok {
		t.Fatal("single task lookup failed")
	}
}

func TestFailedTaskMessageText(t *testing.T) {
	h := newTestHandler(t, func(ctx context.Context, turn turns.Turn) error { return nil }, turns.Options{})

	cases := []struct {
		name string
		snap turns.Snapshot
		want string
	}{
		{
			name: "error text",
			snap: turns.Snapshot{State: turns.StateFailed, Error: "boom"},
			want: "Task failed: boom",
		},
		{
			name: "no error but partial output",
			snap: turns.Snapshot{State: turns.StateFailed, Chunks: []string{"partial"}},
			want: "Task failed",
		},
		{
			name: "no error and no output",
			snap: turns.Snapshot{State: turns.StateFailed},
			want: "",
		},
	}
	for _, tc := range cases {
		if got := h.terminalMessage(tc.snap).Text(); got != tc.want {
			t.Errorf("%s: text = %q, want %q", tc.name, got, tc.want)
		}
	}
}
