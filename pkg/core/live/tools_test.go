package live

import (
	"context"
	"testing"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

func toolCall(id, name string) types.ToolInvocationRequest {
	return types.ToolInvocationRequest{
		ID:   id,
		Name: name,
		Args: map[string]any{"query": "weather"},
	}
}

func TestToolInvocationRoundTrip(t *testing.T) {
	s, backend := openTestSession(t)
	conn := backend.conn(0)

	conn.incoming <- &ServerMessage{ToolCalls: []types.ToolInvocationRequest{toolCall("call_1", "search")}}

	call := waitForEvent[*ToolCallEvent](t, s)
	if len(call.Requests) != 1 || call.Requests[0].ID != "call_1" {
		t.Fatalf("unexpected tool call event: %+v", call)
	}

	result := types.ToolInvocationResult{ID: "call_1", Output: map[string]any{"answer": "sunny"}}
	if err := s.InvokeToolResult(context.Background(), result); err != nil {
		t.Fatalf("InvokeToolResult failed: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(conn.sentResults()) == 1 })
	if got := conn.sentResults()[0]; got.ID != "call_1" || got.IsError {
		t.Fatalf("backend received %+v", got)
	}
}

func TestConcurrentResultsAnyOrder(t *testing.T) {
	s, backend := openTestSession(t)
	conn := backend.conn(0)

	conn.incoming <- &ServerMessage{ToolCalls: []types.ToolInvocationRequest{
		toolCall("call_a", "search"),
		toolCall("call_b", "open_app"),
		toolCall("call_c", "screenshot"),
	}}
	waitForEvent[*ToolCallEvent](t, s)

	for _, id := range []string{"call_c", "call_a", "call_b"} {
		if err := s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: id}); err != nil {
			t.Fatalf("result for %s failed: %v", id, err)
		}
	}
	waitUntil(t, time.Second, func() bool { return len(conn.sentResults()) == 3 })
}

func TestUnknownInvocationLeavesStateUnchanged(t *testing.T) {
	s, _ := openTestSession(t)

	before := s.State()
	err := s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: "never_requested"})
	if core.TypeOf(err) != core.ErrUnknownInvocation {
		t.Fatalf("error type = %s, want %s", core.TypeOf(err), core.ErrUnknownInvocation)
	}
	if got := s.State(); got != before {
		t.Fatalf("state changed %s -> %s on rejected result", before, got)
	}
}

func TestDuplicateResultRejected(t *testing.T) {
	s, backend := openTestSession(t)
	conn := backend.conn(0)

	conn.incoming <- &ServerMessage{ToolCalls: []types.ToolInvocationRequest{toolCall("call_1", "search")}}
	waitForEvent[*ToolCallEvent](t, s)

	if err := s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: "call_1"}); err != nil {
		t.Fatalf("first result failed: %v", err)
	}
	err := s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: "call_1"})
	if core.TypeOf(err) != core.ErrUnknownInvocation {
		t.Fatalf("error type = %s, want %s", core.TypeOf(err), core.ErrUnknownInvocation)
	}
}

func TestExecutorTimeoutAnsweredUpstream(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig()
	cfg.ToolTimeout = 30 * time.Millisecond
	s, err := Open(context.Background(), backend, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	conn := backend.conn(0)

	conn.incoming <- &ServerMessage{ToolCalls: []types.ToolInvocationRequest{toolCall("call_slow", "search")}}
	waitForEvent[*ToolCallEvent](t, s)

	warning := waitForEvent[*WarningEvent](t, s)
	if warning.Code != "tool_timeout" {
		t.Fatalf("warning code = %q, want tool_timeout", warning.Code)
	}

	// The manager answered the backend on the executor's behalf.
	waitUntil(t, time.Second, func() bool { return len(conn.sentResults()) == 1 })
	got := conn.sentResults()[0]
	if got.ID != "call_slow" || !got.IsError {
		t.Fatalf("timeout answer = %+v, want error result for call_slow", got)
	}

	// A late executor result is now unknown.
	err = s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: "call_slow"})
	if core.TypeOf(err) != core.ErrUnknownInvocation {
		t.Fatalf("late result error = %s, want %s", core.TypeOf(err), core.ErrUnknownInvocation)
	}
}

func TestCancelledInvocationsWithdrawn(t *testing.T) {
	s, backend := openTestSession(t)
	conn := backend.conn(0)

	conn.incoming <- &ServerMessage{ToolCalls: []types.ToolInvocationRequest{toolCall("call_1", "search")}}
	waitForEvent[*ToolCallEvent](t, s)

	conn.incoming <- &ServerMessage{CancelledToolIDs: []string{"call_1"}}
	cancelled := waitForEvent[*ToolCallCancelledEvent](t, s)
	if len(cancelled.IDs) != 1 || cancelled.IDs[0] != "call_1" {
		t.Fatalf("cancelled ids = %v, want [call_1]", cancelled.IDs)
	}

	err := s.InvokeToolResult(context.Background(), types.ToolInvocationResult{ID: "call_1"})
	if core.TypeOf(err) != core.ErrUnknownInvocation {
		t.Fatalf("result after cancel = %s, want %s", core.TypeOf(err), core.ErrUnknownInvocation)
	}
}

func TestTrackerDrainStopsTimers(t *testing.T) {
	tracker := newInvocationTracker()
	fired := make(chan string, 2)
	tracker.track(toolCall("call_1", "a"), 20*time.Millisecond, func(req types.ToolInvocationRequest) {
		fired <- req.ID
	})
	tracker.track(toolCall("call_2", "b"), 20*time.Millisecond, func(req types.ToolInvocationRequest) {
		fired <- req.ID
	})
	tracker.drain()

	select {
	case id := <-fired:
		t.Fatalf("timer for %s fired after drain", id)
	case <-time.After(60 * time.Millisecond):
	}
	if tracker.outstanding() != 0 {
		t.Fatalf("outstanding = %d after drain", tracker.outstanding())
	}
}
