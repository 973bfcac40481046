package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
	"github.com/deskmate-ai/deskmate/pkg/store"
)

type fakeModelConn struct {
	mu       sync.Mutex
	sent     []types.Chunk
	results  []types.ToolInvocationResult
	incoming chan *live.ServerMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeModelConn() *fakeModelConn {
	return &fakeModelConn{
		incoming: make(chan *live.ServerMessage, 32),
		closed:   make(chan struct{}),
	}
}

func (c *fakeModelConn) Send(_ context.Context, chunk types.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeModelConn) SendToolResult(_ context.Context, result types.ToolInvocationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	return nil
}

func (c *fakeModelConn) Interrupt(context.Context) error { return nil }

func (c *fakeModelConn) Receive(ctx context.Context) (*live.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case msg := <-c.incoming:
		return msg, nil
	}
}

func (c *fakeModelConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeModelConn) sentChunks() []types.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Chunk, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeModelBackend struct {
	conn *fakeModelConn
}

func (b *fakeModelBackend) Connect(context.Context, live.SessionConfig, string) (live.Conn, error) {
	return b.conn, nil
}

type fakeWSConn struct {
	fakeWSWriter
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.done:
		return 0, nil, io.EOF
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, data, nil
	}
}

func (c *fakeWSConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeWSConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBridge(t *testing.T) (*Bridge, *fakeModelConn, *fakeWSConn, *store.MemoryStore, chan error) {
	t.Helper()

	modelConn := newFakeModelConn()
	backend := &fakeModelBackend{conn: modelConn}
	liveSession, err := live.Open(context.Background(), backend, live.SessionConfig{
		Model:  "test-model",
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	ws := newFakeWSConn()
	handles := store.NewMemoryStore()
	bridge, err := New(Dependencies{
		Conn:      ws,
		Logger:    testLogger(),
		Live:      liveSession,
		Handles:   handles,
		SessionID: "s_test",
		Config:    Config{PingInterval: time.Hour, WriteTimeout: time.Second, OutboundQueueSize: 64},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	runDone := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		runDone <- bridge.Run()
		close(finished)
	}()
	t.Cleanup(func() {
		bridge.Cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Errorf("bridge Run did not return")
		}
	})
	return bridge, modelConn, ws, handles, runDone
}

func waitForWrite(t *testing.T, ws *fakeWSConn, substr string) recordedWrite {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, w := range ws.snapshot() {
			if strings.Contains(w.data, substr) {
				return w
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no write containing %q; writes=%+v", substr, ws.snapshot())
	return recordedWrite{}
}

func TestBridge_TextDeltaForwarded(t *testing.T) {
	_, modelConn, ws, _, _ := startBridge(t)

	modelConn.incoming <- &live.ServerMessage{TextDelta: "hello there"}

	w := waitForWrite(t, ws, `"type":"text_delta"`)
	if !strings.Contains(w.data, "hello there") {
		t.Fatalf("text_delta payload=%q", w.data)
	}
}

func TestBridge_ClientTextReachesModel(t *testing.T) {
	_, modelConn, ws, _, _ := startBridge(t)

	ws.inbound <- []byte(`{"type":"text","text":"take a look at this"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, chunk := range modelConn.sentChunks() {
			if text, ok := chunk.(types.TextChunk); ok && text.Text == "take a look at this" {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("text chunk never reached the model: %+v", modelConn.sentChunks())
}

func TestBridge_AudioFrameDecodedAndForwarded(t *testing.T) {
	_, modelConn, ws, _, _ := startBridge(t)

	// "AAAA" decodes to three zero bytes.
	ws.inbound <- []byte(`{"type":"audio_frame","seq":1,"data_b64":"AAAA"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, chunk := range modelConn.sentChunks() {
			if audio, ok := chunk.(types.AudioChunk); ok {
				if audio.SampleRateHz != types.InputSampleRateHz {
					t.Fatalf("sample rate=%d", audio.SampleRateHz)
				}
				if len(audio.Data) != 3 {
					t.Fatalf("decoded %d bytes", len(audio.Data))
				}
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("audio chunk never reached the model")
}

func TestBridge_InvalidBase64Rejected(t *testing.T) {
	_, _, ws, _, _ := startBridge(t)

	ws.inbound <- []byte(`{"type":"audio_frame","data_b64":"!!!not-base64!!!"}`)

	w := waitForWrite(t, ws, `"type":"error"`)
	if !strings.Contains(w.data, "base64") {
		t.Fatalf("error payload=%q", w.data)
	}
}

func TestBridge_DuplicateHelloRejected(t *testing.T) {
	_, _, ws, _, _ := startBridge(t)

	ws.inbound <- []byte(`{
		"type":"hello","protocol_version":"1","model":"m",
		"audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},
		"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}
	}`)

	w := waitForWrite(t, ws, `"type":"error"`)
	if !strings.Contains(w.data, "duplicate hello") {
		t.Fatalf("error payload=%q", w.data)
	}
}

func TestBridge_InterruptionMarksTurnCanceled(t *testing.T) {
	bridge, modelConn, ws, _, _ := startBridge(t)

	modelConn.incoming <- &live.ServerMessage{TextDelta: "partial answer"}
	waitForWrite(t, ws, `"type":"text_delta"`)

	ws.inbound <- []byte(`{"type":"control","op":"interrupt"}`)

	w := waitForWrite(t, ws, `"type":"interrupted"`)
	if !strings.Contains(w.data, `"source":"caller"`) {
		t.Fatalf("interrupted payload=%q", w.data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bridge.canceledMu.Lock()
		n := len(bridge.canceledTurns)
		bridge.canceledMu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("truncated turn was not marked canceled")
}

func TestBridge_ResumptionHandlePersisted(t *testing.T) {
	_, modelConn, ws, handles, _ := startBridge(t)

	modelConn.incoming <- &live.ServerMessage{ResumptionHandle: "handle-9", Resumable: true}

	waitForWrite(t, ws, `"type":"resume_update"`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := handles.Latest(context.Background(), "s_test")
		if err == nil && rec.Handle == "handle-9" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("resumption handle was not persisted")
}

func TestBridge_ToolResultForwarded(t *testing.T) {
	_, modelConn, ws, _, _ := startBridge(t)

	modelConn.incoming <- &live.ServerMessage{
		ToolCalls: []types.ToolInvocationRequest{{ID: "inv_1", Name: "screenshot"}},
	}
	waitForWrite(t, ws, `"type":"tool_call"`)

	ws.inbound <- []byte(`{"type":"tool_result","invocation_id":"inv_1","output":{"ok":true}}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		modelConn.mu.Lock()
		n := len(modelConn.results)
		modelConn.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("tool result never reached the model")
}

func TestBridge_UnknownToolResultReportedNotFatal(t *testing.T) {
	_, modelConn, ws, _, _ := startBridge(t)

	ws.inbound <- []byte(`{"type":"tool_result","invocation_id":"inv_missing","output":{}}`)
	waitForWrite(t, ws, `"scope":"operation"`)

	// The session stays usable afterwards.
	modelConn.incoming <- &live.ServerMessage{TextDelta: "still alive"}
	waitForWrite(t, ws, "still alive")
}

func TestBridge_EndSessionTerminatesRun(t *testing.T) {
	_, _, ws, _, runDone := startBridge(t)

	ws.inbound <- []byte(`{"type":"control","op":"end_session"}`)

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after end_session")
	}
}

func TestBridge_ModelEOFTerminatesRun(t *testing.T) {
	_, modelConn, _, _, runDone := startBridge(t)

	_ = modelConn.Close()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after model stream ended")
	}
}
