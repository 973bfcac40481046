package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// Session is one continuous connection to the streaming AI backend. It owns
// the lifecycle state, the FIFO input queue, the output event stream, and
// the resumption handle.
//
// Lock ordering: outMu guards the active output turn and is never acquired
// while mu is held. emitMu guards the events channel lifecycle only.
type Session struct {
	cfg     SessionConfig
	backend Backend
	logger  *slog.Logger

	id        string
	startedAt time.Time

	mu            sync.RWMutex
	state         SessionState
	conn          Conn
	usage         types.Usage
	handle        string
	videoSeen     bool
	warnTimer     *time.Timer
	deadlineTimer *time.Timer

	// Output turn state. At most one model-output turn is active at a time.
	// dropping discards stale deltas of a truncated turn until the backend
	// reports the turn boundary.
	outMu    sync.Mutex
	turn     *types.Turn
	dropping bool

	tools *invocationTracker

	input  chan types.Chunk
	events chan Event
	done   chan struct{}
	closed atomic.Bool

	emitMu       sync.Mutex
	eventsClosed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Open establishes a fresh session. It returns a Session in ACTIVE state, or
// a ConnectionError if the backend is unreachable or rejects authentication.
func Open(ctx context.Context, backend Backend, cfg SessionConfig) (*Session, error) {
	return open(ctx, backend, cfg, "")
}

// Resume reconnects using a previously issued resumption handle, restoring
// the prior conversation context. It fails with ResumptionExpiredError if
// the backend has discarded that context; it never silently creates a fresh
// one.
func Resume(ctx context.Context, backend Backend, cfg SessionConfig, handle string) (*Session, error) {
	if handle == "" {
		return nil, core.NewInvalidRequestError("resumption handle is required")
	}
	return open(ctx, backend, cfg, handle)
}

func open(ctx context.Context, backend Backend, cfg SessionConfig, handle string) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestError("model is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:       cfg,
		backend:   backend,
		id:        "sess_" + uuid.NewString(),
		startedAt: time.Now(),
		state:     StateConnecting,
		handle:    handle,
		tools:     newInvocationTracker(),
		input:     make(chan types.Chunk, cfg.InputQueueSize),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
	s.logger = logger.With("session_id", s.id)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	conn, err := backend.Connect(ctx, cfg, handle)
	if err != nil {
		s.cancel()
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.NewConnectionError(err.Error())
	}
	s.conn = conn

	s.setState(StateActive)
	s.emit(&SessionCreatedEvent{SessionID: s.id, Model: cfg.Model, Resumed: handle != ""})
	s.logger.Info("session opened", "model", cfg.Model, "resumed", handle != "")

	s.armCeiling()

	go s.sendLoop()
	go s.receiveLoop()

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Usage returns the cumulative token usage reported so far.
func (s *Session) Usage() types.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// ResumptionHandle returns the freshest handle issued by the backend, or ""
// if none has arrived yet. Each update replaces the previous handle.
func (s *Session) ResumptionHandle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Output returns the event stream. Consuming it drains the live session;
// the sequence is not restartable. The channel is closed when the session
// terminates, after a final SessionClosedEvent.
func (s *Session) Output() <-chan Event {
	return s.events
}

// SendInput enqueues one chunk for transmission. Chunks are delivered to
// the backend in submission order. The call does not block: a full queue
// fails with an InvalidRequestError rather than waiting.
func (s *Session) SendInput(chunk types.Chunk) error {
	if s.closed.Load() {
		return core.NewInvalidStateError("send_input", StateTerminated.String())
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateActive && state != StateInterrupted {
		return core.NewInvalidStateError("send_input", state.String())
	}

	switch c := chunk.(type) {
	case types.AudioChunk:
		if c.SampleRateHz != types.InputSampleRateHz {
			return core.NewInvalidRequestError(fmt.Sprintf("input audio must be %d Hz, got %d", types.InputSampleRateHz, c.SampleRateHz))
		}
	case types.VideoChunk:
		s.noteVideo()
	}

	select {
	case s.input <- chunk:
		return nil
	case <-s.done:
		return core.NewInvalidStateError("send_input", StateTerminated.String())
	default:
		return core.NewInvalidRequestError("input queue full")
	}
}

// Interrupt signals that new user input is beginning. Any in-flight output
// turn is truncated at its current position and exactly one
// InterruptionEvent records the cut. Later deltas of the truncated turn are
// discarded so no chunk delivered after the event precedes the truncation
// point. Callable at any time while the session is live.
func (s *Session) Interrupt() error {
	if s.closed.Load() {
		return core.NewInvalidStateError("interrupt", StateTerminated.String())
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateActive && state != StateInterrupted {
		return core.NewInvalidStateError("interrupt", state.String())
	}

	s.outMu.Lock()
	turn := s.turn
	if turn != nil {
		s.setState(StateInterrupted)
		at := turn.Truncate()
		s.turn = nil
		s.dropping = true
		s.emit(&InterruptionEvent{TurnID: turn.ID, TruncatedAt: at, Source: "caller"})
	}
	s.outMu.Unlock()

	if turn != nil {
		s.setState(StateActive)
		s.logger.Debug("output turn interrupted", "turn_id", turn.ID)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		if err := conn.Interrupt(s.ctx); err != nil {
			s.logger.Warn("interrupt signal failed", "error", err)
		}
	}
	return nil
}

// InvokeToolResult supplies the executor's answer for an outstanding tool
// invocation. Results may be submitted concurrently and in any order; they
// are matched purely by invocation id. An id that was never requested (or
// already answered) fails with UnknownInvocationError and leaves the
// session state unchanged.
func (s *Session) InvokeToolResult(ctx context.Context, result types.ToolInvocationResult) error {
	if s.closed.Load() {
		return core.NewInvalidStateError("invoke_tool_result", StateTerminated.String())
	}
	if !s.tools.resolve(result.ID) {
		return core.NewUnknownInvocationError(result.ID)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return core.NewInvalidStateError("invoke_tool_result", StateSuspended.String())
	}
	return conn.SendToolResult(ctx, result)
}

// Close gracefully terminates the session. It is idempotent, unblocks any
// consumer of Output with a clean channel close, and cancels all internal
// loops and timers.
func (s *Session) Close() error {
	return s.closeInternal("closed", nil)
}

// fatal terminates the session with an error that must reach the caller
// exactly once. The closed flag guarantees the once.
func (s *Session) fatal(err *core.Error) {
	err.SessionID = s.id
	s.logger.Error("session lost", "error", err)
	s.closeInternal("fatal error", err)
}

func (s *Session) closeInternal(reason string, fatalErr *core.Error) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
	}
	prev := s.state
	s.state = StateTerminated
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.tools.drain()

	close(s.done)

	s.emitMu.Lock()
	if prev != StateTerminated {
		s.tryEmitLocked(&StateChangedEvent{From: prev, To: StateTerminated})
	}
	s.tryEmitLocked(&SessionClosedEvent{Reason: reason, Err: fatalErr})
	s.eventsClosed = true
	close(s.events)
	s.emitMu.Unlock()

	s.logger.Info("session closed", "reason", reason)
	return nil
}

// sendLoop drains the input queue one chunk at a time, preserving FIFO
// order across reconnections.
func (s *Session) sendLoop() {
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.input:
			s.deliver(chunk)
		}
	}
}

// deliver retries one chunk until it is sent or the session terminates.
// While SUSPENDED it waits for resumption rather than dropping the chunk.
func (s *Session) deliver(chunk types.Chunk) {
	for {
		s.mu.RLock()
		conn := s.conn
		state := s.state
		s.mu.RUnlock()

		if state == StateTerminated {
			return
		}
		if conn == nil || state == StateSuspended {
			select {
			case <-s.done:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		err := conn.Send(s.ctx, chunk)
		if err == nil {
			return
		}
		if s.closed.Load() {
			return
		}
		s.logger.Warn("input send failed, waiting for resumption", "error", err)
		select {
		case <-s.done:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// receiveLoop reads server messages until the session ends. Connection
// errors suspend the session and trigger automatic resumption; a clean EOF
// or a non-retryable error terminates it.
func (s *Session) receiveLoop() {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, err := conn.Receive(s.ctx)
		if err != nil {
			if s.closed.Load() || s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.closeInternal("backend closed the stream", nil)
				return
			}
			if cerr, ok := core.AsError(err); ok && !cerr.IsRetryable() {
				s.fatal(cerr)
				return
			}
			if !s.autoResume(err) {
				return
			}
			continue
		}
		s.handleServerMessage(msg)
	}
}

func (s *Session) handleServerMessage(msg *ServerMessage) {
	if msg == nil {
		return
	}

	if msg.Interrupted {
		s.handleBackendInterrupt()
	}
	if msg.Blocked {
		s.handleBlockedTurn()
	}
	if msg.TextDelta != "" || len(msg.AudioDelta) > 0 {
		s.handleDelta(msg)
	}
	if msg.TurnComplete {
		s.handleTurnComplete()
	}
	if len(msg.ToolCalls) > 0 {
		s.handleToolCalls(msg.ToolCalls)
	}
	if len(msg.CancelledToolIDs) > 0 {
		s.tools.cancel(msg.CancelledToolIDs)
		s.emit(&ToolCallCancelledEvent{IDs: msg.CancelledToolIDs})
	}
	if msg.ResumptionHandle != "" {
		s.mu.Lock()
		s.handle = msg.ResumptionHandle
		s.mu.Unlock()
		s.emit(&ResumptionUpdateEvent{Handle: msg.ResumptionHandle, Resumable: msg.Resumable})
	}
	if msg.Usage != nil {
		s.mu.Lock()
		s.usage = s.usage.Merge(*msg.Usage)
		u := s.usage
		s.mu.Unlock()
		s.emit(&UsageEvent{Usage: u})
	}
	if msg.GoAway {
		left := time.Duration(msg.GoAwayIn) * time.Millisecond
		s.emit(&WarningEvent{
			Code:     "go_away",
			Message:  "backend will close the connection soon",
			TimeLeft: left,
		})
	}
}

// handleDelta appends a fragment to the active output turn, opening a new
// turn if none is in flight. Deltas of a truncated turn are discarded until
// the backend reports the turn boundary.
func (s *Session) handleDelta(msg *ServerMessage) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.dropping {
		return
	}
	if s.turn == nil {
		s.turn = &types.Turn{ID: "turn_" + uuid.NewString(), Role: types.RoleModel}
	}
	turn := s.turn

	if msg.TextDelta != "" {
		turn.Append(types.TextChunk{Text: msg.TextDelta})
		s.emit(&TextDeltaEvent{TurnID: turn.ID, Text: msg.TextDelta})
	}
	if len(msg.AudioDelta) > 0 {
		turn.Append(types.AudioChunk{Data: msg.AudioDelta, SampleRateHz: types.OutputSampleRateHz})
		s.emit(&AudioDeltaEvent{TurnID: turn.ID, Data: msg.AudioDelta, SampleRateHz: types.OutputSampleRateHz})
	}
}

// handleBackendInterrupt processes server-side barge-in detection. If the
// caller already interrupted, this is the turn-boundary confirmation and no
// second event is emitted.
func (s *Session) handleBackendInterrupt() {
	s.outMu.Lock()
	if s.dropping {
		s.dropping = false
		s.outMu.Unlock()
		return
	}
	turn := s.turn
	if turn == nil {
		s.outMu.Unlock()
		return
	}
	s.setState(StateInterrupted)
	at := turn.Truncate()
	s.turn = nil
	s.emit(&InterruptionEvent{TurnID: turn.ID, TruncatedAt: at, Source: "backend"})
	s.outMu.Unlock()

	s.setState(StateActive)
	s.logger.Debug("backend interrupted output turn", "turn_id", turn.ID)
}

func (s *Session) handleTurnComplete() {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	s.dropping = false
	turn := s.turn
	s.turn = nil
	if turn != nil {
		turn.Complete = true
		s.emit(&TurnCompleteEvent{Turn: turn})
	}
}

// handleBlockedTurn reports a content-safety suppression. The error is
// scoped to the offending turn; the session stays ACTIVE.
func (s *Session) handleBlockedTurn() {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	var turnID string
	if s.turn != nil {
		turnID = s.turn.ID
		s.turn = nil
	}
	err := core.NewContentBlockedError(turnID)
	err.SessionID = s.id
	s.emit(&ErrorEvent{Err: err})
	s.logger.Warn("output turn blocked by content safety", "turn_id", turnID)
}

func (s *Session) handleToolCalls(reqs []types.ToolInvocationRequest) {
	var deadline time.Time
	if s.cfg.ToolTimeout > 0 {
		deadline = time.Now().Add(s.cfg.ToolTimeout)
	}
	for _, req := range reqs {
		s.tools.track(req, s.cfg.ToolTimeout, s.onToolTimeout)
	}
	s.emit(&ToolCallEvent{Requests: reqs, Deadline: deadline})
}

// onToolTimeout answers an expired invocation with an error result on the
// executor's behalf so the model is not left waiting.
func (s *Session) onToolTimeout(req types.ToolInvocationRequest) {
	if s.closed.Load() {
		return
	}
	s.logger.Warn("tool invocation timed out", "invocation_id", req.ID, "tool", req.Name)
	s.emit(&WarningEvent{
		Code:    "tool_timeout",
		Message: fmt.Sprintf("tool %q invocation %s was not answered in time", req.Name, req.ID),
	})

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	res := types.ErrorResult(req.ID, "tool executor timed out")
	if err := conn.SendToolResult(s.ctx, res); err != nil {
		s.logger.Warn("timeout result send failed", "invocation_id", req.ID, "error", err)
	}
}

// autoResume reconnects with the freshest resumption handle under capped
// exponential backoff. It reports whether the session is ACTIVE again;
// exhausted attempts or an expired handle terminate the session with a
// single SessionLostError.
func (s *Session) autoResume(cause error) bool {
	s.setState(StateSuspended)
	s.emit(&WarningEvent{Code: "connection_lost", Message: cause.Error()})
	s.logger.Warn("connection lost, resuming", "error", cause)

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	handle := s.handle
	s.mu.Unlock()

	// The turn that was streaming when the connection dropped cannot be
	// completed; record where it stopped.
	s.outMu.Lock()
	if s.turn != nil {
		turn := s.turn
		at := turn.Truncate()
		s.turn = nil
		s.emit(&InterruptionEvent{TurnID: turn.ID, TruncatedAt: at, Source: "connection"})
	}
	s.dropping = false
	s.outMu.Unlock()

	backoff := retry.WithCappedDuration(s.cfg.Resume.MaxBackoff, retry.NewExponential(s.cfg.Resume.InitialBackoff))
	backoff = retry.WithMaxRetries(uint64(s.cfg.Resume.MaxAttempts), backoff)

	attempts := 0
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		attempts++
		conn, err := s.backend.Connect(ctx, s.cfg, handle)
		if err != nil {
			if cerr, ok := core.AsError(err); ok && !cerr.IsRetryable() {
				return err
			}
			s.logger.Debug("resumption attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		if s.closed.Load() {
			return false
		}
		s.fatal(core.NewSessionLostError(fmt.Sprintf("resumption failed after %d attempts: %v", attempts, err)))
		return false
	}
	if s.closed.Load() {
		return false
	}

	s.setState(StateActive)
	s.emit(&ResumedEvent{Attempts: attempts})
	s.logger.Info("session resumed", "attempts", attempts)
	return true
}

// armCeiling starts the duration watchdog for uncompressed sessions.
func (s *Session) armCeiling() {
	if s.cfg.Compression {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rearmCeilingLocked(AudioSessionCeiling)
}

// noteVideo tightens the ceiling once video starts streaming.
func (s *Session) noteVideo() {
	if s.cfg.Compression {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoSeen {
		return
	}
	s.videoSeen = true
	s.rearmCeilingLocked(VideoSessionCeiling)
}

func (s *Session) rearmCeilingLocked(ceiling time.Duration) {
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
	}

	remaining := time.Until(s.startedAt.Add(ceiling))
	if remaining < 0 {
		remaining = 0
	}
	warnIn := remaining - CeilingWarnLead
	if warnIn < 0 {
		warnIn = 0
	}
	left := remaining - warnIn

	s.warnTimer = time.AfterFunc(warnIn, func() {
		s.emit(&WarningEvent{
			Code:     "duration_ceiling",
			Message:  "session duration ceiling approaching; enable compression for unbounded sessions",
			TimeLeft: left,
		})
	})
	s.deadlineTimer = time.AfterFunc(remaining, func() {
		s.logger.Info("duration ceiling reached", "ceiling", ceiling)
		s.closeInternal("duration ceiling reached", nil)
	})
}

// setState swaps the lifecycle state and emits a StateChangedEvent on every
// transition.
func (s *Session) setState(newState SessionState) {
	s.mu.Lock()
	oldState := s.state
	if oldState == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		s.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit queues an event for the Output channel. Events are dropped rather
// than blocking the session loops when the consumer falls a full buffer
// behind.
func (s *Session) emit(event Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("event dropped, consumer too slow", "event", event.EventType())
	}
}

// tryEmitLocked is emit for the shutdown path; the caller holds emitMu.
func (s *Session) tryEmitLocked(event Event) {
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}
