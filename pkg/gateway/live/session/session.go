// Package session bridges one websocket client to one live model session.
// Inbound frames become session operations, session events become outbound
// frames. A single writer goroutine owns the websocket write side.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
	"github.com/deskmate-ai/deskmate/pkg/gateway/live/protocol"
	"github.com/deskmate-ai/deskmate/pkg/store"
)

const outboundPriorityQueueSize = 32

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, data []byte, err error)
	SetReadDeadline(t time.Time) error
}

type Config struct {
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxAudioFrameBytes int
	OutboundQueueSize  int
}

type Dependencies struct {
	Conn      wsConn
	Logger    *slog.Logger
	Live      *live.Session
	Handles   store.HandleStore
	SessionID string
	Config    Config
}

// Bridge runs the frame loop for one established live session.
type Bridge struct {
	conn    wsConn
	logger  *slog.Logger
	live    *live.Session
	handles store.HandleStore
	id      string
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledMu    sync.Mutex
	canceledTurns map[string]struct{}

	audioSeq int64
}

type inboundFrame struct {
	decoded any
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, errors.New("session: nil websocket connection")
	}
	if deps.Live == nil {
		return nil, errors.New("session: nil live session")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := deps.Config.OutboundQueueSize
	if queueSize <= 0 {
		queueSize = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:             deps.Conn,
		logger:           logger.With("session_id", deps.SessionID),
		live:             deps.Live,
		handles:          deps.Handles,
		id:               deps.SessionID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, min(queueSize, outboundPriorityQueueSize)),
		outboundNormal:   make(chan outboundFrame, queueSize),
		canceledTurns:    make(map[string]struct{}),
	}, nil
}

// Run blocks until the client disconnects or the live session terminates.
func (b *Bridge) Run() error {
	writer := &outboundWriter{
		ws:         b.conn,
		ctx:        b.ctx,
		cfg:        b.cfg,
		priority:   b.outboundPriority,
		normal:     b.outboundNormal,
		isCanceled: b.isTurnCanceled,
	}
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run() }()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		b.pumpEvents()
	}()

	inbound := make(chan inboundFrame, 16)
	go b.readLoop(inbound)

	var runErr error
loop:
	for {
		select {
		case <-b.ctx.Done():
			break loop
		case err := <-writerDone:
			writerDone = nil
			runErr = err
			break loop
		case frame, ok := <-inbound:
			if !ok {
				break loop
			}
			if err := b.handleClientFrame(frame.decoded); err != nil {
				b.logger.Warn("client frame rejected", "error", err)
			}
		}
	}

	// Tearing down the live session closes its event channel, which lets the
	// pump enqueue the closed frame and close the outbound queues, which lets
	// the writer drain and exit. Cancel first so a dead writer cannot leave
	// the pump blocked on a full priority queue.
	b.cancel()
	_ = b.live.Close()
	<-pumpDone
	if writerDone != nil {
		if err := <-writerDone; runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// Cancel tears the session down. Safe to call from another goroutine.
func (b *Bridge) Cancel() {
	b.cancel()
	_ = b.live.Close()
}

// SendWarning pushes a warning frame ahead of queued output.
func (b *Bridge) SendWarning(code, message string) error {
	return b.enqueueJSONPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		if b.cfg.ReadTimeout > 0 {
			_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		}
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		decoded, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var decErr *protocol.DecodeError
			code := "bad_request"
			if errors.As(err, &decErr) {
				code = decErr.Code
			}
			_ = b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: code, Message: err.Error()})
			continue
		}
		select {
		case out <- inboundFrame{decoded: decoded}:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleClientFrame(decoded any) error {
	switch msg := decoded.(type) {
	case protocol.ClientHello:
		return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: "bad_request", Message: "duplicate hello"})
	case protocol.ClientText:
		return b.reportOpError(b.live.SendInput(types.TextChunk{Text: msg.Text}))
	case protocol.ClientAudioFrame:
		data, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: "bad_request", Message: "audio_frame.data_b64 is not valid base64"})
		}
		if b.cfg.MaxAudioFrameBytes > 0 && len(data) > b.cfg.MaxAudioFrameBytes {
			return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: "bad_request", Message: "audio frame exceeds size limit"})
		}
		return b.reportOpError(b.live.SendInput(types.AudioChunk{Data: data, SampleRateHz: types.InputSampleRateHz}))
	case protocol.ClientVideoFrame:
		data, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: "bad_request", Message: "video_frame.data_b64 is not valid base64"})
		}
		return b.reportOpError(b.live.SendInput(types.VideoChunk{Data: data, MimeType: msg.MimeType}))
	case protocol.ClientControl:
		switch msg.Op {
		case "interrupt":
			return b.reportOpError(b.live.Interrupt())
		case "end_session":
			b.cancel()
			return nil
		}
		return nil
	case protocol.ClientToolResult:
		result := types.ToolInvocationResult{ID: msg.InvocationID, Output: msg.Output, IsError: msg.IsError}
		return b.reportOpError(b.live.InvokeToolResult(b.ctx, result))
	default:
		return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "frame", Code: "bad_request", Message: "unsupported frame"})
	}
}

// reportOpError surfaces a failed session operation to the client without
// tearing the connection down.
func (b *Bridge) reportOpError(err error) error {
	if err == nil {
		return nil
	}
	code := "invalid_request"
	if coreErr, ok := core.AsError(err); ok {
		code = string(coreErr.Type)
	}
	return b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "operation", Code: code, Message: err.Error()})
}

func (b *Bridge) pumpEvents() {
	for ev := range b.live.Output() {
		switch ev := ev.(type) {
		case *live.TextDeltaEvent:
			b.enqueueJSON(protocol.ServerTextDelta{Type: "text_delta", TurnID: ev.TurnID, Text: ev.Text})
		case *live.AudioDeltaEvent:
			b.audioSeq++
			b.enqueueAudio(ev.TurnID, protocol.ServerAudioDelta{
				Type:         "audio_delta",
				TurnID:       ev.TurnID,
				Seq:          b.audioSeq,
				DataB64:      base64.StdEncoding.EncodeToString(ev.Data),
				SampleRateHz: ev.SampleRateHz,
			})
		case *live.TurnCompleteEvent:
			b.enqueueJSON(protocol.ServerTurnComplete{Type: "turn_complete", TurnID: ev.Turn.ID, Text: ev.Turn.Text()})
		case *live.InterruptionEvent:
			b.markTurnCanceled(ev.TurnID)
			_ = b.enqueueJSONPriority(protocol.ServerInterrupted{Type: "interrupted", TurnID: ev.TurnID, TruncatedAt: ev.TruncatedAt, Source: ev.Source})
		case *live.ToolCallEvent:
			_ = b.enqueueJSONPriority(protocol.ServerToolCall{Type: "tool_call", Requests: ev.Requests})
		case *live.ToolCallCancelledEvent:
			_ = b.enqueueJSONPriority(protocol.ServerToolCallCancelled{Type: "tool_call_cancelled", IDs: ev.IDs})
		case *live.UsageEvent:
			b.enqueueJSON(protocol.ServerUsage{Type: "usage", Usage: ev.Usage})
		case *live.ResumptionUpdateEvent:
			b.saveHandle(ev.Handle, ev.Resumable)
			b.enqueueJSON(protocol.ServerResumeUpdate{Type: "resume_update", Resumable: ev.Resumable})
		case *live.ResumedEvent:
			_ = b.SendWarning("connection_restored", "session resumed after transient disconnect")
		case *live.WarningEvent:
			_ = b.enqueueJSONPriority(protocol.ServerWarning{Type: "warning", Code: ev.Code, Message: ev.Message, TimeLeftMS: ev.TimeLeft.Milliseconds()})
		case *live.ErrorEvent:
			_ = b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "turn", Code: string(ev.Err.Type), Message: ev.Err.Message, TurnID: ev.Err.TurnID})
		case *live.SessionClosedEvent:
			if ev.Err != nil {
				_ = b.enqueueJSONPriority(protocol.ServerError{Type: "error", Scope: "session", Code: string(ev.Err.Type), Message: ev.Err.Message, Close: true})
			}
			_ = b.enqueueJSONPriority(protocol.ServerClosed{Type: "closed", Reason: ev.Reason})
		}
	}
	close(b.outboundPriority)
	close(b.outboundNormal)
}

func (b *Bridge) saveHandle(handle string, resumable bool) {
	if b.handles == nil || !resumable {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.handles.Save(saveCtx, b.id, handle); err != nil {
		b.logger.Warn("failed to persist resumption handle", "error", err)
	}
}

func (b *Bridge) markTurnCanceled(turnID string) {
	if turnID == "" {
		return
	}
	b.canceledMu.Lock()
	b.canceledTurns[turnID] = struct{}{}
	b.canceledMu.Unlock()
}

func (b *Bridge) isTurnCanceled(turnID string) bool {
	b.canceledMu.Lock()
	defer b.canceledMu.Unlock()
	_, ok := b.canceledTurns[turnID]
	return ok
}

func (b *Bridge) enqueueJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.enqueueNormal(outboundFrame{payload: payload})
}

func (b *Bridge) enqueueAudio(turnID string, v protocol.ServerAudioDelta) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.enqueueNormal(outboundFrame{payload: payload, isTurnAudio: true, turnID: turnID})
}

func (b *Bridge) enqueueJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case b.outboundPriority <- outboundFrame{payload: payload}:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

// Normal frames are dropped under backpressure rather than stalling the
// session. Deltas are incremental and the complete turn still arrives.
func (b *Bridge) enqueueNormal(frame outboundFrame) {
	select {
	case b.outboundNormal <- frame:
	default:
		b.logger.Warn("outbound queue full, dropping frame")
	}
}
