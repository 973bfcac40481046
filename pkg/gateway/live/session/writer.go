package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	payload []byte

	// isTurnAudio marks an audio delta frame so queued audio belonging to
	// a truncated turn can be dropped before it reaches the client.
	isTurnAudio bool
	turnID      string
}

// outboundWriter is the single goroutine allowed to write to the websocket.
// Priority frames (interruptions, tool calls, errors) always reach the wire
// before queued normal frames, including a normal frame that was already
// pulled off its channel.
type outboundWriter struct {
	ws         wsWriter
	ctx        context.Context
	cfg        Config
	priority   <-chan outboundFrame
	normal     <-chan outboundFrame
	isCanceled func(string) bool
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	// A normal frame parked here waits one more priority drain before it
	// is written.
	var held *outboundFrame

	for {
		if w.ctx != nil && w.ctx.Err() != nil {
			return w.shutdown(writeTimeout)
		}

		drained, err := w.drainPriority(writeTimeout)
		if err != nil {
			return err
		}
		if drained {
			continue
		}

		if held != nil {
			frame := *held
			held = nil
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			held = &frame
		}
	}
}

// drainPriority writes every priority frame already queued, without
// blocking. It reports whether anything was consumed so the caller loops
// back through the shutdown check first.
func (w *outboundWriter) drainPriority(writeTimeout time.Duration) (bool, error) {
	consumed := false
	for w.priority != nil {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				return true, nil
			}
			consumed = true
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return consumed, err
			}
		default:
			return consumed, nil
		}
	}
	return consumed, nil
}

// shutdown gives already-queued priority frames a short window to reach the
// client, then closes the websocket cleanly.
func (w *outboundWriter) shutdown(writeTimeout time.Duration) error {
	w.flushPriorityOnShutdown(writeTimeout)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
	_ = w.ws.Close()
	return nil
}

func (w *outboundWriter) flushPriorityOnShutdown(writeTimeout time.Duration) {
	if w.priority == nil {
		return
	}

	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	if flushTimeout <= 0 {
		return
	}

	deadline := time.Now().Add(flushTimeout)
	const maxFlushFrames = 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.writeFrame(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if frame.isTurnAudio && w.isCanceled != nil && w.isCanceled(frame.turnID) {
		return nil
	}
	if len(frame.payload) == 0 {
		return nil
	}

	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}
