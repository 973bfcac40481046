package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/gateway/config"
	"github.com/deskmate-ai/deskmate/pkg/gateway/live/protocol"
	"github.com/deskmate-ai/deskmate/pkg/gateway/live/session"
	"github.com/deskmate-ai/deskmate/pkg/gateway/live/sessions"
	"github.com/deskmate-ai/deskmate/pkg/store"
)

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Backend      live.Backend
	Logger       *slog.Logger
	Handles      store.HandleStore
	LiveSessions *sessions.Tracker

	// IsDraining gates new sessions during shutdown.
	IsDraining func() bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.IsDraining != nil && h.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "session", "bad_request", "failed to read hello", true)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "session", "bad_request", "first frame must be hello", true)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code := "bad_request"
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			code = decErr.Code
		}
		h.writeWSError(conn, "session", code, err.Error(), true)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "session", "bad_request", "first frame must be hello", true)
		return
	}

	sessionCfg := h.sessionConfig(hello)

	var (
		liveSession *live.Session
		sessionID   string
		resumed     bool
	)
	if resumeID := strings.TrimSpace(hello.ResumeSessionID); resumeID != "" {
		rec, lookupErr := h.Handles.Latest(r.Context(), resumeID)
		if lookupErr != nil {
			code := "internal"
			if errors.Is(lookupErr, store.ErrNotFound) {
				code = "resume_not_found"
			}
			h.writeWSError(conn, "session", code, "no stored resumption handle for session", true)
			return
		}
		liveSession, err = live.Resume(r.Context(), h.Backend, sessionCfg, rec.Handle)
		sessionID = resumeID
		resumed = true
	} else {
		liveSession, err = live.Open(r.Context(), h.Backend, sessionCfg)
		sessionID = "s_" + randHex(8)
	}
	if err != nil {
		code := "upstream_error"
		if coreErr, ok := core.AsError(err); ok {
			code = string(coreErr.Type)
		}
		h.writeWSError(conn, "session", code, "failed to establish live session", true)
		return
	}

	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Resumed:         resumed,
		AudioIn:         hello.AudioIn,
		AudioOut:        hello.AudioOut,
	}
	if err := conn.WriteJSON(ack); err != nil {
		_ = liveSession.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	bridge, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Live:      liveSession,
		Handles:   h.Handles,
		SessionID: sessionID,
		Config: session.Config{
			PingInterval:       h.Config.LiveWSPingInterval,
			WriteTimeout:       h.Config.LiveWSWriteTimeout,
			ReadTimeout:        h.Config.LiveWSReadTimeout,
			MaxAudioFrameBytes: h.Config.LiveMaxAudioFrameBytes,
			OutboundQueueSize:  h.Config.LiveOutboundQueueSize,
		},
	})
	if err != nil {
		_ = liveSession.Close()
		h.writeWSError(conn, "session", "internal", "failed to initialize live session", true)
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: bridge.Cancel,
			Warn:   bridge.SendWarning,
		})
	}
	defer unregister()

	if err := bridge.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "error", err)
		}
	}
}

func (h LiveHandler) sessionConfig(hello protocol.ClientHello) live.SessionConfig {
	cfg := live.DefaultSessionConfig()
	cfg.Model = hello.Model
	if cfg.Model == "" {
		cfg.Model = h.Config.DefaultModel
	}
	cfg.Voice = hello.Voice
	if cfg.Voice == "" {
		cfg.Voice = h.Config.DefaultVoice
	}
	cfg.SystemInstruction = hello.SystemPrompt
	cfg.Compression = hello.Compression
	if hello.MediaResolution != "" {
		cfg.MediaResolution = live.MediaResolution(hello.MediaResolution)
	}
	cfg.ToolTimeout = h.Config.LiveToolTimeout
	cfg.Resume = live.ResumeConfig{
		InitialBackoff: h.Config.ResumeInitialBackoff,
		MaxBackoff:     h.Config.ResumeMaxBackoff,
		MaxAttempts:    h.Config.ResumeMaxAttempts,
	}
	cfg.Logger = h.Logger
	return cfg
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, scope, code, message string, close bool) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Scope: scope, Code: code, Message: message, Close: close})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
