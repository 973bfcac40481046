package live

import (
	"log/slog"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// SessionState represents the current lifecycle state of a live session.
type SessionState int

const (
	// StateConnecting is the initial state while the backend connection is
	// being established.
	StateConnecting SessionState = iota
	// StateActive is the normal bidirectional streaming state.
	StateActive
	// StateInterrupted is the transient state while an in-flight model turn
	// is being truncated. The session returns to ACTIVE immediately after.
	StateInterrupted
	// StateSuspended is entered on transient connection loss while automatic
	// resumption is in progress.
	StateSuspended
	// StateTerminated is terminal. No operation is valid afterwards.
	StateTerminated
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Session duration ceilings enforced when context compression is disabled.
// The backend terminates uncompressed sessions at these points; the manager
// warns and closes proactively rather than losing the tail of the stream.
const (
	// AudioSessionCeiling applies while only text and audio are exchanged.
	AudioSessionCeiling = 15 * time.Minute
	// VideoSessionCeiling applies once video frames stream on the session.
	VideoSessionCeiling = 2 * time.Minute
	// CeilingWarnLead is how far before the ceiling a warning is emitted.
	CeilingWarnLead = 30 * time.Second
)

// MediaResolution selects how much detail video frames carry to the model.
type MediaResolution string

const (
	MediaResolutionLow  MediaResolution = "low"
	MediaResolutionHigh MediaResolution = "high"
)

// Modality names a kind of model output.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// SessionConfig holds all configuration for a live session. It is supplied
// once at Open and immutable for the session's lifetime; changing any field
// requires a new session.
type SessionConfig struct {
	// Model is the live model to connect to.
	Model string `json:"model"`

	// SystemInstruction steers the model for the whole session.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// Voice selects the speech synthesis voice, e.g. "Puck" or "Kore".
	Voice string `json:"voice,omitempty"`

	// Temperature controls response randomness. Nil leaves the model default.
	Temperature *float64 `json:"temperature,omitempty"`

	// SafetyThreshold names the content-safety blocking level. Empty leaves
	// the backend default policy in place.
	SafetyThreshold string `json:"safety_threshold,omitempty"`

	// ResponseModalities lists the output kinds the model may produce.
	// Default: audio only.
	ResponseModalities []Modality `json:"response_modalities,omitempty"`

	// MediaResolution applies to inbound video frames. Default: low.
	MediaResolution MediaResolution `json:"media_resolution,omitempty"`

	// Compression enables backend-side context window compression. With it
	// the session has no duration ceiling; without, the manager enforces
	// AudioSessionCeiling / VideoSessionCeiling.
	Compression bool `json:"compression"`

	// Tools are the callable functions exposed to the model.
	Tools []types.Tool `json:"tools,omitempty"`

	// ToolTimeout bounds how long the executor may take to answer one
	// invocation. On expiry the manager submits an error result to the
	// backend on the executor's behalf. Zero disables the timeout.
	ToolTimeout time.Duration `json:"tool_timeout,omitempty"`

	// Resume configures automatic resumption after transient disconnects.
	Resume ResumeConfig `json:"resume"`

	// InputQueueSize bounds the FIFO input queue. Default: 256 chunks.
	InputQueueSize int `json:"input_queue_size,omitempty"`

	// Logger receives structured session logs. Defaults to slog.Default().
	Logger *slog.Logger `json:"-"`
}

// ResumeConfig bounds the automatic reconnection loop that runs while a
// session is SUSPENDED.
type ResumeConfig struct {
	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration `json:"initial_backoff,omitempty"`

	// MaxBackoff caps the exponential growth. Default: 8s.
	MaxBackoff time.Duration `json:"max_backoff,omitempty"`

	// MaxAttempts bounds the retry count before the session is declared
	// lost. Default: 5.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:              "gemini-2.0-flash-live-001",
		Voice:              "Puck",
		ResponseModalities: []Modality{ModalityAudio},
		MediaResolution:    MediaResolutionLow,
		ToolTimeout:        30 * time.Second,
		Resume:             DefaultResumeConfig(),
		InputQueueSize:     256,
	}
}

// DefaultResumeConfig returns conservative reconnection bounds.
func DefaultResumeConfig() ResumeConfig {
	return ResumeConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		MaxAttempts:    5,
	}
}

// withDefaults fills zero-valued fields so the session loops never divide by
// zero or spin without backoff.
func (c SessionConfig) withDefaults() SessionConfig {
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []Modality{ModalityAudio}
	}
	if c.MediaResolution == "" {
		c.MediaResolution = MediaResolutionLow
	}
	if c.InputQueueSize <= 0 {
		c.InputQueueSize = 256
	}
	if c.Resume.InitialBackoff <= 0 {
		c.Resume.InitialBackoff = 500 * time.Millisecond
	}
	if c.Resume.MaxBackoff <= 0 {
		c.Resume.MaxBackoff = 8 * time.Second
	}
	if c.Resume.MaxAttempts <= 0 {
		c.Resume.MaxAttempts = 5
	}
	return c
}
