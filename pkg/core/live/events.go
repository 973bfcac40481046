package live

import (
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// Event is the interface for all live session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionCreatedEvent is emitted once after the backend connection is
// established and the session is ACTIVE.
type SessionCreatedEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Resumed   bool   `json:"resumed,omitempty"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// StateChangedEvent is emitted on every lifecycle transition.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TextDeltaEvent carries one incremental text fragment of the active model
// turn.
type TextDeltaEvent struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

func (e *TextDeltaEvent) EventType() string { return "output.text_delta" }

// AudioDeltaEvent carries one PCM frame of the active model turn, 16-bit
// little-endian at 24 kHz mono.
type AudioDeltaEvent struct {
	TurnID       string `json:"turn_id"`
	Data         []byte `json:"data"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

func (e *AudioDeltaEvent) EventType() string { return "output.audio_delta" }

// TurnCompleteEvent is emitted when the active model turn finishes normally.
type TurnCompleteEvent struct {
	Turn *types.Turn `json:"turn"`
}

func (e *TurnCompleteEvent) EventType() string { return "output.turn_complete" }

// InterruptionEvent is emitted exactly once per interruption of an in-flight
// model turn, whether caller- or backend-initiated. TruncatedAt is the index
// of the first chunk that was never delivered; transcript reconstruction
// keeps chunks [0, TruncatedAt).
type InterruptionEvent struct {
	TurnID      string `json:"turn_id"`
	TruncatedAt int    `json:"truncated_at"`
	// Source is "caller" for Interrupt() and "backend" for server-side
	// barge-in detection.
	Source string `json:"source"`
}

func (e *InterruptionEvent) EventType() string { return "output.interrupted" }

// ToolCallEvent is emitted when the backend requests execution of one or
// more tools. Results are returned through Session.InvokeToolResult.
type ToolCallEvent struct {
	Requests []types.ToolInvocationRequest `json:"requests"`
	// Deadline is when the manager answers unanswered invocations with an
	// error result on the executor's behalf. Zero if no timeout configured.
	Deadline time.Time `json:"deadline,omitzero"`
}

func (e *ToolCallEvent) EventType() string { return "tool.call" }

// ToolCallCancelledEvent is emitted when the backend withdraws outstanding
// invocations, typically because the user interrupted.
type ToolCallCancelledEvent struct {
	IDs []string `json:"ids"`
}

func (e *ToolCallCancelledEvent) EventType() string { return "tool.cancelled" }

// UsageEvent reports cumulative token usage. Totals never decrease within a
// session.
type UsageEvent struct {
	Usage types.Usage `json:"usage"`
}

func (e *UsageEvent) EventType() string { return "usage.updated" }

// ResumptionUpdateEvent is emitted when the backend issues a fresh
// resumption handle. The new handle replaces the previous one; callers that
// persist handles should store only the latest.
type ResumptionUpdateEvent struct {
	Handle    string `json:"handle"`
	Resumable bool   `json:"resumable"`
}

func (e *ResumptionUpdateEvent) EventType() string { return "session.resumption_update" }

// ResumedEvent is emitted after a successful reconnection, automatic or via
// Resume.
type ResumedEvent struct {
	Attempts int `json:"attempts"`
}

func (e *ResumedEvent) EventType() string { return "session.resumed" }

// WarningEvent signals a non-fatal condition: an approaching duration
// ceiling, a backend goAway notice, or a tool executor timeout.
type WarningEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// TimeLeft is how long the session has before the condition takes
	// effect, when known.
	TimeLeft time.Duration `json:"time_left,omitempty"`
}

func (e *WarningEvent) EventType() string { return "session.warning" }

// ErrorEvent carries a non-fatal session error, such as a content-safety
// block scoped to a single turn.
type ErrorEvent struct {
	Err *core.Error `json:"error"`
}

func (e *ErrorEvent) EventType() string { return "session.error" }

// SessionClosedEvent is the final event before the output channel closes.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
	// Err is set when the session terminated on a fatal error, such as
	// exhausted resumption attempts.
	Err *core.Error `json:"error,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }
