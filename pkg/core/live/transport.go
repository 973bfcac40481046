package live

import (
	"context"

	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// Backend establishes live connections to a streaming model endpoint. The
// contract is at the chunk/event level; wire formats belong to the
// implementation.
type Backend interface {
	// Connect opens a connection. A non-empty resumeHandle reconnects with
	// the context of a prior session; the backend returns a
	// ResumptionExpiredError if it has discarded that context. It never
	// silently falls back to a fresh context.
	Connect(ctx context.Context, cfg SessionConfig, resumeHandle string) (Conn, error)
}

// Conn is one established live connection. Send and Receive may be called
// concurrently with each other; neither is safe for concurrent use with
// itself.
type Conn interface {
	// Send transmits one input chunk. Text chunks are whole strings; audio
	// chunks are 16-bit PCM at 16 kHz mono; video chunks are encoded frames.
	Send(ctx context.Context, chunk types.Chunk) error

	// SendToolResult answers a tool invocation requested by the backend.
	SendToolResult(ctx context.Context, result types.ToolInvocationResult) error

	// Interrupt tells the backend that new user activity is starting so it
	// can stop generating. Implementations without an explicit signal may
	// treat this as a no-op; the next realtime input cuts generation.
	Interrupt(ctx context.Context) error

	// Receive blocks for the next server message. It returns io.EOF on a
	// clean close and a wrapped error on connection loss.
	Receive(ctx context.Context) (*ServerMessage, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// ServerMessage is the neutral envelope for everything a backend can report.
// Exactly the set fields are meaningful; a single message may carry several
// (a text delta together with a usage report, for example).
type ServerMessage struct {
	// TextDelta is an incremental text fragment of the current model turn.
	TextDelta string

	// AudioDelta is one PCM frame of the current model turn, 16-bit
	// little-endian at 24 kHz mono.
	AudioDelta []byte

	// Interrupted reports that the backend detected user activity and cut
	// the current model turn short.
	Interrupted bool

	// TurnComplete reports that the current model turn finished.
	TurnComplete bool

	// Blocked reports that content safety suppressed the current turn. The
	// session stays usable; only the turn is lost.
	Blocked bool

	// ToolCalls requests execution of named external actions.
	ToolCalls []types.ToolInvocationRequest

	// CancelledToolIDs withdraws previously requested invocations.
	CancelledToolIDs []string

	// ResumptionHandle, when non-empty, replaces the session's stored
	// handle. Resumable is false while the backend is still building the
	// resumable state for the new handle.
	ResumptionHandle string
	Resumable        bool

	// Usage is a cumulative token report, when present.
	Usage *types.Usage

	// GoAwayIn, when positive in a GoAway message, is how long remains
	// before the backend closes the connection.
	GoAway   bool
	GoAwayIn int64 // milliseconds
}
