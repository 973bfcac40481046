package core

import (
	"errors"
	"fmt"
)

// Error is the typed error surfaced by the live session layer.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	TurnID     string    `json:"turn_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConnection means the backend could not be reached or rejected
	// authentication while establishing a session.
	ErrConnection ErrorType = "connection_error"
	// ErrInvalidState means the requested operation is not valid in the
	// session's current lifecycle state.
	ErrInvalidState ErrorType = "invalid_state_error"
	// ErrUnknownInvocation means a tool result referenced an invocation id
	// that is not outstanding.
	ErrUnknownInvocation ErrorType = "unknown_invocation_error"
	// ErrResumptionExpired means the backend discarded the context behind a
	// resumption handle.
	ErrResumptionExpired ErrorType = "resumption_expired_error"
	// ErrContentBlocked means the backend refused a single turn on safety
	// grounds. The session stays usable.
	ErrContentBlocked ErrorType = "content_blocked_error"
	// ErrSessionLost means automatic resumption was exhausted and the session
	// is terminally gone.
	ErrSessionLost ErrorType = "session_lost_error"
	// ErrInvalidRequest means the caller supplied malformed input.
	ErrInvalidRequest ErrorType = "invalid_request_error"
)

// NewConnectionError creates a connection error.
func NewConnectionError(message string) *Error {
	return &Error{Type: ErrConnection, Message: message}
}

// NewInvalidStateError creates an invalid state error for an operation
// attempted in the given state.
func NewInvalidStateError(op, state string) *Error {
	return &Error{
		Type:    ErrInvalidState,
		Message: fmt.Sprintf("%s is not valid in state %s", op, state),
	}
}

// NewUnknownInvocationError creates an unknown invocation error.
func NewUnknownInvocationError(invocationID string) *Error {
	return &Error{
		Type:    ErrUnknownInvocation,
		Message: fmt.Sprintf("no outstanding tool invocation %q", invocationID),
	}
}

// NewResumptionExpiredError creates a resumption expired error.
func NewResumptionExpiredError(message string) *Error {
	return &Error{Type: ErrResumptionExpired, Message: message}
}

// NewContentBlockedError creates a per-turn content blocked error.
func NewContentBlockedError(turnID string) *Error {
	return &Error{
		Type:    ErrContentBlocked,
		Message: "turn output was blocked by the backend safety layer",
		TurnID:  turnID,
	}
}

// NewSessionLostError creates a fatal session lost error.
func NewSessionLostError(message string) *Error {
	return &Error{Type: ErrSessionLost, Message: message}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// IsFatal reports whether the error terminates the session.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrSessionLost, ErrConnection:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the operation may be retried internally.
// State and protocol violations are never retried.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrConnection
}

// AsError extracts a *core.Error from an error chain, if present.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or the empty string for untyped errors.
func TypeOf(err error) ErrorType {
	if ce, ok := AsError(err); ok {
		return ce.Type
	}
	return ""
}
