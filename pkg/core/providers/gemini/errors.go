package gemini

import (
	"errors"
	"io"
	"strings"

	"google.golang.org/genai"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/live"
)

// mapConnectError translates a dial failure into the core taxonomy. When
// resuming, invalid-argument and not-found responses mean the backend has
// discarded the handle's context.
func mapConnectError(err error, resuming bool) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if resuming && resumptionExpired(apiErr) {
			return core.NewResumptionExpiredError("gemini: " + apiErr.Message)
		}
		cerr := core.NewConnectionError("gemini: " + apiErr.Message)
		cerr.Code = apiErr.Status
		return cerr
	}
	if resuming && strings.Contains(strings.ToLower(err.Error()), "handle") {
		return core.NewResumptionExpiredError("gemini: " + err.Error())
	}
	return core.NewConnectionError("gemini: " + err.Error())
}

func resumptionExpired(apiErr genai.APIError) bool {
	if apiErr.Code == 404 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.Code == 400 && (strings.Contains(msg, "handle") || strings.Contains(msg, "resum") || strings.Contains(msg, "expired"))
}

// mapReceiveError keeps clean EOFs intact and classifies everything else as
// a retryable connection fault.
func mapReceiveError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return core.NewConnectionError("gemini: receive failed: " + err.Error())
}

// blockedMessage detects content-safety terminations. The Live API reports
// safety blocks as structured API errors; only those are treated as
// per-turn, non-fatal conditions. Plain transport errors fall through to
// mapReceiveError so the session suspends and resumes instead of looping.
func blockedMessage(err error) (*live.ServerMessage, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return nil, false
	}
	status := strings.ToUpper(apiErr.Status)
	if status == "SAFETY" || status == "PROHIBITED_CONTENT" || strings.Contains(strings.ToLower(apiErr.Message), "prohibited_content") {
		return &live.ServerMessage{Blocked: true, TurnComplete: true}, true
	}
	return nil, false
}
