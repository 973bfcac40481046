// Package protocol defines the JSON frame schema spoken between desktop
// clients and the gateway's live websocket endpoint. Decoding is strict:
// every inbound frame is validated before it reaches a session.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

const ProtocolVersion1 = "1"

// DecodeError reports a malformed or unsupported client frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes a negotiated PCM shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello opens a session. Clients must negotiate the fixed deskmate
// audio contract: pcm_s16le 16 kHz mono in, pcm_s16le 24 kHz mono out.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Model           string      `json:"model"`
	SystemPrompt    string      `json:"system_prompt,omitempty"`
	Voice           string      `json:"voice,omitempty"`
	Compression     bool        `json:"compression,omitempty"`
	MediaResolution string      `json:"media_resolution,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
	// ResumeSessionID asks the gateway to resume a prior session from its
	// stored resumption handle.
	ResumeSessionID string `json:"resume_session_id,omitempty"`
}

// ClientText is a complete user text turn.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientAudioFrame carries one base64 PCM frame at the negotiated input
// format.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// ClientVideoFrame carries one base64 encoded video frame.
type ClientVideoFrame struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type,omitempty"`
	DataB64  string `json:"data_b64"`
}

// ClientControl carries session-level operations.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// ClientToolResult answers a server tool_call frame.
type ClientToolResult struct {
	Type         string         `json:"type"`
	InvocationID string         `json:"invocation_id"`
	Output       map[string]any `json:"output,omitempty"`
	IsError      bool           `json:"is_error,omitempty"`
}

// DecodeClientMessage parses and validates one inbound frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "video_frame":
		var msg ClientVideoFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("video_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "interrupt", "end_session":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	case "tool_result":
		var msg ClientToolResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_result", "")
		}
		if strings.TrimSpace(msg.InvocationID) == "" {
			return nil, badRequest("tool_result.invocation_id is required", "invocation_id")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello enforces the fixed audio contract on session setup.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if strings.TrimSpace(msg.Model) == "" {
		return badRequest("hello.model is required", "model")
	}

	if msg.AudioIn.Encoding != types.AudioEncodingPCM16 {
		return unsupported("hello.audio_in.encoding must be pcm_s16le", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz != types.InputSampleRateHz {
		return unsupported(fmt.Sprintf("hello.audio_in.sample_rate_hz must be %d", types.InputSampleRateHz), "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels != 1 {
		return unsupported("hello.audio_in.channels must be 1", "audio_in.channels")
	}
	if msg.AudioOut.Encoding != types.AudioEncodingPCM16 {
		return unsupported("hello.audio_out.encoding must be pcm_s16le", "audio_out.encoding")
	}
	if msg.AudioOut.SampleRateHz != types.OutputSampleRateHz {
		return unsupported(fmt.Sprintf("hello.audio_out.sample_rate_hz must be %d", types.OutputSampleRateHz), "audio_out.sample_rate_hz")
	}
	if msg.AudioOut.Channels != 1 {
		return unsupported("hello.audio_out.channels must be 1", "audio_out.channels")
	}

	switch msg.MediaResolution {
	case "", "low", "high":
	default:
		return unsupported("unsupported media resolution", "media_resolution")
	}
	return nil
}

// Server frames.

type ServerHelloAck struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Resumed         bool        `json:"resumed,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

type ServerTextDelta struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

type ServerAudioDelta struct {
	Type         string `json:"type"`
	TurnID       string `json:"turn_id"`
	Seq          int64  `json:"seq"`
	DataB64      string `json:"data_b64"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type ServerTurnComplete struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text,omitempty"`
}

type ServerInterrupted struct {
	Type        string `json:"type"`
	TurnID      string `json:"turn_id"`
	TruncatedAt int    `json:"truncated_at"`
	Source      string `json:"source"`
}

type ServerToolCall struct {
	Type     string                        `json:"type"`
	Requests []types.ToolInvocationRequest `json:"requests"`
}

type ServerToolCallCancelled struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type ServerUsage struct {
	Type  string      `json:"type"`
	Usage types.Usage `json:"usage"`
}

type ServerResumeUpdate struct {
	Type      string `json:"type"`
	Resumable bool   `json:"resumable"`
}

type ServerWarning struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	TimeLeftMS int64  `json:"time_left_ms,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Scope   string `json:"scope,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TurnID  string `json:"turn_id,omitempty"`
	Close   bool   `json:"close,omitempty"`
}

type ServerClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}
