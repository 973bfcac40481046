package protocol

import (
	"testing"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	raw := []byte(`{
		"type":"hello",
		"protocol_version":"1",
		"model":"gemini-2.0-flash-live-001",
		"voice":"Puck",
		"compression":true,
		"audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},
		"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientHello", msg)
	}
	if hello.Model != "gemini-2.0-flash-live-001" {
		t.Fatalf("model=%q", hello.Model)
	}
	if !hello.Compression {
		t.Fatalf("compression=false")
	}
}

func TestDecodeClientMessage_HelloWithResume(t *testing.T) {
	raw := []byte(`{
		"type":"hello",
		"protocol_version":"1",
		"model":"gemini-2.0-flash-live-001",
		"audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},
		"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1},
		"resume_session_id":"sess_42"
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello := msg.(ClientHello)
	if hello.ResumeSessionID != "sess_42" {
		t.Fatalf("resume_session_id=%q", hello.ResumeSessionID)
	}
}

func TestDecodeClientMessage_HelloMissingRequired(t *testing.T) {
	raw := []byte(`{"type":"hello","protocol_version":"1"}`)
	_, err := DecodeClientMessage(raw)
	if err == nil {
		t.Fatalf("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestValidateHello_RejectsWrongInputRate(t *testing.T) {
	err := ValidateHello(ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		Model:           "gemini-2.0-flash-live-001",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 44100, Channels: 1},
		AudioOut:        AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 24000, Channels: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Param != "audio_in.sample_rate_hz" {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestValidateHello_RejectsStereoOutput(t *testing.T) {
	err := ValidateHello(ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		Model:           "gemini-2.0-flash-live-001",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
		AudioOut:        AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 24000, Channels: 2},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateHello_RejectsUnknownResolution(t *testing.T) {
	err := ValidateHello(ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		Model:           "gemini-2.0-flash-live-001",
		MediaResolution: "ultra",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
		AudioOut:        AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 24000, Channels: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeClientMessage_Text(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"text","text":"what is on my screen"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	txt := msg.(ClientText)
	if txt.Text != "what is on my screen" {
		t.Fatalf("text=%q", txt.Text)
	}
}

func TestDecodeClientMessage_EmptyTextRejected(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"text","text":"  "}`))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeClientMessage_AudioFrameRequiresData(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"audio_frame","seq":3}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Param != "data_b64" {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestDecodeClientMessage_ControlOps(t *testing.T) {
	for _, op := range []string{"interrupt", "end_session"} {
		msg, err := DecodeClientMessage([]byte(`{"type":"control","op":"` + op + `"}`))
		if err != nil {
			t.Fatalf("op %q: %v", op, err)
		}
		ctl := msg.(ClientControl)
		if ctl.Op != op {
			t.Fatalf("op=%q", ctl.Op)
		}
	}
}

func TestDecodeClientMessage_UnsupportedControlOp(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"control","op":"reboot"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestDecodeClientMessage_ToolResult(t *testing.T) {
	raw := []byte(`{"type":"tool_result","invocation_id":"inv_1","output":{"ok":true}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	res := msg.(ClientToolResult)
	if res.InvocationID != "inv_1" {
		t.Fatalf("invocation_id=%q", res.InvocationID)
	}
	if res.Output["ok"] != true {
		t.Fatalf("output=%v", res.Output)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"telemetry"}`))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error")
	}
}
