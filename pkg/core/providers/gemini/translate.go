package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// translateConfig builds the Live API connect configuration from a session
// config. Safety settings stay on server defaults; the live surface does not
// accept per-session thresholds.
func translateConfig(cfg live.SessionConfig, resumeHandle string) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: translateModalities(cfg.ResponseModalities),
	}

	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Temperature != nil {
		out.Temperature = genai.Ptr(float32(*cfg.Temperature))
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		out.Tools = []*genai.Tool{{FunctionDeclarations: translateTools(cfg.Tools)}}
	}
	if resumeHandle != "" {
		out.SessionResumption = &genai.SessionResumptionConfig{Handle: resumeHandle}
	} else {
		// Request handle updates from the start so the session is resumable
		// after its first suspension.
		out.SessionResumption = &genai.SessionResumptionConfig{}
	}
	if cfg.Compression {
		out.ContextWindowCompression = &genai.ContextWindowCompressionConfig{
			SlidingWindow: &genai.SlidingWindow{},
		}
	}
	switch cfg.MediaResolution {
	case live.MediaResolutionHigh:
		out.MediaResolution = genai.MediaResolutionHigh
	default:
		out.MediaResolution = genai.MediaResolutionLow
	}

	return out
}

func translateModalities(modalities []live.Modality) []genai.Modality {
	out := make([]genai.Modality, 0, len(modalities))
	for _, m := range modalities {
		switch m {
		case live.ModalityText:
			out = append(out, genai.ModalityText)
		case live.ModalityAudio:
			out = append(out, genai.ModalityAudio)
		}
	}
	return out
}

func translateTools(tools []types.Tool) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  translateSchema(t.InputSchema),
		})
	}
	return out
}

// translateSchema converts a JSON-schema style map into the API schema
// type. Unknown keywords are ignored.
func translateSchema(schema map[string]any) *genai.Schema {
	if len(schema) == 0 {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = translateSchemaType(t)
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if m, ok := raw.(map[string]any); ok {
				out.Properties[name] = translateSchema(m)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = translateSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				out.Enum = append(out.Enum, v)
			}
		}
	}
	return out
}

func translateSchemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

// translateServerMessage flattens a Live API server message into the
// neutral envelope.
func translateServerMessage(msg *genai.LiveServerMessage) *live.ServerMessage {
	if msg == nil {
		return nil
	}
	out := &live.ServerMessage{}

	if sc := msg.ServerContent; sc != nil {
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out.TextDelta += part.Text
				}
				if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					out.AudioDelta = append(out.AudioDelta, part.InlineData.Data...)
				}
			}
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			if call == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolInvocationRequest{
				ID:   call.ID,
				Name: call.Name,
				Args: call.Args,
			})
		}
	}
	if cancel := msg.ToolCallCancellation; cancel != nil {
		out.CancelledToolIDs = append(out.CancelledToolIDs, cancel.IDs...)
	}

	if update := msg.SessionResumptionUpdate; update != nil && update.NewHandle != "" {
		out.ResumptionHandle = update.NewHandle
		out.Resumable = update.Resumable
	}

	if usage := msg.UsageMetadata; usage != nil {
		out.Usage = translateUsage(usage)
	}

	if goAway := msg.GoAway; goAway != nil {
		out.GoAway = true
		out.GoAwayIn = goAway.TimeLeft.Milliseconds()
	}

	return out
}

func translateUsage(usage *genai.UsageMetadata) *types.Usage {
	out := &types.Usage{
		InputTokens:  int(usage.PromptTokenCount),
		OutputTokens: int(usage.ResponseTokenCount),
		TotalTokens:  int(usage.TotalTokenCount),
	}
	for _, detail := range usage.ResponseTokensDetails {
		if detail == nil {
			continue
		}
		if out.ByModality == nil {
			out.ByModality = make(map[string]int)
		}
		out.ByModality[string(detail.Modality)] += int(detail.TokenCount)
	}
	return out
}
