package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// conn is one established Live API connection. writeMu serializes writers:
// the session manager's send loop, tool results, and timeout answers can
// race on the underlying websocket.
type conn struct {
	session *genai.Session
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *conn) Send(ctx context.Context, chunk types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	switch v := chunk.(type) {
	case types.TextChunk:
		// Whole text strings are a complete client turn; the model responds
		// immediately.
		return c.wrapSendErr(c.session.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{
				{Role: "user", Parts: []*genai.Part{{Text: v.Text}}},
			},
			TurnComplete: genai.Ptr(true),
		}))

	case types.AudioChunk:
		return c.wrapSendErr(c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{
				Data:     v.Data,
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", v.SampleRateHz),
			},
		}))

	case types.VideoChunk:
		mime := v.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		return c.wrapSendErr(c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{Data: v.Data, MIMEType: mime},
		}))

	default:
		return core.NewInvalidRequestError(fmt.Sprintf("unsupported chunk type %q", chunk.ChunkType()))
	}
}

func (c *conn) SendToolResult(ctx context.Context, result types.ToolInvocationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.wrapSendErr(c.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{
			{ID: result.ID, Response: result.Output},
		},
	}))
}

// Interrupt is a no-op: the Live API detects barge-in server side, and new
// realtime input cuts generation on its own.
func (c *conn) Interrupt(ctx context.Context) error {
	return nil
}

func (c *conn) Receive(ctx context.Context) (*live.ServerMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := c.session.Receive()
	if err != nil {
		if blocked, ok := blockedMessage(err); ok {
			c.logger.Warn("content blocked by safety policy")
			return blocked, nil
		}
		return nil, mapReceiveError(err)
	}
	return translateServerMessage(msg), nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *conn) wrapSendErr(err error) error {
	if err == nil {
		return nil
	}
	return core.NewConnectionError("gemini: send failed: " + err.Error())
}
