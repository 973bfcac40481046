// Package gemini adapts the Gemini Live API to the live.Backend transport
// contract. It translates session configuration into LiveConnectConfig,
// input chunks into realtime blobs and client content, and server messages
// into the neutral envelope the session manager consumes.
package gemini

import (
	"context"
	"log/slog"

	"google.golang.org/genai"

	"github.com/deskmate-ai/deskmate/pkg/core"
	"github.com/deskmate-ai/deskmate/pkg/core/live"
)

// Provider is a live.Backend backed by the Gemini Live API.
type Provider struct {
	client *genai.Client
	logger *slog.Logger
}

// Config configures the provider.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Logger receives structured provider logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a provider. The API key is validated lazily on the first
// connection attempt.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewConnectionError("gemini: api key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConnectionError("gemini: " + err.Error())
	}
	return &Provider{client: client, logger: logger.With("provider", "gemini")}, nil
}

// Connect opens a Live API session. A non-empty resumeHandle restores the
// context of a prior session; an expired handle fails with a
// ResumptionExpiredError.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, resumeHandle string) (live.Conn, error) {
	connectCfg := translateConfig(cfg, resumeHandle)

	session, err := p.client.Live.Connect(ctx, cfg.Model, connectCfg)
	if err != nil {
		return nil, mapConnectError(err, resumeHandle != "")
	}

	p.logger.Info("live connection established", "model", cfg.Model, "resumed", resumeHandle != "")
	return &conn{session: session, logger: p.logger}, nil
}
