package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// GeminiAPIKey authenticates the upstream live connection.
	GeminiAPIKey string

	// DatabaseURL enables durable resumption-handle storage. Empty means
	// handles live in memory and do not survive a restart.
	DatabaseURL string

	DefaultModel string
	DefaultVoice string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => any origin rejected when Origin header present

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveHandshakeTimeout    time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveOutboundQueueSize   int
	LiveToolTimeout         time.Duration

	// Automatic reconnect policy for suspended sessions.
	ResumeInitialBackoff time.Duration
	ResumeMaxBackoff     time.Duration
	ResumeMaxAttempts    int

	// Stored handles older than this are pruned.
	HandleMaxAge time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("DESKMATE_ADDR", ":8080"),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("DESKMATE_GEMINI_API_KEY")),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DESKMATE_DATABASE_URL")),
		DefaultModel:            envOr("DESKMATE_DEFAULT_MODEL", "gemini-2.0-flash-live-001"),
		DefaultVoice:            envOr("DESKMATE_DEFAULT_VOICE", "Puck"),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxAudioFrameBytes:  envIntOr("DESKMATE_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("DESKMATE_LIVE_MAX_JSON_MESSAGE_BYTES", 256*1024),
		LiveHandshakeTimeout:    envDurationOr("DESKMATE_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:      envDurationOr("DESKMATE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("DESKMATE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("DESKMATE_LIVE_WS_READ_TIMEOUT", 0),
		LiveOutboundQueueSize:   envIntOr("DESKMATE_LIVE_OUTBOUND_QUEUE_SIZE", 128),
		LiveToolTimeout:         envDurationOr("DESKMATE_LIVE_TOOL_TIMEOUT", 30*time.Second),
		ResumeInitialBackoff:    envDurationOr("DESKMATE_RESUME_INITIAL_BACKOFF", 500*time.Millisecond),
		ResumeMaxBackoff:        envDurationOr("DESKMATE_RESUME_MAX_BACKOFF", 8*time.Second),
		ResumeMaxAttempts:       envIntOr("DESKMATE_RESUME_MAX_ATTEMPTS", 5),
		HandleMaxAge:            envDurationOr("DESKMATE_HANDLE_MAX_AGE", 24*time.Hour),
		ReadHeaderTimeout:       envDurationOr("DESKMATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("DESKMATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("DESKMATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("DESKMATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("DESKMATE_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("DESKMATE_DEFAULT_MODEL must not be empty")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.LiveToolTimeout <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_LIVE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.ResumeInitialBackoff <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_RESUME_INITIAL_BACKOFF must be > 0")
	}
	if cfg.ResumeMaxBackoff < cfg.ResumeInitialBackoff {
		return Config{}, fmt.Errorf("DESKMATE_RESUME_MAX_BACKOFF must be >= DESKMATE_RESUME_INITIAL_BACKOFF")
	}
	if cfg.ResumeMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_RESUME_MAX_ATTEMPTS must be > 0")
	}
	if cfg.HandleMaxAge <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_HANDLE_MAX_AGE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DESKMATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
