package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/providers/gemini"
	"github.com/deskmate-ai/deskmate/pkg/gateway/config"
	"github.com/deskmate-ai/deskmate/pkg/gateway/handlers"
	"github.com/deskmate-ai/deskmate/pkg/gateway/live/sessions"
	"github.com/deskmate-ai/deskmate/pkg/gateway/mw"
	"github.com/deskmate-ai/deskmate/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	backend  live.Backend
	handles  store.HandleStore
	tracker  *sessions.Tracker
	draining atomic.Bool
}

// New wires the upstream backend, the handle store, and the routes. With a
// DatabaseURL configured, handles survive restarts; otherwise they are held
// in memory.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init gemini backend: %w", err)
	}

	var handles store.HandleStore
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open handle store: %w", err)
		}
		handles = pg
	} else {
		handles = store.NewMemoryStore()
		logger.Warn("no database configured, resumption handles will not survive restarts")
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		backend: backend,
		handles: handles,
		tracker: sessions.NewTracker(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, LiveSessions: s.tracker})

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Backend:      s.backend,
		Logger:       s.logger,
		Handles:      s.handles,
		LiveSessions: s.tracker,
		IsDraining:   s.draining.Load,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining stops the gateway from accepting new live sessions.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

func (s *Server) WarnLiveSessionsDraining() {
	n := s.tracker.WarnAll("draining", "gateway is shutting down")
	if n > 0 {
		s.logger.Info("warned live sessions about drain", "sessions", n)
	}
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelLiveSessions() {
	if n := s.tracker.CancelAll(); n > 0 {
		s.logger.Warn("canceled live sessions at shutdown", "sessions", n)
	}
}

// PruneHandles periodically drops stored resumption handles older than the
// configured max age. Blocks until ctx is done.
func (s *Server) PruneHandles(ctx context.Context) {
	interval := s.cfg.HandleMaxAge / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.handles.Prune(ctx, s.cfg.HandleMaxAge)
			if err != nil {
				s.logger.Warn("handle prune failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("pruned expired resumption handles", "handles", n)
			}
		}
	}
}
