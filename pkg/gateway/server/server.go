package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vishwasetu/relay/pkg/core/audio"
	"github.com/vishwasetu/relay/pkg/core/relay"
	"github.com/vishwasetu/relay/pkg/gateway/config"
	"github.com/vishwasetu/relay/pkg/gateway/handlers"
	"github.com/vishwasetu/relay/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry   *relay.Registry
	dialer     relay.UpstreamDialer
	transcoder audio.Transcoder
	reaper     *relay.Reaper

	draining atomic.Bool
}

// New wires the relay core behind the HTTP surface. transcoder may be nil, in
// which case the configured ffmpeg binary is used.
func New(cfg config.Config, logger *slog.Logger, dialer relay.UpstreamDialer, transcoder audio.Transcoder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if transcoder == nil {
		transcoder = &audio.FFmpegTranscoder{Path: cfg.FFmpegPath}
	}

	registry := relay.NewRegistry(relay.SessionConfig{
		SubscriberBuffer: cfg.SubscriberBuffer,
		SendTimeout:      cfg.SendTimeout,
	}, logger)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		registry:   registry,
		dialer:     dialer,
		transcoder: transcoder,
		reaper: &relay.Reaper{
			Registry:    registry,
			Interval:    cfg.SweepInterval,
			IdleTimeout: cfg.IdleTimeout,
			Grace:       cfg.SubscriberGrace,
			Logger:      logger,
		},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Draining: s.draining.Load,
	})

	s.mux.Handle("POST /v1/classroom/sessions", handlers.CreateSessionHandler{
		Registry: s.registry,
		Logger:   s.logger,
	})
	s.mux.Handle("GET /v1/classroom/sessions/{id}/events", handlers.EventsHandler{
		Config:   s.cfg,
		Registry: s.registry,
		Dialer:   s.dialer,
		Logger:   s.logger,
	})
	s.mux.Handle("GET /v1/classroom/sessions/{id}/ws", handlers.WSHandler{
		Config:   s.cfg,
		Registry: s.registry,
		Dialer:   s.dialer,
		Logger:   s.logger,
	})
	s.mux.Handle("POST /v1/classroom/sessions/{id}/audio", handlers.AudioHandler{
		Config:     s.cfg,
		Registry:   s.registry,
		Transcoder: s.transcoder,
		Logger:     s.logger,
	})
	s.mux.Handle("POST /v1/classroom/sessions/{id}/stop", handlers.StopSessionHandler{
		Registry: s.registry,
		Logger:   s.logger,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the session registry for drain and introspection.
func (s *Server) Registry() *relay.Registry {
	return s.registry
}

// RunReaper sweeps idle sessions until ctx is cancelled.
func (s *Server) RunReaper(ctx context.Context) {
	s.reaper.Run(ctx)
}

// Drain flips readiness and closes every session. New session creation still
// succeeds during the shutdown grace window; load balancers are expected to
// route away once /readyz fails.
func (s *Server) Drain() {
	s.draining.Store(true)
	s.registry.CloseAll()
}
