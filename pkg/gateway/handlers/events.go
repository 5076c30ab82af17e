package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vishwasetu/relay/pkg/core"
	"github.com/vishwasetu/relay/pkg/core/relay"
	"github.com/vishwasetu/relay/pkg/gateway/config"
	"github.com/vishwasetu/relay/pkg/gateway/sse"
)

// EventsHandler streams a session's events over SSE. Subscribing lazily opens
// the upstream live connection; the stream starts with sse_connected so the
// client knows the subscription is live before any session event arrives.
type EventsHandler struct {
	Config   config.Config
	Registry *relay.Registry
	Dialer   relay.UpstreamDialer
	Logger   *slog.Logger
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, core.NewNotFoundError("session not found"))
		return
	}

	sub, err := s.Subscribe()
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.Unsubscribe(sub)

	sw, err := sse.New(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := sw.Send("sse_connected", connectedPayload(s.ID(), time.Now())); err != nil {
		return
	}
	// A reconnecting client missed the original status event; replay the
	// current connectivity so it does not wait for a transition.
	if s.Upstream() {
		if err := sw.Send("status", map[string]any{"connected": true}); err != nil {
			return
		}
	}

	go ensureUpstream(h.Config, h.Dialer, s, h.Logger)

	ticker := time.NewTicker(h.Config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			name, data := wireEvent(ev)
			if err := sw.Send(name, data); err != nil {
				return
			}
		case <-ticker.C:
			s.Touch()
			if err := sw.Send("heartbeat", heartbeatPayload); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// ensureUpstream dials the live endpoint off the request goroutine so a slow
// handshake never delays the first streamed bytes. Failures stay contained:
// the session remains pending and retryable, subscribers get an error event.
func ensureUpstream(cfg config.Config, dialer relay.UpstreamDialer, s *relay.Session, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	err := s.EnsureUpstream(ctx, dialer, relay.UpstreamConfig{
		Model:             cfg.GeminiModel,
		Voice:             cfg.GeminiVoice,
		SystemInstruction: cfg.SystemInstruction,
	})
	if err != nil {
		if logger != nil {
			logger.Error("upstream connect failed", "session_id", s.ID(), "error", err)
		}
		s.Broadcast(relay.ErrorEvent("upstream connection failed"))
	}
}
