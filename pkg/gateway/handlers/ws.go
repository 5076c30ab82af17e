package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vishwasetu/relay/pkg/core"
	"github.com/vishwasetu/relay/pkg/core/relay"
	"github.com/vishwasetu/relay/pkg/gateway/config"
)

// WSHandler streams a session's events over a WebSocket: the same event union
// as SSE, framed as JSON text messages {event, data}. Outbound-only; inbound
// messages are drained and ignored, audio still travels over HTTP uploads.
type WSHandler struct {
	Config   config.Config
	Registry *relay.Registry
	Dialer   relay.UpstreamDialer
	Logger   *slog.Logger
}

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.Unsubscribe(sub)
		return
	}
	defer conn.Close()
	defer s.Unsubscribe(sub)

	if err := h.writeFrame(conn, "ws_connected", connectedPayload(s.ID(), time.Now())); err != nil {
		return
	}
	if s.Upstream() {
		if err := h.writeFrame(conn, "status", map[string]any{"connected": true}); err != nil {
			return
		}
	}

	go ensureUpstream(h.Config, h.Dialer, s, h.Logger)

	// Read side only exists to notice the peer going away.
	readDone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.Config.WSPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.Config.WSPingInterval))
	})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.Config.WSPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				deadline := time.Now().Add(h.Config.WSWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
				return
			}
			name, data := wireEvent(ev)
			if err := h.writeFrame(conn, name, data); err != nil {
				return
			}
		case <-ping.C:
			s.Touch()
			deadline := time.Now().Add(h.Config.WSWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h WSHandler) writeFrame(conn *websocket.Conn, event string, data any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.Config.WSWriteTimeout))
	return conn.WriteJSON(wsFrame{Event: event, Data: data})
}

// checkOrigin mirrors the CORS policy: no allowlist means browser origins are
// not restricted, otherwise only listed origins may connect.
func (h WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
