package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vishwasetu/relay/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config

	// Draining reports whether the process has begun shutdown. Nil means
	// never draining.
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "GEMINI_API_KEY is not configured")
	}
	if h.Config.GeminiModel == "" {
		issues = append(issues, "gemini model must not be empty")
	}
	if h.Config.GeminiVoice == "" {
		issues = append(issues, "gemini voice must not be empty")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.HeartbeatInterval <= 0 {
		issues = append(issues, "heartbeat interval must be > 0")
	}
	if h.Config.SweepInterval <= 0 || h.Config.IdleTimeout <= 0 || h.Config.SubscriberGrace <= 0 {
		issues = append(issues, "reaper intervals must be > 0")
	}
	if h.Config.ConnectTimeout <= 0 || h.Config.SendTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Draining != nil && h.Draining()
	if draining {
		issues = append(issues, "draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: draining,
		Issues:   issues,
	})
}
