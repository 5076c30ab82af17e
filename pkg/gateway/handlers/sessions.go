package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vishwasetu/relay/pkg/core"
	"github.com/vishwasetu/relay/pkg/core/audio"
	"github.com/vishwasetu/relay/pkg/core/relay"
	"github.com/vishwasetu/relay/pkg/gateway/config"
)

// CreateSessionHandler allocates a new pending session.
type CreateSessionHandler struct {
	Registry *relay.Registry
	Logger   *slog.Logger
}

func (h CreateSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := h.Registry.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": s.ID(),
		"status":    string(s.State()),
	})
}

// StopSessionHandler tears a session down. Stopping an unknown or already
// stopped session succeeds: the client's goal (session gone) is met either
// way, and stop races the reaper by design.
type StopSessionHandler struct {
	Registry *relay.Registry
	Logger   *slog.Logger
}

func (h StopSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s, ok := h.Registry.Get(id); ok {
		s.Close()
		h.Registry.Remove(id)
		if h.Logger != nil {
			h.Logger.Info("session stopped", "session_id", id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

// AudioHandler ingests one audio upload: base64 payload plus a format tag.
// Compressed formats carry the full recording so far and go through
// transcode + snapshot-delta accounting; raw PCM frames forward directly.
type AudioHandler struct {
	Config     config.Config
	Registry   *relay.Registry
	Transcoder audio.Transcoder
	Logger     *slog.Logger
}

type audioRequest struct {
	AudioData string `json:"audioData"`
	Format    string `json:"format"`
}

func (h AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, core.NewNotFoundError("session not found"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	var req audioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, core.NewInvalidRequestError("request body too large"))
			return
		}
		writeError(w, r, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	if req.AudioData == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("audioData is required", "audioData"))
		return
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("audioData is not valid base64", "audioData"))
		return
	}

	var forwarded, total int
	if format.Compressed() {
		pcm, err := h.Transcoder.Transcode(r.Context(), raw, format)
		if err != nil {
			h.handleConversionFailure(w, r, s, err)
			return
		}
		forwarded, total, err = s.PushSnapshot(r.Context(), pcm)
		if err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		forwarded, err = s.PushFrame(r.Context(), raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		total = int(s.TotalForwarded())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"bytesForwarded": forwarded,
		"totalBytes":     total,
	})
}

// handleConversionFailure reports a per-upload transcoding failure without
// killing the session: subscribers get an error event, the uploader gets a
// 422, and the next upload gets a clean try.
func (h AudioHandler) handleConversionFailure(w http.ResponseWriter, r *http.Request, s *relay.Session, err error) {
	if h.Logger != nil {
		h.Logger.Warn("audio conversion failed", "session_id", s.ID(), "error", err)
	}
	s.Broadcast(relay.ErrorEvent("audio conversion failed"))

	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		coreErr = core.NewConversionError(err)
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"status": "conversion_failed",
		"error":  coreErr,
	})
}
