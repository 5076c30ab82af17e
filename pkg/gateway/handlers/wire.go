package handlers

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/vishwasetu/relay/pkg/core/relay"
)

// wireEvent maps one relay event onto its wire name and JSON payload. SSE and
// WebSocket share this shape: SSE uses the name as the event field, WebSocket
// wraps both in a {event, data} frame.
func wireEvent(ev relay.Event) (string, any) {
	switch ev.Type {
	case relay.EventStatus:
		return "status", map[string]any{"connected": ev.Connected}
	case relay.EventAudioChunk:
		return "audioChunk", map[string]any{
			"audioData": base64.StdEncoding.EncodeToString(ev.Audio),
			"mimeType":  fmt.Sprintf("audio/pcm;rate=%d", ev.SampleRate),
		}
	case relay.EventInputTranscript:
		return "inputTranscript", map[string]any{"text": ev.Text}
	case relay.EventOutputTranscript:
		return "outputTranscript", map[string]any{"text": ev.Text}
	case relay.EventTurnComplete:
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		return "turnComplete", map[string]any{"timestamp": at.UnixMilli()}
	case relay.EventInterrupted:
		return "interrupted", map[string]any{}
	case relay.EventError:
		return "error", map[string]any{"message": ev.Message}
	default:
		return string(ev.Type), map[string]any{}
	}
}

func connectedPayload(sessionID string, now time.Time) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"timestamp": now.UnixMilli(),
	}
}

var heartbeatPayload = map[string]any{"alive": true}
