package geminilive

import (
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vishwasetu/relay/pkg/core/relay"
)

// translateMessage maps one live server message onto relay events. A single
// message can carry several shapes at once (audio plus transcription plus a
// turn marker), so the result is a slice in delivery order: audio first,
// transcripts next, then interruption and turn completion.
func translateMessage(msg *genai.LiveServerMessage) []relay.Event {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent

	var events []relay.Event

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, relay.AudioEvent(part.InlineData.Data, sampleRateFromMIME(part.InlineData.MIMEType)))
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, relay.Event{Type: relay.EventInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, relay.Event{Type: relay.EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}

	if sc.Interrupted {
		events = append(events, relay.Event{Type: relay.EventInterrupted})
	}
	if sc.TurnComplete {
		events = append(events, relay.Event{Type: relay.EventTurnComplete, At: time.Now()})
	}

	return events
}

// sampleRateFromMIME extracts the rate parameter from a mime type like
// "audio/pcm;rate=24000", falling back to the documented output rate.
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		param = strings.TrimSpace(param)
		if rest, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return outputSampleRate
}
