// Package relay implements the bidirectional audio relay core: the session
// registry, per-session event fanout, snapshot audio accounting, and idle
// reclamation. Transport handlers and the upstream live driver plug into it
// from the outside.
package relay

import (
	"time"
)

// EventType discriminates the relay event union sent to subscribers.
type EventType string

const (
	// EventStatus reports upstream connectivity changes.
	EventStatus EventType = "status"
	// EventAudioChunk carries synthesized PCM audio from the model.
	EventAudioChunk EventType = "audioChunk"
	// EventInputTranscript is an appended fragment of the learner's speech.
	EventInputTranscript EventType = "inputTranscript"
	// EventOutputTranscript is an appended fragment of the model's speech.
	EventOutputTranscript EventType = "outputTranscript"
	// EventTurnComplete marks the end of one model turn. All transcript
	// fragments for the turn precede it.
	EventTurnComplete EventType = "turnComplete"
	// EventInterrupted invalidates audio queued for playback on the client.
	EventInterrupted EventType = "interrupted"
	// EventError reports a contained failure; the session survives it.
	EventError EventType = "error"
)

// Event is one entry in a session's outbound stream. Which fields are
// meaningful depends on Type.
type Event struct {
	Type       EventType
	Connected  bool      // EventStatus
	Audio      []byte    // EventAudioChunk, raw PCM
	SampleRate int       // EventAudioChunk
	Text       string    // Event{Input,Output}Transcript delta
	Message    string    // EventError
	At         time.Time // EventTurnComplete
}

// StatusEvent builds a connectivity event.
func StatusEvent(connected bool) Event {
	return Event{Type: EventStatus, Connected: connected}
}

// AudioEvent builds an audio chunk event.
func AudioEvent(pcm []byte, sampleRate int) Event {
	return Event{Type: EventAudioChunk, Audio: pcm, SampleRate: sampleRate}
}

// ErrorEvent builds a contained-error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
