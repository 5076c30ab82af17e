// Package geminilive is the production upstream driver: it speaks the Gemini
// Live API over google.golang.org/genai and translates live server messages
// into relay events. The relay core only sees the narrow
// relay.UpstreamDialer/UpstreamConn contract, so this package is swappable
// and the core stays testable with fakes.
package geminilive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/vishwasetu/relay/pkg/core/audio"
	"github.com/vishwasetu/relay/pkg/core/relay"
)

const (
	// inputMIMEType is the PCM contract for audio sent to the model.
	inputMIMEType = "audio/pcm;rate=16000"

	// outputSampleRate is the rate of synthesized audio the model returns.
	outputSampleRate = 24000

	// nudgeSamples is the length of the silence buffer sent right after
	// connecting. Without it the model waits indefinitely for user speech
	// instead of greeting first.
	nudgeSamples = 1600

	defaultNudgeDelay = 500 * time.Millisecond
)

// Dialer opens Gemini Live sessions. One Dialer is shared across all relay
// sessions; each Connect yields an independent duplex connection.
type Dialer struct {
	client *genai.Client
	logger *slog.Logger

	// NudgeDelay is how long after the handshake the silence nudge goes
	// out, giving the server side time to settle.
	NudgeDelay time.Duration
}

// NewDialer builds a Dialer against the Gemini API backend.
func NewDialer(ctx context.Context, apiKey string, logger *slog.Logger) (*Dialer, error) {
	if apiKey == "" {
		return nil, errors.New("geminilive: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("geminilive: create client: %w", err)
	}
	return &Dialer{
		client:     client,
		logger:     logger,
		NudgeDelay: defaultNudgeDelay,
	}, nil
}

// Connect opens one live session configured for bidirectional audio+text
// with transcription in both directions, emits status{connected:true}, and
// starts the receive loop and the greeting nudge.
func (d *Dialer) Connect(ctx context.Context, cfg relay.UpstreamConfig, sink relay.EventSink) (relay.UpstreamConn, error) {
	live, err := d.client.Live.Connect(ctx, cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio, genai.ModalityText},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, fmt.Errorf("geminilive: connect %s: %w", cfg.Model, err)
	}

	c := &conn{
		live:   live,
		sink:   sink,
		logger: d.logger.With("model", cfg.Model),
	}

	c.deliver(relay.StatusEvent(true))

	nudgeDelay := d.NudgeDelay
	if nudgeDelay <= 0 {
		nudgeDelay = defaultNudgeDelay
	}
	c.nudgeTimer = time.AfterFunc(nudgeDelay, c.sendNudge)

	go c.receiveLoop()
	return c, nil
}

type conn struct {
	live   *genai.Session
	sink   relay.EventSink
	logger *slog.Logger

	closed     atomic.Bool
	finalOnce  sync.Once
	nudgeTimer *time.Timer
}

// SendAudio forwards one PCM buffer. Sending on a closed connection is an
// expected race with teardown, so it degrades to a logged warning.
func (c *conn) SendAudio(pcm []byte) error {
	if c.closed.Load() {
		c.logger.Warn("send on closed live connection, dropping audio", "bytes", len(pcm))
		return nil
	}
	err := c.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: inputMIMEType},
	})
	if err != nil {
		if c.closed.Load() {
			c.logger.Warn("send raced connection teardown", "bytes", len(pcm))
			return nil
		}
		return fmt.Errorf("geminilive: send audio: %w", err)
	}
	return nil
}

// Close is idempotent. The final status{connected:false} goes out exactly
// once, whether the closure was local or remote.
func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.nudgeTimer != nil {
		c.nudgeTimer.Stop()
	}
	err := c.live.Close()
	c.emitFinalStatus()
	if err != nil {
		c.logger.Warn("closing live connection", "error", err)
	}
	return nil
}

// sendNudge pushes a short run of silence so the model proactively speaks
// first.
func (c *conn) sendNudge() {
	if c.closed.Load() {
		return
	}
	if err := c.SendAudio(audio.Silence(nudgeSamples * 2)); err != nil {
		c.logger.Warn("greeting nudge failed", "error", err)
	}
}

// receiveLoop pumps live server messages until the connection dies and
// translates each into relay events, preserving upstream order.
func (c *conn) receiveLoop() {
	for {
		msg, err := c.live.Receive()
		if err != nil {
			if !c.normalClose(err) {
				c.logger.Error("live receive failed", "error", err)
				c.deliver(relay.ErrorEvent(err.Error()))
			}
			c.closed.Store(true)
			c.emitFinalStatus()
			return
		}
		for _, ev := range translateMessage(msg) {
			c.deliver(ev)
		}
	}
}

func (c *conn) normalClose(err error) bool {
	if c.closed.Load() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

func (c *conn) emitFinalStatus() {
	c.finalOnce.Do(func() {
		c.deliver(relay.StatusEvent(false))
	})
}

// deliver pushes one event through the sink, containing sink panics at the
// adapter boundary so a broken subscriber can never take down the receive
// loop or the registry.
func (c *conn) deliver(ev relay.Event) {
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("event sink panicked", "panic", v, "event", string(ev.Type))
		}
	}()
	c.sink(ev)
}
