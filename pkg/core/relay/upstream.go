package relay

import (
	"context"
)

// EventSink receives translated upstream events. Implementations must not
// block: the driver's receive loop calls it inline.
type EventSink func(Event)

// UpstreamConfig is the session configuration handed to the live endpoint on
// connect.
type UpstreamConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
}

// UpstreamDialer opens one duplex connection to the external conversational
// endpoint. Implementations translate upstream protocol messages into relay
// events and push them through the sink, in upstream order.
type UpstreamDialer interface {
	Connect(ctx context.Context, cfg UpstreamConfig, sink EventSink) (UpstreamConn, error)
}

// UpstreamConn is a live duplex handle owned by exactly one session.
//
// SendAudio forwards one 16 kHz mono s16le PCM buffer. After Close it must
// degrade to a no-op error rather than panic, because uploads race with
// teardown by design. Close is idempotent and emits a final
// status{connected:false} through the sink exactly once, whether the close
// was local or remote.
type UpstreamConn interface {
	SendAudio(pcm []byte) error
	Close() error
}
