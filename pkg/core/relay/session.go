package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vishwasetu/relay/pkg/core"
	"github.com/vishwasetu/relay/pkg/core/audio"
)

// State is a session's lifecycle phase.
type State string

const (
	StatePending    State = "pending"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// SessionConfig tunes per-session behavior. Zero values pick safe defaults.
type SessionConfig struct {
	// SubscriberBuffer is the per-subscriber event channel depth. Delivery
	// is non-blocking; a subscriber that falls this far behind loses events
	// rather than stalling the session.
	SubscriberBuffer int

	// SendTimeout bounds one upstream audio forward. Expiry is a logged
	// forwarding failure, not a session failure.
	SendTimeout time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Subscriber is one live listener attached to a session's event stream.
type Subscriber struct {
	session *Session
	ch      chan Event
	closed  bool // guarded by session.mu
}

// Events returns the subscriber's ordered event stream. The channel closes
// when the subscriber detaches or the session closes.
func (sub *Subscriber) Events() <-chan Event {
	return sub.ch
}

// Session is one learner conversation: at most one upstream connection, any
// number of subscribers, and snapshot-delta audio accounting.
//
// Session state and the subscriber set live behind mu; audio pushes are
// serialized separately behind audioMu so uploads forward in arrival order
// without blocking event fanout.
type Session struct {
	id  string
	cfg SessionConfig

	mu             sync.Mutex
	state          State
	lastActivity   time.Time
	lastSubGone    time.Time // zero unless the session had and lost all subscribers
	subscribers    map[*Subscriber]struct{}
	conn           UpstreamConn
	connecting     bool
	closed         bool
	totalForwarded int64

	audioMu sync.Mutex
	frames  *audio.FrameBuffer
}

func newSession(id string, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:           id,
		cfg:          cfg,
		state:        StatePending,
		lastActivity: cfg.Clock(),
		subscribers:  make(map[*Subscriber]struct{}),
		frames:       audio.NewFrameBuffer(),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch refreshes the last-activity timestamp. Heartbeats on a live
// subscription count as activity, which is what keeps a subscribed session
// out of the reaper's hands.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.cfg.Clock()
	s.mu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SubscriberCount returns the number of attached subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// NoSubscribersSince reports when the last subscriber detached. ok is false
// while subscribers are attached or before any ever attached.
func (s *Session) NoSubscribersSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) > 0 || s.lastSubGone.IsZero() {
		return time.Time{}, false
	}
	return s.lastSubGone, true
}

// TotalForwarded returns the cumulative PCM bytes sent upstream.
func (s *Session) TotalForwarded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalForwarded
}

// Upstream reports whether an upstream connection is currently open.
func (s *Session) Upstream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Subscribe attaches a new listener. Fails once the session is closed.
func (s *Session) Subscribe() (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.NewNotFoundError("session is closed")
	}
	sub := &Subscriber{
		session: s,
		ch:      make(chan Event, s.cfg.SubscriberBuffer),
	}
	s.subscribers[sub] = struct{}{}
	s.lastSubGone = time.Time{}
	s.lastActivity = s.cfg.Clock()
	return sub, nil
}

// Unsubscribe detaches a listener. When the last one leaves, the upstream
// connection is closed to stop incurring cost, but the session entry stays
// alive for the reaper's grace period in case the client reconnects.
func (s *Session) Unsubscribe(sub *Subscriber) {
	if sub == nil || sub.session != s {
		return
	}

	var conn UpstreamConn

	s.mu.Lock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	if len(s.subscribers) == 0 && !s.closed {
		s.lastSubGone = s.cfg.Clock()
		conn = s.conn
		s.conn = nil
		if conn != nil {
			s.state = StatePending
		}
	}
	s.mu.Unlock()

	if conn != nil {
		s.cfg.Logger.Info("last subscriber detached, closing upstream", "session_id", s.id)
		_ = conn.Close()
	}
}

// EnsureUpstream lazily opens the upstream connection. Safe to call from
// every subscribe; only the first caller dials, concurrent callers return
// immediately. The dial happens outside the session lock so a slow handshake
// never stalls other operations, bounded by ctx.
func (s *Session) EnsureUpstream(ctx context.Context, dialer UpstreamDialer, cfg UpstreamConfig) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.NewNotFoundError("session is closed")
	}
	if s.conn != nil || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := dialer.Connect(ctx, cfg, s.HandleEvent)

	s.mu.Lock()
	s.connecting = false
	if err != nil {
		if !s.closed {
			s.state = StatePending
		}
		s.mu.Unlock()
		return core.NewUpstreamError(err)
	}
	if s.closed {
		// Stop raced the handshake; the dialed connection is surplus.
		s.mu.Unlock()
		_ = conn.Close()
		return core.NewNotFoundError("session is closed")
	}
	s.conn = conn
	s.state = StateActive
	s.lastActivity = s.cfg.Clock()
	s.mu.Unlock()
	return nil
}

// HandleEvent is the sink for upstream events. It refreshes activity, tracks
// connectivity transitions, and fans the event out to every subscriber in
// upstream order.
func (s *Session) HandleEvent(ev Event) {
	s.mu.Lock()
	s.lastActivity = s.cfg.Clock()
	if ev.Type == EventStatus && !s.closed {
		if ev.Connected {
			s.state = StateActive
		} else {
			// Remote closure: drop the dead handle but keep the session so
			// the client can resubscribe and retry.
			s.conn = nil
			s.state = StatePending
		}
	}
	s.deliverLocked(ev)
	s.mu.Unlock()
}

// Broadcast fans one event out to all subscribers.
func (s *Session) Broadcast(ev Event) {
	s.mu.Lock()
	s.deliverLocked(ev)
	s.mu.Unlock()
}

// deliverLocked sends to every open subscriber without blocking. Subscribers
// whose channel is full lose the event; closed ones are skipped.
func (s *Session) deliverLocked(ev Event) {
	for sub := range s.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			s.cfg.Logger.Warn("subscriber too slow, dropping event",
				"session_id", s.id, "event", string(ev.Type))
		}
	}
}

// PushFrame forwards one direct-mode PCM frame after validation. Empty frames
// are rejected; undersized ones degrade to silence; odd-length ones forward
// with a warning.
func (s *Session) PushFrame(ctx context.Context, pcm []byte) (int, error) {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()

	checked, err := s.checkBuffer(pcm)
	if err != nil {
		return 0, err
	}
	n := s.forward(ctx, checked)
	s.Touch()
	return n, nil
}

// PushSnapshot consumes a snapshot-mode upload: fullPCM is the entire decoded
// recording so far. Only the unseen tail is forwarded; a shrunken snapshot
// forwards nothing and resets the accounting.
//
// Returns the bytes forwarded by this call and the cumulative snapshot
// position.
func (s *Session) PushSnapshot(ctx context.Context, fullPCM []byte) (forwarded, total int, err error) {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()

	if len(fullPCM) == 0 {
		return 0, s.frames.Forwarded(), core.NewInvalidRequestErrorWithParam("empty audio buffer", "audioData")
	}

	delta, shrank := s.frames.Delta(fullPCM)
	if shrank {
		s.cfg.Logger.Warn("snapshot shrank below forwarded position, resetting counter",
			"session_id", s.id, "snapshot_bytes", len(fullPCM))
	}
	total = s.frames.Forwarded()
	if len(delta) == 0 {
		s.Touch()
		return 0, total, nil
	}

	checked, err := s.checkBuffer(delta)
	if err != nil {
		return 0, total, err
	}
	forwarded = s.forward(ctx, checked)
	s.Touch()
	return forwarded, total, nil
}

// checkBuffer applies the forwarding validation policy to one PCM buffer.
func (s *Session) checkBuffer(pcm []byte) ([]byte, error) {
	switch audio.CheckPCM(pcm) {
	case audio.VerdictReject:
		return nil, core.NewInvalidRequestErrorWithParam("empty audio buffer", "audioData")
	case audio.VerdictSubstituteSilence:
		s.cfg.Logger.Warn("audio buffer below viable size, substituting silence",
			"session_id", s.id, "bytes", len(pcm))
		return audio.Silence(audio.MinViableBytes), nil
	case audio.VerdictOKOddLength:
		s.cfg.Logger.Warn("odd-length audio buffer, forwarding anyway",
			"session_id", s.id, "bytes", len(pcm))
		return pcm, nil
	default:
		return pcm, nil
	}
}

// forward sends one validated buffer upstream. A missing connection, a send
// failure, or a timeout all degrade to zero-forwarded without an error:
// uploads racing teardown are expected, and surfacing them as hard failures
// would only provoke client retry storms.
func (s *Session) forward(ctx context.Context, pcm []byte) int {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.cfg.Logger.Warn("upstream not open, dropping audio", "session_id", s.id, "bytes", len(pcm))
		return 0
	}

	errCh := make(chan error, 1)
	go func() { errCh <- conn.SendAudio(pcm) }()

	timer := time.NewTimer(s.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			s.cfg.Logger.Warn("upstream send failed", "session_id", s.id, "error", err)
			return 0
		}
	case <-timer.C:
		s.cfg.Logger.Warn("upstream send timed out", "session_id", s.id, "bytes", len(pcm))
		return 0
	case <-ctx.Done():
		return 0
	}

	s.mu.Lock()
	s.totalForwarded += int64(len(pcm))
	s.mu.Unlock()
	return len(pcm)
}

// Close tears the session down: upstream connection closed, a final
// status{connected:false} delivered, every subscriber channel closed.
// Idempotent; never fails on double close.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosing
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		// The connection emits the final status{connected:false} through
		// the sink on close.
		_ = conn.Close()
	} else {
		s.Broadcast(StatusEvent(false))
	}

	s.mu.Lock()
	for sub := range s.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(s.subscribers, sub)
	}
	s.state = StateClosed
	s.mu.Unlock()
}
