package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	sink   EventSink
	sends  [][]byte
	closed bool
	once   sync.Once

	sendErr   error
	sendBlock chan struct{} // when set, SendAudio blocks until closed
}

func (c *fakeConn) SendAudio(pcm []byte) error {
	if c.sendBlock != nil {
		<-c.sendBlock
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.sends = append(c.sends, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	sink := c.sink
	c.mu.Unlock()
	c.once.Do(func() {
		if sink != nil {
			sink(StatusEvent(false))
		}
	})
	return nil
}

func (c *fakeConn) sendSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.sends))
	for i, s := range c.sends {
		sizes[i] = len(s)
	}
	return sizes
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dialErr  error
	dialHang chan struct{}
}

func (d *fakeDialer) Connect(ctx context.Context, cfg UpstreamConfig, sink EventSink) (UpstreamConn, error) {
	if d.dialHang != nil {
		select {
		case <-d.dialHang:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{sink: sink}
	d.conns = append(d.conns, c)
	sink(StatusEvent(true))
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testConfig() SessionConfig {
	return SessionConfig{
		SendTimeout: time.Second,
		Logger:      slog.New(slog.DiscardHandler),
	}
}

func connectedSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	s := newSession("sess_test", testConfig())
	d := &fakeDialer{}
	if err := s.EnsureUpstream(context.Background(), d, UpstreamConfig{}); err != nil {
		t.Fatalf("EnsureUpstream: %v", err)
	}
	return s, d.conns[0]
}

func drain(sub *Subscriber) []Event {
	var events []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestSession_SnapshotDeltasForwardOnlyNewBytes(t *testing.T) {
	s, conn := connectedSession(t)
	defer s.Close()

	full := make([]byte, 9600)
	for _, size := range []int{3200, 6400, 9600} {
		forwarded, total, err := s.PushSnapshot(context.Background(), full[:size])
		if err != nil {
			t.Fatalf("PushSnapshot(%d): %v", size, err)
		}
		if forwarded != 3200 {
			t.Fatalf("PushSnapshot(%d) forwarded=%d, want 3200", size, forwarded)
		}
		if total != size {
			t.Fatalf("PushSnapshot(%d) total=%d, want %d", size, total, size)
		}
	}

	sizes := conn.sendSizes()
	if len(sizes) != 3 {
		t.Fatalf("upstream received %d sends, want 3", len(sizes))
	}
	for i, n := range sizes {
		if n != 3200 {
			t.Fatalf("send %d size=%d, want 3200", i, n)
		}
	}
	if got := s.TotalForwarded(); got != 9600 {
		t.Fatalf("TotalForwarded()=%d, want 9600", got)
	}
}

func TestSession_ShrunkSnapshotForwardsNothing(t *testing.T) {
	s, conn := connectedSession(t)
	defer s.Close()

	if _, _, err := s.PushSnapshot(context.Background(), make([]byte, 6400)); err != nil {
		t.Fatalf("PushSnapshot: %v", err)
	}
	forwarded, _, err := s.PushSnapshot(context.Background(), make([]byte, 3200))
	if err != nil {
		t.Fatalf("shrunk PushSnapshot returned error: %v", err)
	}
	if forwarded != 0 {
		t.Fatalf("shrunk snapshot forwarded=%d, want 0", forwarded)
	}
	if got := len(conn.sendSizes()); got != 1 {
		t.Fatalf("upstream received %d sends, want 1", got)
	}
}

func TestSession_EmptyUploadRejected(t *testing.T) {
	s, _ := connectedSession(t)
	defer s.Close()

	if _, err := s.PushFrame(context.Background(), nil); err == nil {
		t.Fatalf("PushFrame(empty) expected error")
	}
	if _, _, err := s.PushSnapshot(context.Background(), nil); err == nil {
		t.Fatalf("PushSnapshot(empty) expected error")
	}
}

func TestSession_UndersizedFrameBecomesSilence(t *testing.T) {
	s, conn := connectedSession(t)
	defer s.Close()

	n, err := s.PushFrame(context.Background(), make([]byte, 10))
	if err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if n == 0 {
		t.Fatalf("silence substitution should still forward bytes")
	}
	sends := conn.sendSizes()
	if len(sends) != 1 || sends[0] != 100 {
		t.Fatalf("sends=%v, want one 100-byte silence buffer", sends)
	}
}

func TestSession_OddLengthFrameForwarded(t *testing.T) {
	s, conn := connectedSession(t)
	defer s.Close()

	n, err := s.PushFrame(context.Background(), make([]byte, 3201))
	if err != nil {
		t.Fatalf("PushFrame(odd): %v", err)
	}
	if n != 3201 {
		t.Fatalf("forwarded=%d, want 3201", n)
	}
	if sends := conn.sendSizes(); len(sends) != 1 || sends[0] != 3201 {
		t.Fatalf("sends=%v, want [3201]", sends)
	}
}

func TestSession_PushWithoutUpstreamIsQuietNoop(t *testing.T) {
	s := newSession("sess_test", testConfig())
	defer s.Close()

	n, err := s.PushFrame(context.Background(), make([]byte, 3200))
	if err != nil {
		t.Fatalf("PushFrame without upstream: %v", err)
	}
	if n != 0 {
		t.Fatalf("forwarded=%d, want 0", n)
	}
}

func TestSession_TranscriptOrderAndAccumulation(t *testing.T) {
	s, _ := connectedSession(t)
	defer s.Close()

	sub, err := s.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s.HandleEvent(Event{Type: EventOutputTranscript, Text: "Hel"})
	s.HandleEvent(Event{Type: EventOutputTranscript, Text: "lo"})
	s.HandleEvent(Event{Type: EventTurnComplete})

	events := drain(sub)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}

	var transcript strings.Builder
	for i, want := range []EventType{EventOutputTranscript, EventOutputTranscript, EventTurnComplete} {
		if events[i].Type != want {
			t.Fatalf("event %d type=%s, want %s", i, events[i].Type, want)
		}
		transcript.WriteString(events[i].Text)
	}
	if got := transcript.String(); got != "Hello" {
		t.Fatalf("accumulated transcript=%q, want %q", got, "Hello")
	}
}

func TestSession_BroadcastSkipsDetachedSubscriber(t *testing.T) {
	s, _ := connectedSession(t)
	defer s.Close()

	subA, _ := s.Subscribe()
	subB, _ := s.Subscribe()
	s.Unsubscribe(subB)

	s.Broadcast(Event{Type: EventInputTranscript, Text: "hi"})

	got := drain(subA)
	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("subscriber A events=%+v, want one transcript", got)
	}
}

func TestSession_LastUnsubscribeClosesUpstreamKeepsSession(t *testing.T) {
	s, conn := connectedSession(t)
	defer s.Close()

	sub, _ := s.Subscribe()
	s.Unsubscribe(sub)

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatalf("upstream should be closed when the last subscriber leaves")
	}
	if s.State() == StateClosed {
		t.Fatalf("session should survive the grace period, state=%s", s.State())
	}
	if _, ok := s.NoSubscribersSince(); !ok {
		t.Fatalf("NoSubscribersSince should report the detach time")
	}

	// A reconnect clears the grace clock.
	if _, err := s.Subscribe(); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if _, ok := s.NoSubscribersSince(); ok {
		t.Fatalf("grace clock should reset on resubscribe")
	}
}

func TestSession_CloseIsIdempotentAndEmitsFinalStatus(t *testing.T) {
	s, _ := connectedSession(t)
	sub, _ := s.Subscribe()

	s.Close()
	s.Close()

	var final []Event
	for ev := range sub.Events() {
		final = append(final, ev)
	}
	if len(final) != 1 || final[0].Type != EventStatus || final[0].Connected {
		t.Fatalf("final events=%+v, want exactly one status{connected:false}", final)
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s, want closed", s.State())
	}
	if _, err := s.Subscribe(); err == nil {
		t.Fatalf("Subscribe after Close should fail")
	}
}

func TestSession_EnsureUpstreamConnectsOnce(t *testing.T) {
	s := newSession("sess_test", testConfig())
	defer s.Close()
	d := &fakeDialer{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.EnsureUpstream(context.Background(), d, UpstreamConfig{})
		}()
	}
	wg.Wait()

	if got := d.dials(); got != 1 {
		t.Fatalf("dials=%d, want 1", got)
	}
	if s.State() != StateActive {
		t.Fatalf("state=%s, want active", s.State())
	}
}

func TestSession_EnsureUpstreamFailureLeavesSessionRetryable(t *testing.T) {
	s := newSession("sess_test", testConfig())
	defer s.Close()
	d := &fakeDialer{dialErr: errors.New("handshake refused")}

	if err := s.EnsureUpstream(context.Background(), d, UpstreamConfig{}); err == nil {
		t.Fatalf("expected connect error")
	}
	if s.State() != StatePending {
		t.Fatalf("state=%s, want pending for retry", s.State())
	}

	// Retry succeeds once the upstream recovers.
	d.mu.Lock()
	d.dialErr = nil
	d.mu.Unlock()
	if err := s.EnsureUpstream(context.Background(), d, UpstreamConfig{}); err != nil {
		t.Fatalf("retry EnsureUpstream: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("state=%s after retry, want active", s.State())
	}
}

func TestSession_SendTimeoutIsContainedFailure(t *testing.T) {
	cfg := testConfig()
	cfg.SendTimeout = 20 * time.Millisecond
	s := newSession("sess_test", cfg)
	defer s.Close()

	block := make(chan struct{})
	defer close(block)
	conn := &fakeConn{sink: s.HandleEvent, sendBlock: block}

	s.mu.Lock()
	s.conn = conn
	s.state = StateActive
	s.mu.Unlock()

	n, err := s.PushFrame(context.Background(), make([]byte, 3200))
	if err != nil {
		t.Fatalf("PushFrame under backpressure: %v", err)
	}
	if n != 0 {
		t.Fatalf("forwarded=%d under timeout, want 0", n)
	}
}
