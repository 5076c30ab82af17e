package relay

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts sessions nobody is using anymore: sessions idle
// past the inactivity threshold, and sessions whose last subscriber left more
// than a grace period ago. Eviction closes the upstream connection and
// removes the registry entry; a concurrent explicit stop is harmless because
// Close and Remove are both idempotent.
type Reaper struct {
	Registry *Registry

	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration
	// IdleTimeout evicts sessions with no activity for this long. Heartbeats
	// on a live subscription refresh activity, so subscribed sessions are
	// immune. Defaults to five minutes.
	IdleTimeout time.Duration
	// Grace evicts zero-subscriber sessions this long after the last
	// subscriber detached, even before IdleTimeout, so abandoned sessions
	// do not linger. Defaults to one minute.
	Grace time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

func (r *Reaper) withDefaults() *Reaper {
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = 5 * time.Minute
	}
	if r.Grace <= 0 {
		r.Grace = time.Minute
	}
	if r.Clock == nil {
		r.Clock = time.Now
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	return r
}

// Run sweeps on a fixed period until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.withDefaults()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep evicts every eligible session once and returns how many went.
func (r *Reaper) Sweep() int {
	r.withDefaults()
	now := r.Clock()

	r.Registry.mu.RLock()
	candidates := make([]*Session, 0, len(r.Registry.sessions))
	for _, s := range r.Registry.sessions {
		candidates = append(candidates, s)
	}
	r.Registry.mu.RUnlock()

	evicted := 0
	for _, s := range candidates {
		reason := ""
		if now.Sub(s.LastActivity()) > r.IdleTimeout {
			reason = "idle"
		} else if since, ok := s.NoSubscribersSince(); ok && now.Sub(since) > r.Grace {
			reason = "no subscribers"
		}
		if reason == "" {
			continue
		}

		r.Logger.Info("evicting session", "session_id", s.ID(), "reason", reason)
		s.Close()
		r.Registry.Remove(s.ID())
		evicted++
	}
	return evicted
}
