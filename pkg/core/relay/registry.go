package relay

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry maps opaque session identifiers to live sessions. It is the only
// structure in the relay mutated from multiple call sites (client requests,
// the reaper, shutdown), so all access goes through its lock; each session
// guards its own mutable state independently, keeping unrelated sessions from
// serializing on one another.
type Registry struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. cfg applies to every session it
// creates.
func NewRegistry(cfg SessionConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new pending session under a collision-resistant id
// (random UUID, 128 bits).
func (r *Registry) Create() *Session {
	s := newSession(uuid.NewString(), r.cfg)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", s.id)
	return s
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session from the registry. Removing an unknown id is a
// no-op: the reaper and an explicit client stop can race, and both must win.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session. Used on drain.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range snapshot {
		s.Close()
	}
	if len(snapshot) > 0 {
		r.logger.Info("closed all sessions", "count", len(snapshot))
	}
}
