package relay

import (
	"log/slog"
	"sync"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(testConfig(), slog.New(slog.DiscardHandler))
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := testRegistry()

	s := r.Create()
	if s.ID() == "" {
		t.Fatalf("created session has empty id")
	}
	if s.State() != StatePending {
		t.Fatalf("new session state=%s, want pending", s.State())
	}

	got, ok := r.Get(s.ID())
	if !ok || got != s {
		t.Fatalf("Get(%q) = %v,%v", s.ID(), got, ok)
	}

	r.Remove(s.ID())
	if _, ok := r.Get(s.ID()); ok {
		t.Fatalf("session still present after Remove")
	}

	// Removing again, or removing garbage, is a no-op.
	r.Remove(s.ID())
	r.Remove("no-such-session")
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	r := testRegistry()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := r.Create().ID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := r.Create()
				if _, ok := r.Get(s.ID()); !ok {
					t.Errorf("session %q vanished before Remove", s.ID())
					return
				}
				r.Remove(s.ID())
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("Len()=%d after balanced create/remove, want 0", r.Len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := testRegistry()
	a := r.Create()
	b := r.Create()
	subA, _ := a.Subscribe()

	r.CloseAll()

	if r.Len() != 0 {
		t.Fatalf("Len()=%d after CloseAll, want 0", r.Len())
	}
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Fatalf("states=%s,%s after CloseAll, want closed", a.State(), b.State())
	}
	for range subA.Events() {
		// drain until close
	}
}
