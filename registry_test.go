package main

import (
	"errors"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *SessionRegistry {
	t.Helper()

	cfg := &Config{chatMaxLength: 500}
	catalog := &Catalog{stories: map[string]*Story{"test-story": testStory()}}

	return newSessionRegistry(cfg, catalog, nil)
}

func TestRegistryCreate(t *testing.T) {
	reg := testRegistry(t)

	session, host, err := reg.create("test-story", "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.id) != 8 {
		t.Errorf("session id %q length = %d, want 8", session.id, len(session.id))
	}
	if host.Name != "Alice" || !host.IsHost {
		t.Errorf("host = %+v", host)
	}

	got, ok := reg.get(session.id)
	if !ok || got != session {
		t.Error("lookup by id should return the created session")
	}
	if _, ok := reg.hub(session.id); !ok {
		t.Error("created session should have a hub")
	}
}

func TestRegistryCreate_UnknownStory(t *testing.T) {
	reg := testRegistry(t)

	if _, _, err := reg.create("no-such-story", "Alice"); !errors.Is(err, errStoryNotFound) {
		t.Errorf("create error = %v, want errStoryNotFound", err)
	}
}

func TestRegistryLookup_Unknown(t *testing.T) {
	reg := testRegistry(t)

	if _, ok := reg.get("missing1"); ok {
		t.Error("lookup of unknown id should fail")
	}
}

func TestRegistryIDs_Unique(t *testing.T) {
	reg := testRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		session, _, err := reg.create("test-story", "Alice")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[session.id] {
			t.Fatalf("duplicate session id %q", session.id)
		}
		seen[session.id] = true
	}
}

func TestRegistryReap(t *testing.T) {
	reg := testRegistry(t)

	idle, _, err := reg.create("test-story", "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	busy, busyHost, err := reg.create("test-story", "Beth")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Age the idle session past the cutoff; keep the busy one alive
	// with a connected player.
	stale := time.Now().Add(-2 * time.Hour)
	idle.mu.Lock()
	idle.lastActive = stale
	idle.mu.Unlock()

	busy.mu.Lock()
	busy.lastActive = stale
	busy.mu.Unlock()
	if err := busy.markConnected(busyHost.ID); err != nil {
		t.Fatalf("markConnected: %v", err)
	}
	busy.mu.Lock()
	busy.lastActive = stale
	busy.mu.Unlock()

	reg.reapIdle(time.Now().Add(-time.Hour))

	if _, ok := reg.get(idle.id); ok {
		t.Error("idle session should have been reaped")
	}
	if _, ok := reg.get(busy.id); !ok {
		t.Error("session with a live connection must never be reaped")
	}
}
