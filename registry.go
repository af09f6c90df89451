package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// SessionRegistry maps join codes to live sessions. It owns no game
// logic: creation, lookup, and expiry only.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	hubs     map[string]*Hub

	cfg     *Config
	catalog *Catalog
	store   *Store
}

func newSessionRegistry(cfg *Config, catalog *Catalog, store *Store) *SessionRegistry {
	reg := &SessionRegistry{
		sessions: make(map[string]*Session),
		hubs:     make(map[string]*Hub),
		cfg:      cfg,
		catalog:  catalog,
		store:    store,
	}
	if cfg.sessionTimeout > 0 {
		go reg.reaperLoop()
	}
	return reg
}

// newSessionID generates a crypto-random join code and ensures it
// doesn't collide with an active session.
func (reg *SessionRegistry) newSessionID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		reg.mu.Lock()
		_, exists := reg.sessions[id]
		reg.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// create starts a new session for a known story, with the creator as
// host, and wires up its connection hub.
func (reg *SessionRegistry) create(storyID, hostName string) (*Session, *SessionPlayer, error) {
	story, ok := reg.catalog.get(storyID)
	if !ok {
		return nil, nil, errStoryNotFound
	}

	id := reg.newSessionID()
	session, host, err := newSession(reg.cfg, reg.store, id, story, hostName)
	if err != nil {
		return nil, nil, err
	}

	hub := newHub(reg.cfg, session)
	session.setNotify(hub.broadcast)

	reg.mu.Lock()
	reg.sessions[id] = session
	reg.hubs[id] = hub
	reg.mu.Unlock()

	reg.store.recordSession(session)
	reg.store.recordPlayer(id, host)

	logf(reg.cfg, "GAMES: %q created session %s for story %q", hostName, id, storyID)

	return session, host, nil
}

func (reg *SessionRegistry) get(sessionID string) (*Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	session, ok := reg.sessions[sessionID]
	return session, ok
}

func (reg *SessionRegistry) hub(sessionID string) (*Hub, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	hub, ok := reg.hubs[sessionID]
	return hub, ok
}

func (reg *SessionRegistry) remove(sessionID string) {
	reg.mu.Lock()
	session := reg.sessions[sessionID]
	hub := reg.hubs[sessionID]
	delete(reg.sessions, sessionID)
	delete(reg.hubs, sessionID)
	reg.mu.Unlock()

	if hub != nil {
		go hub.closeAll()
	}
	if session != nil {
		logf(reg.cfg, "GAMES: Expired session %s", sessionID)
	}
}

// reaperLoop periodically removes sessions that have been idle longer
// than the configured timeout. Sessions with live connections are
// never reaped, however quiet they are.
func (reg *SessionRegistry) reaperLoop() {
	ticker := time.NewTicker(reg.cfg.sessionTimeout / 2)
	for range ticker.C {
		reg.reapIdle(time.Now().Add(-reg.cfg.sessionTimeout))
	}
}

func (reg *SessionRegistry) reapIdle(cutoff time.Time) {
	reg.mu.Lock()
	var expired []string
	for id, session := range reg.sessions {
		last, connected := session.idleInfo()
		if connected == 0 && last.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	reg.mu.Unlock()

	for _, id := range expired {
		reg.remove(id)
	}
}
