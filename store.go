package main

import (
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	story_id TEXT NOT NULL,
	status TEXT DEFAULT 'waiting',
	current_phase TEXT DEFAULT 'lobby',
	host_id TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	game_id TEXT NOT NULL,
	name TEXT NOT NULL,
	character_id TEXT,
	is_host INTEGER DEFAULT 0,
	joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS found_clues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	clue_id TEXT NOT NULL,
	found_by TEXT NOT NULL,
	found_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(game_id, clue_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	player_id TEXT,
	sender_name TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	voter_id TEXT NOT NULL,
	suspect_id TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(game_id, voter_id) ON CONFLICT REPLACE
);
`

// Store is an optional, best-effort audit trail. Writes are queued to
// a single background goroutine, so a slow disk never holds a
// session's critical section; when the queue is full the write is
// dropped. A nil *Store disables persistence entirely. The in-memory
// session is always the source of truth.
//
// Websocket connections outlive the HTTP server's shutdown, so record
// calls can still arrive after close; they become no-ops rather than
// sends on a closed channel.
type Store struct {
	cfg *Config
	db  *sql.DB

	mu     sync.Mutex
	closed bool
	ops    chan func(db *sql.DB) error
	done   chan struct{}
}

func newStore(cfg *Config, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		cfg:  cfg,
		db:   db,
		ops:  make(chan func(db *sql.DB) error, 256),
		done: make(chan struct{}),
	}
	go s.writer()

	logf(cfg, "STORE: Recording sessions to %s", path)

	return s, nil
}

func (s *Store) writer() {
	for op := range s.ops {
		if err := op(s.db); err != nil {
			logf(s.cfg, "STORE: write failed: %v", err)
		}
	}
	close(s.done)
}

func (s *Store) enqueue(op func(db *sql.DB) error) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ops <- op:
	default:
	}
}

// close drains the queue before releasing the database handle.
func (s *Store) close() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ops)
	<-s.done
	_ = s.db.Close()
}

func (s *Store) recordSession(session *Session) {
	id, storyID, hostID := session.id, session.story.ID, session.hostID
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"INSERT INTO games (id, story_id, host_id) VALUES (?, ?, ?)",
			id, storyID, hostID)
		return err
	})
}

func (s *Store) recordPlayer(sessionID string, p *SessionPlayer) {
	id, name, isHost := p.ID, p.Name, p.IsHost
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"INSERT OR IGNORE INTO players (id, game_id, name, is_host) VALUES (?, ?, ?, ?)",
			id, sessionID, name, isHost)
		return err
	})
}

func (s *Store) recordCharacter(sessionID, playerID, characterID string) {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"UPDATE players SET character_id = ? WHERE id = ? AND game_id = ?",
			characterID, playerID, sessionID)
		return err
	})
}

func (s *Store) recordPhase(sessionID string, status GameStatus, phase GamePhase) {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"UPDATE games SET status = ?, current_phase = ? WHERE id = ?",
			string(status), string(phase), sessionID)
		return err
	})
}

func (s *Store) recordClue(sessionID string, fc *FoundClue) {
	clueID, foundBy, foundAt := fc.Clue.ID, fc.FoundBy, fc.FoundAt
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"INSERT OR IGNORE INTO found_clues (game_id, clue_id, found_by, found_at) VALUES (?, ?, ?, ?)",
			sessionID, clueID, foundBy, foundAt)
		return err
	})
}

func (s *Store) recordChat(sessionID string, msg ChatPayload) {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"INSERT INTO messages (game_id, player_id, sender_name, content, created_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, msg.SenderID, msg.SenderName, msg.Content, msg.SentAt)
		return err
	})
}

func (s *Store) recordVote(sessionID, voterID, suspectID string) {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			"INSERT INTO votes (game_id, voter_id, suspect_id) VALUES (?, ?, ?)",
			sessionID, voterID, suspectID)
		return err
	})
}
