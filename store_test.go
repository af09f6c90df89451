package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	cfg := &Config{chatMaxLength: 500}
	path := filepath.Join(t.TempDir(), "games.db")

	store, err := newStore(cfg, path)
	require.NoError(t, err)

	return store, path
}

// reopen gives the test its own handle onto the store's file, for
// inspecting what the writer goroutine actually persisted.
func reopen(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestStore_Records(t *testing.T) {
	store, path := newTestStore(t)

	cfg := &Config{chatMaxLength: 500}
	session, host, err := newSession(cfg, nil, "testgame", testStory(), "Alice")
	require.NoError(t, err)
	bob, err := session.join("Bob")
	require.NoError(t, err)

	store.recordSession(session)
	store.recordPlayer(session.id, host)
	store.recordPlayer(session.id, bob)
	store.recordCharacter(session.id, host.ID, "char-001")
	store.recordPhase(session.id, statusInProgress, phaseScriptReading)
	store.recordClue(session.id, &FoundClue{
		Clue:       ClueView{ID: "clue-001", Name: "Burned Letter", Location: "library"},
		FoundBy:    bob.ID,
		FinderName: bob.Name,
		FoundAt:    time.Now(),
	})
	store.recordChat(session.id, ChatPayload{
		SenderID:   host.ID,
		SenderName: host.Name,
		Content:    "whodunnit?",
		SentAt:     time.Now(),
	})
	store.recordVote(session.id, bob.ID, "char-001")

	// close drains the queue before releasing the handle, so every
	// record above is on disk once it returns.
	store.close()

	db := reopen(t, path)

	var status, phase string
	require.NoError(t, db.QueryRow(
		"SELECT status, current_phase FROM games WHERE id = ?", session.id).Scan(&status, &phase))
	assert.Equal(t, "in_progress", status)
	assert.Equal(t, "script_reading", phase)

	var players int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM players WHERE game_id = ?", session.id).Scan(&players))
	assert.Equal(t, 2, players)

	var characterID string
	require.NoError(t, db.QueryRow(
		"SELECT character_id FROM players WHERE id = ?", host.ID).Scan(&characterID))
	assert.Equal(t, "char-001", characterID)

	var clueBy string
	require.NoError(t, db.QueryRow(
		"SELECT found_by FROM found_clues WHERE game_id = ? AND clue_id = ?", session.id, "clue-001").Scan(&clueBy))
	assert.Equal(t, bob.ID, clueBy)

	var content string
	require.NoError(t, db.QueryRow(
		"SELECT content FROM messages WHERE game_id = ?", session.id).Scan(&content))
	assert.Equal(t, "whodunnit?", content)
}

// Re-voting keeps one row per voter, holding the latest suspect.
func TestStore_VoteReplaced(t *testing.T) {
	store, path := newTestStore(t)

	store.recordVote("testgame", "voter-1", "char-001")
	store.recordVote("testgame", "voter-1", "char-003")
	store.close()

	db := reopen(t, path)

	var votes int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM votes WHERE game_id = ?", "testgame").Scan(&votes))
	assert.Equal(t, 1, votes)

	var suspect string
	require.NoError(t, db.QueryRow(
		"SELECT suspect_id FROM votes WHERE voter_id = ?", "voter-1").Scan(&suspect))
	assert.Equal(t, "char-003", suspect)
}

// A nil store is the storeless configuration; every record call and
// close must be a silent no-op.
func TestStore_Nil(t *testing.T) {
	var store *Store

	cfg := &Config{chatMaxLength: 500}
	session, host, err := newSession(cfg, nil, "testgame", testStory(), "Alice")
	require.NoError(t, err)

	store.recordSession(session)
	store.recordPlayer(session.id, host)
	store.recordCharacter(session.id, host.ID, "char-001")
	store.recordPhase(session.id, statusWaiting, phaseLobby)
	store.recordChat(session.id, ChatPayload{SenderID: host.ID, SenderName: host.Name, Content: "hi"})
	store.recordVote(session.id, host.ID, "char-002")
	store.close()
}

// Websocket traffic can outlive the HTTP server's shutdown, so records
// arriving after close must be dropped, not panic.
func TestStore_RecordAfterClose(t *testing.T) {
	store, path := newTestStore(t)

	store.recordVote("testgame", "voter-1", "char-001")
	store.close()

	store.recordChat("testgame", ChatPayload{SenderID: "p1", SenderName: "Alice", Content: "late"})
	store.recordVote("testgame", "voter-2", "char-002")
	store.close()

	db := reopen(t, path)

	var messages int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messages))
	assert.Equal(t, 0, messages)

	var votes int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM votes").Scan(&votes))
	assert.Equal(t, 1, votes)
}
