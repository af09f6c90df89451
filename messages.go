package main

import (
	"time"
)

// Event is the envelope pushed to every live connection of a session.
// The stream order seen by clients matches the order the engine applied
// the corresponding operations.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Closed set of fanout event types.
const (
	eventPlayerJoined      = "player_joined"
	eventPlayerLeft        = "player_left"
	eventPhaseChange       = "phase_change"
	eventClueFound         = "clue_found"
	eventChat              = "chat"
	eventCharacterSelected = "character_selected"
	eventVoteCast          = "vote_cast"
)

// PresencePayload accompanies player_joined and player_left. The same
// shape covers both permanent joins and transport-level churn; Connected
// tells clients whether the player currently has a live connection.
type PresencePayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Connected  bool   `json:"connected"`
}

// PhasePayload accompanies phase_change. Narration is only set when the
// new phase carries story text (script_reading).
type PhasePayload struct {
	Phase     GamePhase  `json:"phase"`
	Status    GameStatus `json:"status"`
	Narration string     `json:"narration,omitempty"`
}

// CluePayload accompanies clue_found so every player's clue board
// updates, not only the finder's.
type CluePayload struct {
	FinderID   string    `json:"finder_id"`
	FinderName string    `json:"finder_name"`
	Clue       ClueView  `json:"clue"`
	FoundAt    time.Time `json:"found_at"`
}

// ChatPayload accompanies chat. Chat is not game state; it only shares
// the delivery path and ordering guarantees of the other events.
type ChatPayload struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

// CharacterPayload accompanies character_selected, keeping every
// client's taken/free view of the character list correct.
type CharacterPayload struct {
	PlayerID    string `json:"player_id"`
	PlayerName  string `json:"player_name"`
	CharacterID string `json:"character_id,omitempty"`
	ReleasedID  string `json:"released_id,omitempty"`
}

// VotePayload accompanies vote_cast. The suspect is deliberately
// omitted; ballots stay secret until the reveal phase.
type VotePayload struct {
	VoterID   string `json:"voter_id"`
	VoterName string `json:"voter_name"`
}
