package main

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GamePhase is the current stage of gameplay within a session.
type GamePhase string

const (
	phaseLobby           GamePhase = "lobby"
	phaseCharacterSelect GamePhase = "character_select"
	phaseScriptReading   GamePhase = "script_reading"
	phaseInvestigation   GamePhase = "investigation"
	phaseDiscussion      GamePhase = "discussion"
	phaseVoting          GamePhase = "voting"
	phaseReveal          GamePhase = "reveal"
	phaseEnded           GamePhase = "ended"
)

// phaseOrder is the fixed, total phase progression. advancePhase walks
// this table; it never branches on individual phases.
var phaseOrder = []GamePhase{
	phaseLobby,
	phaseCharacterSelect,
	phaseScriptReading,
	phaseInvestigation,
	phaseDiscussion,
	phaseVoting,
	phaseReveal,
	phaseEnded,
}

func phaseIndex(phase GamePhase) int {
	for i, p := range phaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

type GameStatus string

const (
	statusWaiting    GameStatus = "waiting"
	statusInProgress GameStatus = "in_progress"
	statusFinished   GameStatus = "finished"
)

// SessionPlayer is one participant. Players are never removed while
// the session exists; connection liveness is tracked separately so
// transport churn cannot disturb character assignments or clue credit.
type SessionPlayer struct {
	ID          string
	Name        string
	CharacterID string
	IsHost      bool
	IsConnected bool
	JoinedAt    time.Time
}

// FoundClue layers per-session discovery state over an immutable
// story clue.
type FoundClue struct {
	Clue       ClueView
	FoundBy    string
	FinderName string
	FoundAt    time.Time
}

// Session is one game instance and the single source of truth for its
// players, phase, character assignments, and discovered clues. Every
// mutating operation locks mu for its whole read-modify-write, so no
// two operations on the same session ever interleave; operations on
// different sessions are independent.
//
// Events are emitted while mu is held, which makes the per-session
// broadcast stream order identical to the order operations were
// applied. The notify sink must therefore never block (the hub's
// per-connection sends are buffered and fire-and-forget).
type Session struct {
	id        string
	story     *Story
	createdAt time.Time

	cfg   *Config
	store *Store

	mu          sync.Mutex
	status      GameStatus
	phase       GamePhase
	hostID      string
	players     []*SessionPlayer
	assignments map[string]string // characterID -> playerID
	found       map[string]*FoundClue
	foundOrder  []string
	votes       map[string]string // voterID -> suspect characterID
	lastActive  time.Time
	notify      func(Event)
}

func newSession(cfg *Config, store *Store, id string, story *Story, hostName string) (*Session, *SessionPlayer, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" || len([]rune(hostName)) > maxPlayerName {
		return nil, nil, errInvalidName
	}

	now := time.Now()
	host := &SessionPlayer{
		ID:       uuid.NewString(),
		Name:     hostName,
		IsHost:   true,
		JoinedAt: now,
	}

	s := &Session{
		id:          id,
		story:       story,
		createdAt:   now,
		cfg:         cfg,
		store:       store,
		status:      statusWaiting,
		phase:       phaseLobby,
		hostID:      host.ID,
		players:     []*SessionPlayer{host},
		assignments: make(map[string]string),
		found:       make(map[string]*FoundClue),
		votes:       make(map[string]string),
		lastActive:  now,
	}

	return s, host, nil
}

const maxPlayerName = 20

// setNotify installs the broadcast sink. The hub registers itself here
// once, before any client can reach the session.
func (s *Session) setNotify(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notify = fn
}

func (s *Session) emitLocked(ev Event) {
	if s.notify != nil {
		s.notify(ev)
	}
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

func (s *Session) hasPlayer(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.playerLocked(playerID)
	return ok
}

func (s *Session) playerLocked(playerID string) (*SessionPlayer, bool) {
	for _, p := range s.players {
		if p.ID == playerID {
			return p, true
		}
	}
	return nil, false
}

// join appends a new player while the session is still waiting. The
// player starts disconnected; the websocket connection is established
// separately through the hub.
func (s *Session) join(name string) (*SessionPlayer, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxPlayerName {
		return nil, errInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.status != statusWaiting {
		return nil, errSessionStarted
	}
	if len(s.players) >= s.story.PlayerCount.Max {
		return nil, errSessionFull
	}

	p := &SessionPlayer{
		ID:       uuid.NewString(),
		Name:     name,
		JoinedAt: time.Now(),
	}
	s.players = append(s.players, p)

	s.emitLocked(Event{
		Type: eventPlayerJoined,
		Payload: PresencePayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
		},
	})

	s.store.recordPlayer(s.id, p)

	return p, nil
}

// selectCharacter is the atomic compare-and-set on the character map.
// Selection attempts for a session are serialized by mu, so for any
// number of concurrent picks of the same character exactly one wins
// and the rest observe errCharacterTaken. Re-selecting a different
// character releases the player's previous one.
func (s *Session) selectCharacter(playerID, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.phase != phaseLobby && s.phase != phaseCharacterSelect {
		return errWrongPhase
	}

	p, ok := s.playerLocked(playerID)
	if !ok {
		return errPlayerNotFound
	}
	if _, ok := s.story.character(characterID); !ok {
		return errCharacterNotFound
	}

	if holder, taken := s.assignments[characterID]; taken {
		if holder == playerID {
			return nil
		}
		return errCharacterTaken
	}

	released := p.CharacterID
	if released != "" {
		delete(s.assignments, released)
	}
	s.assignments[characterID] = playerID
	p.CharacterID = characterID

	s.emitLocked(Event{
		Type: eventCharacterSelected,
		Payload: CharacterPayload{
			PlayerID:    p.ID,
			PlayerName:  p.Name,
			CharacterID: characterID,
			ReleasedID:  released,
		},
	})

	s.store.recordCharacter(s.id, p.ID, characterID)

	return nil
}

// startGame moves the session into its first gameplay phase. Host
// only; requires at least two players (and the story's minimum), each
// with a character.
func (s *Session) startGame(requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if requesterID != s.hostID {
		return errNotHost
	}
	if s.status != statusWaiting {
		return errSessionStarted
	}

	need := s.story.PlayerCount.Min
	if need < 2 {
		need = 2
	}

	var missing []string
	for _, p := range s.players {
		if p.CharacterID == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(s.players) < need || len(missing) > 0 {
		return &NotReadyError{
			Missing: missing,
			Have:    len(s.players),
			Need:    need,
		}
	}

	s.status = statusInProgress
	s.phase = phaseScriptReading

	s.emitLocked(Event{
		Type: eventPhaseChange,
		Payload: PhasePayload{
			Phase:     s.phase,
			Status:    s.status,
			Narration: s.story.Phases.IntroNarration,
		},
	})

	s.store.recordPhase(s.id, s.status, s.phase)

	return nil
}

// advancePhase moves to the next entry of phaseOrder. Host only. The
// lobby and character-select phases are not advanced by this call
// (startGame owns that transition), and ended is terminal.
func (s *Session) advancePhase(requesterID string) (GamePhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if requesterID != s.hostID {
		return "", errNotHost
	}

	idx := phaseIndex(s.phase)
	if s.phase == phaseLobby || s.phase == phaseCharacterSelect || s.phase == phaseEnded || idx < 0 {
		return "", errInvalidPhase
	}

	s.phase = phaseOrder[idx+1]
	if s.phase == phaseEnded {
		s.status = statusFinished
	}

	s.emitLocked(Event{
		Type: eventPhaseChange,
		Payload: PhasePayload{
			Phase:  s.phase,
			Status: s.status,
		},
	})

	s.store.recordPhase(s.id, s.status, s.phase)

	return s.phase, nil
}

// recordClueFound resolves a (location, item) search against the story
// definition. Re-searching an already-discovered clue is a no-op
// success returning the same clue, with no second broadcast. A search
// that matches nothing returns (nil, false, nil).
func (s *Session) recordClueFound(finderID, locationID, item string) (*FoundClue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.phase != phaseInvestigation {
		return nil, false, errWrongPhase
	}

	finder, ok := s.playerLocked(finderID)
	if !ok {
		return nil, false, errPlayerNotFound
	}

	clue, ok := s.story.clueAt(locationID, item)
	if !ok {
		return nil, false, nil
	}

	if fc, seen := s.found[clue.ID]; seen {
		return fc, false, nil
	}

	fc := &FoundClue{
		Clue:       clue.view(),
		FoundBy:    finder.ID,
		FinderName: finder.Name,
		FoundAt:    time.Now(),
	}
	s.found[clue.ID] = fc
	s.foundOrder = append(s.foundOrder, clue.ID)

	s.emitLocked(Event{
		Type: eventClueFound,
		Payload: CluePayload{
			FinderID:   fc.FoundBy,
			FinderName: fc.FinderName,
			Clue:       fc.Clue,
			FoundAt:    fc.FoundAt,
		},
	})

	s.store.recordClue(s.id, fc)

	return fc, true, nil
}

// castVote records or replaces the voter's ballot. The suspect is not
// broadcast; tallies surface in the state projection from reveal on.
func (s *Session) castVote(voterID, suspectCharacterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.phase != phaseVoting {
		return errWrongPhase
	}

	voter, ok := s.playerLocked(voterID)
	if !ok {
		return errPlayerNotFound
	}
	if _, ok := s.story.character(suspectCharacterID); !ok {
		return errCharacterNotFound
	}

	s.votes[voterID] = suspectCharacterID

	s.emitLocked(Event{
		Type: eventVoteCast,
		Payload: VotePayload{
			VoterID:   voter.ID,
			VoterName: voter.Name,
		},
	})

	s.store.recordVote(s.id, voterID, suspectCharacterID)

	return nil
}

// relayChat mutates no game state; it only borrows the session's
// critical section so chat keeps the same ordering guarantee as every
// other event.
func (s *Session) relayChat(senderID, content string) (ChatPayload, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatPayload{}, errEmptyMessage
	}
	if len([]rune(content)) > s.cfg.chatMaxLength {
		return ChatPayload{}, errMessageTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	sender, ok := s.playerLocked(senderID)
	if !ok {
		return ChatPayload{}, errPlayerNotFound
	}

	msg := ChatPayload{
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Content:    content,
		SentAt:     time.Now(),
	}

	s.emitLocked(Event{
		Type:    eventChat,
		Payload: msg,
	})

	s.store.recordChat(s.id, msg)

	return msg, nil
}

// markConnected flips the player's liveness flag on. Presence events
// reuse the player_joined shape with Connected set.
func (s *Session) markConnected(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	p, ok := s.playerLocked(playerID)
	if !ok {
		return errPlayerNotFound
	}
	p.IsConnected = true

	s.emitLocked(Event{
		Type: eventPlayerJoined,
		Payload: PresencePayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Connected:  true,
		},
	})

	return nil
}

// markDisconnected flips the liveness flag off. The player keeps their
// slot and clue credit. Their character is only released back to the
// pool when the release-characters policy flag is set and the game has
// not started. A player already marked disconnected is left alone, so
// the drop-during-broadcast and readPump-exit paths can both report the
// same dead connection without a second player_left.
func (s *Session) markDisconnected(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	p, ok := s.playerLocked(playerID)
	if !ok {
		return errPlayerNotFound
	}
	if !p.IsConnected {
		return nil
	}
	p.IsConnected = false

	s.emitLocked(Event{
		Type: eventPlayerLeft,
		Payload: PresencePayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
		},
	})

	if s.cfg.releaseCharacters && s.status == statusWaiting && p.CharacterID != "" {
		released := p.CharacterID
		delete(s.assignments, released)
		p.CharacterID = ""

		s.emitLocked(Event{
			Type: eventCharacterSelected,
			Payload: CharacterPayload{
				PlayerID:   p.ID,
				PlayerName: p.Name,
				ReleasedID: released,
			},
		})
	}

	return nil
}

// idleInfo reports when the session was last touched and how many
// players still hold a live connection. The registry reaper uses both.
func (s *Session) idleInfo() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	connected := 0
	for _, p := range s.players {
		if p.IsConnected {
			connected++
		}
	}
	return s.lastActive, connected
}

// PlayerView is the roster entry every player may see.
type PlayerView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CharacterID   string `json:"character_id,omitempty"`
	CharacterName string `json:"character_name,omitempty"`
	IsHost        bool   `json:"is_host"`
	IsConnected   bool   `json:"is_connected"`
}

// FoundClueView is a discovered clue as shown on the shared board.
type FoundClueView struct {
	ClueView
	FoundBy    string    `json:"found_by"`
	FinderName string    `json:"finder_name"`
	FoundAt    time.Time `json:"found_at"`
}

// SessionState is the full-state projection for one requesting player.
// YourCharacter carries the requester's own private sheet and nobody
// else's; the solution and vote tally appear from the reveal phase on.
type SessionState struct {
	ID            string          `json:"id"`
	StoryID       string          `json:"story_id"`
	StoryTitle    string          `json:"story_title"`
	Status        GameStatus      `json:"status"`
	Phase         GamePhase       `json:"phase"`
	HostID        string          `json:"host_id"`
	Players       []PlayerView    `json:"players"`
	CluesFound    []FoundClueView `json:"clues_found"`
	YourCharacter *Character      `json:"your_character,omitempty"`
	VoteTally     map[string]int  `json:"vote_tally,omitempty"`
	Solution      *Solution       `json:"solution,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// stateFor projects the session for a given requester. This is the
// resync backstop: fanout is best-effort, a client that missed events
// fetches this and is consistent again.
func (s *Session) stateFor(requesterID string) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SessionState{
		ID:         s.id,
		StoryID:    s.story.ID,
		StoryTitle: s.story.Title,
		Status:     s.status,
		Phase:      s.phase,
		HostID:     s.hostID,
		Players:    make([]PlayerView, 0, len(s.players)),
		CluesFound: make([]FoundClueView, 0, len(s.foundOrder)),
		CreatedAt:  s.createdAt,
	}

	for _, p := range s.players {
		view := PlayerView{
			ID:          p.ID,
			Name:        p.Name,
			CharacterID: p.CharacterID,
			IsHost:      p.IsHost,
			IsConnected: p.IsConnected,
		}
		if p.CharacterID != "" {
			if c, ok := s.story.character(p.CharacterID); ok {
				view.CharacterName = c.Name
			}
		}
		state.Players = append(state.Players, view)
	}

	for _, clueID := range s.foundOrder {
		fc := s.found[clueID]
		state.CluesFound = append(state.CluesFound, FoundClueView{
			ClueView:   fc.Clue,
			FoundBy:    fc.FoundBy,
			FinderName: fc.FinderName,
			FoundAt:    fc.FoundAt,
		})
	}

	if p, ok := s.playerLocked(requesterID); ok && p.CharacterID != "" {
		if c, ok := s.story.character(p.CharacterID); ok {
			state.YourCharacter = c
		}
	}

	if phaseIndex(s.phase) >= phaseIndex(phaseReveal) {
		tally := make(map[string]int)
		for _, suspect := range s.votes {
			tally[suspect]++
		}
		state.VoteTally = tally
		state.Solution = s.story.Solution
	}

	return state
}

// charactersView lists the story's characters with their taken/free
// status, for the selection screen.
func (s *Session) charactersView() []CharacterView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]CharacterView, 0, len(s.story.Characters))
	for i := range s.story.Characters {
		c := &s.story.Characters[i]
		view := CharacterView{
			ID:         c.ID,
			Name:       c.Name,
			NameCN:     c.NameCN,
			PublicInfo: c.PublicInfo,
		}
		if holder, taken := s.assignments[c.ID]; taken {
			view.IsTaken = true
			if p, ok := s.playerLocked(holder); ok {
				view.TakenBy = p.Name
			}
		}
		views = append(views, view)
	}
	return views
}

// myCharacter returns the requester's own private character sheet.
func (s *Session) myCharacter(playerID string) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.playerLocked(playerID)
	if !ok {
		return nil, errPlayerNotFound
	}
	if p.CharacterID == "" {
		return nil, errNoCharacter
	}

	c, ok := s.story.character(p.CharacterID)
	if !ok {
		return nil, errCharacterNotFound
	}
	return c, nil
}
