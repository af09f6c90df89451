package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type createGameRequest struct {
	StoryID  string `json:"story_id"`
	HostName string `json:"host_name"`
}

type joinGameRequest struct {
	PlayerName string `json:"player_name"`
}

type selectCharacterRequest struct {
	PlayerID    string `json:"player_id"`
	CharacterID string `json:"character_id"`
}

type playerActionRequest struct {
	PlayerID string `json:"player_id"`
}

type searchRequest struct {
	PlayerID   string `json:"player_id"`
	LocationID string `json:"location_id"`
	Item       string `json:"item,omitempty"`
}

type castVoteRequest struct {
	PlayerID           string `json:"player_id"`
	SuspectCharacterID string `json:"suspect_character_id"`
}

type chatRequest struct {
	PlayerID string `json:"player_id"`
	Content  string `json:"content"`
}

type apiError struct {
	Error          string   `json:"error"`
	MissingPlayers []string `json:"missing_players,omitempty"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses:
// unknown entities are 404, the lost selection race is 409, host-only
// violations are 403, everything else recoverable is 400.
func writeError(cfg *Config, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest

	switch {
	case errors.Is(err, errStoryNotFound),
		errors.Is(err, errSessionNotFound),
		errors.Is(err, errPlayerNotFound),
		errors.Is(err, errCharacterNotFound),
		errors.Is(err, errNoCharacter):
		status = http.StatusNotFound
	case errors.Is(err, errCharacterTaken):
		status = http.StatusConflict
	case errors.Is(err, errNotHost):
		status = http.StatusForbidden
	}

	body := apiError{Error: err.Error()}

	var notReady *NotReadyError
	if errors.As(err, &notReady) {
		body.MissingPlayers = notReady.Missing
	}

	writeJSON(cfg, w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func createGame(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req createGameRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		session, host, err := reg.create(req.StoryID, req.HostName)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusCreated, map[string]any{
			"game_id":   session.id,
			"player_id": host.ID,
			"state":     session.stateFor(host.ID),
		})
	}
}

func getGameState(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		writeJSON(cfg, w, http.StatusOK, session.stateFor(r.URL.Query().Get("player_id")))
	}
}

func joinGame(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req joinGameRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		p, err := session.join(req.PlayerName)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Player %q joined %s", p.Name, session.id)

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"game_id":   session.id,
			"player_id": p.ID,
			"state":     session.stateFor(p.ID),
		})
	}
}

func listCharacters(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		writeJSON(cfg, w, http.StatusOK, session.charactersView())
	}
}

func selectCharacter(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req selectCharacterRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		if err := session.selectCharacter(req.PlayerID, req.CharacterID); err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"characters": session.charactersView(),
		})
	}
}

func startGame(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req playerActionRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		if err := session.startGame(req.PlayerID); err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Session %s started", session.id)

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"state": session.stateFor(req.PlayerID),
		})
	}
}

func advancePhase(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req playerActionRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		phase, err := session.advancePhase(req.PlayerID)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Session %s advanced to %s", session.id, phase)

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"phase": phase,
			"state": session.stateFor(req.PlayerID),
		})
	}
}

func searchLocation(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req searchRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		fc, discovered, err := session.recordClueFound(req.PlayerID, req.LocationID, req.Item)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		if fc == nil {
			writeJSON(cfg, w, http.StatusOK, map[string]any{"found": false})
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"found":            true,
			"newly_discovered": discovered,
			"clue":             fc.Clue,
			"found_by":         fc.FoundBy,
		})
	}
}

func castVote(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req castVoteRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		if err := session.castVote(req.PlayerID, req.SuspectCharacterID); err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{"recorded": true})
	}
}

func sendChat(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		var req chatRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}

		msg, err := session.relayChat(req.PlayerID, req.Content)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, msg)
	}
}

func myCharacter(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := reg.get(ps.ByName("gameid"))
		if !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		c, err := session.myCharacter(ps.ByName("playerid"))
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, c)
	}
}

func listStories(cfg *Config, catalog *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, catalog.list())
	}
}

func getStory(cfg *Config, catalog *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		story, ok := catalog.get(ps.ByName("storyid"))
		if !ok {
			writeError(cfg, w, errStoryNotFound)
			return
		}

		writeJSON(cfg, w, http.StatusOK, story.detail())
	}
}

func getStoryLocations(cfg *Config, catalog *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		story, ok := catalog.get(ps.ByName("storyid"))
		if !ok {
			writeError(cfg, w, errStoryNotFound)
			return
		}

		writeJSON(cfg, w, http.StatusOK, story.Locations)
	}
}

func reloadStories(cfg *Config, catalog *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := catalog.reload(); err != nil {
			writeJSON(cfg, w, http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}

		logf(cfg, "STORY: Reloaded catalog")

		writeJSON(cfg, w, http.StatusOK, catalog.list())
	}
}

// gameQR serves a PNG QR code for the shareable join URL, so the join
// code on one player's screen gets the whole table into the session.
func gameQR(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if _, ok := reg.get(gameID); !ok {
			writeError(cfg, w, errSessionNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/join/" + gameID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerGameAPI wires the whole client request surface:
//   - /api/stories...          → story catalog (read-only)
//   - /api/games...            → session lifecycle and actions
//   - /ws/games/:gameid/:playerid → per-session event fanout
func registerGameAPI(cfg *Config, mux *httprouter.Router, reg *SessionRegistry, catalog *Catalog) {
	prefix := strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(prefix+"/api/stories", listStories(cfg, catalog))
	mux.POST(prefix+"/api/stories/reload", reloadStories(cfg, catalog))
	mux.GET(prefix+"/api/stories/:storyid", getStory(cfg, catalog))
	mux.GET(prefix+"/api/stories/:storyid/locations", getStoryLocations(cfg, catalog))

	mux.POST(prefix+"/api/games", createGame(cfg, reg))
	mux.GET(prefix+"/api/games/:gameid", getGameState(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/join", joinGame(cfg, reg))
	mux.GET(prefix+"/api/games/:gameid/characters", listCharacters(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/select-character", selectCharacter(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/start", startGame(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/phase", advancePhase(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/search", searchLocation(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/vote", castVote(cfg, reg))
	mux.POST(prefix+"/api/games/:gameid/chat", sendChat(cfg, reg))
	mux.GET(prefix+"/api/games/:gameid/my-character/:playerid", myCharacter(cfg, reg))
	mux.GET(prefix+"/api/games/:gameid/qr", gameQR(cfg, reg))

	mux.GET(prefix+"/ws/games/:gameid/:playerid", serveWS(cfg, reg))
}
