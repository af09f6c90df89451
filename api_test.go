package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &Config{chatMaxLength: 500}
	catalog := &Catalog{stories: map[string]*Story{"test-story": testStory()}}
	reg := newSessionRegistry(cfg, catalog, nil)

	mux := httprouter.New()
	registerGameAPI(cfg, mux, reg, catalog)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server}
}

func (f *apiFixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)

	return resp, decodeResponse(t, resp)
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)

	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return body
}

// createGame returns (gameID, hostID).
func (f *apiFixture) createGame(t *testing.T) (string, string) {
	t.Helper()

	resp, body := f.post(t, "/api/games", createGameRequest{StoryID: "test-story", HostName: "Alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return body["game_id"].(string), body["player_id"].(string)
}

func (f *apiFixture) joinGame(t *testing.T, gameID, name string) string {
	t.Helper()

	resp, body := f.post(t, "/api/games/"+gameID+"/join", joinGameRequest{PlayerName: name})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return body["player_id"].(string)
}

func TestAPI_CreateGame(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)
	assert.Len(t, gameID, 8)
	assert.NotEmpty(t, hostID)

	resp, _ := f.post(t, "/api/games", createGameRequest{StoryID: "nope", HostName: "Alice"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.post(t, "/api/games", createGameRequest{StoryID: "test-story", HostName: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GameFlow(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)
	bobID := f.joinGame(t, gameID, "Bob")

	// Character selection, with the conflict surfaced as 409.
	resp, _ := f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: hostID, CharacterID: "char-001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: bobID, CharacterID: "char-001"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "taken")

	resp, _ = f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: bobID, CharacterID: "char-002"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Non-host start is forbidden.
	resp, _ = f.post(t, "/api/games/"+gameID+"/start", playerActionRequest{PlayerID: bobID})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = f.post(t, "/api/games/"+gameID+"/start", playerActionRequest{PlayerID: hostID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := body["state"].(map[string]any)
	assert.Equal(t, "script_reading", state["phase"])
	assert.Equal(t, "in_progress", state["status"])

	// Searching before investigation is a phase violation.
	resp, _ = f.post(t, "/api/games/"+gameID+"/search",
		searchRequest{PlayerID: bobID, LocationID: "library", Item: "fireplace"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.post(t, "/api/games/"+gameID+"/phase", playerActionRequest{PlayerID: hostID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "investigation", body["phase"])

	// Discovery, then the idempotent re-search.
	resp, body = f.post(t, "/api/games/"+gameID+"/search",
		searchRequest{PlayerID: bobID, LocationID: "library", Item: "fireplace"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["found"])
	assert.Equal(t, true, body["newly_discovered"])

	resp, body = f.post(t, "/api/games/"+gameID+"/search",
		searchRequest{PlayerID: bobID, LocationID: "library", Item: "fireplace"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["found"])
	assert.Equal(t, false, body["newly_discovered"])

	resp, body = f.post(t, "/api/games/"+gameID+"/search",
		searchRequest{PlayerID: bobID, LocationID: "study", Item: "nothing here"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["found"])
}

func TestAPI_StartNotReady(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)
	f.joinGame(t, gameID, "Bob")

	resp, body := f.post(t, "/api/games/"+gameID+"/start", playerActionRequest{PlayerID: hostID})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing, ok := body["missing_players"].([]any)
	require.True(t, ok, "not-ready responses should name the unready players")
	assert.Contains(t, missing, "Alice")
	assert.Contains(t, missing, "Bob")
}

func TestAPI_Characters(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)

	resp, _ := f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: hostID, CharacterID: "char-001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(f.server.URL + "/api/games/" + gameID + "/characters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []CharacterView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 4)

	taken := 0
	for _, view := range views {
		if view.IsTaken {
			taken++
			assert.Equal(t, "char-001", view.ID)
			assert.Equal(t, "Alice", view.TakenBy)
		}
	}
	assert.Equal(t, 1, taken)
}

func TestAPI_MyCharacter(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)

	// Before selection there is nothing to show.
	resp, _ := f.get(t, "/api/games/"+gameID+"/my-character/"+hostID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: hostID, CharacterID: "char-001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.get(t, "/api/games/"+gameID+"/my-character/"+hostID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "char-001", body["id"])
	assert.NotEmpty(t, body["private_background"])
	assert.NotEmpty(t, body["secrets"])
}

// The shared state projection hides everyone else's private sheet.
func TestAPI_StatePrivacy(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)
	bobID := f.joinGame(t, gameID, "Bob")

	resp, _ := f.post(t, "/api/games/"+gameID+"/select-character",
		selectCharacterRequest{PlayerID: hostID, CharacterID: "char-001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.get(t, fmt.Sprintf("/api/games/%s?player_id=%s", gameID, bobID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Bob has no character yet and must not see Alice's sheet.
	assert.Nil(t, body["your_character"])
	assert.Nil(t, body["solution"])

	players := body["players"].([]any)
	require.Len(t, players, 2)
	for _, raw := range players {
		p := raw.(map[string]any)
		assert.Nil(t, p["private_background"])
		assert.Nil(t, p["secrets"])
	}

	resp, _ = f.get(t, "/api/games/missing1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Chat(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)

	resp, body := f.post(t, "/api/games/"+gameID+"/chat",
		chatRequest{PlayerID: hostID, Content: "  anyone in the study?  "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "anyone in the study?", body["content"])

	resp, _ = f.post(t, "/api/games/"+gameID+"/chat", chatRequest{PlayerID: hostID, Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_VoteWrongPhase(t *testing.T) {
	f := newAPIFixture(t)

	gameID, hostID := f.createGame(t)

	resp, _ := f.post(t, "/api/games/"+gameID+"/vote",
		castVoteRequest{PlayerID: hostID, SuspectCharacterID: "char-001"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Stories(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/stories")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []StorySummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "test-story", summaries[0].ID)

	resp2, body := f.get(t, "/api/stories/test-story")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "A Test of Murder", body["title"])
	assert.Nil(t, body["solution"])
	assert.Nil(t, body["characters"])

	resp2, _ = f.get(t, "/api/stories/unknown")
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestAPI_QR(t *testing.T) {
	f := newAPIFixture(t)

	gameID, _ := f.createGame(t)

	resp, err := http.Get(f.server.URL + "/api/games/" + gameID + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(f.server.URL + "/api/games/missing1/qr")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
