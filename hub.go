package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live websocket connection belonging to a player.
type Client struct {
	conn     *websocket.Conn
	send     chan Event
	playerID string
}

// Hub fans the session's events out to every live connection. It owns
// only the liveness mapping; it never touches game state directly, and
// a broadcast never blocks on any single connection.
type Hub struct {
	cfg     *Config
	session *Session

	mu      sync.Mutex
	clients map[*Client]bool
}

func newHub(cfg *Config, session *Session) *Hub {
	return &Hub{
		cfg:     cfg,
		session: session,
		clients: make(map[*Client]bool),
	}
}

// broadcast delivers one event to every registered connection. Each
// client's send path is an independent buffered channel; a client that
// can't keep up is dropped and marked disconnected, the broadcast
// itself never fails. Called from inside the session's critical
// section, so it must not take the session lock.
func (h *Hub) broadcast(ev Event) {
	var dead []*Client

	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- ev:
		default:
			delete(h.clients, client)
			close(client.send)
			dead = append(dead, client)
		}
	}
	h.mu.Unlock()

	for _, client := range dead {
		h.dropped(client)
	}
}

// dropped handles a connection that died mid-broadcast. The presence
// flip happens on a fresh goroutine because the caller may still hold
// the session lock.
func (h *Hub) dropped(client *Client) {
	_ = client.conn.Close()

	if !h.hasConnection(client.playerID) {
		go func() {
			_ = h.session.markDisconnected(client.playerID)
		}()
	}
}

func (h *Hub) hasConnection(playerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return true
		}
	}
	return false
}

// register adds a connection and flips the player's presence on. The
// hub lock is released before touching the session; lock order is
// always session before hub, never the reverse.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	_ = h.session.markConnected(client.playerID)
}

// unregister removes a connection. The player is only marked
// disconnected once their last connection is gone.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if !h.hasConnection(client.playerID) {
		_ = h.session.markDisconnected(client.playerID)
	}
}

// closeAll disconnects every client of this hub (used by the reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		_ = client.conn.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// clientCommand is the inbound message shape on the websocket. Clients
// may also drive the same operations over the HTTP surface; both paths
// funnel into the session engine.
type clientCommand struct {
	Type    string `json:"type"`
	Payload struct {
		Content    string `json:"content,omitempty"`
		LocationID string `json:"location_id,omitempty"`
		Item       string `json:"item,omitempty"`
		SuspectID  string `json:"suspect_id,omitempty"`
	} `json:"payload"`
}

func (c *Client) readPump(cfg *Config, h *Hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}

		// Failures here are expected conditions (wrong phase, empty
		// message); the websocket is a notification channel, so they
		// are logged and dropped rather than surfaced.
		switch cmd.Type {
		case "chat":
			if _, err := h.session.relayChat(c.playerID, cmd.Payload.Content); err != nil {
				logf(cfg, "GAMES: chat from %s rejected: %v", c.playerID, err)
			}
		case "search":
			if _, _, err := h.session.recordClueFound(c.playerID, cmd.Payload.LocationID, cmd.Payload.Item); err != nil {
				logf(cfg, "GAMES: search from %s rejected: %v", c.playerID, err)
			}
		case "vote":
			if err := h.session.castVote(c.playerID, cmd.Payload.SuspectID); err != nil {
				logf(cfg, "GAMES: vote from %s rejected: %v", c.playerID, err)
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// serveWS upgrades /ws/games/:gameid/:playerid. The player must have
// joined over the HTTP surface first; the websocket only carries
// presence and fanout.
func serveWS(cfg *Config, reg *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("gameid")
		playerID := ps.ByName("playerid")

		session, ok := reg.get(sessionID)
		if !ok {
			http.Error(w, errSessionNotFound.Error(), http.StatusNotFound)
			return
		}
		if !session.hasPlayer(playerID) {
			http.Error(w, errPlayerNotFound.Error(), http.StatusNotFound)
			return
		}
		hub, ok := reg.hub(sessionID)
		if !ok {
			http.Error(w, errSessionNotFound.Error(), http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan Event, 16),
			playerID: playerID,
		}

		hub.register(client)

		go client.writePump()
		client.readPump(cfg, hub)
	}
}
