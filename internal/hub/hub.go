package hub

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RoomKey derives the shared fan-out key for a pair of participants. It is
// symmetric in its arguments. Usernames must not contain the separator;
// the user directory enforces that by construction.
func RoomKey(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return strings.Join(names, "_")
}

// Hub owns all live-session state: which client is current for each
// username and which usernames are joined to each room. All access goes
// through its methods; a single mutex keeps broadcast fan-out consistent
// with concurrent joins and leaves.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client            // username -> current client
	rooms    map[string]map[string]*Client // room key -> username -> client
	logger   zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		logger:   logger,
	}
}

// Register makes client the current session for its username and returns
// the superseded client, if any. Latest login wins for presence purposes;
// the prior session is handed back so the caller decides how to retire it.
func (h *Hub) Register(client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	prior := h.sessions[client.Username]
	h.sessions[client.Username] = client
	h.logger.Debug().Str("username", client.Username).Bool("superseded", prior != nil).Msg("session registered")
	return prior
}

// Unregister removes the client's session and releases every room
// membership it holds. A stale client that was already superseded leaves
// the current session untouched.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[client.Username] == client {
		delete(h.sessions, client.Username)
	}
	for key, members := range h.rooms {
		if members[client.Username] == client {
			delete(members, client.Username)
			if len(members) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	h.logger.Debug().Str("username", client.Username).Msg("session unregistered")
}

// Join adds the client to a room. Joining a room it is already in is a
// no-op.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	if members[client.Username] == client {
		return
	}
	members[client.Username] = client
	h.logger.Info().Str("username", client.Username).Str("room", room).Msg("joined room")
}

// Leave removes the client from a room. Leaving a room it never joined is
// a no-op.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok || members[client.Username] != client {
		return
	}
	delete(members, client.Username)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	h.logger.Info().Str("username", client.Username).Str("room", room).Msg("left room")
}

// Broadcast delivers payload to every session currently joined to the
// room. The member set is snapshotted under the read lock so a broadcast
// never observes a half-applied membership change. Only joined sessions
// receive the event; there is no delivery to eligible-but-unjoined users.
func (h *Hub) Broadcast(room string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for _, client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.enqueue(data)
	}
	return nil
}

// InRoom reports whether the username currently holds a membership in the
// room.
func (h *Hub) InRoom(username, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][username]
	return ok
}

// RoomSize returns the number of sessions joined to the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
