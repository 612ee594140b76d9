// Package chat holds the in-memory room state behind the chat gateway: room
// membership, presence and typing, and per-message interactions.
//
// Nothing in this package is safe for concurrent use. The gateway owns one
// Registry and one Interactions value and mutates them from a single goroutine.
package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Room is the live state of one token's chat
type Room struct {
	ID        string
	CreatedAt time.Time

	// connection -> user
	conns map[uuid.UUID]string

	// user -> number of that user's connections in the room
	users map[string]int

	// user -> connections of that user currently typing
	typing map[string]map[uuid.UUID]struct{}
}

// JoinResult describes the effect of adding a connection to a room
type JoinResult struct {
	// FirstForUser is true on the user's 0->1 connection transition
	FirstForUser bool
	RoomCreated  bool
}

// LeaveResult describes the effect of removing a connection from a room
type LeaveResult struct {
	UserID string
	// Removed is false when the connection was not a member
	Removed bool
	// LastForUser is true on the user's 1->0 connection transition
	LastForUser bool
	// WasTyping is true when this leave ended the user's typing, i.e. the
	// connection was the user's last one typing
	WasTyping   bool
	RoomRemoved bool
}

// Registry maps room identifiers to their members
type Registry struct {
	rooms map[string]*Room
	now   func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Join adds connID owned by userID to the room, creating the room if needed
func (r *Registry) Join(roomID string, connID uuid.UUID, userID string) JoinResult {
	var res JoinResult

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:        roomID,
			CreatedAt: r.now(),
			conns:     make(map[uuid.UUID]string),
			users:     make(map[string]int),
			typing:    make(map[string]map[uuid.UUID]struct{}),
		}
		r.rooms[roomID] = room
		res.RoomCreated = true
	}

	if _, exists := room.conns[connID]; exists {
		return res
	}

	room.conns[connID] = userID
	room.users[userID]++
	res.FirstForUser = room.users[userID] == 1
	return res
}

// Leave removes connID from the room along with its typing flag. The user
// stops typing only when none of their remaining connections is typing.
func (r *Registry) Leave(roomID string, connID uuid.UUID) LeaveResult {
	var res LeaveResult

	room, ok := r.rooms[roomID]
	if !ok {
		return res
	}

	userID, ok := room.conns[connID]
	if !ok {
		return res
	}
	res.UserID = userID
	res.Removed = true

	delete(room.conns, connID)

	res.WasTyping = room.clearTyping(userID, connID)

	room.users[userID]--
	if room.users[userID] <= 0 {
		delete(room.users, userID)
		res.LastForUser = true
	}

	if len(room.conns) == 0 {
		delete(r.rooms, roomID)
		res.RoomRemoved = true
	}

	return res
}

// MembersOf returns the connections currently joined to the room
func (r *Registry) MembersOf(roomID string) []uuid.UUID {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]uuid.UUID, 0, len(room.conns))
	for id := range room.conns {
		members = append(members, id)
	}
	return members
}

// UsersOf returns the distinct users present in the room, sorted
func (r *Registry) UsersOf(roomID string) []string {
	room, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return sortedKeys(room.users)
}

// ConnectionCount returns the number of connections in the room
func (r *Registry) ConnectionCount(roomID string) int {
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.conns)
}

// StartTyping marks connID as typing. It returns true only when its user
// goes from not typing to typing, and false for connections outside the room.
func (r *Registry) StartTyping(roomID string, connID uuid.UUID) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	userID, ok := room.conns[connID]
	if !ok {
		return false
	}

	conns, typing := room.typing[userID]
	if !typing {
		conns = make(map[uuid.UUID]struct{})
		room.typing[userID] = conns
	}
	conns[connID] = struct{}{}
	return !typing
}

// StopTyping clears connID's typing flag. It returns true only when its
// user has no other connection still typing.
func (r *Registry) StopTyping(roomID string, connID uuid.UUID) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	userID, ok := room.conns[connID]
	if !ok {
		return false
	}
	return room.clearTyping(userID, connID)
}

func (room *Room) clearTyping(userID string, connID uuid.UUID) bool {
	conns, ok := room.typing[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(room.typing, userID)
	return true
}

// TypingUsersOf returns the users currently typing in the room, sorted
func (r *Registry) TypingUsersOf(roomID string) []string {
	room, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return sortedKeys(room.typing)
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
