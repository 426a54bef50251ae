// Package registry is the authoritative in-memory index of live sockets,
// their authentication state and room membership.
//
// Invariants:
//   - a userId is in the user index iff at least one of its connections is
//     authenticated and registered
//   - a userId is in a room's member set iff at least one of that user's
//     registered connections joined the room; empty sets are deleted
//
// A single RWMutex guards every index, so read/modify/write of a room's member
// set is atomic with respect to concurrent join, leave and remove. Nothing in
// this package performs network I/O: sends go to Transport.Send, which queues
// or drops.
//
// Membership and presence are local to this process. A multi-instance
// deployment needs the broker (or a shared store) as the presence source of
// truth; see DESIGN.md "scaling".
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/messaging"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

// Registry indexes connections by user and users by room
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	conns map[*Connection]struct{}
	users map[string]map[*Connection]struct{} // userId → connections
	rooms map[string]map[string]struct{}      // roomId → userIds
}

// Removal describes what RemoveConnection tore down
type Removal struct {
	Existed      bool     // false when the connection was already removed
	UserID       string   // "" for an unauthenticated connection
	Username     string
	LastForUser  bool     // the user has no connections left on this instance
	RoomsVacated []string // rooms the user is no longer a member of
}

// New creates an empty registry
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		conns:  make(map[*Connection]struct{}),
		users:  make(map[string]map[*Connection]struct{}),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// AddConnection registers an unauthenticated connection
func (r *Registry) AddConnection(c *Connection) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

// Authenticate attaches identity to a registered connection and returns true
// when this is the user's first connection on this instance.
//
// Re-authenticating overwrites identity: if the user changes, the connection
// and its rooms move from the old user to the new one.
func (r *Registry) Authenticate(c *Connection, userID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return false
	}

	if c.userID != "" && c.userID != userID {
		r.detachUserLocked(c)
	}

	set := r.users[userID]
	first := len(set) == 0
	if set == nil {
		set = make(map[*Connection]struct{})
		r.users[userID] = set
	}
	if _, already := set[c]; already {
		first = false
	}
	set[c] = struct{}{}

	c.mu.Lock()
	c.userID = userID
	c.username = username
	rooms := sortedKeys(c.rooms)
	c.mu.Unlock()

	for _, roomID := range rooms {
		r.addMemberLocked(roomID, userID)
	}
	return first
}

// JoinRoom adds the connection to a room. Joining twice is a no-op; the
// return value reports whether anything changed. Unauthenticated connections
// cannot join.
func (r *Registry) JoinRoom(c *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok || c.userID == "" {
		return false
	}

	c.mu.Lock()
	_, already := c.rooms[roomID]
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()

	r.addMemberLocked(roomID, c.userID)
	return !already
}

// LeaveRoom removes the connection from a room. Leaving a room not joined is
// a no-op. The user stays a member while another of its connections remains
// in the room.
func (r *Registry) LeaveRoom(c *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.mu.Lock()
	_, joined := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()

	if !joined {
		return false
	}
	if c.userID != "" && !r.userInRoomLocked(c.userID, roomID, c) {
		r.removeMemberLocked(roomID, c.userID)
	}
	return true
}

// RemoveConnection unregisters a connection and cascades the removal through
// the user and room indexes. Calling it twice is harmless: the second call
// reports Existed=false, so callers publish presence changes exactly once.
func (r *Registry) RemoveConnection(c *Connection) Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return Removal{}
	}
	delete(r.conns, c)

	removal := Removal{Existed: true}
	if c.userID == "" {
		return removal
	}

	c.mu.RLock()
	removal.UserID = c.userID
	removal.Username = c.username
	c.mu.RUnlock()

	removal.RoomsVacated = r.detachUserLocked(c)
	removal.LastForUser = len(r.users[removal.UserID]) == 0
	return removal
}

// detachUserLocked removes c from its user's index entry and from every room
// where no other connection of that user remains. Returns the vacated rooms.
func (r *Registry) detachUserLocked(c *Connection) []string {
	userID := c.userID

	if set := r.users[userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}

	var vacated []string
	for _, roomID := range sortedKeys(c.rooms) {
		if !r.userInRoomLocked(userID, roomID, c) {
			r.removeMemberLocked(roomID, userID)
			vacated = append(vacated, roomID)
		}
	}
	return vacated
}

// userInRoomLocked reports whether a connection of userID other than except
// has joined roomID
func (r *Registry) userInRoomLocked(userID, roomID string, except *Connection) bool {
	for other := range r.users[userID] {
		if other == except {
			continue
		}
		if other.InRoom(roomID) {
			return true
		}
	}
	return false
}

func (r *Registry) addMemberLocked(roomID, userID string) {
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

func (r *Registry) removeMemberLocked(roomID, userID string) {
	members := r.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// SendToUser fans a frame out to every connection of userID. A user with no
// connections is not an error. Returns the number of connections that
// accepted the frame.
func (r *Registry) SendToUser(userID, eventType string, payload any) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.users[userID]))
	for c := range r.users[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.deliver(targets, eventType, payload)
}

// SendToRoom fans a frame out to every connection of every member of roomID,
// skipping excludeUserID's connections when it is non-empty.
func (r *Registry) SendToRoom(roomID, eventType string, payload any, excludeUserID string) int {
	r.mu.RLock()
	var targets []*Connection
	for userID := range r.rooms[roomID] {
		if userID == excludeUserID {
			continue
		}
		for c := range r.users[userID] {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, eventType, payload)
}

// Broadcast fans a frame out to every authenticated connection, skipping
// excludeUserID's connections when it is non-empty.
func (r *Registry) Broadcast(eventType string, payload any, excludeUserID string) int {
	r.mu.RLock()
	var targets []*Connection
	for userID, set := range r.users {
		if userID == excludeUserID {
			continue
		}
		for c := range set {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, eventType, payload)
}

// deliver serializes once and hands the same bytes to every target
func (r *Registry) deliver(targets []*Connection, eventType string, payload any) int {
	if len(targets) == 0 {
		return 0
	}

	data, err := messaging.NewServerEnvelope(eventType, payload, "").Serialize()
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Int("targets", len(targets)).
			Msg("Failed to serialize frame - affects all targets")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
		}
	}

	r.logger.Debug().
		Str("event_type", eventType).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("Fan-out")
	return delivered
}

// IsUserOnline reports whether userID holds a connection on this instance
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// UserConnections returns how many connections userID holds
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// RoomMembers returns the userIds in roomID, sorted
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[roomID])
}

// Connections returns a snapshot of every registered connection
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Stats returns current index sizes
func (r *Registry) Stats() types.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.Stats{
		Connections: len(r.conns),
		Users:       len(r.users),
		Rooms:       len(r.rooms),
	}
}
