package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport is the write side of a live socket as seen by the registry.
//
// Send must never block: it either queues the frame for the connection's
// writer or drops it and returns false (best-effort, at-most-once delivery).
type Transport interface {
	Send(data []byte) bool
	Ping() error
	Close() error
}

// Connection is one live WebSocket session, pre- or post-authentication.
//
// Identity and room membership are written only by the Registry while it
// holds its lock; the per-connection mutex lets the read pump query them
// without touching the registry lock.
type Connection struct {
	id          string
	transport   Transport
	connectedAt time.Time

	// Liveness: cleared by each heartbeat sweep, set again by pong or any inbound frame
	alive        atomic.Bool
	lastActivity atomic.Int64 // Unix nanoseconds

	mu       sync.RWMutex
	userID   string
	username string
	rooms    map[string]struct{}
}

// NewConnection wraps a transport in a fresh, unauthenticated connection
func NewConnection(transport Transport) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		transport:   transport,
		connectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
	}
	c.MarkAlive()
	return c
}

// ID returns the socket identifier
func (c *Connection) ID() string { return c.id }

// ConnectedAt returns when the socket was accepted
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Identity returns the authenticated user, ok=false before authentication
func (c *Connection) Identity() (userID, username string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.username, c.userID != ""
}

// UserID returns the authenticated user id or ""
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsAuthenticated reports whether an identity is attached
func (c *Connection) IsAuthenticated() bool {
	return c.UserID() != ""
}

// InRoom reports whether this connection has joined roomID
func (c *Connection) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined rooms, sorted
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.rooms)
}

// MarkAlive records activity from the peer (pong or any inbound frame)
func (c *Connection) MarkAlive() {
	c.lastActivity.Store(time.Now().UnixNano())
	c.alive.Store(true)
}

// IsAlive reports the liveness flag
func (c *Connection) IsAlive() bool {
	return c.alive.Load()
}

// ClearAlive resets the liveness flag ahead of a ping
func (c *Connection) ClearAlive() {
	c.alive.Store(false)
}

// LastActivity returns when the peer was last heard from
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Send queues a serialized frame; false means it was dropped
func (c *Connection) Send(data []byte) bool {
	return c.transport.Send(data)
}

// Ping asks the transport to send a protocol-level ping
func (c *Connection) Ping() error {
	return c.transport.Ping()
}

// Terminate closes the underlying socket without a handshake
func (c *Connection) Terminate() error {
	return c.transport.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
