// Package protocol drives the per-connection state machine:
// Unauthenticated → Authenticated, one way, until disconnect.
package protocol

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/auth"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/bridge"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/limits"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
)

// Publisher pushes an event onto the broker without reporting failure
type Publisher interface {
	Publish(ctx context.Context, channel string, data any)
}

// Config wires a Handler
type Config struct {
	Registry  *registry.Registry
	Verifier  auth.Verifier
	Publisher Publisher
	Logger    zerolog.Logger

	// Per-connection inbound budget; zero disables limiting
	MessageRate  float64
	MessageBurst int
}

// Handler is shared by every connection; per-connection state lives in Session
type Handler struct {
	registry  *registry.Registry
	verifier  auth.Verifier
	publisher Publisher
	logger    zerolog.Logger

	messageRate  float64
	messageBurst int

	// Striped by userId. Held across the registry change and the presence
	// publish so one user's online/offline reach the broker in registry order.
	presence [presenceStripes]sync.Mutex
}

const presenceStripes = 64

// New creates a protocol handler
func New(cfg Config) *Handler {
	return &Handler{
		registry:     cfg.Registry,
		verifier:     cfg.Verifier,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger.With().Str("component", "protocol").Logger(),
		messageRate:  cfg.MessageRate,
		messageBurst: cfg.MessageBurst,
	}
}

// Open registers a freshly accepted socket and returns its session
func (h *Handler) Open(t registry.Transport) *Session {
	conn := registry.NewConnection(t)
	h.registry.AddConnection(conn)

	s := &Session{
		handler: h,
		conn:    conn,
		logger:  h.logger.With().Str("socket_id", conn.ID()).Logger(),
	}
	if h.messageRate > 0 && h.messageBurst > 0 {
		s.limiter = limits.NewMessageLimiter(h.messageRate, h.messageBurst)
	}

	monitoring.ConnectionsTotal.Inc()
	s.logger.Debug().Msg("Connection opened")
	return s
}

// Disconnect is the single cleanup path for a connection, whichever side
// noticed it first (read loop, heartbeat, shutdown). It closes the socket,
// removes the connection and publishes presence.offline when the user's last
// connection goes. Repeated calls are no-ops.
func (h *Handler) Disconnect(conn *registry.Connection, reason string) {
	_ = conn.Terminate()

	userID := conn.UserID()
	if userID != "" {
		mu := h.presenceLock(userID)
		mu.Lock()
		defer mu.Unlock()
	}

	removal := h.registry.RemoveConnection(conn)
	if !removal.Existed {
		return
	}
	monitoring.DisconnectsTotal.WithLabelValues(reason).Inc()

	h.logger.Debug().
		Str("socket_id", conn.ID()).
		Str("user_id", removal.UserID).
		Str("reason", reason).
		Dur("connected_for", time.Since(conn.ConnectedAt())).
		Bool("last_for_user", removal.LastForUser).
		Strs("rooms_vacated", removal.RoomsVacated).
		Msg("Connection closed")

	if !removal.LastForUser {
		return
	}
	if removal.UserID != userID {
		// authenticated between the read above and the removal
		mu := h.presenceLock(removal.UserID)
		mu.Lock()
		defer mu.Unlock()
	}
	h.publish(bridge.ChannelPresenceOffline, bridge.Presence{
		UserID:   removal.UserID,
		Username: removal.Username,
	})
}

// attach authenticates conn as id and publishes presence.online when it is
// the user's first connection. Returns whether it was.
func (h *Handler) attach(conn *registry.Connection, id auth.Identity) bool {
	mu := h.presenceLock(id.UserID)
	mu.Lock()
	defer mu.Unlock()

	first := h.registry.Authenticate(conn, id.UserID, id.Username)
	if first {
		h.publish(bridge.ChannelPresenceOnline, bridge.Presence{
			UserID:   id.UserID,
			Username: id.Username,
		})
	}
	return first
}

func (h *Handler) presenceLock(userID string) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(userID))
	return &h.presence[hash.Sum32()%presenceStripes]
}

func (h *Handler) publish(channel string, data any) {
	h.publisher.Publish(context.Background(), channel, data)
}
