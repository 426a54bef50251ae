// Package bridge translates broker events into client frames and publishes
// client-originated events back onto the broker.
//
// Each inbound channel has exactly one schema, validated here. Anything that
// fails to decode is logged, counted and dropped; nothing a producer sends can
// take the gateway down.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/broker"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/messaging"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// Sender is the fan-out surface of the connection registry
type Sender interface {
	SendToUser(userID, eventType string, payload any) int
	SendToRoom(roomID, eventType string, payload any, excludeUserID string) int
	Broadcast(eventType string, payload any, excludeUserID string) int
}

// Config configures a Bridge
type Config struct {
	Broker         broker.Broker
	Sender         Sender
	Prefix         string        // channel namespace, e.g. "chat"
	PublishTimeout time.Duration // bound on a single publish
	Logger         zerolog.Logger
}

// Bridge owns the broker subscription and the dispatch table
type Bridge struct {
	broker         broker.Broker
	sender         Sender
	prefix         string
	publishTimeout time.Duration
	logger         zerolog.Logger

	routes map[string]route // full channel name → handler
}

type route func(data json.RawMessage) error

// validator is implemented by every inbound schema
type validator interface {
	Validate() error
}

// decodeInto binds a schema type to its delivery function
func decodeInto[T validator](deliver func(T)) route {
	return func(data json.RawMessage) error {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("%w: %w", errInvalidData, err)
		}
		if err := ev.Validate(); err != nil {
			return err
		}
		deliver(ev)
		return nil
	}
}

// New builds the dispatch table. Call Start to subscribe.
func New(cfg Config) *Bridge {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	b := &Bridge{
		broker:         cfg.Broker,
		sender:         cfg.Sender,
		prefix:         strings.TrimSuffix(cfg.Prefix, "."),
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger.With().Str("component", "bridge").Logger(),
	}
	b.routes = b.buildRoutes()
	return b
}

func (b *Bridge) buildRoutes() map[string]route {
	s := b.sender
	table := map[string]route{
		ChannelMessageSaved: decodeInto(func(e MessageEvent) {
			s.SendToRoom(e.RoomID, messaging.TypeMessageSaved, e, "")
		}),
		ChannelMessageUpdated: decodeInto(func(e MessageEvent) {
			s.SendToRoom(e.RoomID, messaging.TypeMessageUpdate, e, "")
		}),
		ChannelMessageDeleted: decodeInto(func(e MessageDeleted) {
			s.SendToRoom(e.RoomID, messaging.TypeMessageDelete, e, "")
		}),

		ChannelPresenceOnline: decodeInto(func(e Presence) {
			s.Broadcast(messaging.TypePresenceOnline, e, e.UserID)
		}),
		ChannelPresenceOffline: decodeInto(func(e Presence) {
			s.Broadcast(messaging.TypePresenceOff, e, e.UserID)
		}),

		ChannelTypingStart: decodeInto(func(e RoomActivity) {
			s.SendToRoom(e.RoomID, messaging.TypeTypingStart, e, e.UserID)
		}),
		ChannelTypingStop: decodeInto(func(e RoomActivity) {
			s.SendToRoom(e.RoomID, messaging.TypeTypingStop, e, e.UserID)
		}),
		ChannelRoomJoin: decodeInto(func(e RoomActivity) {
			s.SendToRoom(e.RoomID, messaging.TypeRoomJoin, e, e.UserID)
		}),
		ChannelRoomLeave: decodeInto(func(e RoomActivity) {
			s.SendToRoom(e.RoomID, messaging.TypeRoomLeave, e, e.UserID)
		}),
		ChannelRoomUpdated: decodeInto(func(e RoomUpdated) {
			s.SendToRoom(e.RoomID, messaging.TypeRoomUpdate, e, "")
		}),

		ChannelPostNew: decodeInto(func(e PostEvent) {
			s.Broadcast(messaging.TypePostNew, e, "")
		}),
		ChannelPostDeleted: decodeInto(func(e PostEvent) {
			s.Broadcast(messaging.TypePostDelete, e, "")
		}),
		ChannelPostComment: decodeInto(func(e PostInteraction) {
			b.deliverInteraction(messaging.TypePostComment, e)
		}),
		ChannelPostLike: decodeInto(func(e PostInteraction) {
			b.deliverInteraction(messaging.TypePostLike, e)
		}),

		ChannelResourceNew: decodeInto(func(e ResourceEvent) {
			s.Broadcast(messaging.TypeResourceNew, e, "")
		}),
		ChannelResourceDeleted: decodeInto(func(e ResourceEvent) {
			s.Broadcast(messaging.TypeResourceDelete, e, "")
		}),

		ChannelNotificationNew: decodeInto(func(e Notification) {
			s.SendToUser(e.UserID, messaging.TypeNotification, e)
		}),
	}

	routes := make(map[string]route, len(table))
	for suffix, r := range table {
		routes[b.Channel(suffix)] = r
	}
	return routes
}

// deliverInteraction updates every feed and separately notifies the post
// author unless they are the one acting on it
func (b *Bridge) deliverInteraction(eventType string, e PostInteraction) {
	b.sender.Broadcast(eventType, e, "")
	if e.AuthorID != e.ActorID {
		b.sender.SendToUser(e.AuthorID, messaging.TypeNotification, InteractionNotice{
			Kind:            eventType,
			PostInteraction: e,
		})
	}
}

// Channel returns the fully qualified name for a channel suffix
func (b *Bridge) Channel(suffix string) string {
	if b.prefix == "" {
		return suffix
	}
	return b.prefix + "." + suffix
}

// Channels lists every inbound channel, fully qualified
func (b *Bridge) Channels() []string {
	out := make([]string, 0, len(b.routes))
	for ch := range b.routes {
		out = append(out, ch)
	}
	return out
}

// Start subscribes to every inbound channel. Call once.
func (b *Bridge) Start() error {
	channels := b.Channels()
	if err := b.broker.Subscribe(channels, b.Handle); err != nil {
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	b.logger.Info().Int("channels", len(channels)).Str("prefix", b.prefix).Msg("Bridge subscribed")
	return nil
}

// Handle processes one raw broker message. Safe to call from any backend
// goroutine.
func (b *Bridge) Handle(channel string, raw []byte) {
	defer monitoring.RecoverPanic(b.logger, "bridge_handle", map[string]any{"channel": channel})

	label := strings.TrimPrefix(channel, b.prefix+".")
	monitoring.BrokerEventsReceived.WithLabelValues(label).Inc()

	env, err := broker.DecodeEnvelope(raw)
	if err != nil {
		b.drop(channel, label, "envelope", err)
		return
	}
	if env.Channel != channel {
		b.drop(channel, label, "channel_mismatch",
			fmt.Errorf("envelope names %q", env.Channel))
		return
	}

	r, ok := b.routes[channel]
	if !ok {
		b.drop(channel, label, "unknown_channel", fmt.Errorf("no route"))
		return
	}
	if err := r(env.Data); err != nil {
		b.drop(channel, label, "schema", err)
	}
}

func (b *Bridge) drop(channel, label, reason string, err error) {
	monitoring.BrokerEventsInvalid.WithLabelValues(label, reason).Inc()
	b.logger.Warn().
		Err(err).
		Str("channel", channel).
		Str("reason", reason).
		Msg("Dropped broker event")
}

// Publish wraps data in an envelope and pushes it to the channel suffix.
// Fire-and-forget: failures are logged and counted, never returned, and the
// call is bounded by the publish timeout.
func (b *Bridge) Publish(ctx context.Context, suffix string, data any) {
	channel := b.Channel(suffix)

	raw, err := broker.EncodeEnvelope(channel, data)
	if err != nil {
		monitoring.BrokerPublishFailures.WithLabelValues(suffix).Inc()
		b.logger.Error().Err(err).Str("channel", channel).Msg("Failed to encode broker event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	if err := b.broker.Publish(ctx, channel, raw); err != nil {
		monitoring.BrokerPublishFailures.WithLabelValues(suffix).Inc()
		b.logger.Error().Err(err).Str("channel", channel).Msg("Broker publish failed")
		return
	}
	monitoring.BrokerPublished.WithLabelValues(suffix).Inc()
}
