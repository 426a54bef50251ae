package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// NATS publishes and subscribes on core NATS subjects; channel names are
// used as subjects verbatim
type NATS struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATS connects with unlimited reconnects. The gateway keeps serving
// sockets while NATS is away; publishes fail and are counted until it returns.
func NewNATS(url string, opts Options) (*NATS, error) {
	n := &NATS{
		logger: opts.Logger.With().Str("component", "broker").Str("backend", "nats").Logger(),
	}

	conn, err := nats.Connect(url,
		nats.Name(opts.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ConnectHandler(n.connectHandler),
		nats.DisconnectErrHandler(n.disconnectHandler),
		nats.ReconnectHandler(n.reconnectHandler),
		nats.ErrorHandler(n.errorHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n.conn = conn
	monitoring.BrokerConnected.Set(1)
	n.logger.Info().Str("url", conn.ConnectedUrlRedacted()).Msg("Connected to NATS")
	return n, nil
}

func (n *NATS) connectHandler(conn *nats.Conn) {
	n.logger.Info().Str("url", conn.ConnectedUrlRedacted()).Msg("NATS connected")
	monitoring.BrokerConnected.Set(1)
}

func (n *NATS) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		n.logger.Warn().Err(err).Msg("Disconnected from NATS")
	} else {
		n.logger.Info().Msg("Disconnected from NATS")
	}
	monitoring.BrokerConnected.Set(0)
}

func (n *NATS) reconnectHandler(conn *nats.Conn) {
	n.logger.Info().Str("url", conn.ConnectedUrlRedacted()).Msg("Reconnected to NATS")
	monitoring.BrokerConnected.Set(1)
}

func (n *NATS) errorHandler(_ *nats.Conn, sub *nats.Subscription, err error) {
	ev := n.logger.Error().Err(err)
	if sub != nil {
		ev = ev.Str("subject", sub.Subject)
	}
	ev.Msg("NATS async error")
}

func (n *NATS) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates one subscription per subject. NATS dispatches each
// subscription on its own goroutine, so delivery is sequential per channel.
func (n *NATS) Subscribe(channels []string, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, subject := range channels {
		sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
			handler(msg.Subject, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		n.subs = append(n.subs, sub)
		n.logger.Debug().Str("subject", subject).Msg("Subscribed")
	}
	return nil
}

// Close drains subscriptions and closes the connection
func (n *NATS) Close() error {
	n.mu.Lock()
	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Error unsubscribing")
		}
	}
	n.subs = nil
	n.mu.Unlock()

	n.conn.Close()
	monitoring.BrokerConnected.Set(0)
	n.logger.Info().Msg("NATS connection closed")
	return nil
}
