package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// Redis uses PUBLISH/SUBSCRIBE; channel names map to Redis channels verbatim
type Redis struct {
	client *redis.Client
	logger zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedis parses a redis:// or rediss:// URL and verifies the server answers
func NewRedis(url string, opts Options) (*Redis, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	ropts.ClientName = opts.ClientID

	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &Redis{
		client: client,
		logger: opts.Logger.With().Str("component", "broker").Str("backend", "redis").Logger(),
	}
	monitoring.BrokerConnected.Set(1)
	r.logger.Info().Str("addr", ropts.Addr).Int("db", ropts.DB).Msg("Connected to Redis")
	return r, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, data []byte) error {
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens one pub/sub connection for every channel and pumps
// messages to handler on a single goroutine. go-redis reconnects the
// subscription on its own after network errors.
func (r *Redis) Subscribe(channels []string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return fmt.Errorf("redis broker already subscribed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.receiveLoop(pubsub.Channel(), handler, r.done)

	r.logger.Info().Strs("channels", channels).Msg("Subscribed")
	return nil
}

func (r *Redis) receiveLoop(msgs <-chan *redis.Message, handler Handler, done chan struct{}) {
	defer close(done)
	defer monitoring.RecoverPanic(r.logger, "redis_receive_loop", nil)

	for msg := range msgs {
		handler(msg.Channel, []byte(msg.Payload))
	}
}

func (r *Redis) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Error closing subscription")
		}
		<-done
	}

	monitoring.BrokerConnected.Set(0)
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	r.logger.Info().Msg("Redis connection closed")
	return nil
}
