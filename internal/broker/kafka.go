package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// Kafka maps each channel to a topic of the same name.
//
// Producing and consuming use separate clients. Consumption is direct (no
// consumer group) starting at the log end, so every gateway instance sees
// every event and nothing is replayed after a restart. Records of one
// partition are handed to the handler in offset order.
type Kafka struct {
	brokers  []string
	clientID string
	producer *kgo.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	consumer *kgo.Client
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewKafka creates the producer client and pings the seed brokers
func NewKafka(brokers []string, opts Options) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	logger := opts.Logger.With().Str("component", "broker").Str("backend", "kafka").Logger()

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(opts.ClientID),
		kgo.ProducerLinger(0),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := producer.Ping(ctx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to reach kafka brokers: %w", err)
	}

	monitoring.BrokerConnected.Set(1)
	logger.Info().Strs("brokers", brokers).Msg("Connected to Kafka")

	return &Kafka{
		brokers:  brokers,
		clientID: opts.ClientID,
		producer: producer,
		logger:   logger,
	}, nil
}

// Publish produces synchronously so ctx bounds the wait for the ack
func (k *Kafka) Publish(ctx context.Context, channel string, data []byte) error {
	record := &kgo.Record{Topic: channel, Value: data}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates the consumer client for channels and starts the poll loop
func (k *Kafka) Subscribe(channels []string, handler Handler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consumer != nil {
		return fmt.Errorf("kafka broker already subscribed")
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(k.brokers...),
		kgo.ClientID(k.clientID),
		kgo.ConsumeTopics(channels...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(10*1024*1024), // 10MB
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	k.consumer = consumer

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.wg.Add(1)
	go k.consumeLoop(ctx, consumer, handler)

	k.logger.Info().Strs("topics", channels).Msg("Started Kafka consumer")
	return nil
}

func (k *Kafka) consumeLoop(ctx context.Context, consumer *kgo.Client, handler Handler) {
	defer k.wg.Done()
	defer monitoring.RecoverPanic(k.logger, "kafka_consume_loop", nil)

	for {
		fetches := consumer.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			k.logger.Error().
				Err(err).
				Str("topic", topic).
				Int32("partition", partition).
				Msg("Fetch error")
		})

		fetches.EachRecord(func(record *kgo.Record) {
			handler(record.Topic, record.Value)
		})
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	cancel, consumer := k.cancel, k.consumer
	k.mu.Unlock()

	if cancel != nil {
		cancel()
		k.wg.Wait()
		consumer.Close()
	}

	k.producer.Close()
	monitoring.BrokerConnected.Set(0)
	k.logger.Info().Msg("Kafka client closed")
	return nil
}
