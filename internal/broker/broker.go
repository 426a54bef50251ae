// Package broker is the pub/sub hop between the write-path and the gateway.
//
// Every backend moves opaque bytes on named channels. The gateway wraps
// payloads in an Envelope before publishing and expects the same shape on
// every channel it subscribes to. Backends are selected by BROKER_URL scheme:
//
//	nats://host:4222, tls://host:4222     NATS core subjects
//	redis://host:6379/0, rediss://...     Redis PUBLISH/SUBSCRIBE
//	kafka://host:9092[,host:9092]         Kafka topics (one per channel)
//	memory://                             in-process, for tests and local runs
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrClosed            = errors.New("broker closed")
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")
)

// Handler receives one raw message from a subscribed channel.
// Backends call it sequentially per channel, in broker delivery order.
type Handler func(channel string, data []byte)

// Broker publishes to and subscribes on named channels
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe registers handler on every channel. Call once at startup.
	Subscribe(channels []string, handler Handler) error
	Close() error
}

// Options carries backend-independent settings
type Options struct {
	// ClientID names this gateway to the broker (Kafka client id, NATS connection name)
	ClientID string
	Logger   zerolog.Logger
}

// Open dials the backend named by rawURL's scheme
func Open(rawURL string, opts Options) (Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}
	if opts.ClientID == "" {
		opts.ClientID = "chat-gateway"
	}

	// Each case checks err itself so a failed dial never yields a typed-nil Broker
	switch u.Scheme {
	case "nats", "tls":
		b, err := NewNATS(rawURL, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis", "rediss":
		b, err := NewRedis(rawURL, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "kafka":
		b, err := NewKafka(splitHosts(u.Host), opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

func splitHosts(hosts string) []string {
	var out []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
