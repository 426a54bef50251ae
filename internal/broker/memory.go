package broker

import (
	"context"
	"sync"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// Memory is an in-process broker. Publish delivers synchronously on the
// caller's goroutine, so per-channel order is publish order.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	closed bool
}

// NewMemory returns an empty in-process broker
func NewMemory() *Memory {
	monitoring.BrokerConnected.Set(1)
	return &Memory{subs: make(map[string][]Handler)}
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]Handler(nil), m.subs[channel]...)
	m.mu.RUnlock()

	for _, h := range handlers {
		h(channel, data)
	}
	return nil
}

func (m *Memory) Subscribe(channels []string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, ch := range channels {
		m.subs[ch] = append(m.subs[ch], handler)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.subs = make(map[string][]Handler)
	monitoring.BrokerConnected.Set(0)
	return nil
}
