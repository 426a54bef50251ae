package broker

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := EncodeEnvelope("chat.message.saved", map[string]string{"roomId": "r1"})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Channel != "chat.message.saved" || env.Timestamp <= 0 {
		t.Errorf("envelope = %+v", env)
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil || data["roomId"] != "r1" {
		t.Errorf("data = %s (%v)", env.Data, err)
	}
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `garbage`},
		{"missing channel", `{"data":{},"timestamp":1}`},
		{"missing data", `{"channel":"chat.x","timestamp":1}`},
		{"data not object", `{"channel":"chat.x","data":[1,2],"timestamp":1}`},
		{"null data", `{"channel":"chat.x","data":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEnvelope([]byte(tt.raw)); !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("err = %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	var got []string
	if err := m.Subscribe([]string{"a", "b"}, func(channel string, data []byte) {
		got = append(got, channel+":"+string(data))
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	_ = m.Publish(ctx, "a", []byte("1"))
	_ = m.Publish(ctx, "c", []byte("ignored"))
	_ = m.Publish(ctx, "b", []byte("2"))
	_ = m.Publish(ctx, "a", []byte("3"))

	want := []string{"a:1", "b:2", "a:3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("delivered = %v, want %v", got, want)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	_ = m.Close()

	if err := m.Publish(context.Background(), "a", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := m.Subscribe([]string{"a"}, func(string, []byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestMemoryPublishHonoursContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Publish(ctx, "a", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOpen(t *testing.T) {
	b, err := Open("memory://", Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Errorf("Open memory:// returned %T", b)
	}

	if _, err := Open("amqp://localhost", Options{}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestSplitHosts(t *testing.T) {
	got := splitHosts("k1:9092, k2:9092,,")
	want := []string{"k1:9092", "k2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitHosts = %v, want %v", got, want)
	}
}
