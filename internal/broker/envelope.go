package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the wire shape on every channel. Data is channel-specific and
// decoded by the consumer.
type Envelope struct {
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // Unix ms
}

// EncodeEnvelope marshals data and wraps it for channel
func EncodeEnvelope(channel string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", channel, err)
	}
	return json.Marshal(Envelope{
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// DecodeEnvelope parses raw bytes. Channel must be present and data must be
// a JSON object.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Channel == "" {
		return Envelope{}, fmt.Errorf("%w: missing channel", ErrMalformedEnvelope)
	}
	if len(env.Data) == 0 || env.Data[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: data must be an object", ErrMalformedEnvelope)
	}
	return env, nil
}
