package messaging

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Client event types
const (
	EventAuthenticate = "authenticate"
	EventHeartbeat    = "heartbeat"
	EventRoomJoin     = "room:join"
	EventRoomLeave    = "room:leave"
	EventMessageNew   = "message:new"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
)

// MaxContentLength is the longest message body accepted, in runes
const MaxContentLength = 4000

// MessageType enumerates the kinds of chat message a client may send
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// ClientEvent is the closed set of events a client may send.
// Only types in this package implement it; handlers switch over the concrete
// types exhaustively.
type ClientEvent interface {
	EventType() string
	clientEvent()
}

// Authenticate carries a bearer token issued by the auth service
type Authenticate struct {
	Token string `json:"token"`
}

// Heartbeat is an application-level keep-alive for clients that cannot
// observe WebSocket ping/pong
type Heartbeat struct{}

// RoomJoin asks to start receiving a room's events
type RoomJoin struct {
	RoomID string `json:"roomId"`
}

// RoomLeave asks to stop receiving a room's events
type RoomLeave struct {
	RoomID string `json:"roomId"`
}

// MessageNew is a chat message not yet persisted by the write-path
type MessageNew struct {
	RoomID          string      `json:"roomId"`
	Content         string      `json:"content"`
	Type            MessageType `json:"type"`
	ReplyTo         string      `json:"replyTo,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}

// TypingStart signals the user began typing in a room
type TypingStart struct {
	RoomID string `json:"roomId"`
}

// TypingStop signals the user stopped typing in a room
type TypingStop struct {
	RoomID string `json:"roomId"`
}

func (Authenticate) EventType() string { return EventAuthenticate }
func (Heartbeat) EventType() string    { return EventHeartbeat }
func (RoomJoin) EventType() string     { return EventRoomJoin }
func (RoomLeave) EventType() string    { return EventRoomLeave }
func (MessageNew) EventType() string   { return EventMessageNew }
func (TypingStart) EventType() string  { return EventTypingStart }
func (TypingStop) EventType() string   { return EventTypingStop }

func (Authenticate) clientEvent() {}
func (Heartbeat) clientEvent()    {}
func (RoomJoin) clientEvent()     {}
func (RoomLeave) clientEvent()    {}
func (MessageNew) clientEvent()   {}
func (TypingStart) clientEvent()  {}
func (TypingStop) clientEvent()   {}

// ClientFrame is a decoded inbound frame
type ClientFrame struct {
	RequestID string
	Event     ClientEvent
}

// RawFrame is an inbound frame whose envelope parsed but whose payload has
// not been validated. Callers can gate on Type before paying for Decode.
type RawFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId"`
}

// ParseFrame parses the envelope of an inbound frame. On failure the error
// is a *ProtocolError; RequestID is populated whenever the JSON parsed.
func ParseFrame(data []byte) (RawFrame, error) {
	var raw RawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawFrame{}, Errorf(CodeInvalidJSON, "frame is not valid JSON")
	}
	if raw.Type == "" {
		return raw, Errorf(CodeInvalidPayload, "frame type is required")
	}
	return raw, nil
}

// Decode validates the payload against the frame's type
func (f RawFrame) Decode() (ClientFrame, error) {
	frame := ClientFrame{RequestID: f.RequestID}
	event, err := decodeEvent(f.Type, f.Payload)
	if err != nil {
		return frame, err
	}
	frame.Event = event
	return frame, nil
}

// DecodeClientFrame parses and validates an inbound frame in one step.
//
// On failure the returned error is a *ProtocolError; the frame's RequestID is
// still populated whenever the envelope itself parsed, so the error frame can
// be correlated by the client.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	raw, err := ParseFrame(data)
	if err != nil {
		return ClientFrame{RequestID: raw.RequestID}, err
	}
	return raw.Decode()
}

func decodeEvent(eventType string, payload json.RawMessage) (ClientEvent, error) {
	switch eventType {
	case EventAuthenticate:
		var ev Authenticate
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		ev.Token = strings.TrimSpace(ev.Token)
		if ev.Token == "" {
			return nil, Errorf(CodeInvalidPayload, "token is required")
		}
		return ev, nil

	case EventHeartbeat:
		return Heartbeat{}, nil

	case EventRoomJoin:
		var ev RoomJoin
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		if err := validateRoomID(ev.RoomID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventRoomLeave:
		var ev RoomLeave
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		if err := validateRoomID(ev.RoomID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventMessageNew:
		var ev MessageNew
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		if err := ev.validate(); err != nil {
			return nil, err
		}
		return ev, nil

	case EventTypingStart:
		var ev TypingStart
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		if err := validateRoomID(ev.RoomID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventTypingStop:
		var ev TypingStop
		if err := decodePayload(payload, &ev); err != nil {
			return nil, err
		}
		if err := validateRoomID(ev.RoomID); err != nil {
			return nil, err
		}
		return ev, nil
	}

	return nil, Errorf(CodeUnknownEvent, "unknown event type %q", eventType)
}

func decodePayload(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return Errorf(CodeInvalidPayload, "payload is required")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return Errorf(CodeInvalidPayload, "payload has the wrong shape")
	}
	return nil
}

func (m *MessageNew) validate() error {
	if err := validateRoomID(m.RoomID); err != nil {
		return err
	}

	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return Errorf(CodeInvalidPayload, "content must not be empty")
	}
	if n := utf8.RuneCountInString(m.Content); n > MaxContentLength {
		return Errorf(CodeInvalidPayload, "content exceeds %d characters (got %d)", MaxContentLength, n)
	}

	if m.Type == "" {
		m.Type = MessageTypeText
	}
	if !m.Type.valid() {
		return Errorf(CodeInvalidPayload, "unknown message type %q", m.Type)
	}

	if m.ReplyTo != "" {
		if _, err := uuid.Parse(m.ReplyTo); err != nil {
			return Errorf(CodeInvalidPayload, "replyTo must be a message id")
		}
	}
	if len(m.ClientMessageID) > 64 {
		return Errorf(CodeInvalidPayload, "clientMessageId exceeds 64 characters")
	}
	return nil
}

func validateRoomID(roomID string) error {
	if roomID == "" {
		return Errorf(CodeInvalidPayload, "roomId is required")
	}
	if _, err := uuid.Parse(roomID); err != nil {
		return Errorf(CodeInvalidPayload, "roomId must be a UUID")
	}
	return nil
}
