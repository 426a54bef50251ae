// Package messaging defines the JSON wire protocol spoken over the gateway's
// WebSocket connections.
//
// Client→Server: {"type": string, "payload": object, "requestId"?: string}
// Server→Client: {"type": string, "payload": object, "timestamp": number, "requestId"?: string}
package messaging

import (
	"encoding/json"
	"time"
)

// Server event types
const (
	TypeAuthenticated   = "authenticated"
	TypeError           = "error"
	TypePong            = "pong"
	TypeRoomJoined      = "room:joined"
	TypeRoomLeft        = "room:left"
	TypeMessageAccepted = "message:accepted"

	TypeMessageSaved   = "message:saved"
	TypeMessageUpdate  = "message:update"
	TypeMessageDelete  = "message:delete"
	TypePresenceOnline = "presence:online"
	TypePresenceOff    = "presence:offline"
	TypeTypingStart    = "typing:start"
	TypeTypingStop     = "typing:stop"
	TypeRoomJoin       = "room:join"
	TypeRoomLeave      = "room:leave"
	TypeRoomUpdate     = "room:update"
	TypePostNew        = "post:new"
	TypePostDelete     = "post:delete"
	TypePostComment    = "post:comment"
	TypePostLike       = "post:like"
	TypeResourceNew    = "resource:new"
	TypeResourceDelete = "resource:delete"
	TypeNotification   = "notification"
)

// ServerEnvelope is the shape of every frame written to a client
type ServerEnvelope struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	RequestID string `json:"requestId,omitempty"`
}

// NewServerEnvelope stamps an outbound frame with the current time
func NewServerEnvelope(eventType string, payload any, requestID string) *ServerEnvelope {
	if payload == nil {
		payload = struct{}{}
	}
	return &ServerEnvelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		RequestID: requestID,
	}
}

// Serialize encodes the envelope for the wire
func (e *ServerEnvelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorPayload is the payload of an "error" frame
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// EncodeError builds a serialized error frame
func EncodeError(code ErrorCode, message, requestID string) ([]byte, error) {
	return NewServerEnvelope(TypeError, ErrorPayload{Code: code, Message: message}, requestID).Serialize()
}
