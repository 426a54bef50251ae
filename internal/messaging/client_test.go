package messaging

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const roomA = "7f6c2b4e-3c1d-4b8e-9a2f-1d2e3f4a5b6c"

func TestDecodeClientFrame(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		want     ClientEvent
		wantCode ErrorCode
		wantReq  string
	}{
		{
			name:    "authenticate",
			frame:   `{"type":"authenticate","payload":{"token":" abc "},"requestId":"r1"}`,
			want:    Authenticate{Token: "abc"},
			wantReq: "r1",
		},
		{
			name:  "heartbeat without payload",
			frame: `{"type":"heartbeat"}`,
			want:  Heartbeat{},
		},
		{
			name:  "room join",
			frame: `{"type":"room:join","payload":{"roomId":"` + roomA + `"}}`,
			want:  RoomJoin{RoomID: roomA},
		},
		{
			name:  "room leave",
			frame: `{"type":"room:leave","payload":{"roomId":"` + roomA + `"}}`,
			want:  RoomLeave{RoomID: roomA},
		},
		{
			name:  "typing start",
			frame: `{"type":"typing:start","payload":{"roomId":"` + roomA + `"}}`,
			want:  TypingStart{RoomID: roomA},
		},
		{
			name:  "typing stop",
			frame: `{"type":"typing:stop","payload":{"roomId":"` + roomA + `"}}`,
			want:  TypingStop{RoomID: roomA},
		},
		{
			name:  "message defaults to text",
			frame: `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":" hi "}}`,
			want:  MessageNew{RoomID: roomA, Content: "hi", Type: MessageTypeText},
		},
		{
			name:     "malformed json",
			frame:    `{"type":`,
			wantCode: CodeInvalidJSON,
		},
		{
			name:     "unknown type keeps request id",
			frame:    `{"type":"room:explode","payload":{},"requestId":"r9"}`,
			wantCode: CodeUnknownEvent,
			wantReq:  "r9",
		},
		{
			name:     "missing type",
			frame:    `{"payload":{}}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "missing payload",
			frame:    `{"type":"room:join"}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "payload wrong shape",
			frame:    `{"type":"room:join","payload":"room"}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "room id not uuid",
			frame:    `{"type":"room:join","payload":{"roomId":"general"}}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "empty token",
			frame:    `{"type":"authenticate","payload":{"token":"   "}}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "empty content",
			frame:    `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":"   "}}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "unknown message type",
			frame:    `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":"x","type":"video"}}`,
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "bad reply reference",
			frame:    `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":"x","replyTo":"nope"}}`,
			wantCode: CodeInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeClientFrame([]byte(tt.frame))
			if frame.RequestID != tt.wantReq {
				t.Errorf("requestId = %q, want %q", frame.RequestID, tt.wantReq)
			}

			if tt.wantCode != "" {
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Fatalf("expected *ProtocolError, got %v", err)
				}
				if perr.Code != tt.wantCode {
					t.Errorf("code = %s, want %s", perr.Code, tt.wantCode)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame.Event != tt.want {
				t.Errorf("event = %#v, want %#v", frame.Event, tt.want)
			}
		})
	}
}

func TestMessageContentLimit(t *testing.T) {
	long := strings.Repeat("é", MaxContentLength)
	frame := `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":"` + long + `"}}`
	if _, err := DecodeClientFrame([]byte(frame)); err != nil {
		t.Fatalf("content of exactly %d runes should pass, got %v", MaxContentLength, err)
	}

	frame = `{"type":"message:new","payload":{"roomId":"` + roomA + `","content":"` + long + `x"}}`
	if _, err := DecodeClientFrame([]byte(frame)); err == nil {
		t.Fatal("expected content over the limit to be rejected")
	}
}

func TestServerEnvelopeShape(t *testing.T) {
	data, err := NewServerEnvelope(TypeRoomJoined, map[string]string{"roomId": roomA}, "req-1").Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["type"] != TypeRoomJoined || got["requestId"] != "req-1" {
		t.Errorf("unexpected envelope: %v", got)
	}
	if ts, ok := got["timestamp"].(float64); !ok || ts <= 0 {
		t.Errorf("timestamp missing or invalid: %v", got["timestamp"])
	}

	data, _ = NewServerEnvelope(TypePong, nil, "").Serialize()
	if strings.Contains(string(data), "requestId") {
		t.Errorf("requestId should be omitted when empty: %s", data)
	}
	if !strings.Contains(string(data), `"payload":{}`) {
		t.Errorf("nil payload should encode as an empty object: %s", data)
	}
}

func TestEncodeError(t *testing.T) {
	data, err := EncodeError(CodeNotInRoom, "join the room first", "r2")
	if err != nil {
		t.Fatalf("EncodeError failed: %v", err)
	}

	var got struct {
		Type      string       `json:"type"`
		Payload   ErrorPayload `json:"payload"`
		RequestID string       `json:"requestId"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Type != TypeError || got.Payload.Code != CodeNotInRoom || got.RequestID != "r2" {
		t.Errorf("unexpected error frame: %+v", got)
	}
}

func TestParseFrameDefersPayload(t *testing.T) {
	raw, err := ParseFrame([]byte(`{"type":"room:join","payload":{"roomId":"general"},"requestId":"r3"}`))
	if err != nil {
		t.Fatalf("envelope should parse, got %v", err)
	}
	if raw.Type != EventRoomJoin || raw.RequestID != "r3" {
		t.Errorf("raw frame = %+v", raw)
	}

	frame, err := raw.Decode()
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidPayload {
		t.Fatalf("Decode err = %v, want INVALID_PAYLOAD", err)
	}
	if frame.RequestID != "r3" {
		t.Errorf("requestId = %q after failed decode", frame.RequestID)
	}

	if _, err := ParseFrame([]byte(`{"type":"room:explode"}`)); err != nil {
		t.Errorf("unknown types are rejected by Decode, not ParseFrame: %v", err)
	}
}
