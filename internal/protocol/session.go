package protocol

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/bridge"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/limits"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/messaging"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
)

// Session is one connection's protocol state. Its methods are called from
// the connection's read loop only, so frames are handled strictly in order.
type Session struct {
	handler *Handler
	conn    *registry.Connection
	limiter *limits.MessageLimiter // nil when limiting is off
	logger  zerolog.Logger
}

// Conn returns the registry entry for this session
func (s *Session) Conn() *registry.Connection { return s.conn }

// Close runs the shared disconnect path
func (s *Session) Close(reason string) {
	s.handler.Disconnect(s.conn, reason)
}

// AuthenticateToken authenticates with a token presented at upgrade time.
// A bad token leaves the connection open and unauthenticated, exactly like
// a failed authenticate event.
func (s *Session) AuthenticateToken(token string) {
	s.authenticate(token, "")
}

// HandleFrame decodes and dispatches one inbound text frame.
//
// Until the connection authenticates, only authenticate and heartbeat get
// past the envelope; everything else is answered with AUTH_REQUIRED before
// its payload is looked at.
func (s *Session) HandleFrame(data []byte) {
	raw, err := messaging.ParseFrame(data)
	reqID := raw.RequestID
	if err != nil {
		monitoring.FramesReceived.WithLabelValues("invalid").Inc()
		s.sendProtocolError(err, reqID)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.sendError(messaging.CodeRateLimited, "too many messages, slow down", reqID)
		return
	}

	if !s.conn.IsAuthenticated() && !allowedBeforeAuth(raw.Type) {
		monitoring.FramesReceived.WithLabelValues("unauthenticated").Inc()
		s.sendError(messaging.CodeAuthRequired, "authenticate first", reqID)
		return
	}

	frame, err := raw.Decode()
	if err != nil {
		monitoring.FramesReceived.WithLabelValues("invalid").Inc()
		s.sendProtocolError(err, reqID)
		return
	}
	monitoring.FramesReceived.WithLabelValues(frame.Event.EventType()).Inc()

	switch ev := frame.Event.(type) {
	case messaging.Authenticate:
		s.authenticate(ev.Token, reqID)

	case messaging.Heartbeat:
		s.reply(messaging.TypePong, nil, reqID)

	case messaging.RoomJoin:
		if userID, username, ok := s.requireAuth(reqID); ok {
			s.joinRoom(ev, userID, username, reqID)
		}

	case messaging.RoomLeave:
		if userID, username, ok := s.requireAuth(reqID); ok {
			s.leaveRoom(ev, userID, username, reqID)
		}

	case messaging.MessageNew:
		if userID, username, ok := s.requireAuth(reqID); ok {
			s.newMessage(ev, userID, username, reqID)
		}

	case messaging.TypingStart:
		if userID, username, ok := s.requireAuth(reqID); ok {
			s.handler.publish(bridge.ChannelTypingStart, bridge.RoomActivity{
				RoomID: ev.RoomID, UserID: userID, Username: username,
			})
		}

	case messaging.TypingStop:
		if userID, username, ok := s.requireAuth(reqID); ok {
			s.handler.publish(bridge.ChannelTypingStop, bridge.RoomActivity{
				RoomID: ev.RoomID, UserID: userID, Username: username,
			})
		}

	default:
		// a ClientEvent added to messaging without a case here
		s.logger.Error().Str("event_type", ev.EventType()).Msg("Unhandled client event")
		s.sendError(messaging.CodeUnknownEvent, "unsupported event", reqID)
	}
}

func allowedBeforeAuth(eventType string) bool {
	return eventType == messaging.EventAuthenticate || eventType == messaging.EventHeartbeat
}

func (s *Session) sendProtocolError(err error, reqID string) {
	var perr *messaging.ProtocolError
	if !errors.As(err, &perr) {
		perr = messaging.Errorf(messaging.CodeInvalidPayload, "invalid frame")
	}
	s.sendError(perr.Code, perr.Message, reqID)
}

func (s *Session) requireAuth(reqID string) (userID, username string, ok bool) {
	userID, username, ok = s.conn.Identity()
	if !ok {
		s.sendError(messaging.CodeAuthRequired, "authenticate first", reqID)
	}
	return userID, username, ok
}

func (s *Session) authenticate(token, reqID string) {
	if s.conn.IsAuthenticated() {
		monitoring.AuthAttempts.WithLabelValues("already_authenticated").Inc()
		s.sendError(messaging.CodeAlreadyAuthenticated, "connection is already authenticated", reqID)
		return
	}

	id, err := s.handler.verifier.Verify(token)
	if err != nil {
		monitoring.AuthAttempts.WithLabelValues("failure").Inc()
		s.logger.Debug().Err(err).Msg("Authentication failed")
		s.sendError(messaging.CodeAuthFailed, "invalid or expired token", reqID)
		return
	}
	monitoring.AuthAttempts.WithLabelValues("success").Inc()

	first := s.handler.attach(s.conn, id)
	s.logger = s.logger.With().Str("user_id", id.UserID).Logger()
	s.logger.Debug().Bool("first_for_user", first).Msg("Authenticated")

	s.reply(messaging.TypeAuthenticated, authenticatedPayload{
		UserID:   id.UserID,
		Username: id.Username,
		SocketID: s.conn.ID(),
	}, reqID)
}

func (s *Session) joinRoom(ev messaging.RoomJoin, userID, username, reqID string) {
	changed := s.handler.registry.JoinRoom(s.conn, ev.RoomID)
	s.reply(messaging.TypeRoomJoined, roomPayload{RoomID: ev.RoomID}, reqID)

	if changed {
		s.handler.publish(bridge.ChannelRoomJoin, bridge.RoomActivity{
			RoomID: ev.RoomID, UserID: userID, Username: username,
		})
	}
}

func (s *Session) leaveRoom(ev messaging.RoomLeave, userID, username, reqID string) {
	changed := s.handler.registry.LeaveRoom(s.conn, ev.RoomID)
	s.reply(messaging.TypeRoomLeft, roomPayload{RoomID: ev.RoomID}, reqID)

	if changed {
		s.handler.publish(bridge.ChannelRoomLeave, bridge.RoomActivity{
			RoomID: ev.RoomID, UserID: userID, Username: username,
		})
	}
}

func (s *Session) newMessage(ev messaging.MessageNew, userID, username, reqID string) {
	if !s.conn.InRoom(ev.RoomID) {
		s.sendError(messaging.CodeNotInRoom, "join the room before sending messages", reqID)
		return
	}

	s.handler.publish(bridge.ChannelMessageNew, bridge.OutboundMessage{
		RoomID:          ev.RoomID,
		Content:         ev.Content,
		Type:            string(ev.Type),
		ReplyTo:         ev.ReplyTo,
		ClientMessageID: ev.ClientMessageID,
		SenderID:        userID,
		SenderUsername:  username,
		SocketID:        s.conn.ID(),
	})

	s.reply(messaging.TypeMessageAccepted, acceptedPayload{
		RoomID:          ev.RoomID,
		ClientMessageID: ev.ClientMessageID,
	}, reqID)
}

func (s *Session) reply(eventType string, payload any, reqID string) {
	data, err := messaging.NewServerEnvelope(eventType, payload, reqID).Serialize()
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to serialize reply")
		return
	}
	s.conn.Send(data)
}

func (s *Session) sendError(code messaging.ErrorCode, message, reqID string) {
	monitoring.ErrorFramesSent.WithLabelValues(string(code)).Inc()

	data, err := messaging.EncodeError(code, message, reqID)
	if err != nil {
		s.logger.Error().Err(err).Str("code", string(code)).Msg("Failed to serialize error frame")
		return
	}
	s.conn.Send(data)
}

type authenticatedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type acceptedPayload struct {
	RoomID          string `json:"roomId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}
