package transport

import (
	"errors"
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/protocol"
)

// readPump decodes frames until the socket fails, then runs the shared
// disconnect path. Frames are handed to the session one at a time.
func (s *Server) readPump(sock *socket, source io.Reader, sess *protocol.Session) {
	defer monitoring.RecoverPanic(s.logger, "readPump", map[string]any{
		"socket_id": sess.Conn().ID(),
	})

	reason := monitoring.DisconnectReasonReadError
	defer func() {
		sess.Close(reason)
	}()

	conn := sess.Conn()
	idle := s.config.HeartbeatTimeout
	maxSize := s.config.MaxMessageSize

	control := sock.controlHandler(conn.MarkAlive)
	rd := &wsutil.Reader{
		Source:         source,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   maxSize,
		OnIntermediate: control,
	}

	for {
		_ = sock.conn.SetReadDeadline(time.Now().Add(idle))

		hdr, err := rd.NextFrame()
		if err != nil {
			if errors.Is(err, wsutil.ErrFrameTooLarge) {
				sock.closeWithStatus(ws.StatusMessageTooBig, "message too big")
			}
			return
		}

		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					reason = monitoring.DisconnectReasonClientClosed
				}
				return
			}
			continue
		}

		conn.MarkAlive()

		if hdr.OpCode != ws.OpText {
			// binary frames are not part of the protocol
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, maxSize+1))
		if err != nil {
			return
		}
		if int64(len(data)) > maxSize {
			sock.closeWithStatus(ws.StatusMessageTooBig, "message too big")
			return
		}

		sess.HandleFrame(data)
	}
}

// writePump drains the send queue and pings on request. It owns no state
// beyond the socket and exits once the socket closes.
func (s *Server) writePump(sock *socket, sess *protocol.Session) {
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{
		"socket_id": sess.Conn().ID(),
	})

	for {
		select {
		case <-sock.closed:
			return

		case data := <-sock.send:
			if err := sock.write(ws.OpText, data); err != nil {
				s.logger.Debug().Err(err).Str("socket_id", sess.Conn().ID()).Msg("Failed to write frame")
				sess.Close(monitoring.DisconnectReasonWriteError)
				return
			}
			monitoring.FramesSent.Inc()

		case <-sock.ping:
			if err := sock.write(ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Str("socket_id", sess.Conn().ID()).Msg("Failed to send ping")
				sess.Close(monitoring.DisconnectReasonWriteError)
				return
			}
		}
	}
}
