package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

var errSocketClosed = errors.New("socket closed")

// socket is the write side of one upgraded connection. It implements
// registry.Transport: Send and Ping never block, frames queue for the write
// pump. Every write to conn happens under wmu, so data frames, pings and
// control replies (pong, close) never interleave.
type socket struct {
	conn net.Conn

	send chan []byte
	ping chan struct{}

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newSocket(conn net.Conn) *socket {
	return &socket{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ping:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Send queues a text frame; a full buffer or closed socket drops it
func (s *socket) Send(data []byte) bool {
	select {
	case <-s.closed:
		monitoring.FramesDropped.WithLabelValues(monitoring.DropReasonClosed).Inc()
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	default:
		monitoring.FramesDropped.WithLabelValues(monitoring.DropReasonBufferFull).Inc()
		return false
	}
}

// Ping asks the write pump to send a ping; pings coalesce
func (s *socket) Ping() error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}

	select {
	case s.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close tears the TCP connection down without a close handshake. Safe to
// call repeatedly and from any goroutine.
func (s *socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// closeWithStatus sends a close frame before tearing down
func (s *socket) closeWithStatus(code ws.StatusCode, reason string) {
	s.wmu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(code, reason))
	s.wmu.Unlock()
	_ = s.Close()
}

func (s *socket) write(op ws.OpCode, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(s.conn, op, data)
}

// controlHandler answers pings and close frames under the write lock and
// reports pongs through onPong
func (s *socket) controlHandler(onPong func()) wsutil.FrameHandlerFunc {
	return func(h ws.Header, r io.Reader) error {
		if h.OpCode == ws.OpPong {
			onPong()
		}

		s.wmu.Lock()
		defer s.wmu.Unlock()

		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return wsutil.ControlHandler{
			Src:   r,
			Dst:   s.conn,
			State: ws.StateServerSide,
		}.Handle(h)
	}
}
