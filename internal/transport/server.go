// Package transport is the gateway's network edge: the HTTP listener, the
// WebSocket upgrade and the per-connection read and write pumps.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/auth"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/limits"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/protocol"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

// Config wires a Server
type Config struct {
	Server   types.ServerConfig
	Handler  *protocol.Handler
	Registry *registry.Registry
	System   *monitoring.SystemMonitor // optional, feeds /stats
	Logger   zerolog.Logger
}

// Server accepts WebSocket clients and serves the HTTP surface
type Server struct {
	config    types.ServerConfig
	handler   *protocol.Handler
	registry  *registry.Registry
	system    *monitoring.SystemMonitor
	admission *limits.AdmissionLimiter // nil when disabled
	logger    zerolog.Logger

	startedAt    time.Time
	slots        chan struct{} // one per allowed concurrent connection
	shuttingDown atomic.Bool
	sockets      sync.Map // *socket → *protocol.Session

	httpServer *http.Server
	listener   net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // background loops
	conns  sync.WaitGroup // read pumps
}

// NewServer builds a server; Start begins listening
func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg.Server,
		handler:   cfg.Handler,
		registry:  cfg.Registry,
		system:    cfg.System,
		logger:    cfg.Logger.With().Str("component", "transport").Logger(),
		startedAt: time.Now(),
		slots:     make(chan struct{}, max(cfg.Server.MaxConnections, 1)),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Server.ConnectionRateLimitEnabled {
		s.admission = limits.NewAdmissionLimiter(limits.AdmissionConfig{
			IPBurst:     cfg.Server.ConnRateLimitIPBurst,
			IPRate:      cfg.Server.ConnRateLimitIPRate,
			GlobalBurst: cfg.Server.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.Server.ConnRateLimitGlobalRate,
			Logger:      cfg.Logger,
		})
	}
	if s.config.MaxMessageSize <= 0 {
		s.config.MaxMessageSize = 64 * 1024
	}
	if s.config.HeartbeatTimeout <= 0 {
		s.config.HeartbeatTimeout = 60 * time.Second
	}

	return s
}

// Routes returns the HTTP handler tree
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:        s.Routes(),
		ReadTimeout:    s.config.HTTPReadTimeout,
		WriteTimeout:   s.config.HTTPWriteTimeout,
		IdleTimeout:    s.config.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	if s.admission != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.admission.Run(s.ctx)
		}()
	}

	s.wg.Add(1)
	go s.collectMetrics()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Int("max_connections", s.config.MaxConnections).
		Msg("Server listening")
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// collectMetrics mirrors registry sizes into gauges
func (s *Server) collectMetrics() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "collectMetrics", nil)

	interval := s.config.MetricsInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			st := s.registry.Stats()
			monitoring.UpdateRegistryGauges(st.Connections, st.Users, st.Rooms)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := limits.ClientIP(r, s.config.TrustProxyHeaders)

	if s.shuttingDown.Load() {
		monitoring.ConnectionsFailed.WithLabelValues("shutting_down").Inc()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.originAllowed(r.Header.Get("Origin")) {
		s.logger.Warn().
			Str("client_ip", clientIP).
			Str("origin", r.Header.Get("Origin")).
			Msg("Connection rejected: origin not allowed")
		monitoring.ConnectionsFailed.WithLabelValues("origin").Inc()
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	if s.admission != nil && !s.admission.Allow(clientIP) {
		monitoring.ConnectionsFailed.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.logger.Warn().
			Str("client_ip", clientIP).
			Int("max_connections", s.config.MaxConnections).
			Msg("Connection rejected: at capacity")
		monitoring.ConnectionsFailed.WithLabelValues("capacity").Inc()
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	// read before the upgrade hijacks the request
	token, tokenErr := auth.TokenFromRequest(r)

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.slots
		monitoring.ConnectionsFailed.WithLabelValues("upgrade").Inc()
		s.logger.Debug().
			Err(err).
			Str("client_ip", clientIP).
			Msg("WebSocket upgrade failed")
		return
	}

	// bytes the client sent right behind the handshake sit in rw's buffer
	source := io.Reader(conn)
	if rw != nil && rw.Reader.Buffered() > 0 {
		source = rw.Reader
	}

	sock := newSocket(conn)
	sess := s.handler.Open(sock)
	s.sockets.Store(sock, sess)

	s.logger.Debug().
		Str("client_ip", clientIP).
		Str("socket_id", sess.Conn().ID()).
		Msg("Client connected")

	go s.writePump(sock, sess)

	// before the read pump starts, so the session is never driven concurrently
	if tokenErr == nil {
		sess.AuthenticateToken(token)
	}

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		defer func() { <-s.slots }()
		defer s.sockets.Delete(sock)
		s.readPump(sock, source, sess)
	}()
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Shutdown stops accepting, closes every socket with 1001 Going Away and
// waits for the pumps to exit or ctx to expire
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	s.shuttingDown.Store(true)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}

	closed := 0
	s.sockets.Range(func(key, value any) bool {
		sock := key.(*socket)
		sess := value.(*protocol.Session)
		sock.closeWithStatus(ws.StatusGoingAway, "server shutdown")
		sess.Close(monitoring.DisconnectReasonServerShutdown)
		closed++
		return true
	})
	s.logger.Info().Int("connections", closed).Msg("Closed client connections")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
