// Package heartbeat reaps connections whose peer stopped answering pings.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
)

// Source lists the connections to probe
type Source interface {
	Connections() []*registry.Connection
}

// Reaper runs the shared disconnect path for a dead connection
type Reaper interface {
	Disconnect(conn *registry.Connection, reason string)
}

// Supervisor sweeps every registered connection on a fixed interval.
//
// A sweep terminates a connection whose liveness flag is still cleared from
// the previous sweep, or whose last activity is older than Timeout.
// Otherwise it clears the flag and pings; a pong or any inbound frame sets
// it again. A peer that misses one cycle is gone by the second sweep.
type Supervisor struct {
	source   Source
	reaper   Reaper
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	now func() time.Time
}

// Config configures a Supervisor
type Config struct {
	Source   Source
	Reaper   Reaper
	Interval time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// New builds a supervisor; zero durations default to 30s / 60s
func New(cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * cfg.Interval
	}
	return &Supervisor{
		source:   cfg.Source,
		reaper:   cfg.Reaper,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With().Str("component", "heartbeat").Logger(),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(s.logger, "heartbeat", nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("timeout", s.timeout).
		Msg("Heartbeat supervisor started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Heartbeat supervisor stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep probes every connection once and returns how many were reaped
func (s *Supervisor) Sweep() int {
	monitoring.HeartbeatSweeps.Inc()

	cutoff := s.now().Add(-s.timeout)
	conns := s.source.Connections()
	reaped := 0

	for _, c := range conns {
		if !c.IsAlive() || c.LastActivity().Before(cutoff) {
			s.logger.Debug().
				Str("socket_id", c.ID()).
				Str("user_id", c.UserID()).
				Time("last_activity", c.LastActivity()).
				Msg("Reaping unresponsive connection")
			s.reaper.Disconnect(c, monitoring.DisconnectReasonHeartbeat)
			monitoring.HeartbeatReaped.Inc()
			reaped++
			continue
		}

		c.ClearAlive()
		if err := c.Ping(); err != nil {
			// socket already failing; the read loop will run cleanup
			s.logger.Debug().Err(err).Str("socket_id", c.ID()).Msg("Ping failed")
		}
	}

	if reaped > 0 {
		s.logger.Info().
			Int("reaped", reaped).
			Int("checked", len(conns)).
			Msg("Heartbeat sweep")
	}
	return reaped
}
