// Package limits throttles socket admission and per-connection inbound traffic.
package limits

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// AdmissionLimiter rate-limits WebSocket upgrade attempts.
//
// Two token buckets are consulted in order:
//   - global: caps accept rate across all clients
//   - per-IP: caps a single address reconnecting in a tight loop
//
// Idle per-IP buckets are evicted after IPTTL by Run.
type AdmissionLimiter struct {
	global      *rate.Limiter
	globalRate  float64
	globalBurst int

	mu      sync.Mutex
	perIP   map[string]*ipBucket
	ipRate  float64
	ipBurst int
	ipTTL   time.Duration

	logger zerolog.Logger
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AdmissionConfig configures an AdmissionLimiter. Zero values fall back to
// 10 burst / 1 per second per IP, 300 burst / 50 per second globally and a
// five minute idle TTL.
type AdmissionConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
	Logger      zerolog.Logger
}

// NewAdmissionLimiter builds a limiter; call Run to start eviction
func NewAdmissionLimiter(cfg AdmissionConfig) *AdmissionLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &AdmissionLimiter{
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		globalRate:  cfg.GlobalRate,
		globalBurst: cfg.GlobalBurst,
		perIP:       make(map[string]*ipBucket),
		ipRate:      cfg.IPRate,
		ipBurst:     cfg.IPBurst,
		ipTTL:       cfg.IPTTL,
		logger:      cfg.Logger.With().Str("component", "admission_limiter").Logger(),
	}

	l.logger.Info().
		Int("ip_burst", cfg.IPBurst).
		Float64("ip_rate", cfg.IPRate).
		Dur("ip_ttl", cfg.IPTTL).
		Int("global_burst", cfg.GlobalBurst).
		Float64("global_rate", cfg.GlobalRate).
		Msg("Admission limiter initialized")

	return l
}

// Allow reports whether a new connection from ip may proceed.
// Rejections are counted under ws_connection_rate_limited_total{scope}.
func (l *AdmissionLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Debug().
			Str("ip", ip).
			Float64("global_rate", l.globalRate).
			Msg("Connection rejected: global rate limit exceeded")
		monitoring.ConnectionRateLimited.WithLabelValues("global").Inc()
		return false
	}

	if !l.bucket(ip).Allow() {
		l.logger.Debug().
			Str("ip", ip).
			Float64("ip_rate", l.ipRate).
			Msg("Connection rejected: per-IP rate limit exceeded")
		monitoring.ConnectionRateLimited.WithLabelValues("per_ip").Inc()
		return false
	}
	return true
}

func (l *AdmissionLimiter) bucket(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.perIP[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)}
		l.perIP[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Run evicts idle per-IP buckets every minute until ctx is done
func (l *AdmissionLimiter) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(l.logger, "admission_limiter_cleanup", nil)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *AdmissionLimiter) evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, b := range l.perIP {
		if now.Sub(b.lastSeen) > l.ipTTL {
			delete(l.perIP, ip)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(l.perIP)).
			Msg("Evicted idle IP buckets")
	}
	return removed
}

// TrackedIPs returns how many per-IP buckets are held
func (l *AdmissionLimiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// ClientIP returns the caller's address. With trustProxy the first
// X-Forwarded-For hop (then X-Real-IP) wins; without it those headers are
// client-controlled and ignored.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
