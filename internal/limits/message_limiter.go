package limits

import (
	"golang.org/x/time/rate"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
)

// MessageLimiter is a per-connection token bucket for inbound frames.
// Owned by a single read pump, so it needs no locking of its own.
type MessageLimiter struct {
	limiter *rate.Limiter
}

// NewMessageLimiter allows perSecond frames sustained with burst headroom
func NewMessageLimiter(perSecond float64, burst int) *MessageLimiter {
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes one token; false means the frame must be dropped
func (m *MessageLimiter) Allow() bool {
	if m.limiter.Allow() {
		return true
	}
	monitoring.RateLimitedMessages.Inc()
	return false
}
