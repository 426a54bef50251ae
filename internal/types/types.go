package types

import (
	"time"
)

// LogLevel represents log verbosity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LogFormat represents log output format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // JSON format for Loki
	LogFormatPretty LogFormat = "pretty" // Human-readable for local dev
)

// ServerConfig contains the configuration for the gateway's transport layer
type ServerConfig struct {
	Addr           string
	ServiceName    string
	MaxConnections int
	MaxMessageSize int64 // Largest inbound frame payload accepted from a client

	// Connection admission (DoS protection)
	ConnectionRateLimitEnabled bool
	ConnRateLimitIPBurst       int
	ConnRateLimitIPRate        float64
	ConnRateLimitGlobalBurst   int
	ConnRateLimitGlobalRate    float64

	// Read the client address from X-Forwarded-For / X-Real-IP.
	// Only safe behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	// Origins allowed to open a socket; empty means any origin
	AllowedOrigins []string

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Read deadline; a client silent for this long is dropped
	HeartbeatTimeout time.Duration

	// Monitoring intervals
	MetricsInterval time.Duration
}

// Stats is a point-in-time view of the connection registry
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}
