package platform

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

// Config holds all gateway configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr           string `env:"WS_ADDR" envDefault:":3002"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"chat-gateway"`
	MaxConnections int    `env:"WS_MAX_CONNECTIONS" envDefault:"10000"`
	MaxMessageSize int64  `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"` // 64KB

	// Broker
	BrokerURL            string        `env:"BROKER_URL" envDefault:"nats://localhost:4222"`
	BrokerChannelPrefix  string        `env:"BROKER_CHANNEL_PREFIX" envDefault:"chat"`
	BrokerPublishTimeout time.Duration `env:"BROKER_PUBLISH_TIMEOUT" envDefault:"2s"`
	KafkaClientID        string        `env:"KAFKA_CLIENT_ID" envDefault:"chat-gateway"`

	// Auth
	JWTSecret string `env:"AUTH_JWT_SECRET,required"`
	JWTAlg    string `env:"AUTH_JWT_ALG" envDefault:"HS256"`
	JWTIssuer string `env:"AUTH_JWT_ISSUER"`

	// Liveness
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`

	// Per-connection inbound message rate
	ClientMessageRate  float64 `env:"WS_CLIENT_MSG_RATE" envDefault:"10"`
	ClientMessageBurst int     `env:"WS_CLIENT_MSG_BURST" envDefault:"50"`

	// Connection admission
	ConnRateLimitEnabled     bool    `env:"CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int     `env:"CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50.0"`

	TrustProxyHeaders bool `env:"WS_TRUST_PROXY_HEADERS" envDefault:"false"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// Load .env file (optional - OK if it doesn't exist)
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}

	// Parse environment variables into struct
	// This validates types and applies defaults
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	// Required fields (no sensible defaults)
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	// Range checks
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxMessageSize < 256 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be >= 256, got %d", c.MaxMessageSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must be > HEARTBEAT_INTERVAL (%s)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.BrokerPublishTimeout <= 0 {
		return fmt.Errorf("BROKER_PUBLISH_TIMEOUT must be > 0, got %s", c.BrokerPublishTimeout)
	}
	if c.ClientMessageRate <= 0 || c.ClientMessageBurst < 1 {
		return fmt.Errorf("WS_CLIENT_MSG_RATE and WS_CLIENT_MSG_BURST must be positive (got %.1f/%d)",
			c.ClientMessageRate, c.ClientMessageBurst)
	}

	// Broker target
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("BROKER_URL is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "nats", "tls", "redis", "rediss", "kafka", "memory":
	default:
		return fmt.Errorf("BROKER_URL scheme must be one of: nats, tls, redis, rediss, kafka, memory (got: %q)", u.Scheme)
	}

	// Enum checks
	validAlgs := map[string]bool{"HS256": true, "HS384": true, "HS512": true}
	if !validAlgs[strings.ToUpper(c.JWTAlg)] {
		return fmt.Errorf("AUTH_JWT_ALG must be one of: HS256, HS384, HS512 (got: %s)", c.JWTAlg)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// ServerConfig projects the transport-facing subset of the configuration
func (c *Config) ServerConfig() types.ServerConfig {
	return types.ServerConfig{
		Addr:           c.Addr,
		ServiceName:    c.ServiceName,
		MaxConnections: c.MaxConnections,
		MaxMessageSize: c.MaxMessageSize,

		ConnectionRateLimitEnabled: c.ConnRateLimitEnabled,
		ConnRateLimitIPBurst:       c.ConnRateLimitIPBurst,
		ConnRateLimitIPRate:        c.ConnRateLimitIPRate,
		ConnRateLimitGlobalBurst:   c.ConnRateLimitGlobalBurst,
		ConnRateLimitGlobalRate:    c.ConnRateLimitGlobalRate,
		TrustProxyHeaders:          c.TrustProxyHeaders,

		AllowedOrigins: c.AllowedOrigins,

		HTTPReadTimeout:  15 * time.Second,
		HTTPWriteTimeout: 15 * time.Second,
		HTTPIdleTimeout:  60 * time.Second,

		HeartbeatTimeout: c.HeartbeatTimeout,

		MetricsInterval: c.MetricsInterval,
	}
}

// Print logs configuration for debugging (human-readable format)
// For production, use LogConfig() with structured logging
func (c *Config) Print() {
	fmt.Println("=== Gateway Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Service:         %s\n", c.ServiceName)
	fmt.Printf("Address:         %s\n", c.Addr)
	fmt.Printf("Max Connections: %d\n", c.MaxConnections)
	fmt.Println("\n=== Broker ===")
	fmt.Printf("URL:             %s\n", redactURL(c.BrokerURL))
	fmt.Printf("Channel Prefix:  %s\n", c.BrokerChannelPrefix)
	fmt.Printf("Publish Timeout: %s\n", c.BrokerPublishTimeout)
	fmt.Println("\n=== Heartbeat ===")
	fmt.Printf("Interval:        %s\n", c.HeartbeatInterval)
	fmt.Printf("Timeout:         %s\n", c.HeartbeatTimeout)
	fmt.Println("\n=== Rate Limits ===")
	fmt.Printf("Client Msgs:     %.1f/sec (burst %d)\n", c.ClientMessageRate, c.ClientMessageBurst)
	fmt.Printf("Conn Admission:  %t\n", c.ConnRateLimitEnabled)
	fmt.Printf("Trust Proxy:     %t\n", c.TrustProxyHeaders)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("=============================")
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("service", c.ServiceName).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int64("max_message_size", c.MaxMessageSize).
		Str("broker_url", redactURL(c.BrokerURL)).
		Str("broker_channel_prefix", c.BrokerChannelPrefix).
		Dur("broker_publish_timeout", c.BrokerPublishTimeout).
		Str("jwt_alg", c.JWTAlg).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("heartbeat_timeout", c.HeartbeatTimeout).
		Float64("client_msg_rate", c.ClientMessageRate).
		Int("client_msg_burst", c.ClientMessageBurst).
		Bool("conn_rate_limit_enabled", c.ConnRateLimitEnabled).
		Bool("trust_proxy_headers", c.TrustProxyHeaders).
		Strs("allowed_origins", c.AllowedOrigins).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Gateway configuration loaded")
}

// redactURL hides credentials embedded in a broker URL
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
