package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the chat gateway
// These metrics can be scraped by Prometheus and visualized in Grafana
var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of registered WebSocket connections",
	})

	ConnectionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_failed_total",
		Help: "Connection attempts rejected before or during upgrade, by reason",
	}, []string{"reason"})

	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_users_online",
		Help: "Distinct authenticated users with at least one connection",
	})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_rooms_active",
		Help: "Rooms with at least one member connected to this instance",
	})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	// Protocol metrics
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_frames_received_total",
		Help: "Client frames received by event type",
	}, []string{"type"})

	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_frames_sent_total",
		Help: "Frames written to client sockets",
	})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_frames_dropped_total",
		Help: "Outbound frames dropped because the connection could not accept them",
	}, []string{"reason"})

	ErrorFramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_error_frames_total",
		Help: "Error frames sent to clients by code",
	}, []string{"code"})

	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_auth_attempts_total",
		Help: "Authentication attempts by result",
	}, []string{"result"})

	// Broker metrics
	BrokerPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broker_published_total",
		Help: "Events published to the broker by channel",
	}, []string{"channel"})

	BrokerPublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broker_publish_failures_total",
		Help: "Failed broker publishes by channel",
	}, []string{"channel"})

	BrokerEventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broker_events_received_total",
		Help: "Broker events received by channel",
	}, []string{"channel"})

	BrokerEventsInvalid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broker_events_invalid_total",
		Help: "Broker events dropped at the bridge boundary by channel and reason",
	}, []string{"channel", "reason"})

	BrokerConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_broker_connected",
		Help: "Broker connection status (1=connected, 0=disconnected)",
	})

	// Liveness
	HeartbeatSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_heartbeat_sweeps_total",
		Help: "Heartbeat sweeps performed",
	})

	HeartbeatReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_heartbeat_reaped_total",
		Help: "Connections terminated for missing a heartbeat",
	})

	// Limits
	RateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_rate_limited_messages_total",
		Help: "Client frames dropped by the per-connection rate limiter",
	})

	ConnectionRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connection_rate_limited_total",
		Help: "Connection attempts rejected by the admission limiter by scope",
	}, []string{"scope"})

	// System metrics
	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_memory_bytes",
		Help: "Resident memory of the gateway process in bytes",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_cpu_usage_percent",
		Help: "CPU usage percentage of the gateway process",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_goroutines_active",
		Help: "Current number of active goroutines",
	})

	PanicsRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_panics_recovered_total",
		Help: "Panics recovered by goroutine",
	}, []string{"goroutine"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsFailed,
		UsersOnline,
		RoomsActive,
		DisconnectsTotal,

		FramesReceived,
		FramesSent,
		FramesDropped,
		ErrorFramesSent,
		AuthAttempts,

		BrokerPublished,
		BrokerPublishFailures,
		BrokerEventsReceived,
		BrokerEventsInvalid,
		BrokerConnected,

		HeartbeatSweeps,
		HeartbeatReaped,

		RateLimitedMessages,
		ConnectionRateLimited,

		MemoryUsageBytes,
		CPUUsagePercent,
		GoroutinesActive,
		PanicsRecovered,
	)
}

// Disconnect reasons
const (
	DisconnectReasonClientClosed   = "client_closed"
	DisconnectReasonReadError      = "read_error"
	DisconnectReasonWriteError     = "write_error"
	DisconnectReasonHeartbeat      = "heartbeat_timeout"
	DisconnectReasonServerShutdown = "server_shutdown"
)

// Frame drop reasons
const (
	DropReasonBufferFull = "buffer_full"
	DropReasonClosed     = "connection_closed"
)

// HandleMetrics serves the Prometheus exposition format
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// UpdateRegistryGauges mirrors registry counts into gauges
func UpdateRegistryGauges(connections, users, rooms int) {
	ConnectionsActive.Set(float64(connections))
	UsersOnline.Set(float64(users))
	RoomsActive.Set(float64(rooms))
}
