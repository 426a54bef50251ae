// Command loadtest ramps authenticated chat clients against a gateway,
// joins them to a fixed set of rooms and reports delivery counters.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/auth"
)

// Config controls one run
type Config struct {
	WSURL              string
	HealthURL          string
	TargetConnections  int
	RampRate           int // connections per second
	SustainDurationSec int
	ReportIntervalSec  int
	HealthCheckSec     int
	ConnectionTimeout  time.Duration
	Rooms              []string
	MessageInterval    time.Duration // 0 disables sending
	JWTSecret          string
	JWTAlg             string
}

// State aggregates counters across all clients
type State struct {
	activeConnections int64
	totalCreated      int64
	failedConnections int64
	connectionErrors  sync.Map // error text → *int64

	authenticated    int64
	roomsJoined      int64
	messagesSent     int64
	messagesAccepted int64
	framesReceived   int64
	errorFrames      int64

	lastHealth *HealthResponse

	startTime        time.Time
	sustainStartTime time.Time
	phase            atomic.Value // "ramping", "sustaining", "completed"

	mu sync.RWMutex
}

// HealthResponse mirrors the gateway's /health body
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
}

type serverFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client is one simulated user with a single socket
type Client struct {
	id      int
	userID  string
	room    string
	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	closeOnce sync.Once
}

var (
	state  *State
	config *Config
	tokens *auth.JWTManager
)

func main() {
	config = parseFlags()

	var err error
	tokens, err = auth.NewJWTManager(config.JWTSecret, config.JWTAlg, "")
	if err != nil {
		log.Fatalf("Invalid token settings: %v", err)
	}

	state = &State{startTime: time.Now()}
	state.phase.Store("ramping")

	log.Printf("%s", strings.Repeat("=", 80))
	log.Printf("CHAT GATEWAY LOAD TEST")
	log.Printf("%s", strings.Repeat("=", 80))
	log.Printf("   Target:       %d connections", config.TargetConnections)
	log.Printf("   Ramp Rate:    %d conn/sec", config.RampRate)
	log.Printf("   Sustain:      %ds", config.SustainDurationSec)
	log.Printf("   Rooms:        %d", len(config.Rooms))
	log.Printf("   Msg Interval: %s", config.MessageInterval)
	log.Printf("   Server:       %s", config.WSURL)

	if err := checkServerHealth(); err != nil {
		log.Fatalf("Server health check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Received shutdown signal, stopping...")
		cancel()
	}()

	go periodicHealthChecks(ctx)
	go periodicReports(ctx)

	if err := rampUp(ctx); err != nil {
		log.Printf("Ramp-up stopped: %v", err)
	}

	if state.phase.Load() == "sustaining" {
		select {
		case <-time.After(time.Duration(config.SustainDurationSec) * time.Second):
		case <-ctx.Done():
			log.Printf("Sustain phase interrupted")
		}
	}
	state.phase.Store("completed")
	cancel()

	printReport()
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.WSURL, "url", getEnv("WS_URL", "ws://localhost:3002/ws"), "WebSocket server URL")
	flag.StringVar(&cfg.HealthURL, "health", getEnv("HEALTH_URL", "http://localhost:3002/health"), "Health check URL")
	flag.IntVar(&cfg.TargetConnections, "connections", getEnvInt("TARGET_CONNECTIONS", 1000), "Target number of connections")
	flag.IntVar(&cfg.RampRate, "ramp-rate", getEnvInt("RAMP_RATE", 100), "Connections per second during ramp-up")
	flag.IntVar(&cfg.SustainDurationSec, "duration", getEnvInt("DURATION", 300), "Sustain duration in seconds")
	flag.IntVar(&cfg.ReportIntervalSec, "report-interval", 10, "Report interval in seconds")
	flag.IntVar(&cfg.HealthCheckSec, "health-interval", 5, "Health check interval in seconds")
	flag.DurationVar(&cfg.ConnectionTimeout, "connection-timeout", 10*time.Second, "Handshake timeout")
	flag.DurationVar(&cfg.MessageInterval, "message-interval", 5*time.Second, "Interval between chat messages per client (0 disables)")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", getEnv("AUTH_JWT_SECRET", ""), "Secret used to mint client tokens")
	flag.StringVar(&cfg.JWTAlg, "jwt-alg", getEnv("AUTH_JWT_ALG", "HS256"), "Token signing algorithm")
	roomCount := flag.Int("rooms", getEnvInt("ROOMS", 10), "Number of rooms to spread clients over")

	flag.Parse()

	if cfg.JWTSecret == "" {
		log.Fatalf("AUTH_JWT_SECRET or -jwt-secret is required")
	}
	for i := 0; i < max(*roomCount, 1); i++ {
		cfg.Rooms = append(cfg.Rooms, uuid.NewString())
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func rampUp(ctx context.Context) error {
	batchSize := max(config.RampRate/10, 1) // 10 batches per second
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	nextID := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt64(&state.totalCreated) >= int64(config.TargetConnections) {
				state.sustainStartTime = time.Now()
				state.phase.Store("sustaining")
				log.Printf("Ramp-up complete: %d active", atomic.LoadInt64(&state.activeConnections))
				return nil
			}

			var wg sync.WaitGroup
			for i := 0; i < batchSize && atomic.LoadInt64(&state.totalCreated) < int64(config.TargetConnections); i++ {
				id := nextID
				nextID++
				atomic.AddInt64(&state.totalCreated, 1)

				wg.Add(1)
				go func() {
					defer wg.Done()
					c := newClient(ctx, id)
					if err := c.connect(); err != nil {
						atomic.AddInt64(&state.failedConnections, 1)
						val, _ := state.connectionErrors.LoadOrStore(err.Error(), new(int64))
						atomic.AddInt64(val.(*int64), 1)
					}
				}()
			}
			wg.Wait()
		}
	}
}

func newClient(ctx context.Context, id int) *Client {
	cctx, cancel := context.WithCancel(ctx)
	return &Client{
		id:     id,
		userID: fmt.Sprintf("loadtest-%d", id),
		room:   config.Rooms[id%len(config.Rooms)],
		ctx:    cctx,
		cancel: cancel,
	}
}

func (c *Client) connect() error {
	token, err := tokens.Generate(c.userID, c.userID, time.Hour)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: config.ConnectionTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   config.ConnectionTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	u, err := url.Parse(config.WSURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := dialer.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	c.ws = ws
	atomic.AddInt64(&state.activeConnections, 1)

	// the gateway pings every interval; gorilla answers automatically while reading
	const readTimeout = 90 * time.Second
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go c.readPump(readTimeout)
	go c.writePump()
	return nil
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Client) readPump(readTimeout time.Duration) {
	defer c.close()

	for {
		var fr serverFrame
		if err := c.ws.ReadJSON(&fr); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		atomic.AddInt64(&state.framesReceived, 1)

		switch fr.Type {
		case "authenticated":
			atomic.AddInt64(&state.authenticated, 1)
			err := c.send(map[string]any{
				"type":    "room:join",
				"payload": map[string]string{"roomId": c.room},
			})
			if err != nil {
				return
			}
		case "room:joined":
			atomic.AddInt64(&state.roomsJoined, 1)
		case "message:accepted":
			atomic.AddInt64(&state.messagesAccepted, 1)
		case "error":
			atomic.AddInt64(&state.errorFrames, 1)
		}
	}
}

func (c *Client) writePump() {
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	var messages <-chan time.Time
	if config.MessageInterval > 0 {
		t := time.NewTicker(config.MessageInterval)
		defer t.Stop()
		messages = t.C
	}

	seq := 0
	for {
		select {
		case <-c.ctx.Done():
			return

		case <-heartbeat.C:
			if err := c.send(map[string]any{"type": "heartbeat"}); err != nil {
				c.close()
				return
			}

		case <-messages:
			seq++
			err := c.send(map[string]any{
				"type": "message:new",
				"payload": map[string]string{
					"roomId":          c.room,
					"content":         fmt.Sprintf("load message %d from %s", seq, c.userID),
					"clientMessageId": strconv.Itoa(seq),
				},
			})
			if err != nil {
				c.close()
				return
			}
			atomic.AddInt64(&state.messagesSent, 1)
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		atomic.AddInt64(&state.activeConnections, -1)
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.cancel()
	})
}

func checkServerHealth() error {
	resp, err := http.Get(config.HealthURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return err
	}

	state.mu.Lock()
	state.lastHealth = &health
	state.mu.Unlock()

	if health.Status != "ok" {
		log.Printf("Server reports status %q, continuing", health.Status)
	}
	return nil
}

func periodicHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.HealthCheckSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := checkServerHealth(); err != nil {
				log.Printf("Health check failed: %v", err)
			}
		}
	}
}

func periodicReports(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.ReportIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printReport()
		}
	}
}

func printReport() {
	elapsed := int(time.Since(state.startTime).Seconds())

	state.mu.RLock()
	health := state.lastHealth
	state.mu.RUnlock()

	created := atomic.LoadInt64(&state.totalCreated)
	failed := atomic.LoadInt64(&state.failedConnections)
	successRate := 100.0
	if created > 0 {
		successRate = float64(created-failed) / float64(created) * 100
	}
	received := atomic.LoadInt64(&state.framesReceived)

	log.Printf("%s", strings.Repeat("=", 80))
	log.Printf("LOAD TEST - Elapsed: %ds - Phase: %s", elapsed, strings.ToUpper(state.phase.Load().(string)))
	log.Printf("Connections:")
	log.Printf("   Active:        %d / %d target", atomic.LoadInt64(&state.activeConnections), config.TargetConnections)
	log.Printf("   Created:       %d", created)
	log.Printf("   Failed:        %d", failed)
	log.Printf("   Success Rate:  %.1f%%", successRate)
	log.Printf("   Authenticated: %d", atomic.LoadInt64(&state.authenticated))
	log.Printf("   Rooms Joined:  %d", atomic.LoadInt64(&state.roomsJoined))
	log.Printf("Frames:")
	log.Printf("   Received:      %s (%.2f/sec)", formatNumber(received), float64(received)/float64(max(elapsed, 1)))
	log.Printf("   Msgs Sent:     %s", formatNumber(atomic.LoadInt64(&state.messagesSent)))
	log.Printf("   Msgs Accepted: %s", formatNumber(atomic.LoadInt64(&state.messagesAccepted)))
	log.Printf("   Error Frames:  %d", atomic.LoadInt64(&state.errorFrames))

	if health != nil {
		log.Printf("Server: %s (%s)", health.Status, health.Service)
	} else {
		log.Printf("Server: no health data")
	}

	state.connectionErrors.Range(func(key, value any) bool {
		log.Printf("   error %q: %d", key, atomic.LoadInt64(value.(*int64)))
		return true
	})
	log.Printf("%s", strings.Repeat("=", 80))
}

func formatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	if n < 1000 {
		return str
	}
	var out []byte
	for i := 0; i < len(str); i++ {
		if i > 0 && (len(str)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, str[i])
	}
	return string(out)
}
