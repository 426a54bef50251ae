package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/auth"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/bridge"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/broker"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/protocol"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

const testRoom = "33333333-3333-4333-8333-333333333333"

type harness struct {
	server   *Server
	http     *httptest.Server
	registry *registry.Registry
	broker   *broker.Memory
	jwt      *auth.JWTManager
}

func newHarness(t *testing.T, mutate func(*types.ServerConfig)) *harness {
	t.Helper()

	logger := zerolog.Nop()
	reg := registry.New(logger)
	mem := broker.NewMemory()
	jwt, err := auth.NewJWTManager("transport-secret", "HS256", "")
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}

	br := bridge.New(bridge.Config{Broker: mem, Sender: reg, Prefix: "chat", PublishTimeout: time.Second, Logger: logger})
	if err := br.Start(); err != nil {
		t.Fatalf("bridge: %v", err)
	}

	cfg := types.ServerConfig{
		ServiceName:      "chat-gateway-test",
		MaxConnections:   10,
		MaxMessageSize:   1024,
		HeartbeatTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(Config{
		Server:   cfg,
		Handler:  protocol.New(protocol.Config{Registry: reg, Verifier: jwt, Publisher: br, Logger: logger}),
		Registry: reg,
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
		_ = mem.Close()
	})

	return &harness{server: srv, http: ts, registry: reg, broker: mem, jwt: jwt}
}

func (h *harness) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(query), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := h.jwt.Generate(userID, "name-"+userID, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

type serverFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId"`
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil returns the first frame of the wanted type, skipping others
func readUntil(t *testing.T, conn *websocket.Conn, want string) serverFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var fr serverFrame
		if err := conn.ReadJSON(&fr); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if fr.Type == want {
			return fr
		}
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Service != "chat-gateway-test" || body.Timestamp == 0 {
		t.Errorf("health = %d %+v", resp.StatusCode, body)
	}
}

func TestUpgradeTimeTokenAuthenticates(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "token="+h.token(t, "alice"))

	fr := readUntil(t, conn, "authenticated")
	var p struct {
		UserID   string `json:"userId"`
		SocketID string `json:"socketId"`
	}
	_ = json.Unmarshal(fr.Payload, &p)
	if p.UserID != "alice" || p.SocketID == "" || fr.Timestamp == 0 {
		t.Errorf("authenticated frame = %+v payload %+v", fr, p)
	}
	if !h.registry.IsUserOnline("alice") {
		t.Error("alice should be online")
	}
}

func TestEndToEndRoomDelivery(t *testing.T) {
	h := newHarness(t, nil)

	alice := h.dial(t, "")
	sendJSON(t, alice, map[string]any{"type": "authenticate", "payload": map[string]string{"token": h.token(t, "alice")}, "requestId": "a1"})
	if fr := readUntil(t, alice, "authenticated"); fr.RequestID != "a1" {
		t.Errorf("requestId = %q", fr.RequestID)
	}

	bob := h.dial(t, "token="+h.token(t, "bob"))
	readUntil(t, bob, "authenticated")

	sendJSON(t, alice, map[string]any{"type": "room:join", "payload": map[string]string{"roomId": testRoom}, "requestId": "j1"})
	readUntil(t, alice, "room:joined")

	raw, _ := broker.EncodeEnvelope("chat.message.saved", bridge.MessageEvent{
		RoomID:  testRoom,
		Message: json.RawMessage(`{"id":"m1","content":"hello"}`),
	})
	if err := h.broker.Publish(context.Background(), "chat.message.saved", raw); err != nil {
		t.Fatalf("publish: %v", err)
	}

	fr := readUntil(t, alice, "message:saved")
	if !strings.Contains(string(fr.Payload), `"m1"`) {
		t.Errorf("payload = %s", fr.Payload)
	}

	// bob is not in the room; the next thing he sees must be his own pong
	sendJSON(t, bob, map[string]any{"type": "heartbeat", "requestId": "hb"})
	_ = bob.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var got serverFrame
		if err := bob.ReadJSON(&got); err != nil {
			t.Fatalf("bob read: %v", err)
		}
		if got.Type == "message:saved" {
			t.Fatal("bob received a message for a room he never joined")
		}
		if got.Type == "pong" {
			break
		}
	}
}

func TestClientCloseRemovesConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "token="+h.token(t, "carol"))
	readUntil(t, conn, "authenticated")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for h.registry.IsUserOnline("carol") {
		if time.Now().After(deadline) {
			t.Fatal("connection was not removed after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "")

	big := `{"type":"heartbeat","payload":{"pad":"` + strings.Repeat("x", 4096) + `"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
			t.Errorf("close error = %v, want 1009", err)
		}
		return
	}
}

func TestOriginRejected(t *testing.T) {
	h := newHarness(t, func(c *types.ServerConfig) {
		c.AllowedOrigins = []string{"https://chat.example.com"}
	})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(""), header)
	if err == nil {
		t.Fatal("dial with a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header = http.Header{"Origin": []string{"https://chat.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(""), header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = conn.Close()
}

func TestCapacityLimit(t *testing.T) {
	h := newHarness(t, func(c *types.ServerConfig) { c.MaxConnections = 1 })
	h.dial(t, "")

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(""), nil)
	if err == nil {
		t.Fatal("second connection should be refused at capacity")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "token="+h.token(t, "dave"))
	readUntil(t, conn, "authenticated")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Logf("read after shutdown: %v", err)
		}
		break
	}

	if h.registry.Stats().Connections != 0 {
		t.Errorf("registry not drained: %+v", h.registry.Stats())
	}

	resp, err := http.Get(h.http.URL + "/health")
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("health during shutdown = %d, want 503", resp.StatusCode)
		}
	}
}
