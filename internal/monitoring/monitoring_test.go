package monitoring

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:   types.LogLevelWarn,
		Format:  types.LogFormatJSON,
		Service: "test-gateway",
		Output:  &buf,
	})

	logger.Info().Msg("dropped by level")
	logger.Warn().Str("component", "registry").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "test-gateway" {
		t.Errorf("service = %v, want test-gateway", entry["service"])
	}
	if entry["component"] != "registry" {
		t.Errorf("component = %v, want registry", entry["component"])
	}
}

func TestRecoverPanicSwallows(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	func() {
		defer RecoverPanic(logger, "test", map[string]any{"socket_id": "abc"})
		panic("boom")
	}()

	if !strings.Contains(buf.String(), "boom") || !strings.Contains(buf.String(), "abc") {
		t.Errorf("expected panic value and fields in log, got %q", buf.String())
	}
}

func TestSystemMonitorSample(t *testing.T) {
	m := NewSystemMonitor(zerolog.Nop())
	m.sample()

	got := m.Current()
	if got.Goroutines <= 0 {
		t.Errorf("expected positive goroutine count, got %d", got.Goroutines)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected sample timestamp to be set")
	}
}

func TestHandleMetricsExposesGatewayMetrics(t *testing.T) {
	ConnectionsTotal.Inc()

	rec := httptest.NewRecorder()
	HandleMetrics(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ws_connections_total") {
		t.Error("expected ws_connections_total in exposition output")
	}
}
