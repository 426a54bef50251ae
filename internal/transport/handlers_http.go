package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := http.StatusOK
	body := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
		Service:   s.config.ServiceName,
	}
	if s.shuttingDown.Load() {
		status = http.StatusServiceUnavailable
		body.Status = "shutting_down"
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

type statsResponse struct {
	Service       string                    `json:"service"`
	UptimeSeconds int64                     `json:"uptimeSeconds"`
	Registry      types.Stats               `json:"registry"`
	System        *monitoring.SystemMetrics `json:"system,omitempty"`
	MaxConns      int                       `json:"maxConnections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := statsResponse{
		Service:       s.config.ServiceName,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Registry:      s.registry.Stats(),
		MaxConns:      s.config.MaxConnections,
	}
	if s.system != nil {
		sys := s.system.Current()
		resp.System = &sys
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write stats response")
	}
}
