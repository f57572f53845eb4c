// Package ws implements the live monitor stream over WebSocket. Clients
// connect, pick a metric type, and receive JSON text frames on a fixed
// interval until they disconnect.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/fundi/internal/ops/monitor"
)

// Frame is one sample pushed to the client.
type Frame struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
}

// Server streams monitor snapshots to WebSocket clients.
type Server struct {
	monitor  *monitor.Service
	apiKeys  []string
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a monitor stream server. interval bounds how often a
// sample is pushed; zero falls back to 2s.
func NewServer(m *monitor.Service, apiKeys []string, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		monitor:  m,
		apiKeys:  apiKeys,
		interval: interval,
		logger:   logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Same x-api-key scheme as the HTTP endpoints; browsers cannot set
	// custom headers on WebSocket dials, so a query parameter works too.
	if len(s.apiKeys) > 0 {
		key := r.URL.Query().Get("x-api-key")
		if key == "" {
			key = r.Header.Get("x-api-key")
		}
		if !s.keyAccepted(key) {
			http.Error(w, "Invalid API key", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"fundi-monitor-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	metricType := strings.ToLower(r.URL.Query().Get("type"))
	if metricType == "" {
		metricType = "performance"
	}

	s.stream(r.Context(), conn, metricType)
}

func (s *Server) keyAccepted(key string) bool {
	accepted := false
	for _, k := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			accepted = true
		}
	}
	return accepted
}

// stream pushes one frame per interval until the client goes away.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, metricType string) {
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.logger.Info("monitor stream opened", slog.String("type", metricType))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn, metricType); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("monitor stream closed by client")
			} else {
				s.logger.Debug("monitor stream ended", slog.String("error", err.Error()))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, metricType string) error {
	snapshot, err := s.monitor.Snapshot(ctx)
	if err != nil {
		return err
	}

	data := snapshot
	if metricType != "performance" {
		// Narrow the frame to the requested metric when one was named.
		if v, ok := snapshot[metricType+"_percent"]; ok {
			data = map[string]any{metricType + "_percent": v}
		}
	}

	frame := Frame{
		Timestamp: time.Now().UTC(),
		Type:      metricType,
		Data:      data,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
