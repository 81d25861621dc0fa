// Package ops serves the operator surface: Prometheus metrics, JSON
// status, the websocket status stream the dashboard consumes, and the
// manual breaker reset.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OscarNeto021/ROBO/internal/breaker"
	"github.com/OscarNeto021/ROBO/internal/limiter"
	"github.com/OscarNeto021/ROBO/internal/storage"
)

// StatusSnapshot is the payload of /status and each /ws push.
type StatusSnapshot struct {
	Breaker breaker.Status   `json:"breaker"`
	Limits  []limiter.Status `json:"limits"`
	TsUnixM int64            `json:"ts_unix_m"`
}

// Server is the ops HTTP server.
type Server struct {
	breaker      *breaker.Breaker
	limiter      *limiter.Controller
	journal      *storage.Journal
	pushInterval time.Duration

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wires the handlers. journal may be nil, which disables
// the /attempts view.
func NewServer(addr string, b *breaker.Breaker, lim *limiter.Controller, journal *storage.Journal, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = time.Second
	}
	s := &Server{
		breaker:      b,
		limiter:      lim,
		journal:      journal,
		pushInterval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/attempts", s.handleAttempts)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/breaker/reset", s.handleReset)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocking; run it in a goroutine.
func (s *Server) Start() error {
	slog.Info("Ops server listening", slog.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() StatusSnapshot {
	return StatusSnapshot{
		Breaker: s.breaker.Status(),
		Limits:  s.limiter.Statuses(),
		TsUnixM: time.Now().UnixMicro(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		slog.Warn("Status encode failed", slog.Any("error", err))
	}
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	attempts, err := s.journal.RecentAttempts(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(attempts); err != nil {
		slog.Warn("Attempts encode failed", slog.Any("error", err))
	}
}

// handleReset is the operator escape hatch: POST forces the breaker
// Closed without waiting out the cooldown.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	s.breaker.ManualReset()
	s.handleStatus(w, r)
}

// handleWS upgrades and pushes status snapshots on the configured
// interval until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	// Drain control frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	// First frame immediately, then on the interval.
	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
