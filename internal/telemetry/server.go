package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/notify"
)

// Server exposes health probes, a metrics snapshot, and a live speaker feed
// over websocket.
type Server struct {
	metrics  *Metrics
	notifier *notify.Notifier
	ready    atomic.Bool
	srv      *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds the telemetry server on addr. It starts not-ready; call
// SetReady once the voice connection is up.
func NewServer(addr string, metrics *Metrics, notifier *notify.Notifier) *Server {
	s := &Server{
		metrics:  metrics,
		notifier: notifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", s.handleLivez)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws/speaker", s.handleSpeakerWS)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetReady flips the /readyz probe.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Start runs the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		logging.Infow("telemetry: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorw("telemetry: server error", "err", err)
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLivez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics.Snapshot())
}

type speakerEvent struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	At      string `json:"at"`
}

// handleSpeakerWS streams the latest speaker activity. The subscription
// coalesces, so a slow client only ever sees the newest line.
func (s *Server) handleSpeakerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debugw("telemetry: ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.notifier.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case a := <-updates:
			ev := speakerEvent{Speaker: a.Speaker, Text: a.Text, At: a.At.UTC().Format(time.RFC3339)}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
