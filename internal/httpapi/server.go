// Package httpapi exposes the gateway's single websocket control channel
// (§6) plus health/metrics endpoints, on top of chi and gorilla/websocket.
// Shape (upgrade, inbound/outbound channel pump, heartbeat via read
// deadline + pong handler, graceful teardown) grounded on
// `_examples/ent0n29-samantha/internal/httpapi/server.go`'s
// handleSessionWS, rewired to drive `internal/supervisor.Supervisor`
// instead of the teacher's Orchestrator/session-id-query-param model —
// this gateway's session binding happens inside the wire protocol itself
// (the client's first `reconnect` message), not via a pre-created REST
// session id.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/config"
	"github.com/turnframe/gateway/internal/observability"
	"github.com/turnframe/gateway/internal/protocol"
	"github.com/turnframe/gateway/internal/supervisor"
)

// Server wires the control-channel websocket endpoint and the process's
// health/metrics surface onto a chi router.
type Server struct {
	cfg      config.Config
	sup      *supervisor.Supervisor
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sup *supervisor.Supervisor, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		sup:     sup,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another site can't drive a user's
				// microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/voice/perf/latency", s.handlePerfLatency)
	r.Post("/v1/voice/perf/latency/reset", s.handlePerfLatencyReset)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handlePerfLatency reports the rolling per-stage turn latency window
// (every stage recorded through Metrics.ObserveTurnStage; the supervisor
// records "turn_total") alongside the prometheus histograms, for
// dashboards that want a quick snapshot without scraping /metrics.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
			"indicators":   []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

func (s *Server) handlePerfLatencyReset(w http.ResponseWriter, _ *http.Request) {
	if s.metrics != nil {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleSessionWS upgrades the connection and drives one
// supervisor.RunConnection call end to end: a reader goroutine parses
// wire messages into the inbound channel, a writer goroutine serializes
// outbound messages back onto the socket, and RunConnection itself runs
// on a third goroutine until any of the three signal it's done.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.sup.RunConnection(ctx, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
					cancel()
					return
				}
				if t, ok := protocol.MessageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorMessage{Type: protocol.TypeError, Code: string(apperrors.CodeInvalidMessage), Message: err.Error()}:
			default:
				// Keep websocket writes single-threaded; drop if the outbound
				// queue is saturated.
			}
			continue
		}

		if t, ok := protocol.MessageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
