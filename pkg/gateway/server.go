// Package gateway serves the HTTP surface of a running nanobot: health,
// status and the websocket channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lsynpy/nanobot/pkg/agent"
	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/channels"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/cron"
	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// Deps are the running components the gateway reports on. Nil fields are
// left out of /status.
type Deps struct {
	Bus       *bus.MessageBus
	Agent     *agent.AgentLoop
	Channels  *channels.Manager
	Cron      *cron.Service
	Tracker   *metrics.Tracker
	WebSocket *channels.WebSocketChannel
}

type Server struct {
	cfg     config.GatewayConfig
	wsPath  string
	deps    Deps
	started time.Time
	router  chi.Router
	srv     *http.Server
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg.Gateway,
		wsPath:  cfg.Channels.WebSocket.Path,
		deps:    deps,
		started: time.Now(),
	}
	if s.wsPath == "" {
		s.wsPath = "/ws"
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/status", s.handleStatus)
	if deps.Cron != nil {
		r.Get("/cron", s.handleCron)
	}
	if deps.WebSocket != nil {
		r.Get(s.wsPath, deps.WebSocket.ServeHTTP)
	}

	s.router = r
	s.srv = &http.Server{
		Addr:        s.cfg.Addr(),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	logger.InfoCF("gateway", "Gateway listening", map[string]interface{}{"addr": ln.Addr().String()})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.ErrorCF("gateway", "Gateway forced to shutdown", map[string]interface{}{"error": err.Error()})
		return err
	}
	logger.InfoC("gateway", "Gateway stopped")
	return nil
}

func (s *Server) status() map[string]interface{} {
	out := map[string]interface{}{
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if b := s.deps.Bus; b != nil {
		out["bus"] = map[string]int{
			"inbound":  b.InboundSize(),
			"outbound": b.OutboundSize(),
		}
	}
	if a := s.deps.Agent; a != nil {
		out["agent"] = map[string]interface{}{
			"model":    a.Model(),
			"running":  a.IsRunning(),
			"sessions": a.Memory().Sessions(),
			"tools":    a.Tools().List(),
		}
	}
	if c := s.deps.Channels; c != nil {
		out["channels"] = c.GetStatus()
	}
	if s.deps.Tracker != nil {
		out["usage"] = s.deps.Tracker.Totals()
	}
	if s.deps.WebSocket != nil {
		out["websocket_clients"] = s.deps.WebSocket.Clients()
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCron(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.deps.Cron.Status()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("gateway", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
