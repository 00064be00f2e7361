package daemon

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
)

// HTTPServer serves /metrics and /healthz when metrics.listen_addr is set.
type HTTPServer struct {
	addr   string
	daemon *Daemon
	server *http.Server
	ln     net.Listener
}

// NewHTTPServer creates the monitoring endpoint for d on addr.
func NewHTTPServer(addr string, d *Daemon) *HTTPServer {
	return &HTTPServer{addr: addr, daemon: d}
}

// Handler returns the endpoint's routes.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(s.daemon.registry))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.daemon.PerformHealthCheck()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Warn("Failed to encode health report", logfields.Category(logfields.CatHealth), logfields.Error(err))
	}
}

// Start binds the listener and serves in the background. Binding errors are
// returned immediately.
func (s *HTTPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityWarning, "metrics listener").
			WithContext("addr", s.addr)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics endpoint failed", logfields.Category(logfields.CatError), logfields.Error(err))
		}
	}()
	slog.Info("Metrics endpoint listening",
		logfields.Category(logfields.CatDaemon),
		slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the endpoint down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics endpoint shutdown: %w", err)
	}
	return nil
}
