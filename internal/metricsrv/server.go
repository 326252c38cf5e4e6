// Package metricsrv provides the Prometheus /metrics and /healthz HTTP
// endpoint, separate from the UDP/67 and UDP/69 listeners.
package metricsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server exposing Prometheus metrics and a liveness probe.
type Server struct {
	addr       string
	logger     *slog.Logger
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new metrics server listening on addr (e.g. ":9100").
func NewServer(addr string, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Listen binds the metrics server to its configured address. Call this
// synchronously to catch port conflicts before starting background serve.
func (s *Server) Listen() (net.Listener, error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("binding metrics server to %s: %w", s.addr, err)
	}

	s.logger.Info("metrics server listening", "address", ln.Addr().String())
	return ln, nil
}

// Serve accepts connections on the listener. Blocks until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ok uptime=%s\n", time.Since(s.startTime).Round(time.Second))
}
