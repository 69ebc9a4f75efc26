package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/mailauth/internal/instrumentation"
)

const (
	DefaultOpsAddr = ":9090"

	// DefaultShutdownTimeout bounds the graceful drain once the serve
	// context is canceled.
	DefaultShutdownTimeout = 30 * time.Second

	opsReadHeaderTimeout = 10 * time.Second
	opsWriteTimeout      = 10 * time.Second
	opsIdleTimeout       = 60 * time.Second
)

// OpsServer serves Prometheus metrics and the health probes of a long
// running process. It never serves OAuth callbacks; those bind their own
// loopback listeners.
type OpsServer struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewOpsServer builds the server for addr (DefaultOpsAddr when empty).
// provider must be enabled with the prometheus exporter. A nil health
// yields a bare /healthz.
func NewOpsServer(addr string, provider *instrumentation.Provider, health *HealthChecker, logger *slog.Logger) (*OpsServer, error) {
	switch {
	case provider == nil:
		return nil, errors.New("instrumentation provider is required for the ops server")
	case !provider.Enabled():
		return nil, errors.New("instrumentation provider is not enabled")
	case provider.PrometheusHandler() == nil:
		return nil, errors.New("instrumentation provider has no prometheus exporter")
	}
	if addr == "" {
		addr = DefaultOpsAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", provider.PrometheusHandler())
	if health != nil {
		health.RegisterHealthEndpoints(mux)
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		})
	}

	return &OpsServer{
		addr:   addr,
		logger: logger.With("component", "ops-server"),
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: opsReadHeaderTimeout,
			WriteTimeout:      opsWriteTimeout,
			IdleTimeout:       opsIdleTimeout,
		},
	}, nil
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *OpsServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains open requests for at
// most DefaultShutdownTimeout. A clean drain returns nil.
func (s *OpsServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("ops server listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.srv.Serve(ln) }()

	select {
	case err := <-served:
		return fmt.Errorf("ops server stopped: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	s.logger.Info("ops server shutting down")
	if err := s.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the routes for in-process tests.
func (s *OpsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *OpsServer) Addr() string {
	return s.addr
}
