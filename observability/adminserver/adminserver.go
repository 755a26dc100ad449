// Package adminserver exposes the operator-local /healthz and
// /metrics surface each daemon serves (SPEC_FULL.md §4.17).
package adminserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is a small chi-routed HTTP server with no authentication,
// meant to be reachable only from the operator's own network.
type Server struct {
	addr   string
	logger *slog.Logger
	http   *http.Server
}

// New builds the admin server's router: /healthz for liveness probes
// and /metrics for Prometheus scraping.
func New(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		addr:   addr,
		logger: logger,
		http:   &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the server and blocks until ctx is cancelled, then
// shuts down gracefully with a 5s timeout.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.logger.Info("adminserver: listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminserver: listen and serve: %w", err)
	}
	return nil
}
