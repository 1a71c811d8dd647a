// Package web serves the JSON API and metrics endpoint.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps an HTTP server with graceful shutdown capabilities
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
}

// NewServer creates a new Server instance.
func NewServer(host string, port int, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handler.Index)
	mux.HandleFunc("/api/entries", handler.Entries)
	mux.HandleFunc("/api/fields", handler.Fields)
	mux.HandleFunc("/api/refresh", handler.Refresh)
	mux.HandleFunc("/api/usage", handler.Usage)
	mux.HandleFunc("/api/usage-snapshots", handler.UsageSnapshots)
	mux.HandleFunc("/api/sessions", handler.Sessions)
	mux.HandleFunc("/api/stats", handler.Stats)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", host, port)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		addr:   addr,
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("web server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("web server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
