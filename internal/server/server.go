// Package server implements the HTTP API of the descriptor matching service:
// matcher lifecycle, asynchronous index builds, batched nearest neighbour
// search, snapshots, health and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the matcher registry, the task manager and the HTTP routes.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	tasks    *TaskManager

	httpServer *http.Server
}

// New builds a server from its configuration.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(),
		tasks:    NewTaskManager(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// routes assembles the mux and the middleware chain. Order matters: recovery
// wraps everything, logging sees the final status, auth runs innermost so
// rejected requests are still logged.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /matchers", s.handleCreateMatcher)
	mux.HandleFunc("GET /matchers", s.handleListMatchers)
	mux.HandleFunc("GET /matchers/{name}", s.handleGetMatcher)
	mux.HandleFunc("DELETE /matchers/{name}", s.handleDeleteMatcher)
	mux.HandleFunc("POST /matchers/{name}/build", s.handleBuild)
	mux.HandleFunc("POST /matchers/{name}/search", s.handleSearch)
	mux.HandleFunc("POST /matchers/{name}/snapshot", s.handleSaveSnapshot)
	mux.HandleFunc("POST /snapshots/load", s.handleLoadSnapshot)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving the API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.cfg.Addr())
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
