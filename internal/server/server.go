// Package server provides the HTTP API for civicmatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/civicmatch/internal/config"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/service"
	"github.com/hyperjump/civicmatch/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Backend answers grievance queries and manages the corpus snapshot.
type Backend interface {
	RunInference(ctx context.Context, query string) (*models.InferenceResult, error)
	Reload(ctx context.Context) (*service.Snapshot, bool, error)
	Status() service.Status
}

// Server is the HTTP server for the civicmatch API.
type Server struct {
	backend Backend
	history storage.HistoryStore
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. history may be nil, which disables
// the audit trail and the history and ticket endpoints.
func NewServer(
	backend Backend,
	history storage.HistoryStore,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend: backend,
		history: history,
		config:  cfg,
		logger:  logger,
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/history/{user_id}", s.handleHistory)
		r.Get("/tickets/{ticket_id}", s.handleGetTicket)
		r.Get("/status", s.handleStatus)
		r.Post("/index/reload", s.handleReload)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
