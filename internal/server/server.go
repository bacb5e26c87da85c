// Package server provides the HTTP API for damgrep.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/config"
	"github.com/hyperjump/damgrep/internal/metrics"
	"github.com/hyperjump/damgrep/internal/models"
)

// Searcher runs one full-text search request.
type Searcher interface {
	Search(ctx context.Context, raw []string) *models.SearchResponse
}

// Counter reports the number of entries in a catalog or index.
type Counter interface {
	CountAssets(ctx context.Context) (int64, error)
}

// Server is the HTTP server for the damgrep API.
type Server struct {
	searcher Searcher
	catalog  Counter
	config   *config.Config
	version  string
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog reports the catalog's asset count on the status endpoint.
func WithCatalog(c Counter) Option {
	return func(s *Server) { s.catalog = c }
}

// WithVersion sets the version reported on the status endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with the given dependencies.
func NewServer(searcher Searcher, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		searcher: searcher,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if sec := s.config.Server.RequestTimeoutSec; sec > 0 {
		r.Use(middleware.Timeout(time.Duration(sec) * time.Second))
	}
	r.Use(metrics.Middleware())
	r.Use(middleware.Compress(5))

	r.Get(s.config.Server.SearchPath, s.handleSearchHTML)
	r.Get("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server",
		zap.String("addr", addr),
		zap.String("search_path", s.config.Server.SearchPath))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
