// Package server provides the HTTP API for storyhook.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/config"
	"github.com/hyperjump/storyhook/internal/importer"
	"github.com/hyperjump/storyhook/internal/keyword"
	"github.com/hyperjump/storyhook/internal/storage"
)

// Importer runs document imports. *importer.Pipeline implements it.
type Importer interface {
	FindExistingDraft(ctx context.Context, projectID, documentID string) (int64, error)
	Create(ctx context.Context, req importer.Request) (*importer.Outcome, error)
	Update(ctx context.Context, req importer.Request, recordID int64) (*importer.Outcome, error)
}

// SessionFactory returns a document fetcher authenticated with token.
type SessionFactory func(token string) importer.DocumentFetcher

// SearchIndex is the keyword index used by the records search endpoint.
type SearchIndex interface {
	Search(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]*keyword.Result, error)
	DocCount() (uint64, error)
}

// Metrics records webhook traffic and serves the metrics endpoint.
type Metrics interface {
	ObserveWebhook(status int, d time.Duration)
	Handler() http.Handler
}

// Server is the HTTP server for the storyhook API.
type Server struct {
	pipeline Importer
	storage  storage.Storage
	tokens   storage.TokenStore
	sessions SessionFactory
	config   *config.Config
	live     *config.Live
	index    SearchIndex // optional
	metrics  Metrics     // optional
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSearchIndex enables GET /api/v1/records/search.
func WithSearchIndex(idx SearchIndex) Option {
	return func(s *Server) { s.index = idx }
}

// WithMetrics enables webhook metrics and GET /metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies. live supplies the CORS
// allow-list; when nil it is built from cfg.
func NewServer(
	pipeline Importer,
	store storage.Storage,
	tokens storage.TokenStore,
	sessions SessionFactory,
	cfg *config.Config,
	live *config.Live,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if live == nil {
		live = config.NewLive(cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline: pipeline,
		storage:  store,
		tokens:   tokens,
		sessions: sessions,
		config:   cfg,
		live:     live,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.cors)
			r.Use(s.observeWebhook)
			r.Post("/webhook", s.handleWebhook)
			r.Options("/webhook", s.handlePreflight)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Get("/records", s.handleListRecords)
			r.Get("/records/search", s.handleSearchRecords)
			r.Get("/records/{id}", s.handleGetRecord)
			r.Post("/records/{id}/publish", s.handlePublishRecord)
			r.Get("/status", s.handleStatus)
		})
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if prefix := strings.TrimRight(s.config.Media.BaseURL, "/"); strings.HasPrefix(prefix, "/") && s.config.Media.Directory != "" {
		r.Get(prefix+"/*", s.mediaHandler(prefix))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
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
