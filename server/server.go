// Package server exposes the query engine and registry over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hupe1980/annserve"
)

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger. Pass annserve.NoopLogger() to disable logging.
func WithLogger(logger *annserve.Logger) Option {
	return func(s *Server) {
		if logger == nil {
			logger = annserve.NoopLogger()
		}
		s.logger = logger
	}
}

// WithScratchDir sets the directory listed by GET /tmp. Defaults to the
// loader's extraction scratch dir.
func WithScratchDir(dir string) Option {
	return func(s *Server) {
		s.scratchDir = dir
	}
}

// WithRequestTimeout bounds request handling time. Defaults to 60s.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithMaxSleepSeconds caps the GET /sleep utility endpoint. Defaults to 60.
func WithMaxSleepSeconds(n int) Option {
	return func(s *Server) {
		s.maxSleep = n
	}
}

// Server is the HTTP front of a registry and its query engine.
type Server struct {
	registry   *annserve.Registry
	engine     *annserve.Engine
	logger     *annserve.Logger
	scratchDir string
	timeout    time.Duration
	maxSleep   int
	server     *http.Server
}

// New creates a server on top of registry and engine.
func New(registry *annserve.Registry, engine *annserve.Engine, optFns ...Option) *Server {
	s := &Server{
		registry:   registry,
		engine:     engine,
		logger:     annserve.NewLogger(nil),
		scratchDir: "/tmp/ann",
		timeout:    60 * time.Second,
		maxSleep:   60,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Handler builds the routed http.Handler. Useful for embedding the API under
// an existing mux or for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/", s.handleList)
	r.Get("/ann/{indexName}", s.handleSummary)
	r.Post("/ann/{indexName}/query", s.handleQuery)
	r.Post("/ann/{indexName}/refresh", s.handleRefresh)
	r.Get("/crossq", s.handleCrossQuery)
	r.Get("/tmp", s.handleScratchListing)
	r.Get("/sleep", s.handleSleep)

	return r
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
