// Package api serves the hearing search HTTP interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/logger"
	"github.com/fabfab/hearings-ai/search"
	"github.com/fabfab/hearings-ai/understanding"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	defaultMaxUploadBytes    = 50 << 20
	defaultIngestConcurrency = 2
)

// Ingestor runs the ingestion pipeline for one uploaded document.
type Ingestor interface {
	IngestDocument(ctx context.Context, req ingestion.Request) (ingestion.Report, error)
}

// PendingRecorder stores the pending record of an accepted upload.
type PendingRecorder interface {
	Put(ctx context.Context, meta document.Metadata) error
}

type Deps struct {
	Search        *search.Orchestrator
	Understanding *understanding.Service
	Ingestor      Ingestor
	Pending       PendingRecorder
	Policy        *access.Policy
	Auth          *Authenticator
	Logger        *logger.Logger
}

type Options struct {
	MaxUploadBytes    int64
	IngestConcurrency int
}

// Server exposes the search, evidence, understanding, ingestion and
// proceeding endpoints.
type Server struct {
	search        *search.Orchestrator
	understanding *understanding.Service
	ingestor      Ingestor
	pending       PendingRecorder
	policy        *access.Policy
	auth          *Authenticator
	logger        *logger.Logger
	opts          Options

	ingestSlots *semaphore.Weighted
	ingestJobs  sync.WaitGroup
	handler     http.Handler
}

func New(deps Deps, opts Options) (*Server, error) {
	if deps.Search == nil {
		return nil, fmt.Errorf("search orchestrator not configured")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("access policy not configured")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator not configured")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = defaultIngestConcurrency
	}

	s := &Server{
		search:        deps.Search,
		understanding: deps.Understanding,
		ingestor:      deps.Ingestor,
		pending:       deps.Pending,
		policy:        deps.Policy,
		auth:          deps.Auth,
		logger:        deps.Logger.With("component", "api"),
		opts:          opts,
		ingestSlots:   semaphore.NewWeighted(int64(opts.IngestConcurrency)),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := gin.New()
	r.Use(s.correlationID(), s.requestLog(), s.recovery())
	r.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	r.GET("/health", s.handleHealth)

	authed := r.Group("/api", s.authenticate())
	authed.POST("/search", s.handleSearch)
	authed.POST("/evidence/retrieve", s.handleEvidence)
	authed.POST("/documents/understand", s.handleUnderstand)
	authed.POST("/documents/ingest", s.handleIngest)
	authed.GET("/documents/:id", s.handleDocument)
	authed.GET("/proceedings/:id", s.handleProceeding)
	return r
}

// Run serves until ctx is cancelled, then drains HTTP requests and waits for
// accepted uploads to finish within the shutdown timeout.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := s.WaitForIngestion(shutdownCtx); err != nil {
		s.logger.Warn("uploads still running at shutdown", "error", err)
	}
	return nil
}

// WaitForIngestion blocks until accepted uploads finish or ctx is done.
func (s *Server) WaitForIngestion(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.ingestJobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
