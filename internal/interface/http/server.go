// Package http exposes the benefit resolution pipeline as a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tuition-hub/benefit-resolver/internal/application/command"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/scheduler"
	"github.com/tuition-hub/benefit-resolver/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each API call, batch runs included.
	RequestTimeout time.Duration

	MaxHeaderBytes int
	MaxBodyBytes   int64

	// APIKeyHeader and APIKeys guard /api routes. No keys disables the check.
	APIKeyHeader string
	APIKeys      []string

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   5 * time.Minute,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 4 * time.Minute,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		APIKeyHeader:   "X-API-Key",
		Version:        "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

type (
	CandidateResolver interface {
		Handle(ctx context.Context, cmd command.ResolveCandidateCommand) (command.CandidateRow, error)
	}
	BatchResolver interface {
		Handle(ctx context.Context, cmd command.ResolveBatchCommand) (*command.BatchResult, error)
	}
	FamilyResolver interface {
		Handle(ctx context.Context, cmd command.ResolveFamilyCommand) (*command.FamilyResult, error)
	}
	ConflictChecker interface {
		Handle(ctx context.Context, cmd command.CheckConflictsCommand) (benefit.ConflictReport, error)
	}
	BenefitCommitter interface {
		Handle(ctx context.Context, cmd command.CommitBenefitsCommand) (*command.CommitResult, error)
	}
	CatalogSyncer interface {
		Handle(ctx context.Context, cmd command.SyncCatalogCommand) (*command.SyncCatalogResult, error)
	}
	JobLister interface {
		ListJobs() []scheduler.JobInfo
	}
)

// Dependencies contains everything the routes call into. Nil handlers
// answer 501.
type Dependencies struct {
	ResolveCandidate CandidateResolver
	ResolveBatch     BatchResolver
	ResolveFamily    FamilyResolver
	CheckConflicts   ConflictChecker
	CommitBenefits   BenefitCommitter
	SyncCatalog      CatalogSyncer

	Benefits benefit.DefinitionRepository
	Jobs     JobLister

	HealthChecker *handlers.HealthChecker
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and
// dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewHealthChecker(config.Version)
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.With("component", "http"),
	}
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		handlers.RequestLogger(s.logger),
		s.recoverer,
		handlers.SecurityHeadersMiddleware,
	)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
	maxBody := s.config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware, handlers.RequestSizeLimitMiddleware(maxBody))
		if s.config.RequestTimeout > 0 {
			r.Use(chimw.Timeout(s.config.RequestTimeout))
		}

		r.Post("/candidates/resolve", s.handleResolveCandidate)
		r.Post("/candidates/resolve-batch", s.handleResolveBatch)
		r.Post("/families/resolve", s.handleResolveFamily)
		r.Post("/conflicts/check", s.handleCheckConflicts)
		r.Post("/benefits/commit", s.handleCommitBenefits)
		r.Get("/benefits", s.handleListBenefits)
		r.Post("/catalog/sync", s.handleSyncCatalog)
		r.Get("/jobs", s.handleListJobs)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	return r
}

// recoverer logs panics with the request id and answers 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"request_id", chimw.GetReqID(r.Context()),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Address())

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel yields a startup
// or serve error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every successful response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
			Version:   "v1",
			RequestID: chimw.GetReqID(r.Context()),
		},
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorWithDetails(w, r, status, code, message, "")
}

func writeJSONErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(handlers.ErrorBody{
		Error: handlers.ErrorInfo{Code: code, Message: message, Details: details},
		Meta: &handlers.ErrorMeta{
			RequestID: chimw.GetReqID(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeDomainError maps err to a status code and writes it. Server-side
// failures are logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		message = "Internal error"
	}
	writeJSONErrorWithDetails(w, r, status, code, message, detailsOf(err, status))
}

// classify maps error kinds to HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case shared.IsValidation(err), errors.Is(err, shared.ErrMalformedRow):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrNoMatchingPeriod):
		return http.StatusUnprocessableEntity, "no_matching_period"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrHardConflict):
		return http.StatusConflict, "conflict"
	case shared.IsAuthExpired(err):
		return http.StatusBadGateway, "upstream_auth_failed"
	case shared.IsUpstream(err):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, shared.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func detailsOf(err error, status int) string {
	if status == http.StatusInternalServerError {
		return ""
	}
	return err.Error()
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return shared.WrapError("http", "Decode", shared.ErrValidation, "request body too large", err)
		}
		return shared.WrapError("http", "Decode", shared.ErrValidation, "malformed JSON body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return shared.NewDomainError("http", "Decode", shared.ErrValidation, "request body must hold a single JSON value")
	}
	return nil
}
