// Package api is a headless frontend that drives query sessions over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
)

// Session is the query surface the server drives.
type Session interface {
	SetupSession()
	StartQuery(input string) *engine.Execution
	TeardownSession(ctx context.Context) error
	Current() *engine.Execution
	SetIncrementalSort(enabled bool)
	IncrementalSort() bool
}

// SortPreference persists the incremental sort toggle.
type SortPreference interface {
	SetIncrementalSort(enabled bool) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey, when set, is required as a bearer token on every route but
	// /healthz.
	APIKey      string
	WaitTimeout time.Duration
}

// Deps are the collaborators of a Server.
type Deps struct {
	Session  Session
	Registry *extension.Registry
	Hub      *events.Hub
	Sort     SortPreference
	Logger   *slog.Logger
}

// Server represents the HTTP API server. It is registered as a frontend
// extension.
type Server struct {
	id        string
	config    Config
	session   Session
	registry  *extension.Registry
	events    *events.Hub
	sort      SortPreference
	logger    *slog.Logger
	startedAt time.Time

	// mu serializes session transitions.
	mu     sync.Mutex
	active bool

	srvMu  sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New creates a new API server instance
func New(id string, config Config, deps Deps) *Server {
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaultWaitTimeout
	}
	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub(256)
	}
	registry := deps.Registry
	if registry == nil {
		registry = extension.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		id:        id,
		config:    config,
		session:   deps.Session,
		registry:  registry,
		events:    hub,
		sort:      deps.Sort,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

func (s *Server) ID() string { return s.id }

// Addr returns the bound listener address once Run started listening.
func (s *Server) Addr() net.Addr {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// Run serves HTTP until ctx is cancelled. An open session is torn down on
// the way out.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}
	s.srvMu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.srvMu.Unlock()

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.endSession(shutdownCtx); err != nil {
			s.logger.Warn("session teardown failed", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/query", s.handleQuery)
		r.Delete("/session", s.handleEndSession)

		r.Get("/results", s.handleResults)
		r.Post("/results/more", s.handleFetchMore)
		r.Post("/results/{row}/activate", s.handleActivate)
		r.Post("/fallback/activate", s.handleActivateFallback)

		r.Get("/plugins", s.handlePlugins)
		r.Post("/plugins/{id}/enable", s.handleSetEnabled(true))
		r.Post("/plugins/{id}/disable", s.handleSetEnabled(false))

		r.Put("/settings/incremental-sort", s.handleIncrementalSort)

		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// beginSession opens a session unless one is already open.
func (s *Server) beginSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.session.SetupSession()
	s.active = true
}

// endSession tears the open session down. It reports whether one was open.
func (s *Server) endSession(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false, nil
	}
	s.active = false
	return true, s.session.TeardownSession(ctx)
}

func (s *Server) sessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
