package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mercator-hq/costtrack/pkg/config"
	"mercator-hq/costtrack/pkg/telemetry/health"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// ErrRunning is returned by Start on a server that is already running.
var ErrRunning = errors.New("server is already running")

// Server is the ops HTTP server.
type Server struct {
	config config.ServerConfig
	router chi.Router
	logger *slog.Logger
	routes []func(chi.Router)

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server and its access log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHandler serves h for GET requests on path.
func WithHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.routes = append(s.routes, func(r chi.Router) { r.Method(http.MethodGet, path, h) })
	}
}

// WithHealth mounts the liveness, readiness and version endpoints.
func WithHealth(checker *health.Checker, cfg config.HealthConfig, version, commit string) Option {
	return func(s *Server) {
		s.routes = append(s.routes, func(r chi.Router) { checker.Mount(r, cfg, version, commit) })
	}
}

// New creates a server. Routes are added by the options.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.HTTPMiddleware)
	r.Use(accessLog(s.logger))
	r.Use(recoverer(s.logger))
	for _, route := range s.routes {
		route(r)
	}
	s.router = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start has listened, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully within the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.reset()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.reset()
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

func (s *Server) reset() {
	s.mu.Lock()
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
}
