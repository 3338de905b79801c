// Package core is the HTTP chassis of the ModelPass API: the chi router,
// the middleware chain, error rendering, authentication and health checks.
// Domain handlers register their routes through the Server's registrar hooks.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"modelpass/internal/config"
)

// RouteRegistrar mounts a handler's routes on a router.
type RouteRegistrar func(r chi.Router)

// Server holds the HTTP dependencies of the API.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthChecks  []HealthCheck

	// PublicRoutes are mounted under /v1 without authentication.
	PublicRoutes []RouteRegistrar
	// ProtectedRoutes are mounted under /v1 behind AuthMiddleware.
	ProtectedRoutes []RouteRegistrar
	// RootRoutes are mounted at the top level, e.g. provider webhooks that
	// authenticate by signature.
	RootRoutes []RouteRegistrar

	router *chi.Mux
}

// NewServer creates a Server with an empty router. Callers set the optional
// collaborators and registrars, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves on the configured port until ctx is cancelled, then drains
// in-flight requests for at most ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.Config.Server.Port)
	if err != nil {
		return fmt.Errorf("listening on port %s: %w", s.Config.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.requestTimeout() + 5*time.Second,
		WriteTimeout:      s.requestTimeout() + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.Logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.ShutdownTimeout > 0 {
		return s.Config.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}
