// Package server provides the HTTP server of the auth broker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/metrics"
	"github.com/pepkit/pephub-sub000/internal/utils"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second
)

// Server represents the HTTP server: the auth routes plus health and metrics.
type Server struct {
	config   *config.ServerConfig
	auth     *auth.Service
	metrics  *metrics.Metrics
	http     *http.Server
	listener net.Listener
	errChan  chan error
}

// NewServer creates a new server instance with the provided configuration.
func NewServer(cfg *config.ServerConfig, authService *auth.Service, m *metrics.Metrics) *Server {
	s := &Server{
		config:  cfg,
		auth:    authService,
		metrics: m,
		errChan: make(chan error, 1),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler creates the HTTP handler with the middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		middleware.RequestLogger,
		chimiddleware.Recoverer,
		middleware.CORSWithOrigins(s.config.AllowOrigins),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindNotFoundMasked, "not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, "method_not_allowed", "method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", s.auth.Handler().HandleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	s.auth.RegisterRoutes(r)

	logger.Info("Registered authentication routes")
	return r
}

// Listen binds the listen address and serves in the background. Serve
// errors are reported on Err.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.listener = ln

	go func() {
		logger.Info("Starting server", zap.String("address", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errChan <- fmt.Errorf("server error: %w", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Err reports a serve failure after Listen.
func (s *Server) Err() <-chan error {
	return s.errChan
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down server", zap.Duration("timeout", shutdownTimeout))
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// run ties the server to the fx lifecycle and stops the app if serving fails.
func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Listen(ctx); err != nil {
				return err
			}
			go func() {
				if err, ok := <-s.Err(); ok {
					logger.Error("Server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: s.Shutdown,
	})
}

// Module provides the HTTP server and runs it for the app's lifetime
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(run),
)
