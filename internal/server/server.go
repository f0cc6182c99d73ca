// Package server is the HTTP and WebSocket boundary between the UI and the controller.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

// Server hosts the command API and the event stream.
type Server struct {
	cfg     config.ServerConfig
	ctrl    Controller
	metrics *observability.Metrics
	logger  *zap.Logger

	// Live WebSocket handlers, waited for on shutdown.
	clients sync.WaitGroup
}

// New builds a server. metrics may be nil, in which case /metrics answers 404.
func New(cfg config.ServerConfig, ctrl Controller, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		metrics: metrics,
		logger:  logger.Named("server"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// WebSocket routes stay outside the timeout and logger middlewares.
	r.Get("/ws/v1/events", s.handleEvents())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		if s.cfg.CommandTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.CommandTimeout))
		}

		r.Get("/healthz", s.HandleHealthCheck)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/command", s.HandleCommand)
			r.Get("/commands", s.HandleListCommands)
		})
	})
	return r
}

// Serve listens until ctx ends, then shuts the listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("address", s.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server gracefully...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown does not wait for hijacked connections; each WebSocket closes when its
	// event subscription ends, which the caller triggers by stopping the controller.
	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	<-errCh
	s.logger.Info("Server stopped.")
	return err
}

// Wait blocks until every WebSocket handler has returned.
func (s *Server) Wait() { s.clients.Wait() }

// corsMiddleware lets a UI served from another origin reach the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
