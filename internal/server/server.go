// Package server wires the record store HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/iudanet/farmkeeper/internal/config"
	"github.com/iudanet/farmkeeper/internal/server/handlers"
	"github.com/iudanet/farmkeeper/internal/server/middleware"
	"github.com/iudanet/farmkeeper/internal/server/storage"
)

// Storage объединяет хранилища, которые нужны серверу
type Storage interface {
	storage.UserStorage
	storage.RecordStorage
	handlers.Pinger
}

// Server is the record store HTTP server
type Server struct {
	httpServer *http.Server
	presence   *handlers.PresenceHandler
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
	cfg        config.ServerConfig
}

// New builds the server and its routes
func New(cfg config.ServerConfig, store Storage, logger *slog.Logger, version string) *Server {
	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(cfg.JWT.Secret),
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	}

	s := &Server{
		presence: handlers.NewPresenceHandler(logger, cfg.PresenceInterval),
		logger:   logger,
		cfg:      cfg,
	}
	if cfg.AuthRateLimit.Requests > 0 && cfg.AuthRateLimit.Window > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.AuthRateLimit.Requests, cfg.AuthRateLimit.Window, logger)
	}

	authHandler := handlers.NewAuthHandler(logger, store, jwtConfig)
	recordsHandler := handlers.NewRecordsHandler(logger, store)
	healthHandler := handlers.NewHealthHandler(logger, store, version)

	requireAuth := middleware.AuthMiddleware(logger, jwtConfig)
	limited := func(h http.HandlerFunc) http.Handler {
		if s.limiter == nil {
			return h
		}
		return s.limiter.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.Handle("POST /api/v1/auth/register", limited(authHandler.Register))
	mux.Handle("POST /api/v1/auth/login", limited(authHandler.Login))
	mux.Handle("POST /api/v1/operations", requireAuth(http.HandlerFunc(recordsHandler.Submit)))
	mux.Handle("GET /api/v1/records/{collection}", requireAuth(http.HandlerFunc(recordsHandler.List)))
	mux.Handle("GET /api/v1/records/{collection}/{id}", requireAuth(http.HandlerFunc(recordsHandler.Get)))
	mux.Handle("GET /api/v1/presence", requireAuth(http.HandlerFunc(s.presence.Presence)))

	// Recovery внутри логирования, чтобы паника попала в лог запроса как 500
	var handler http.Handler = mux
	handler = middleware.RecoveryMiddleware(logger)(handler)
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on l until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", l.Addr().String())
		errCh <- s.httpServer.Serve(l)
	}()

	select {
	case err := <-errCh:
		s.closeBackground()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	// Websocket соединения Shutdown не ждет, закрываем их отдельно
	s.closeBackground()
	<-errCh

	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) closeBackground() {
	s.presence.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
