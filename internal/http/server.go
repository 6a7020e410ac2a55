// Package http provides the dynamic manifest HTTP server for packd.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/jmylchreest/packd/internal/config"
	"github.com/jmylchreest/packd/internal/http/handlers"
)

// Server serves rewritten HLS playlists and DASH manifests.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server publishing manifests from mediaFs, with
// references rewritten against cfg.BaseURL.
func NewServer(serverCfg config.ServerConfig, serveCfg config.ServeConfig, mediaFs afero.Fs, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(chimiddleware.Recoverer)

	manifests := handlers.NewManifestHandler(mediaFs, serveCfg.BaseURL, logger)
	manifests.Register(router)

	health := handlers.NewHealthHandler(version)
	health.Register(router)

	return &Server{
		config: serverCfg,
		router: router,
		logger: logger,
	}
}

// Router returns the underlying router, useful for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("http server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// requestLogger logs each request at debug level with duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
