// Package api serves the git backup HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsync-go/internal/api/handler"
	mw "docsync-go/internal/api/middleware"
	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

// BasePath is the prefix of every git backup route.
const BasePath = "/api/v1/git-backup"

// Service is everything the API needs from the job manager.
type Service interface {
	handler.JobService
	handler.SettingsService
}

type Server struct {
	router   chi.Router
	logger   docsync.Logger
	service  Service
	cfg      config.ServerConfig
	gatherer prometheus.Gatherer
}

// NewServer builds the router. /metrics serves the default registry plus
// extra, which may be nil.
func NewServer(logger docsync.Logger, service Service, cfg config.ServerConfig, extra prometheus.Gatherer) *Server {
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if extra != nil {
		gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, extra}
	}
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		service:  service,
		cfg:      cfg,
		gatherer: gatherer,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route(BasePath, func(r chi.Router) {
		r.Use(mw.Auth(s.cfg.APIKeys))

		jobs := handler.NewJobs(s.service)
		r.Post("/jobs/backup", jobs.StartBackup)
		r.Post("/jobs/import", jobs.StartImport)
		r.Get("/jobs", jobs.List)
		r.Get("/jobs/{id}", jobs.Get)

		settings := handler.NewSettings(s.service)
		r.Get("/settings", settings.Get)
		r.Put("/settings", settings.Update)
		r.Post("/settings/test", settings.Test)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
