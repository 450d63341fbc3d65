package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/api/handler"
	mw "github.com/edvin/proximity/internal/api/middleware"
	"github.com/edvin/proximity/internal/core"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	db             Pinger
	temporalClient temporalclient.Client
}

func NewServer(logger zerolog.Logger, db Pinger, temporalClient temporalclient.Client, services *core.Services) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		db:             db,
		temporalClient: temporalClient,
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
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.APIKey))
		r.Use(mw.CallbackURL)

		// Catalog
		catalog := handler.NewCatalog(s.services.Catalog)
		r.Get("/catalog", catalog.List)
		r.Get("/catalog/{id}", catalog.Get)

		// Applications
		app := handler.NewApplication(s.services.Application)
		r.Get("/applications", app.List)
		r.Post("/applications", app.Create)
		r.Get("/applications/{id}", app.Get)
		r.Patch("/applications/{id}", app.Reconfigure)
		r.Delete("/applications/{id}", app.Delete)
		r.Post("/applications/{id}/start", app.Start)
		r.Post("/applications/{id}/stop", app.Stop)
		r.Post("/applications/{id}/restart", app.Restart)
		r.Post("/applications/{id}/retry", app.Retry)
		r.Post("/applications/{id}/clone", app.Clone)
		r.Get("/applications/{id}/status", app.Status)
		r.Get("/applications/{id}/stats", app.Stats)
		r.Get("/applications/{id}/logs", app.Logs)

		// Backups
		backup := handler.NewBackup(s.services.Backup)
		r.Get("/applications/{id}/backups", backup.ListByApplication)
		r.Post("/applications/{id}/backups", backup.Create)
		r.Get("/backups/{id}", backup.Get)
		r.Delete("/backups/{id}", backup.Delete)
		r.Post("/backups/{id}/restore", backup.Restore)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdmin())

			// Proxmox hosts
			host := handler.NewHost(s.services.Host)
			r.Get("/hosts", host.List)
			r.Post("/hosts", host.Create)
			r.Post("/hosts/test", host.TestCredentials)
			r.Get("/hosts/{id}", host.Get)
			r.Put("/hosts/{id}", host.Update)
			r.Delete("/hosts/{id}", host.Delete)
			r.Post("/hosts/{id}/test", host.Test)
			r.Get("/nodes", host.Nodes)

			// Settings
			setting := handler.NewSetting(s.services.Setting)
			r.Get("/settings", setting.List)
			r.Get("/settings/resources", setting.Resources)
			r.Put("/settings/{key}", setting.Set)

			// API keys
			apiKey := handler.NewAPIKey(s.services.APIKey)
			r.Get("/api-keys", apiKey.List)
			r.Post("/api-keys", apiKey.Create)
			r.Get("/api-keys/{id}", apiKey.Get)
			r.Delete("/api-keys/{id}", apiKey.Revoke)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["core_db"] = err.Error()
		healthy = false
	} else {
		checks["core_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
