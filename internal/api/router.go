package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/auth"
	"github.com/piowaw/domainalert/internal/lookup"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/worker"
	"github.com/piowaw/domainalert/internal/ws"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main after all components are initialized and passed as a
// single struct to keep the constructor signature manageable.
type RouterConfig struct {
	AuthService *auth.Service
	AuthManager *auth.Manager
	Pool        *worker.Pool
	Engine      lookup.Engine
	Hub         *ws.Hub
	Logger      *zap.Logger

	Users         repositories.UserRepository
	Domains       repositories.DomainRepository
	Jobs          repositories.JobRepository
	Notifications repositories.NotificationRepository
}

// NewRouter builds and returns the fully configured Chi router. All API
// routes live under /api/v1; /healthz and /metrics are unauthenticated so
// probes and scrapers work without credentials.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	authHandler := NewAuthHandler(cfg.AuthService, cfg.Users, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Jobs, cfg.Domains, cfg.Pool, cfg.Logger)
	domainHandler := NewDomainHandler(cfg.Domains, cfg.Engine, cfg.Logger)
	notificationHandler := NewNotificationHandler(cfg.Notifications, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.AuthManager, cfg.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, envelope{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// Public routes.
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)

			// The websocket endpoint authenticates via query parameter.
			r.Get("/ws", wsHandler.ServeWS)
		})

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.AuthManager))

			r.Get("/users/me", authHandler.GetMe)
			r.With(RequireAdmin()).Get("/users", authHandler.ListUsers)

			// Jobs
			r.Get("/jobs", jobHandler.List)
			r.Post("/jobs", jobHandler.Create)
			r.Get("/jobs/{id}", jobHandler.GetByID)
			r.Delete("/jobs/{id}", jobHandler.Delete)
			r.Post("/jobs/process", jobHandler.Process)
			r.Post("/jobs/resume", jobHandler.Resume)

			// Domains
			r.Get("/domains", domainHandler.List)
			r.Post("/domains", domainHandler.Create)
			r.Get("/domains/{id}", domainHandler.GetByID)
			r.Delete("/domains/{id}", domainHandler.Delete)

			// Notifications
			r.Get("/notifications", notificationHandler.List)
			r.Patch("/notifications/{id}/read", notificationHandler.MarkAsRead)
			r.Patch("/notifications/read-all", notificationHandler.MarkAllAsRead)
		})
	})

	return r
}
