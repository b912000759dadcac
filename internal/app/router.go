package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xu-registrar/doctrack/internal/auth"
	"github.com/xu-registrar/doctrack/internal/observability"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/requests"
	"github.com/xu-registrar/doctrack/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	RequestsHandler    *requests.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with doctrack defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(params.AuthHandler.Authenticate)

		r.Route("/api/auth", params.AuthHandler.MountRoutes)
		r.Route("/auth/google", params.AuthHandler.MountGoogleRoutes)
		r.Route("/api/admin", func(r chi.Router) {
			params.AuthHandler.MountAdminRoutes(r)
			if params.PermissionsHandler != nil {
				r.Route("/roles", params.PermissionsHandler.MountRoutes)
			}
		})
		if params.RequestsHandler != nil {
			r.Route("/api/requests", params.RequestsHandler.MountRoutes)
			r.Route("/api/track", params.RequestsHandler.MountTrackRoutes)
		}
	})

	return r
}
