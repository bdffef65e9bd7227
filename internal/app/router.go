package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/audit"
	"github.com/meridian-his/meridian-his/internal/auth"
	"github.com/meridian-his/meridian-his/internal/authz"
	"github.com/meridian-his/meridian-his/internal/observability"
	"github.com/meridian-his/meridian-his/internal/permission"
	"github.com/meridian-his/meridian-his/internal/policy"
	"github.com/meridian-his/meridian-his/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AuthHandler       *auth.Handler
	PolicyHandler     *policy.Handler
	PermissionHandler *permission.Handler
	AuditHandler      *audit.Handler
	JobsHandler       *jobs.Handler
	Authz             *authz.Middleware
	Metrics           *observability.Metrics
	Pool              *pgxpool.Pool
}

// NewRouter constructs the chi.Router for the gateway. Every /api route
// passes through the authorization gate; health, metrics and login are on
// its public allowlist.
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
	if params.Authz != nil {
		r.Use(params.Authz.Handle)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("readiness ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.Routes)
		}
		r.Route("/admin", func(r chi.Router) {
			if params.PolicyHandler != nil {
				params.PolicyHandler.Routes(r)
			}
			if params.PermissionHandler != nil {
				r.Route("/permissions", params.PermissionHandler.Routes)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.Routes(r)
			}
			if params.JobsHandler != nil {
				r.Route("/queues", params.JobsHandler.Routes)
			}
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
