package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/warden-iam/warden/internal/audit/http"
	"github.com/warden-iam/warden/internal/auth"
	"github.com/warden-iam/warden/internal/observability"
	"github.com/warden-iam/warden/internal/permissions"
	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/roles"
	"github.com/warden-iam/warden/internal/users"
	"github.com/warden-iam/warden/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RBACMiddleware     *rbac.Middleware
	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *permissions.Handler
	AuditHandler       *audithttp.Handler
	RolesHandler       *roles.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with warden defaults.
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

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "no route for "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/admin/users", func(r chi.Router) {
			r.Use(params.RBACMiddleware.Authenticate())
			params.UsersHandler.MountRoutes(r)
		})
	}
	r.Route("/permissions", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate())
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
