package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
)

const (
	rateLimit          = 10
	rateWindow         = time.Minute
	defaultExportRange = 90 * 24 * time.Hour
)

// MountRoutes mendaftarkan endpoint audit untuk caller yang sudah terautentikasi.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export rate limit exceeded")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		gr.With(h.rbac.RequireManage("id")).Get("/user/{id}/audit", h.handleUserAudit)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireRole(rbac.RoleSuperAdmin))
		gr.Get("/audit/all", h.handleAll)
		gr.With(limiter).Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if caller, ok := rbac.CallerFromContext(r.Context()); ok {
		return "account:" + strconv.FormatInt(caller.Account.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
