package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Handler manages role template endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      *rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw *rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers role template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleSuperAdmin))
		r.Get("/roles/templates", h.listTemplates)
		r.Get("/roles/templates/{role}", h.getTemplate)
		r.Put("/roles/templates/{role}", h.updateTemplate)
	})
}

type templateRequest struct {
	Permissions []string `json:"permissions" validate:"required,max=100"`
	Reason      string   `json:"reason" validate:"max=500"`
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	templates, err := h.service.Templates(caller.Account)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role templates retrieved", templates)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	role, err := rbac.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	template, err := h.service.Template(caller.Account, role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role template retrieved", template)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	role, err := rbac.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req templateRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := rbac.ParsePermissions(req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	change, err := h.service.Update(r.Context(), caller.Account, role, perms, req.Reason, shared.RequestInfoFromHTTP(r))
	if err != nil {
		if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("update role template", slog.String("role", role.String()), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	message := "Role template updated"
	if !change.Changed {
		message = "Role template unchanged"
	}
	httpx.OK(w, http.StatusOK, message, change)
}
