package permissions

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Handler wires the permission management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      *rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw *rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers permission routes. Routes expect an authenticated caller.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleCatalog)
	r.Get("/all", h.handleCatalog)
	r.Get("/check/{userId}/{permission}", h.handleCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		r.Get("/user/{id}", h.handleUser)
		r.Get("/user/{id}/stats", h.handleUserStats)
		r.Post("/user/{id}/grant", h.handleSingle(false))
		r.Post("/user/{id}/revoke", h.handleSingle(true))
		r.Post("/user/{id}/reset", h.handleReset)
		r.Post("/user/{id}/bulk/grant", h.handleBulk(false))
		r.Post("/user/{id}/bulk/revoke", h.handleBulk(true))
		r.Put("/user/{id}/role", h.handleRole)
		r.Post("/user/{id}/role", h.handleRole)
		r.Post("/user/{id}/promote/admin", h.handleTransition(rbac.TransitionPromote, rbac.RoleAdmin))
		r.Post("/user/{id}/demote/user", h.handleTransition(rbac.TransitionDemote, rbac.RoleUser))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleSuperAdmin))
		r.Get("/stats/system", h.handleSystemStats)
		r.Get("/stats/roles", h.handleRoleCounts)
	})
}

type singleRequest struct {
	Permission string `json:"permission" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
}

type bulkRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,max=100"`
	Reason      string   `json:"reason" validate:"max=500"`
}

type roleRequest struct {
	Role   string `json:"role" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, "Permissions retrieved", h.service.Catalog())
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "userId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := rbac.ParsePermission(chi.URLParam(r, "permission"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Check(r.Context(), caller, id, p)
	if err != nil {
		h.fail(w, "check permission failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permission checked", result)
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	view, err := h.service.UserPermissions(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "get user permissions failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "User permissions retrieved", view)
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	stats, err := h.service.UserStats(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "get user stats failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "User permission statistics retrieved", stats)
}

func (h *Handler) handleSingle(revoke bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var req singleRequest
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		p, err := rbac.ParsePermission(req.Permission)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		info := shared.RequestInfoFromHTTP(r)
		var change Change
		if revoke {
			change, err = h.service.Revoke(r.Context(), caller, id, p, req.Reason, info)
		} else {
			change, err = h.service.Grant(r.Context(), caller, id, p, req.Reason, info)
		}
		if err != nil {
			h.fail(w, "change permission failed", err)
			return
		}
		verb := "granted"
		if revoke {
			verb = "revoked"
		}
		httpx.OK(w, http.StatusOK, fmt.Sprintf("Permission %s %s", p, verb), change)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := h.bindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	change, err := h.service.Reset(r.Context(), caller, id, req.Reason, shared.RequestInfoFromHTTP(r))
	if err != nil {
		h.fail(w, "reset permissions failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permissions reset to role defaults", change)
}

func (h *Handler) handleBulk(revoke bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var req bulkRequest
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		perms, err := rbac.ParsePermissions(req.Permissions)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		change, err := h.service.Bulk(r.Context(), caller, id, perms, revoke, req.Reason, shared.RequestInfoFromHTTP(r))
		if err != nil {
			h.fail(w, "bulk permission change failed", err)
			return
		}
		verb := "granted"
		if revoke {
			verb = "revoked"
		}
		httpx.OK(w, http.StatusOK, fmt.Sprintf("%d permission(s) %s, %d unchanged", len(change.Applied), verb, len(change.Unchanged)), change)
	}
}

func (h *Handler) handleRole(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.changeRole(w, r, caller, id, rbac.TransitionSet, role, req.Reason)
}

func (h *Handler) handleTransition(kind rbac.TransitionKind, role rbac.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var req reasonRequest
		if err := h.bindOptional(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.changeRole(w, r, caller, id, kind, role, req.Reason)
	}
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, caller rbac.Account, id int64, kind rbac.TransitionKind, role rbac.Role, reason string) {
	change, err := h.service.ChangeRole(r.Context(), caller, id, kind, role, reason, shared.RequestInfoFromHTTP(r))
	if err != nil {
		h.fail(w, "change role failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("Role changed from %s to %s", change.OldRole, change.NewRole), change)
}

func (h *Handler) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SystemStats(r.Context())
	if err != nil {
		h.fail(w, "system stats failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "System permission statistics retrieved", stats)
}

func (h *Handler) handleRoleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.RoleCounts(r.Context())
	if err != nil {
		h.fail(w, "role counts failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role counts retrieved", counts)
}

// bindOptional accepts an empty body for endpoints whose fields are all optional.
func (h *Handler) bindOptional(r *http.Request, target any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return httpx.Bind(r, h.validator, target)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (rbac.Account, int64, bool) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return rbac.Account{}, 0, false
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return rbac.Account{}, 0, false
	}
	return caller, id, true
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func callerAccount(w http.ResponseWriter, r *http.Request) (rbac.Account, bool) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return rbac.Account{}, false
	}
	return caller.Account, true
}
