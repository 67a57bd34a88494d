package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Handler manages user management endpoints.
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

// MountRoutes registers user routes. Routes expect an authenticated caller.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		r.Get("/", h.listUsers)
		r.Post("/", h.createUser)
		r.Get("/{id}", h.getUser)
		r.Put("/{id}", h.updateUser)
		r.Put("/{id}/deactivate", h.setActive(false))
		r.Put("/{id}/activate", h.setActive(true))
		r.With(h.rbac.RequireRole(rbac.RoleSuperAdmin)).Delete("/{id}", h.deleteUser)
	})
}

type createUserRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin superadmin"`
}

type updateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=100"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := Filters{
		Role:    rbac.Role(strings.ToLower(strings.TrimSpace(q.Get("role")))),
		Search:  q.Get("search"),
		Page:    httpx.IntQuery(r, "page", 1),
		PerPage: httpx.IntQuery(r, "limit", defaultPerPage),
	}
	if raw := strings.TrimSpace(q.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid active %q", shared.ErrInvalidInput, raw))
			return
		}
		filters.Active = &active
	}
	page, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.fail(w, "list users failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Users retrieved", page)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "User retrieved", detail)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.Create(r.Context(), caller, CreateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     rbac.Role(req.Role),
	}, shared.RequestInfoFromHTTP(r))
	if err != nil {
		h.fail(w, "create user failed", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "User created", detail)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Name == nil && req.Email == nil {
		httpx.RespondError(w, fmt.Errorf("%w: nothing to update", shared.ErrInvalidInput))
		return
	}
	detail, err := h.service.Update(r.Context(), caller, id, UpdateInput{Name: req.Name, Email: req.Email}, shared.RequestInfoFromHTTP(r))
	if err != nil {
		h.fail(w, "update user failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "User updated", detail)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	message := "User deactivated"
	if active {
		message = "User activated"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := h.target(w, r)
		if !ok {
			return
		}
		detail, err := h.service.SetActive(r.Context(), caller, id, active, shared.RequestInfoFromHTTP(r))
		if err != nil {
			h.fail(w, "set user active failed", err)
			return
		}
		httpx.OK(w, http.StatusOK, message, detail)
	}
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), caller, id, shared.RequestInfoFromHTTP(r)); err != nil {
		h.fail(w, "delete user failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "User deleted", nil)
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
