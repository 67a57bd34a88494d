package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      *rbac.Middleware
	validator *validator.Validate
	loginRate int
}

// NewHandler constructs a Handler instance. loginRate caps login and signup
// attempts per IP per minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, mw *rbac.Middleware, loginRate int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New(), loginRate: loginRate}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.loginRate > 0 {
			r.Use(httprate.LimitByIP(h.loginRate, time.Minute))
		}
		r.Post("/signup", h.handleSignup)
		r.Post("/login", h.handleLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticate())
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.service.Signup(r.Context(), SignupInput(req), shared.RequestInfoFromHTTP(r))
	if err != nil {
		h.fail(w, "signup failed", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Account created", session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Login successful", session)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if err := h.service.Logout(r.Context(), caller.Identity); err != nil {
		h.fail(w, "logout failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Logged out", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := rbac.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.OK(w, http.StatusOK, "Profile retrieved", h.service.Me(caller))
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
