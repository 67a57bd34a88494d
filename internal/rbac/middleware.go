package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/shared"
)

// IdentityProvider verifies bearer credentials.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// AccountLookup loads accounts by id.
type AccountLookup interface {
	Get(ctx context.Context, id int64) (Account, error)
}

// MiddlewareConfig collects the middleware dependencies.
type MiddlewareConfig struct {
	Identity      IdentityProvider
	Accounts      AccountLookup
	Guard         *Guard
	Logger        *slog.Logger
	LookupTimeout time.Duration
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	identity      IdentityProvider
	accounts      AccountLookup
	guard         *Guard
	logger        *slog.Logger
	lookupTimeout time.Duration
	lookups       singleflight.Group
}

// NewMiddleware constructs a Middleware.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Middleware{
		identity:      cfg.Identity,
		accounts:      cfg.Accounts,
		guard:         cfg.Guard,
		logger:        logger,
		lookupTimeout: timeout,
	}
}

// Guard exposes the gate evaluator for handlers.
func (m *Middleware) Guard() *Guard {
	return m.guard
}

// Authenticate resolves the bearer credential into a Caller and stores it in
// the request context. Requests without a valid credential stop here.
func (m *Middleware) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := m.authenticate(r)
			if err := m.guard.ObserveAuthentication(err); err != nil {
				status, _ := httpx.StatusFor(err)
				if status == http.StatusInternalServerError {
					m.logger.Error("rbac authenticate", slog.Any("error", err))
				} else {
					m.logger.Debug("rbac authenticate denied", slog.Any("error", err), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

func (m *Middleware) authenticate(r *http.Request) (Caller, error) {
	token, ok := bearerToken(r)
	if !ok {
		return Caller{}, fmt.Errorf("%w: missing bearer token", shared.ErrUnauthenticated)
	}
	identity, err := m.identity.Verify(r.Context(), token)
	if err != nil {
		return Caller{}, err
	}
	account, err := m.lookup(r.Context(), identity.AccountID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Caller{}, fmt.Errorf("%w: account no longer exists", shared.ErrUnauthenticated)
		}
		return Caller{}, err
	}
	if !account.IsActive {
		return Caller{}, shared.ErrAccountInactive
	}
	return Caller{Account: account, Identity: identity}, nil
}

// lookup collapses concurrent loads of the same account and bounds them
// with the lookup timeout.
func (m *Middleware) lookup(ctx context.Context, id int64) (Account, error) {
	ch := m.lookups.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lookupTimeout)
		defer cancel()
		return m.accounts.Get(lookupCtx, id)
	})
	select {
	case <-ctx.Done():
		return Account{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Account{}, res.Err
		}
		return res.Val.(Account), nil
	}
}

// RequireRole ensures the caller holds one of the given roles.
func (m *Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return m.gate(func(caller Account) error {
		return m.guard.RequireRole(caller, roles...)
	})
}

// RequireAny ensures the caller has at least one of the required permissions.
func (m *Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.gate(func(caller Account) error {
		return m.guard.RequireAny(caller, perms...)
	})
}

// RequireAll ensures the caller has all required permissions.
func (m *Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.gate(func(caller Account) error {
		return m.guard.RequireAll(caller, perms...)
	})
}

// RequireManage ensures the caller may manage the account named by the
// route parameter param. It must run after routing has resolved param.
func (m *Middleware) RequireManage(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			id, err := httpx.IDParam(r, param)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			target, err := m.lookup(r.Context(), id)
			if err == nil {
				err = m.guard.RequireManage(caller.Account, target)
			}
			if err != nil {
				if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
					m.logger.Error("rbac manage lookup", slog.Any("error", err))
				} else {
					m.logger.Warn("rbac denied",
						slog.Int64("caller_id", caller.Account.ID),
						slog.Int64("target_id", id),
						slog.String("path", r.URL.Path),
						slog.Any("error", err),
					)
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) gate(check func(Account) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if err := check(caller.Account); err != nil {
				m.logger.Warn("rbac denied",
					slog.Int64("caller_id", caller.Account.ID),
					slog.String("role", caller.Account.Role.String()),
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
