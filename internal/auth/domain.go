package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

var (
	// ErrInvalidCredential covers malformed, forged or mis-issued tokens and
	// failed password checks.
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", shared.ErrUnauthenticated)
	// ErrTokenExpired reports a token past its expiry plus leeway.
	ErrTokenExpired = fmt.Errorf("%w: token expired", shared.ErrUnauthenticated)
	// ErrTokenRevoked reports a token on the denylist.
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", shared.ErrUnauthenticated)
)

// Claims are the JWT claims issued for an account. Role is informational;
// authorization always reloads the account.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Session is returned by signup and login.
type Session struct {
	Token       string              `json:"token"`
	TokenType   string              `json:"tokenType"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	User        rbac.AccountSummary `json:"user"`
	Permissions []rbac.Permission   `json:"permissions"`
}

// Profile is the authenticated caller's view of itself.
type Profile struct {
	User        rbac.AccountSummary `json:"user"`
	Permissions []rbac.Permission   `json:"permissions"`
	LastLoginAt *time.Time          `json:"lastLoginAt,omitempty"`
	ExpiresAt   time.Time           `json:"tokenExpiresAt"`
}
