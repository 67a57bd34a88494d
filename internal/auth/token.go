package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warden-iam/warden/internal/rbac"
)

// MinSecretLength is the shortest accepted signing secret outside test mode.
const MinSecretLength = 32

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
	Logger *slog.Logger
}

// TokenIssuer signs and verifies HS256 access tokens. It implements
// rbac.IdentityProvider.
type TokenIssuer struct {
	cfg      TokenConfig
	denylist Denylist
	now      func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. denylist may be nil.
func NewTokenIssuer(cfg TokenConfig, denylist Denylist) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 168 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "warden"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenIssuer{cfg: cfg, denylist: denylist, now: time.Now}, nil
}

// Issue signs a token for acc.
func (t *TokenIssuer) Issue(acc rbac.Account) (string, rbac.Identity, error) {
	now := t.now()
	expires := now.Add(t.cfg.TTL)
	jti := uuid.NewString()
	claims := Claims{
		Role: acc.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(acc.ID, 10),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.Secret)
	if err != nil {
		return "", rbac.Identity{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, rbac.Identity{AccountID: acc.ID, TokenID: jti, ExpiresAt: expires}, nil
}

// Verify implements rbac.IdentityProvider.
func (t *TokenIssuer) Verify(ctx context.Context, raw string) (rbac.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithLeeway(t.cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return rbac.Identity{}, ErrTokenExpired
		}
		t.cfg.Logger.Debug("token rejected", slog.Any("error", err))
		return rbac.Identity{}, ErrInvalidCredential
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 || claims.ID == "" {
		return rbac.Identity{}, ErrInvalidCredential
	}
	if t.denylist != nil {
		revoked, err := t.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return rbac.Identity{}, err
		}
		if revoked {
			return rbac.Identity{}, ErrTokenRevoked
		}
	}
	return rbac.Identity{AccountID: id, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
