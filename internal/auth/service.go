// Package auth issues and revokes bearer tokens for accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
	"github.com/warden-iam/warden/internal/users"
)

// Config wires a Service.
type Config struct {
	Repository Repository
	Issuer     *TokenIssuer
	Denylist   Denylist
	Resolver   *rbac.Resolver
	Recorder   audit.Recorder
	Logger     *slog.Logger
	BcryptCost int
}

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	issuer     *TokenIssuer
	denylist   Denylist
	resolver   *rbac.Resolver
	recorder   audit.Recorder
	logger     *slog.Logger
	bcryptCost int
}

// NewService constructs a new Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       cfg.Repository,
		issuer:     cfg.Issuer,
		denylist:   cfg.Denylist,
		resolver:   cfg.Resolver,
		recorder:   cfg.Recorder,
		logger:     logger,
		bcryptCost: cfg.BcryptCost,
	}
}

// SignupInput carries a self-registration.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// Signup creates an active user account and logs it in.
func (s *Service) Signup(ctx context.Context, in SignupInput, req shared.RequestInfo) (Session, error) {
	hash, err := shared.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return Session{}, err
	}
	acc, err := s.repo.Create(ctx, users.NewAccount{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         rbac.RoleUser,
	}, nil)
	if err != nil {
		return Session{}, err
	}
	party := audit.PartyOf(acc)
	s.recorder.Record(ctx, audit.Entry{
		Actor:   party,
		Target:  &party,
		Action:  audit.ActionCreateUser,
		Detail:  fmt.Sprintf("Self sign-up of %s", acc.Email),
		NewRole: acc.Role,
		After:   s.resolver.Resolve(acc).Sorted(),
		Request: req,
	})
	s.logger.Info("account signed up", slog.Int64("account_id", acc.ID))
	return s.session(acc)
}

// Login checks email and password and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	acc, hash, err := s.repo.Credentials(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, ErrInvalidCredential
		}
		return Session{}, err
	}
	if !shared.CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredential
	}
	if !acc.IsActive {
		return Session{}, shared.ErrAccountInactive
	}
	if err := s.repo.TouchLogin(ctx, acc.ID); err != nil {
		s.logger.Warn("touch last login", slog.Int64("account_id", acc.ID), slog.Any("error", err))
	}
	return s.session(acc)
}

// Logout revokes the caller's token until it expires.
func (s *Service) Logout(ctx context.Context, identity rbac.Identity) error {
	if s.denylist == nil {
		return nil
	}
	return s.denylist.Revoke(ctx, identity.TokenID, identity.ExpiresAt)
}

// Me describes the caller.
func (s *Service) Me(caller rbac.Caller) Profile {
	return Profile{
		User:        caller.Account.Summary(),
		Permissions: s.resolver.Resolve(caller.Account).Sorted(),
		LastLoginAt: caller.Account.LastLoginAt,
		ExpiresAt:   caller.Identity.ExpiresAt,
	}
}

func (s *Service) session(acc rbac.Account) (Session, error) {
	token, identity, err := s.issuer.Issue(acc)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		TokenType:   "Bearer",
		ExpiresAt:   identity.ExpiresAt,
		User:        acc.Summary(),
		Permissions: s.resolver.Resolve(acc).Sorted(),
	}, nil
}
