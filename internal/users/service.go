package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// AccountStore defines data access methods for account management.
type AccountStore interface {
	Get(ctx context.Context, id int64) (rbac.Account, error)
	List(ctx context.Context, filters Filters) ([]rbac.Account, int, error)
	Create(ctx context.Context, in NewAccount, check func(rbac.AccountTx) error) (rbac.Account, error)
	Mutate(ctx context.Context, id int64, fn func(*rbac.Account, rbac.AccountTx) error) (rbac.Account, rbac.Account, error)
	Delete(ctx context.Context, id int64) error
}

// CreateInput describes an admin-created account.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     rbac.Role
}

// UpdateInput carries optional profile changes.
type UpdateInput struct {
	Name  *string
	Email *string
}

// Detail is an account with its effective permissions.
type Detail struct {
	rbac.AccountSummary
	Overrides   rbac.OverrideSet  `json:"overrides"`
	Permissions []rbac.Permission `json:"permissions"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	LastLoginAt *time.Time        `json:"lastLoginAt,omitempty"`
}

// Config wires a Service.
type Config struct {
	Store      AccountStore
	Guard      *rbac.Guard
	Recorder   audit.Recorder
	Logger     *slog.Logger
	BcryptCost int
}

// Service handles account management business logic.
type Service struct {
	store      AccountStore
	guard      *rbac.Guard
	recorder   audit.Recorder
	logger     *slog.Logger
	bcryptCost int
}

// NewService builds Service instance.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		guard:      cfg.Guard,
		recorder:   cfg.Recorder,
		logger:     logger,
		bcryptCost: cfg.BcryptCost,
	}
}

// List returns a page of accounts.
func (s *Service) List(ctx context.Context, filters Filters) (Page, error) {
	if filters.Role != "" && !filters.Role.Valid() {
		return Page{}, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, filters.Role)
	}
	filters.Page, filters.PerPage = shared.ClampPage(filters.Page, filters.PerPage, defaultPerPage, maxPerPage)
	accounts, total, err := s.store.List(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	summaries := make([]rbac.AccountSummary, len(accounts))
	for i, acc := range accounts {
		summaries[i] = acc.Summary()
	}
	return Page{Accounts: summaries, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Get returns the account with id if caller may manage it.
func (s *Service) Get(ctx context.Context, caller rbac.Account, id int64) (Detail, error) {
	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if err := s.guard.RequireManage(caller, acc); err != nil {
		return Detail{}, err
	}
	return s.detail(acc), nil
}

// Create registers an account on behalf of caller.
func (s *Service) Create(ctx context.Context, caller rbac.Account, in CreateInput, req shared.RequestInfo) (Detail, error) {
	role := in.Role
	if role == "" {
		role = rbac.RoleUser
	}
	if !role.Valid() {
		return Detail{}, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, in.Role)
	}
	if err := s.guard.CheckEscalation(caller, rbac.Account{}, role); err != nil {
		return Detail{}, err
	}
	hash, err := shared.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return Detail{}, err
	}

	var check func(rbac.AccountTx) error
	if role == rbac.RoleSuperAdmin {
		check = func(tx rbac.AccountTx) error {
			n, err := tx.CountSuperAdmins(ctx)
			if err != nil {
				return err
			}
			return s.guard.CheckSuperAdminCap(n)
		}
	}
	callerID := caller.ID
	created, err := s.store.Create(ctx, NewAccount{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         role,
		CreatedBy:    &callerID,
	}, check)
	if err != nil {
		return Detail{}, err
	}

	target := audit.PartyOf(created)
	s.recorder.Record(ctx, audit.Entry{
		Actor:   audit.PartyOf(caller),
		Target:  &target,
		Action:  audit.ActionCreateUser,
		Detail:  fmt.Sprintf("Created %s account %s", role, created.Email),
		NewRole: role,
		After:   s.guard.Resolver().Resolve(created).Sorted(),
		Request: req,
	})
	s.logger.Info("account created", slog.Int64("account_id", created.ID), slog.Int64("actor_id", caller.ID), slog.String("role", string(role)))
	return s.detail(created), nil
}

// Update changes profile fields. Role changes go through the permissions service.
func (s *Service) Update(ctx context.Context, caller rbac.Account, id int64, in UpdateInput, req shared.RequestInfo) (Detail, error) {
	before, after, err := s.store.Mutate(ctx, id, func(acc *rbac.Account, _ rbac.AccountTx) error {
		if err := s.authorize(caller, *acc); err != nil {
			return err
		}
		if in.Name != nil {
			acc.Name = strings.TrimSpace(*in.Name)
		}
		if in.Email != nil {
			acc.Email = strings.TrimSpace(*in.Email)
		}
		acc.UpdatedBy = &caller.ID
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	if !sameState(before, after) {
		var changed []string
		if before.Name != after.Name {
			changed = append(changed, "name")
		}
		if before.Email != after.Email {
			changed = append(changed, "email")
		}
		target := audit.PartyOf(after)
		s.recorder.Record(ctx, audit.Entry{
			Actor:   audit.PartyOf(caller),
			Target:  &target,
			Action:  audit.ActionUpdateUser,
			Detail:  fmt.Sprintf("Updated %s of %s", strings.Join(changed, ", "), before.Email),
			Request: req,
		})
	}
	return s.detail(after), nil
}

// SetActive activates or deactivates an account.
func (s *Service) SetActive(ctx context.Context, caller rbac.Account, id int64, active bool, req shared.RequestInfo) (Detail, error) {
	_, after, err := s.store.Mutate(ctx, id, func(acc *rbac.Account, tx rbac.AccountTx) error {
		if err := s.authorize(caller, *acc); err != nil {
			return err
		}
		if acc.IsActive == active {
			state := "inactive"
			if active {
				state = "active"
			}
			return fmt.Errorf("%w: account is already %s", shared.ErrConflict, state)
		}
		if active && acc.Role == rbac.RoleSuperAdmin {
			n, err := tx.CountSuperAdmins(ctx)
			if err != nil {
				return err
			}
			if err := s.guard.CheckSuperAdminCap(n); err != nil {
				return err
			}
		}
		acc.IsActive = active
		acc.UpdatedBy = &caller.ID
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	action, verb := audit.ActionDeactivateUser, "Deactivated"
	if active {
		action, verb = audit.ActionActivateUser, "Activated"
	}
	target := audit.PartyOf(after)
	s.recorder.Record(ctx, audit.Entry{
		Actor:   audit.PartyOf(caller),
		Target:  &target,
		Action:  action,
		Detail:  fmt.Sprintf("%s account %s", verb, after.Email),
		Request: req,
	})
	return s.detail(after), nil
}

// Delete removes an account. Only superadmins may delete, never themselves.
func (s *Service) Delete(ctx context.Context, caller rbac.Account, id int64, req shared.RequestInfo) error {
	if err := s.guard.RequireRole(caller, rbac.RoleSuperAdmin); err != nil {
		return err
	}
	if err := s.guard.CheckSelf(caller, id); err != nil {
		return err
	}
	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	target := audit.PartyOf(acc)
	s.recorder.Record(ctx, audit.Entry{
		Actor:   audit.PartyOf(caller),
		Target:  &target,
		Action:  audit.ActionDeleteUser,
		Detail:  fmt.Sprintf("Deleted %s account %s", acc.Role, acc.Email),
		OldRole: acc.Role,
		Before:  s.guard.Resolver().Resolve(acc).Sorted(),
		Request: req,
	})
	s.logger.Info("account deleted", slog.Int64("account_id", id), slog.Int64("actor_id", caller.ID))
	return nil
}

func (s *Service) authorize(caller, target rbac.Account) error {
	if err := s.guard.RequireManage(caller, target); err != nil {
		return err
	}
	return s.guard.AuthorizeMutation(caller, target, "")
}

func (s *Service) detail(acc rbac.Account) Detail {
	return Detail{
		AccountSummary: acc.Summary(),
		Overrides:      acc.Overrides.Clone(),
		Permissions:    s.guard.Resolver().Resolve(acc).Sorted(),
		CreatedAt:      acc.CreatedAt,
		UpdatedAt:      acc.UpdatedAt,
		LastLoginAt:    acc.LastLoginAt,
	}
}
