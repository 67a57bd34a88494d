// Package permissions exposes override and role management for accounts.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

var (
	// ErrAlreadyGranted rejects a single grant that would change nothing.
	ErrAlreadyGranted = fmt.Errorf("%w: user already has this permission", shared.ErrConflict)
	// ErrNotHeld rejects a single revoke that would change nothing.
	ErrNotHeld = fmt.Errorf("%w: user does not have this permission", shared.ErrConflict)
)

// AccountStore is the persistence the service needs. Mutate must serialize
// concurrent calls for the same account.
type AccountStore interface {
	Get(ctx context.Context, id int64) (rbac.Account, error)
	Mutate(ctx context.Context, id int64, fn func(*rbac.Account, rbac.AccountTx) error) (rbac.Account, rbac.Account, error)
	ListAll(ctx context.Context) ([]rbac.Account, error)
	CountByRole(ctx context.Context) (map[rbac.Role]int, error)
}

// Change is the result of a mutation.
type Change struct {
	User      rbac.AccountSummary `json:"user"`
	Changed   bool                `json:"changed"`
	Applied   []rbac.Permission   `json:"applied,omitempty"`
	Unchanged []rbac.Permission   `json:"unchanged,omitempty"`
	OldRole   rbac.Role           `json:"oldRole,omitempty"`
	NewRole   rbac.Role           `json:"newRole,omitempty"`
	Overrides rbac.OverrideSet    `json:"overrides"`
	Before    []rbac.Permission   `json:"before"`
	After     []rbac.Permission   `json:"after"`
}

// Config wires a Service.
type Config struct {
	Store    AccountStore
	Guard    *rbac.Guard
	Recorder audit.Recorder
	Logger   *slog.Logger
}

// Service executes permission commands and answers permission queries.
type Service struct {
	store    AccountStore
	guard    *rbac.Guard
	resolver *rbac.Resolver
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewService builds a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		guard:    cfg.Guard,
		resolver: cfg.Guard.Resolver(),
		recorder: cfg.Recorder,
		logger:   logger,
	}
}

// Grant adds p to the target's effective permissions.
func (s *Service) Grant(ctx context.Context, caller rbac.Account, id int64, p rbac.Permission, reason string, req shared.RequestInfo) (Change, error) {
	change, err := s.Execute(ctx, caller, rbac.GrantCommand{AccountID: id, Permission: p, Reason: reason}, req)
	if err != nil {
		return Change{}, err
	}
	if !change.Changed {
		return Change{}, ErrAlreadyGranted
	}
	return change, nil
}

// Revoke removes p from the target's effective permissions.
func (s *Service) Revoke(ctx context.Context, caller rbac.Account, id int64, p rbac.Permission, reason string, req shared.RequestInfo) (Change, error) {
	change, err := s.Execute(ctx, caller, rbac.RevokeCommand{AccountID: id, Permission: p, Reason: reason}, req)
	if err != nil {
		return Change{}, err
	}
	if !change.Changed {
		return Change{}, ErrNotHeld
	}
	return change, nil
}

// Reset clears the target's overrides.
func (s *Service) Reset(ctx context.Context, caller rbac.Account, id int64, reason string, req shared.RequestInfo) (Change, error) {
	return s.Execute(ctx, caller, rbac.ResetCommand{AccountID: id, Reason: reason}, req)
}

// Bulk grants or revokes a list of permissions, reporting which changed.
func (s *Service) Bulk(ctx context.Context, caller rbac.Account, id int64, perms []rbac.Permission, revoke bool, reason string, req shared.RequestInfo) (Change, error) {
	return s.Execute(ctx, caller, rbac.BulkCommand{AccountID: id, Permissions: perms, Revoke: revoke, Reason: reason}, req)
}

// ChangeRole moves the target to role following kind's rules.
func (s *Service) ChangeRole(ctx context.Context, caller rbac.Account, id int64, kind rbac.TransitionKind, role rbac.Role, reason string, req shared.RequestInfo) (Change, error) {
	return s.Execute(ctx, caller, rbac.SetRoleCommand{AccountID: id, Role: role, Kind: kind, Reason: reason}, req)
}

// Execute runs cmd against the locked target row. The self and escalation
// gates, and the superadmin cap, are evaluated against the locked state so a
// concurrent role change cannot slip past them. Audit follows commit.
func (s *Service) Execute(ctx context.Context, caller rbac.Account, cmd rbac.Command, req shared.RequestInfo) (Change, error) {
	snap := s.resolver.Catalog().Snapshot()
	var out rbac.Outcome
	before, after, err := s.store.Mutate(ctx, cmd.TargetID(), func(acc *rbac.Account, tx rbac.AccountTx) error {
		if err := s.guard.AuthorizeMutation(caller, *acc, cmd.TargetRole()); err != nil {
			return err
		}
		if cmd.TargetRole() == rbac.RoleSuperAdmin && acc.Role != rbac.RoleSuperAdmin {
			n, err := tx.CountSuperAdmins(ctx)
			if err != nil {
				return err
			}
			if err := s.guard.CheckSuperAdminCap(n); err != nil {
				return err
			}
		}
		var err error
		out, err = cmd.Apply(acc, snap)
		if err != nil {
			return err
		}
		if out.Changed {
			acc.UpdatedBy = &caller.ID
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrForbidden) {
			s.logger.Warn("permission change denied",
				slog.Int64("caller_id", caller.ID),
				slog.String("caller_role", caller.Role.String()),
				slog.Int64("target_id", cmd.TargetID()),
				slog.String("command", commandName(cmd)),
				slog.Any("error", err),
			)
		}
		if !rejected(err) {
			s.logger.Error("permission change failed",
				slog.Int64("caller_id", caller.ID),
				slog.Int64("target_id", cmd.TargetID()),
				slog.String("command", commandName(cmd)),
				slog.Any("error", err),
			)
			s.recorder.Record(ctx, s.failureEntry(caller, cmd, req))
		}
		return Change{}, err
	}

	change := Change{
		User:      after.Summary(),
		Changed:   out.Changed,
		Applied:   out.Applied,
		Unchanged: out.Unchanged,
		Overrides: after.Overrides.Clone(),
		Before:    s.resolver.Resolve(before).Sorted(),
		After:     s.resolver.Resolve(after).Sorted(),
	}
	if _, ok := cmd.(rbac.SetRoleCommand); ok {
		change.OldRole, change.NewRole = out.OldRole, out.NewRole
	}
	if out.Changed {
		s.recorder.Record(ctx, s.entry(caller, cmd, after, out, change, req))
	}
	return change, nil
}

func (s *Service) entry(caller rbac.Account, cmd rbac.Command, after rbac.Account, out rbac.Outcome, change Change, req shared.RequestInfo) audit.Entry {
	target := audit.PartyOf(after)
	entry := audit.Entry{
		Actor:   audit.PartyOf(caller),
		Target:  &target,
		Before:  change.Before,
		After:   change.After,
		Request: req,
	}
	switch c := cmd.(type) {
	case rbac.GrantCommand:
		entry.Action = audit.ActionGrantPermission
		entry.Permissions = []rbac.Permission{c.Permission}
		entry.Reason = c.Reason
		entry.Detail = fmt.Sprintf("Granted %s to %s", c.Permission, after.Email)
	case rbac.RevokeCommand:
		entry.Action = audit.ActionRevokePermission
		entry.Permissions = []rbac.Permission{c.Permission}
		entry.Reason = c.Reason
		entry.Detail = fmt.Sprintf("Revoked %s from %s", c.Permission, after.Email)
	case rbac.ResetCommand:
		entry.Action = audit.ActionResetPermissions
		entry.Permissions = append(append([]rbac.Permission{}, out.Prior.Granted...), out.Prior.Revoked...)
		entry.Reason = c.Reason
		entry.Detail = fmt.Sprintf("Reset permission overrides of %s (%d granted, %d revoked cleared)",
			after.Email, len(out.Prior.Granted), len(out.Prior.Revoked))
	case rbac.BulkCommand:
		entry.Action, entry.Detail = audit.ActionBulkGrantPermissions, "Granted"
		if c.Revoke {
			entry.Action, entry.Detail = audit.ActionBulkRevokePermissions, "Revoked"
		}
		entry.Permissions = out.Applied
		entry.Reason = c.Reason
		entry.Detail = fmt.Sprintf("%s %s for %s", entry.Detail, joinPermissions(out.Applied), after.Email)
	case rbac.SetRoleCommand:
		entry.Action = roleAction(c.Kind)
		entry.OldRole, entry.NewRole = out.OldRole, out.NewRole
		entry.Reason = c.Reason
		entry.Detail = fmt.Sprintf("Changed role of %s from %s to %s", after.Email, out.OldRole, out.NewRole)
		if !out.Prior.IsEmpty() && after.Overrides.IsEmpty() {
			entry.Detail += " and cleared overrides"
		}
	}
	return entry
}

// failureEntry records an attempt that broke after it was accepted. Only the
// request is known, so the target is identified by id alone.
func (s *Service) failureEntry(caller rbac.Account, cmd rbac.Command, req shared.RequestInfo) audit.Entry {
	entry := s.entry(caller, cmd, rbac.Account{ID: cmd.TargetID()}, rbac.Outcome{}, Change{}, req)
	entry.Target = &audit.Party{ID: cmd.TargetID()}
	entry.Status = audit.StatusFailure
	switch c := cmd.(type) {
	case rbac.ResetCommand:
		entry.Permissions = nil
	case rbac.BulkCommand:
		entry.Permissions = append([]rbac.Permission(nil), c.Permissions...)
	case rbac.SetRoleCommand:
		entry.OldRole, entry.NewRole = "", c.Role
	}
	entry.Detail = fmt.Sprintf("%s on account %d failed", commandName(cmd), cmd.TargetID())
	return entry
}

// rejected reports whether err is a refusal of the request rather than a
// failure to carry it out.
func rejected(err error) bool {
	for _, kind := range []error{
		shared.ErrForbidden, shared.ErrNotFound, shared.ErrInvalidInput,
		shared.ErrConflict, shared.ErrUnauthenticated, shared.ErrAccountInactive,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func roleAction(kind rbac.TransitionKind) audit.Action {
	switch kind {
	case rbac.TransitionPromote:
		return audit.ActionPromoteToAdmin
	case rbac.TransitionDemote:
		return audit.ActionDemoteToUser
	default:
		return audit.ActionChangeRole
	}
}

func commandName(cmd rbac.Command) string {
	switch c := cmd.(type) {
	case rbac.GrantCommand:
		return "grant"
	case rbac.RevokeCommand:
		return "revoke"
	case rbac.ResetCommand:
		return "reset"
	case rbac.BulkCommand:
		if c.Revoke {
			return "bulk_revoke"
		}
		return "bulk_grant"
	case rbac.SetRoleCommand:
		return string(c.Kind) + "_role"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

func joinPermissions(perms []rbac.Permission) string {
	return strings.Join(rbac.PermissionStrings(perms), ", ")
}
