// Package roles manages the customisable role templates.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Notifier announces a template change to other instances.
type Notifier interface {
	Publish(ctx context.Context, role rbac.Role) error
}

// Config wires a Service.
type Config struct {
	Repository Repository
	Catalog    *rbac.Catalog
	Guard      *rbac.Guard
	Notifier   Notifier
	Recorder   audit.Recorder
	Logger     *slog.Logger
}

// Service handles role template business logic.
type Service struct {
	repo     Repository
	catalog  *rbac.Catalog
	guard    *rbac.Guard
	notifier Notifier
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     cfg.Repository,
		catalog:  cfg.Catalog,
		guard:    cfg.Guard,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Templates returns every role template.
func (s *Service) Templates(caller rbac.Account) ([]rbac.Template, error) {
	if err := s.guard.RequireRole(caller, rbac.RoleSuperAdmin); err != nil {
		return nil, err
	}
	return s.catalog.Templates(), nil
}

// Template returns the template of role.
func (s *Service) Template(caller rbac.Account, role rbac.Role) (rbac.Template, error) {
	if err := s.guard.RequireRole(caller, rbac.RoleSuperAdmin); err != nil {
		return rbac.Template{}, err
	}
	return s.catalog.Template(role)
}

// Update replaces the defaults of role. The record is stored before the
// catalog swaps, so a failed write leaves every instance on the old
// defaults. Stored overrides are not touched.
func (s *Service) Update(ctx context.Context, caller rbac.Account, role rbac.Role, perms []rbac.Permission, reason string, req shared.RequestInfo) (Change, error) {
	if err := s.guard.RequireRole(caller, rbac.RoleSuperAdmin); err != nil {
		return Change{}, err
	}
	rec := rbac.TemplateRecord{Role: role, Permissions: rbac.NormalisePermissions(perms), UpdatedBy: caller.ID, UpdatedAt: s.now()}
	if err := rec.Validate(); err != nil {
		return Change{}, err
	}
	current, err := s.catalog.Template(role)
	if err != nil {
		return Change{}, err
	}
	added, removed := diff(current.Permissions, rec.Permissions)
	if len(added) == 0 && len(removed) == 0 {
		return Change{
			Template: current,
			Added:    added,
			Removed:  removed,
			Before:   current.Permissions,
			After:    current.Permissions,
		}, nil
	}

	stored, err := s.repo.SaveTemplate(ctx, rec)
	if err != nil {
		return Change{}, err
	}
	before, after, err := s.catalog.ReplaceTemplate(stored)
	if err != nil {
		return Change{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, role); err != nil {
			s.logger.Error("publish template change", slog.String("role", role.String()), slog.Any("error", err))
		}
	}

	s.logger.Info("role template updated",
		slog.String("role", role.String()),
		slog.Int64("actor_id", caller.ID),
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)),
	)
	s.recorder.Record(ctx, audit.Entry{
		Actor:       audit.PartyOf(caller),
		Action:      audit.ActionUpdateRoleTemplate,
		Detail:      templateDetail(role, added, removed),
		Reason:      reason,
		Permissions: slices.Concat(added, removed),
		NewRole:     role,
		Before:      before.Permissions,
		After:       after.Permissions,
		Request:     req,
	})
	return Change{
		Template: after,
		Changed:  true,
		Added:    added,
		Removed:  removed,
		Before:   before.Permissions,
		After:    after.Permissions,
	}, nil
}

// Reload installs every stored template into the catalog.
func (s *Service) Reload(ctx context.Context) error {
	return reload(ctx, s.repo, s.catalog)
}

func reload(ctx context.Context, repo Repository, catalog *rbac.Catalog) error {
	records, err := repo.ListTemplates(ctx)
	if err != nil {
		return err
	}
	if err := catalog.Load(records); err != nil {
		return fmt.Errorf("roles: load templates: %w", err)
	}
	return nil
}

func templateDetail(role rbac.Role, added, removed []rbac.Permission) string {
	parts := []string{fmt.Sprintf("Updated %s template", role)}
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(rbac.PermissionStrings(added), ", "))
	}
	if len(removed) > 0 {
		parts = append(parts, "removed "+strings.Join(rbac.PermissionStrings(removed), ", "))
	}
	return strings.Join(parts, "; ")
}
