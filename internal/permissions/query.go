package permissions

import (
	"context"
	"math"
	"time"

	"github.com/warden-iam/warden/internal/rbac"
)

// CatalogView lists the vocabulary and current role defaults.
type CatalogView struct {
	Version      int64                           `json:"version"`
	Permissions  []rbac.Permission               `json:"permissions"`
	Categories   []rbac.Category                 `json:"categories"`
	Roles        []rbac.Role                     `json:"roles"`
	RoleDefaults map[rbac.Role][]rbac.Permission `json:"roleDefaults"`
}

// UserView is an account's permission picture.
type UserView struct {
	User         rbac.AccountSummary          `json:"user"`
	Effective    []rbac.Permission            `json:"effectivePermissions"`
	RoleDefaults []rbac.Permission            `json:"roleDefaults"`
	Overrides    rbac.OverrideSet             `json:"overrides"`
	Available    []rbac.Permission            `json:"availablePermissions"`
	Categorized  map[string][]rbac.Permission `json:"categorizedPermissions"`
	Statistics   Coverage                     `json:"statistics"`
	IsSuperAdmin bool                         `json:"isSuperadmin"`
	CreatedAt    time.Time                    `json:"createdAt"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
}

// Coverage summarises how much of the vocabulary a set covers.
type Coverage struct {
	Total     int     `json:"total"`
	Granted   int     `json:"granted"`
	Available int     `json:"available"`
	Coverage  float64 `json:"coverage"`
}

// CheckResult answers whether an account holds a permission.
type CheckResult struct {
	User          rbac.AccountSummary `json:"user"`
	Permission    rbac.Permission     `json:"permission"`
	HasPermission bool                `json:"hasPermission"`
	Source        string              `json:"source"`
	Permissions   []rbac.Permission   `json:"permissions"`
}

// Sources reported by Check.
const (
	SourceSuperAdmin = "superadmin"
	SourceGranted    = "granted"
	SourceRevoked    = "revoked"
	SourceRole       = "role"
	SourceNone       = "none"
)

// Catalog returns the vocabulary with the current role defaults.
func (s *Service) Catalog() CatalogView {
	snap := s.resolver.Catalog().Snapshot()
	defaults := make(map[rbac.Role][]rbac.Permission, len(rbac.AllRoles()))
	for _, role := range rbac.AllRoles() {
		defaults[role] = snap.Defaults(role)
	}
	return CatalogView{
		Version:      snap.Version,
		Permissions:  rbac.AllPermissions(),
		Categories:   rbac.Categories(),
		Roles:        rbac.AllRoles(),
		RoleDefaults: defaults,
	}
}

// UserPermissions describes the effective permissions of account id as
// seen by caller.
func (s *Service) UserPermissions(ctx context.Context, caller rbac.Account, id int64) (UserView, error) {
	acc, err := s.manageable(ctx, caller, id)
	if err != nil {
		return UserView{}, err
	}
	set := s.resolver.Resolve(acc)
	effective := set.Sorted()
	available := make([]rbac.Permission, 0, len(rbac.AllPermissions())-len(effective))
	for _, p := range rbac.AllPermissions() {
		if !set.Has(p) {
			available = append(available, p)
		}
	}
	categorized := make(map[string][]rbac.Permission)
	for _, c := range rbac.Categories() {
		for _, p := range c.Permissions {
			if set.Has(p) {
				categorized[c.Key] = append(categorized[c.Key], p)
			}
		}
	}
	return UserView{
		User:         acc.Summary(),
		Effective:    effective,
		RoleDefaults: s.resolver.Catalog().Defaults(acc.Role),
		Overrides:    acc.Overrides.Clone(),
		Available:    available,
		Categorized:  categorized,
		Statistics:   coverageOf(set.Len()),
		IsSuperAdmin: acc.Role == rbac.RoleSuperAdmin,
		CreatedAt:    acc.CreatedAt,
		UpdatedAt:    acc.UpdatedAt,
	}, nil
}

// Check reports whether account id holds p. Plain users may only check
// themselves and admins may not inspect superadmins.
func (s *Service) Check(ctx context.Context, caller rbac.Account, id int64, p rbac.Permission) (CheckResult, error) {
	acc, err := s.manageable(ctx, caller, id)
	if err != nil {
		return CheckResult{}, err
	}
	set := s.resolver.Resolve(acc)
	return CheckResult{
		User:          acc.Summary(),
		Permission:    p,
		HasPermission: set.Has(p),
		Source:        s.source(acc, p),
		Permissions:   set.Sorted(),
	}, nil
}

func (s *Service) source(acc rbac.Account, p rbac.Permission) string {
	switch {
	case acc.Role == rbac.RoleSuperAdmin:
		return SourceSuperAdmin
	case acc.Overrides.IsRevoked(p):
		return SourceRevoked
	case acc.Overrides.IsGranted(p):
		return SourceGranted
	case s.resolver.HasPermission(rbac.Account{Role: acc.Role}, p):
		return SourceRole
	default:
		return SourceNone
	}
}

func coverageOf(granted int) Coverage {
	total := len(rbac.AllPermissions())
	return Coverage{
		Total:     total,
		Granted:   granted,
		Available: total - granted,
		Coverage:  percent(granted, total),
	}
}

// percent rounds to one decimal place.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

// manageable loads account id once caller is allowed to manage it. A plain
// user asking about someone else is refused before the lookup so the reply
// does not reveal whether the account exists.
func (s *Service) manageable(ctx context.Context, caller rbac.Account, id int64) (rbac.Account, error) {
	if caller.Role == rbac.RoleUser && caller.ID != id {
		return rbac.Account{}, s.guard.RequireManage(caller, rbac.Account{ID: id, Role: rbac.RoleUser})
	}
	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return rbac.Account{}, err
	}
	if err := s.guard.RequireManage(caller, acc); err != nil {
		return rbac.Account{}, err
	}
	return acc, nil
}
