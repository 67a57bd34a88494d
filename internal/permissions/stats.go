package permissions

import (
	"context"
	"math"
	"time"

	"github.com/warden-iam/warden/internal/rbac"
)

// CategoryStats is coverage within one category.
type CategoryStats struct {
	Name        string            `json:"name"`
	Total       int               `json:"total"`
	Granted     int               `json:"granted"`
	Coverage    float64           `json:"coverage"`
	Permissions []rbac.Permission `json:"permissions"`
}

// UserStats summarises one account's permissions.
type UserStats struct {
	User       rbac.AccountSummary      `json:"user"`
	Coverage   Coverage                 `json:"stats"`
	ByCategory map[string]CategoryStats `json:"byCategory"`
	Granted    int                      `json:"grantedOverrides"`
	Revoked    int                      `json:"revokedOverrides"`
}

// RoleStats aggregates accounts of one role.
type RoleStats struct {
	Count              int     `json:"count"`
	AveragePermissions float64 `json:"averagePermissions"`
}

// UsageStats is how many accounts hold a permission.
type UsageStats struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// SystemStats aggregates permissions across every account.
type SystemStats struct {
	TotalUsers         int                            `json:"totalUsers"`
	TotalPermissions   int                            `json:"totalPermissions"`
	ByRole             map[rbac.Role]RoleStats        `json:"byRole"`
	PermissionUsage    map[rbac.Permission]UsageStats `json:"permissionUsage"`
	AveragePermissions float64                        `json:"averagePermissions"`
	CatalogVersion     int64                          `json:"catalogVersion"`
	GeneratedAt        time.Time                      `json:"timestamp"`
}

// UserStats computes coverage for account id.
func (s *Service) UserStats(ctx context.Context, caller rbac.Account, id int64) (UserStats, error) {
	acc, err := s.manageable(ctx, caller, id)
	if err != nil {
		return UserStats{}, err
	}
	set := s.resolver.Resolve(acc)
	byCategory := make(map[string]CategoryStats, len(rbac.Categories()))
	for _, c := range rbac.Categories() {
		granted := make([]rbac.Permission, 0, len(c.Permissions))
		for _, p := range c.Permissions {
			if set.Has(p) {
				granted = append(granted, p)
			}
		}
		byCategory[c.Key] = CategoryStats{
			Name:        c.Name,
			Total:       len(c.Permissions),
			Granted:     len(granted),
			Coverage:    percent(len(granted), len(c.Permissions)),
			Permissions: granted,
		}
	}
	return UserStats{
		User:       acc.Summary(),
		Coverage:   coverageOf(set.Len()),
		ByCategory: byCategory,
		Granted:    len(acc.Overrides.Granted),
		Revoked:    len(acc.Overrides.Revoked),
	}, nil
}

// SystemStats resolves every account against the current catalog, so
// template changes show up immediately.
func (s *Service) SystemStats(ctx context.Context) (SystemStats, error) {
	accounts, err := s.store.ListAll(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	snap := s.resolver.Catalog().Snapshot()
	all := rbac.AllPermissions()

	byRole := make(map[rbac.Role]RoleStats, len(rbac.AllRoles()))
	for _, role := range rbac.AllRoles() {
		byRole[role] = RoleStats{}
	}
	roleTotals := make(map[rbac.Role]int, len(rbac.AllRoles()))
	usage := make(map[rbac.Permission]int, len(all))
	total := 0
	for _, acc := range accounts {
		set := s.resolver.Resolve(acc)
		rs := byRole[acc.Role]
		rs.Count++
		byRole[acc.Role] = rs
		roleTotals[acc.Role] += set.Len()
		total += set.Len()
		for p := range set {
			usage[p]++
		}
	}
	for role, rs := range byRole {
		rs.AveragePermissions = average(roleTotals[role], rs.Count)
		byRole[role] = rs
	}
	permissionUsage := make(map[rbac.Permission]UsageStats, len(all))
	for _, p := range all {
		permissionUsage[p] = UsageStats{Count: usage[p], Percentage: percent(usage[p], len(accounts))}
	}
	return SystemStats{
		TotalUsers:         len(accounts),
		TotalPermissions:   len(all),
		ByRole:             byRole,
		PermissionUsage:    permissionUsage,
		AveragePermissions: average(total, len(accounts)),
		CatalogVersion:     snap.Version,
		GeneratedAt:        time.Now().UTC(),
	}, nil
}

// RoleCounts returns how many accounts hold each role.
func (s *Service) RoleCounts(ctx context.Context) (map[rbac.Role]int, error) {
	counts, err := s.store.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	for _, role := range rbac.AllRoles() {
		if _, ok := counts[role]; !ok {
			counts[role] = 0
		}
	}
	return counts, nil
}

func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(n)*10) / 10
}
