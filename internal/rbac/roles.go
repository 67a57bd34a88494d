package rbac

import (
	"fmt"
	"strings"

	"github.com/warden-iam/warden/internal/shared"
)

// Role is a coarse privilege tier assigned to an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// AllRoles returns every role ordered by privilege.
func AllRoles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleSuperAdmin}
}

// ParseRole validates and normalises a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, raw)
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the privilege rank; unknown roles rank zero.
func (r Role) Rank() int {
	return roleRank[r]
}

// IsAtLeast reports whether r is at or above other in the privilege order.
func (r Role) IsAtLeast(other Role) bool {
	return r.Rank() >= other.Rank() && r.Valid()
}

func (r Role) String() string {
	return string(r)
}
