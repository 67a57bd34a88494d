package rbac

import (
	"fmt"

	"github.com/warden-iam/warden/internal/shared"
)

var (
	// ErrSelfModification is returned when a caller targets its own account.
	ErrSelfModification = fmt.Errorf("%w: cannot modify your own account", shared.ErrForbidden)
	// ErrEscalation is returned when a non-superadmin touches superadmin accounts.
	ErrEscalation = fmt.Errorf("%w: only a superadmin can manage superadmin accounts", shared.ErrForbidden)
	// ErrRoleRequired is returned by the role gate.
	ErrRoleRequired = fmt.Errorf("%w: insufficient role", shared.ErrForbidden)
	// ErrPermissionRequired is returned by the permission gate.
	ErrPermissionRequired = fmt.Errorf("%w: missing permission", shared.ErrForbidden)
	// ErrCannotManage is returned when canManageUser denies a caller.
	ErrCannotManage = fmt.Errorf("%w: cannot manage this account", shared.ErrForbidden)
	// ErrSuperAdminLimit is returned when the superadmin cap would be exceeded.
	ErrSuperAdminLimit = fmt.Errorf("%w: superadmin limit reached", shared.ErrConflict)
)

// Gate names reported to the decision observer.
const (
	GateAuthenticate  = "authenticate"
	GateRole          = "role"
	GatePermission    = "permission"
	GateSelf          = "self"
	GateEscalation    = "escalation"
	GateManage        = "manage"
	GateSuperAdminCap = "superadmin_cap"
)

// Policy carries deployment-level authorization settings.
type Policy struct {
	// MaxSuperAdmins caps active superadmin accounts; zero means unlimited.
	MaxSuperAdmins int
}

// DecisionObserver receives every gate outcome.
type DecisionObserver interface {
	ObserveDecision(gate string, allowed bool)
}

// Guard evaluates authorization gates. Checks are pure reads.
type Guard struct {
	resolver *Resolver
	policy   Policy
	observer DecisionObserver
}

// NewGuard builds a Guard. observer may be nil.
func NewGuard(resolver *Resolver, policy Policy, observer DecisionObserver) *Guard {
	return &Guard{resolver: resolver, policy: policy, observer: observer}
}

// Resolver returns the resolver backing the guard.
func (g *Guard) Resolver() *Resolver {
	return g.resolver
}

// Policy returns the configured policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// RequireRole denies callers whose role is not in roles.
func (g *Guard) RequireRole(caller Account, roles ...Role) error {
	for _, role := range roles {
		if caller.Role == role {
			return g.observe(GateRole, nil)
		}
	}
	return g.observe(GateRole, fmt.Errorf("%w: requires %v", ErrRoleRequired, roles))
}

// RequireAll denies callers missing any of perms.
func (g *Guard) RequireAll(caller Account, perms ...Permission) error {
	if g.resolver.HasAll(caller, perms...) {
		return g.observe(GatePermission, nil)
	}
	return g.observe(GatePermission, fmt.Errorf("%w: requires all of %v", ErrPermissionRequired, perms))
}

// RequireAny denies callers holding none of perms.
func (g *Guard) RequireAny(caller Account, perms ...Permission) error {
	if g.resolver.HasAny(caller, perms...) {
		return g.observe(GatePermission, nil)
	}
	return g.observe(GatePermission, fmt.Errorf("%w: requires one of %v", ErrPermissionRequired, perms))
}

// CheckSelf denies operations where the caller targets its own account.
func (g *Guard) CheckSelf(caller Account, targetID int64) error {
	if caller.ID == targetID {
		return g.observe(GateSelf, ErrSelfModification)
	}
	return g.observe(GateSelf, nil)
}

// CheckEscalation denies non-superadmin callers touching an account whose
// current role or requested role is superadmin. newRole may be empty.
func (g *Guard) CheckEscalation(caller Account, target Account, newRole Role) error {
	if caller.Role == RoleSuperAdmin {
		return g.observe(GateEscalation, nil)
	}
	if target.Role == RoleSuperAdmin || newRole == RoleSuperAdmin {
		return g.observe(GateEscalation, ErrEscalation)
	}
	return g.observe(GateEscalation, nil)
}

// CheckSuperAdminCap denies adding a superadmin when current already meets the cap.
func (g *Guard) CheckSuperAdminCap(current int) error {
	if g.policy.MaxSuperAdmins > 0 && current >= g.policy.MaxSuperAdmins {
		return g.observe(GateSuperAdminCap, fmt.Errorf("%w (max %d)", ErrSuperAdminLimit, g.policy.MaxSuperAdmins))
	}
	return g.observe(GateSuperAdminCap, nil)
}

// CanManageUser reports whether caller may manage target: users manage only
// themselves, admins manage anyone but superadmins, superadmins manage anyone.
func (g *Guard) CanManageUser(caller Account, target Account) bool {
	switch caller.Role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return target.Role != RoleSuperAdmin
	case RoleUser:
		return caller.ID == target.ID
	default:
		return false
	}
}

// RequireManage wraps CanManageUser as an error-returning gate.
func (g *Guard) RequireManage(caller Account, target Account) error {
	if g.CanManageUser(caller, target) {
		return g.observe(GateManage, nil)
	}
	return g.observe(GateManage, ErrCannotManage)
}

// AuthorizeMutation runs the self and escalation gates for a change to target.
func (g *Guard) AuthorizeMutation(caller Account, target Account, newRole Role) error {
	if err := g.CheckSelf(caller, target.ID); err != nil {
		return err
	}
	return g.CheckEscalation(caller, target, newRole)
}

// ObserveAuthentication reports the outcome of the authentication step.
func (g *Guard) ObserveAuthentication(err error) error {
	return g.observe(GateAuthenticate, err)
}

func (g *Guard) observe(gate string, err error) error {
	if g.observer != nil {
		g.observer.ObserveDecision(gate, err == nil)
	}
	return err
}
