package rbac

import (
	"fmt"

	"github.com/warden-iam/warden/internal/shared"
)

// TransitionKind distinguishes the convenience transitions from the generic one.
type TransitionKind string

const (
	TransitionPromote TransitionKind = "promote"
	TransitionDemote  TransitionKind = "demote"
	TransitionSet     TransitionKind = "set"
)

// TransitionEffect lists the side effects a role change must apply.
type TransitionEffect struct {
	ResetOverrides bool
}

// Transition validates a role change and reports its side effects. It does
// not check who is asking; that is the Guard's job.
func Transition(kind TransitionKind, from, to Role) (TransitionEffect, error) {
	if !from.Valid() {
		return TransitionEffect{}, fmt.Errorf("%w: unknown current role %q", shared.ErrInvalidInput, from)
	}
	if !to.Valid() {
		return TransitionEffect{}, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, to)
	}
	switch kind {
	case TransitionPromote:
		if to != RoleAdmin {
			return TransitionEffect{}, fmt.Errorf("%w: promote only targets the admin role", shared.ErrInvalidInput)
		}
		switch from {
		case RoleAdmin:
			return TransitionEffect{}, fmt.Errorf("%w: user is already an admin", shared.ErrConflict)
		case RoleSuperAdmin:
			return TransitionEffect{}, fmt.Errorf("%w: user is already a superadmin", shared.ErrConflict)
		}
	case TransitionDemote:
		if to != RoleUser {
			return TransitionEffect{}, fmt.Errorf("%w: demote only targets the user role", shared.ErrInvalidInput)
		}
		switch from {
		case RoleUser:
			return TransitionEffect{}, fmt.Errorf("%w: user is already a regular user", shared.ErrConflict)
		case RoleSuperAdmin:
			return TransitionEffect{}, fmt.Errorf("%w: a superadmin can only be moved with a role change", shared.ErrForbidden)
		}
	case TransitionSet:
		if from == to {
			return TransitionEffect{}, fmt.Errorf("%w: user already has role %s", shared.ErrConflict, to)
		}
	default:
		return TransitionEffect{}, fmt.Errorf("%w: unknown transition %q", shared.ErrInvalidInput, kind)
	}
	reset := from == RoleSuperAdmin || to == RoleSuperAdmin || to == RoleUser
	return TransitionEffect{ResetOverrides: reset}, nil
}
