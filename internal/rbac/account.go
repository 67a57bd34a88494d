package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/warden-iam/warden/internal/shared"
)

// Account is the identity entity the permission subsystem reasons about.
type Account struct {
	ID          int64
	Name        string
	Email       string
	Role        Role
	Overrides   OverrideSet
	IsActive    bool
	CreatedBy   *int64
	UpdatedBy   *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// AccountTx exposes reads that must run inside the transaction holding an
// account row lock.
type AccountTx interface {
	// CountSuperAdmins serializes superadmin-count checks across transactions.
	CountSuperAdmins(ctx context.Context) (int, error)
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
}

// Summary returns the public view of a.
func (a Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role, IsActive: a.IsActive}
}

// OverrideSet holds per-account exceptions on top of role defaults.
// A permission is never in both lists.
type OverrideSet struct {
	Granted []Permission `json:"granted"`
	Revoked []Permission `json:"revoked"`
}

// Clone returns a deep copy of o.
func (o OverrideSet) Clone() OverrideSet {
	return OverrideSet{
		Granted: append([]Permission{}, o.Granted...),
		Revoked: append([]Permission{}, o.Revoked...),
	}
}

// IsEmpty reports whether there are no overrides.
func (o OverrideSet) IsEmpty() bool {
	return len(o.Granted) == 0 && len(o.Revoked) == 0
}

// IsGranted reports whether p is explicitly granted.
func (o OverrideSet) IsGranted(p Permission) bool {
	return contains(o.Granted, p)
}

// IsRevoked reports whether p is explicitly revoked.
func (o OverrideSet) IsRevoked(p Permission) bool {
	return contains(o.Revoked, p)
}

// Validate checks that both lists hold known tokens and are disjoint.
func (o OverrideSet) Validate() error {
	for _, p := range o.Granted {
		if !p.Known() {
			return fmt.Errorf("%w: unknown granted permission %q", shared.ErrInvalidInput, p)
		}
		if o.IsRevoked(p) {
			return fmt.Errorf("%w: permission %q both granted and revoked", shared.ErrInvalidInput, p)
		}
	}
	for _, p := range o.Revoked {
		if !p.Known() {
			return fmt.Errorf("%w: unknown revoked permission %q", shared.ErrInvalidInput, p)
		}
	}
	return nil
}

func (o *OverrideSet) allow(p Permission) {
	o.Revoked = without(o.Revoked, p)
	if !contains(o.Granted, p) {
		o.Granted = append(o.Granted, p)
	}
}

func (o *OverrideSet) deny(p Permission) {
	o.Granted = without(o.Granted, p)
	if !contains(o.Revoked, p) {
		o.Revoked = append(o.Revoked, p)
	}
}

// clear empties both lists and returns the prior state.
func (o *OverrideSet) clear() OverrideSet {
	prior := o.Clone()
	o.Granted = []Permission{}
	o.Revoked = []Permission{}
	return prior
}

func contains(perms []Permission, p Permission) bool {
	for _, candidate := range perms {
		if candidate == p {
			return true
		}
	}
	return false
}

func without(perms []Permission, p Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, candidate := range perms {
		if candidate != p {
			out = append(out, candidate)
		}
	}
	return out
}
