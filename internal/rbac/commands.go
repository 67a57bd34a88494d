package rbac

import (
	"fmt"

	"github.com/warden-iam/warden/internal/shared"
)

// Outcome describes what a command changed on an account.
type Outcome struct {
	Changed   bool
	Applied   []Permission
	Unchanged []Permission
	Prior     OverrideSet
	OldRole   Role
	NewRole   Role
}

// Command is a single atomic change to one account. Apply runs against the
// locked account row and must not perform I/O.
type Command interface {
	TargetID() int64
	TargetRole() Role
	Apply(account *Account, snap *Snapshot) (Outcome, error)
}

// GrantCommand adds one permission to an account.
type GrantCommand struct {
	AccountID  int64
	Permission Permission
	Reason     string
}

func (c GrantCommand) TargetID() int64  { return c.AccountID }
func (c GrantCommand) TargetRole() Role { return "" }

// Apply grants the permission unless the account already effectively holds it.
func (c GrantCommand) Apply(account *Account, snap *Snapshot) (Outcome, error) {
	if !c.Permission.Known() {
		return Outcome{}, fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, c.Permission)
	}
	out := Outcome{Prior: account.Overrides.Clone(), OldRole: account.Role, NewRole: account.Role}
	if grantOne(account, snap, c.Permission) {
		out.Changed = true
		out.Applied = []Permission{c.Permission}
	} else {
		out.Unchanged = []Permission{c.Permission}
	}
	return out, nil
}

// RevokeCommand removes one permission from an account.
type RevokeCommand struct {
	AccountID  int64
	Permission Permission
	Reason     string
}

func (c RevokeCommand) TargetID() int64  { return c.AccountID }
func (c RevokeCommand) TargetRole() Role { return "" }

// Apply revokes the permission unless the account does not hold it.
func (c RevokeCommand) Apply(account *Account, snap *Snapshot) (Outcome, error) {
	if !c.Permission.Known() {
		return Outcome{}, fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, c.Permission)
	}
	out := Outcome{Prior: account.Overrides.Clone(), OldRole: account.Role, NewRole: account.Role}
	if revokeOne(account, snap, c.Permission) {
		out.Changed = true
		out.Applied = []Permission{c.Permission}
	} else {
		out.Unchanged = []Permission{c.Permission}
	}
	return out, nil
}

// ResetCommand clears every override of an account.
type ResetCommand struct {
	AccountID int64
	Reason    string
}

func (c ResetCommand) TargetID() int64  { return c.AccountID }
func (c ResetCommand) TargetRole() Role { return "" }

// Apply clears the overrides; Prior carries what was removed.
func (c ResetCommand) Apply(account *Account, _ *Snapshot) (Outcome, error) {
	prior := account.Overrides.clear()
	return Outcome{Changed: !prior.IsEmpty(), Prior: prior, OldRole: account.Role, NewRole: account.Role}, nil
}

// BulkCommand grants or revokes a list of permissions. The list is validated
// as a whole before anything is applied.
type BulkCommand struct {
	AccountID   int64
	Permissions []Permission
	Revoke      bool
	Reason      string
}

func (c BulkCommand) TargetID() int64  { return c.AccountID }
func (c BulkCommand) TargetRole() Role { return "" }

// Apply partitions the list into applied and unchanged tokens.
func (c BulkCommand) Apply(account *Account, snap *Snapshot) (Outcome, error) {
	if len(c.Permissions) == 0 {
		return Outcome{}, fmt.Errorf("%w: permission list is empty", shared.ErrInvalidInput)
	}
	for _, p := range c.Permissions {
		if !p.Known() {
			return Outcome{}, fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, p)
		}
	}
	out := Outcome{
		Prior:     account.Overrides.Clone(),
		OldRole:   account.Role,
		NewRole:   account.Role,
		Applied:   []Permission{},
		Unchanged: []Permission{},
	}
	for _, p := range normalise(c.Permissions) {
		var changed bool
		if c.Revoke {
			changed = revokeOne(account, snap, p)
		} else {
			changed = grantOne(account, snap, p)
		}
		if changed {
			out.Applied = append(out.Applied, p)
		} else {
			out.Unchanged = append(out.Unchanged, p)
		}
	}
	out.Changed = len(out.Applied) > 0
	return out, nil
}

// SetRoleCommand moves an account to another role.
type SetRoleCommand struct {
	AccountID int64
	Role      Role
	Kind      TransitionKind
	Reason    string
}

func (c SetRoleCommand) TargetID() int64  { return c.AccountID }
func (c SetRoleCommand) TargetRole() Role { return c.Role }

// Apply changes the role and clears overrides when the transition demands it.
func (c SetRoleCommand) Apply(account *Account, _ *Snapshot) (Outcome, error) {
	effect, err := Transition(c.Kind, account.Role, c.Role)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Changed: true, OldRole: account.Role, NewRole: c.Role, Prior: account.Overrides.Clone()}
	account.Role = c.Role
	if effect.ResetOverrides {
		account.Overrides.clear()
	}
	return out, nil
}

func grantOne(account *Account, snap *Snapshot, p Permission) bool {
	if holds(snap, *account, p) {
		return false
	}
	account.Overrides.allow(p)
	return true
}

func revokeOne(account *Account, snap *Snapshot, p Permission) bool {
	if !holds(snap, *account, p) {
		return false
	}
	account.Overrides.deny(p)
	return true
}
