package users

import (
	"fmt"
	"slices"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// ErrEmailTaken reports a duplicate email after case folding.
var ErrEmailTaken = fmt.Errorf("%w: email already registered", shared.ErrConflict)

// Filters narrows account listings.
type Filters struct {
	Role    rbac.Role
	Active  *bool
	Search  string
	Page    int
	PerPage int
}

// NewAccount holds the fields needed to insert an account.
type NewAccount struct {
	Name         string
	Email        string
	PasswordHash string
	Role         rbac.Role
	CreatedBy    *int64
}

// Page is a slice of accounts with pagination metadata.
type Page struct {
	Accounts   []rbac.AccountSummary `json:"accounts"`
	Pagination shared.Pagination     `json:"pagination"`
}

// sameState reports whether the persisted columns of a and b match.
func sameState(a, b rbac.Account) bool {
	return a.Name == b.Name &&
		a.Email == b.Email &&
		a.Role == b.Role &&
		a.IsActive == b.IsActive &&
		slices.Equal(a.Overrides.Granted, b.Overrides.Granted) &&
		slices.Equal(a.Overrides.Revoked, b.Overrides.Revoked)
}
