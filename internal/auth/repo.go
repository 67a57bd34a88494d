package auth

import (
	"context"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/users"
)

// Repository defines persistence operations for auth module. users.Store
// satisfies it.
type Repository interface {
	Credentials(ctx context.Context, email string) (rbac.Account, string, error)
	TouchLogin(ctx context.Context, id int64) error
	Create(ctx context.Context, in users.NewAccount, check func(rbac.AccountTx) error) (rbac.Account, error)
}

var _ Repository = (*users.Store)(nil)
