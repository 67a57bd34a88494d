// Package rbactest provides an in-memory identity provider and account
// directory for handler tests.
package rbactest

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

const tokenPrefix = "token-"

// Token returns the bearer token Directory accepts for account id.
func Token(id int64) string {
	return tokenPrefix + strconv.FormatInt(id, 10)
}

// Tokens implements rbac.IdentityProvider for tokens minted by Token.
type Tokens struct{}

// Verify accepts tokens minted by Token.
func (Tokens) Verify(ctx context.Context, token string) (rbac.Identity, error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return rbac.Identity{}, shared.ErrUnauthenticated
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return rbac.Identity{}, shared.ErrUnauthenticated
	}
	return rbac.Identity{AccountID: id, TokenID: token}, nil
}

// Directory implements rbac.AccountLookup.
type Directory struct {
	mu       sync.RWMutex
	accounts map[int64]rbac.Account
}

// NewDirectory seeds a directory with accounts.
func NewDirectory(accounts ...rbac.Account) *Directory {
	d := &Directory{accounts: make(map[int64]rbac.Account, len(accounts))}
	for _, acc := range accounts {
		d.accounts[acc.ID] = acc
	}
	return d
}

// Put inserts or replaces acc.
func (d *Directory) Put(acc rbac.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[acc.ID] = acc
}

// Get returns the stored account or shared.ErrNotFound.
func (d *Directory) Get(ctx context.Context, id int64) (rbac.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[id]
	if !ok {
		return rbac.Account{}, shared.ErrNotFound
	}
	return acc, nil
}

// Guard returns a guard over the built-in catalog with no superadmin cap.
func Guard() *rbac.Guard {
	return rbac.NewGuard(rbac.NewResolver(rbac.NewCatalog(nil)), rbac.Policy{}, nil)
}

// Middleware builds authentication middleware that resolves callers from accounts.
func Middleware(accounts rbac.AccountLookup, guard *rbac.Guard) *rbac.Middleware {
	if guard == nil {
		guard = Guard()
	}
	return rbac.NewMiddleware(rbac.MiddlewareConfig{
		Identity: Tokens{},
		Accounts: accounts,
		Guard:    guard,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}
