// Package userstest provides an in-memory account store for tests.
package userstest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
	"github.com/warden-iam/warden/internal/users"
)

// MemStore mirrors users.Store semantics with a single mutex standing in
// for row and advisory locks.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]rbac.Account
	hashes   map[int64]string
	// Writes counts persisted mutations.
	Writes int
	// Err, when set, is returned by every operation.
	Err error
}

// NewMemStore seeds a store with accounts.
func NewMemStore(accounts ...rbac.Account) *MemStore {
	s := &MemStore{accounts: map[int64]rbac.Account{}, hashes: map[int64]string{}}
	for _, acc := range accounts {
		s.Put(acc, "")
	}
	return s
}

// Put inserts or replaces acc with an optional password hash.
func (s *MemStore) Put(acc rbac.Account, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc.Overrides = acc.Overrides.Clone()
	s.accounts[acc.ID] = acc
	if hash != "" {
		s.hashes[acc.ID] = hash
	}
	if acc.ID > s.nextID {
		s.nextID = acc.ID
	}
}

// Get implements rbac.AccountLookup.
func (s *MemStore) Get(ctx context.Context, id int64) (rbac.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.Account{}, s.Err
	}
	acc, ok := s.accounts[id]
	if !ok {
		return rbac.Account{}, shared.ErrNotFound
	}
	acc.Overrides = acc.Overrides.Clone()
	return acc, nil
}

// Mutate applies fn under the store lock.
func (s *MemStore) Mutate(ctx context.Context, id int64, fn func(*rbac.Account, rbac.AccountTx) error) (rbac.Account, rbac.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.Account{}, rbac.Account{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return rbac.Account{}, rbac.Account{}, err
	}
	before, ok := s.accounts[id]
	if !ok {
		return rbac.Account{}, rbac.Account{}, shared.ErrNotFound
	}
	working := before
	working.Overrides = before.Overrides.Clone()
	if err := fn(&working, lockedView{s}); err != nil {
		return rbac.Account{}, rbac.Account{}, err
	}
	if working.Email != before.Email && s.emailTaken(working.Email, id) {
		return rbac.Account{}, rbac.Account{}, users.ErrEmailTaken
	}
	if unchanged(before, working) {
		return before, before, nil
	}
	working.UpdatedAt = time.Now().UTC()
	s.accounts[id] = working
	s.Writes++
	return before, working, nil
}

// Create inserts an account after running check.
func (s *MemStore) Create(ctx context.Context, in users.NewAccount, check func(rbac.AccountTx) error) (rbac.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.Account{}, s.Err
	}
	if check != nil {
		if err := check(lockedView{s}); err != nil {
			return rbac.Account{}, err
		}
	}
	if s.emailTaken(in.Email, 0) {
		return rbac.Account{}, users.ErrEmailTaken
	}
	s.nextID++
	now := time.Now().UTC()
	acc := rbac.Account{
		ID:        s.nextID,
		Name:      in.Name,
		Email:     strings.TrimSpace(in.Email),
		Role:      in.Role,
		IsActive:  true,
		CreatedBy: in.CreatedBy,
		UpdatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
		Overrides: rbac.OverrideSet{Granted: []rbac.Permission{}, Revoked: []rbac.Permission{}},
	}
	s.accounts[acc.ID] = acc
	s.hashes[acc.ID] = in.PasswordHash
	s.Writes++
	return acc, nil
}

// Delete removes an account.
func (s *MemStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.accounts[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.hashes, id)
	return nil
}

// ListAll returns every account ordered by id.
func (s *MemStore) ListAll(ctx context.Context) ([]rbac.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.sorted(), nil
}

// List applies role, active and search filters, then pages by id.
func (s *MemStore) List(ctx context.Context, filters users.Filters) ([]rbac.Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var matched []rbac.Account
	search := strings.ToLower(strings.TrimSpace(filters.Search))
	for _, acc := range s.sorted() {
		if filters.Role != "" && acc.Role != filters.Role {
			continue
		}
		if filters.Active != nil && acc.IsActive != *filters.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(acc.Name+" "+acc.Email), search) {
			continue
		}
		matched = append(matched, acc)
	}
	start := min((filters.Page-1)*filters.PerPage, len(matched))
	end := min(start+filters.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

// CountByRole counts accounts per role.
func (s *MemStore) CountByRole(ctx context.Context) (map[rbac.Role]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	counts := map[rbac.Role]int{}
	for _, acc := range s.accounts {
		counts[acc.Role]++
	}
	return counts, nil
}

// Credentials looks an account up by folded email.
func (s *MemStore) Credentials(ctx context.Context, email string) (rbac.Account, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.Account{}, "", s.Err
	}
	key := shared.FoldEmail(email)
	for id, acc := range s.accounts {
		if shared.FoldEmail(acc.Email) == key {
			return acc, s.hashes[id], nil
		}
	}
	return rbac.Account{}, "", shared.ErrNotFound
}

// TouchLogin stamps the last login time.
func (s *MemStore) TouchLogin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	now := time.Now().UTC()
	acc.LastLoginAt = &now
	s.accounts[id] = acc
	return nil
}

func (s *MemStore) sorted() []rbac.Account {
	out := make([]rbac.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		acc.Overrides = acc.Overrides.Clone()
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b rbac.Account) int { return int(a.ID - b.ID) })
	return out
}

func (s *MemStore) emailTaken(email string, except int64) bool {
	key := shared.FoldEmail(email)
	for id, acc := range s.accounts {
		if id != except && shared.FoldEmail(acc.Email) == key {
			return true
		}
	}
	return false
}

func unchanged(a, b rbac.Account) bool {
	return a.Name == b.Name && a.Email == b.Email && a.Role == b.Role && a.IsActive == b.IsActive &&
		slices.Equal(a.Overrides.Granted, b.Overrides.Granted) &&
		slices.Equal(a.Overrides.Revoked, b.Overrides.Revoked)
}

type lockedView struct {
	s *MemStore
}

func (v lockedView) CountSuperAdmins(ctx context.Context) (int, error) {
	n := 0
	for _, acc := range v.s.accounts {
		if acc.Role == rbac.RoleSuperAdmin && acc.IsActive {
			n++
		}
	}
	return n, nil
}
