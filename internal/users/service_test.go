package users_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/audit/audittest"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
	"github.com/warden-iam/warden/internal/users"
	"github.com/warden-iam/warden/internal/users/userstest"
)

var (
	root  = rbac.Account{ID: 1, Name: "Root", Email: "root@example.com", Role: rbac.RoleSuperAdmin, IsActive: true}
	admin = rbac.Account{ID: 2, Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin, IsActive: true}
	user  = rbac.Account{ID: 3, Name: "Uli", Email: "uli@example.com", Role: rbac.RoleUser, IsActive: true}
)

func newService(t *testing.T, policy rbac.Policy) (*users.Service, *userstest.MemStore, *audittest.Recorder) {
	t.Helper()
	store := userstest.NewMemStore(root, admin, user)
	rec := &audittest.Recorder{}
	guard := rbac.NewGuard(rbac.NewResolver(rbac.NewCatalog(nil)), policy, nil)
	svc := users.NewService(users.Config{Store: store, Guard: guard, Recorder: rec, BcryptCost: bcrypt.MinCost})
	return svc, store, rec
}

func TestCreateDefaultsToUserAndAudits(t *testing.T) {
	svc, store, rec := newService(t, rbac.Policy{})

	detail, err := svc.Create(context.Background(), admin, users.CreateInput{
		Name: "Nia", Email: "Nia@Example.com", Password: "password1",
	}, shared.RequestInfo{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, detail.Role)
	assert.True(t, detail.IsActive)
	assert.Empty(t, detail.Permissions)

	_, hash, err := store.Credentials(context.Background(), "nia@example.com")
	require.NoError(t, err)
	assert.True(t, shared.CheckPassword(hash, "password1"))

	entry, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, audit.ActionCreateUser, entry.Action)
	assert.Equal(t, admin.ID, entry.Actor.ID)
	assert.Equal(t, detail.ID, entry.Target.ID)
	assert.Equal(t, "10.0.0.1", entry.Request.IP)
}

func TestCreateSuperadminRequiresSuperadmin(t *testing.T) {
	svc, _, rec := newService(t, rbac.Policy{})

	_, err := svc.Create(context.Background(), admin, users.CreateInput{
		Name: "Eve", Email: "eve@example.com", Password: "password1", Role: rbac.RoleSuperAdmin,
	}, shared.RequestInfo{})
	assert.ErrorIs(t, err, rbac.ErrEscalation)
	assert.Empty(t, rec.Entries())

	detail, err := svc.Create(context.Background(), root, users.CreateInput{
		Name: "Sam", Email: "sam@example.com", Password: "password1", Role: rbac.RoleSuperAdmin,
	}, shared.RequestInfo{})
	require.NoError(t, err)
	assert.Len(t, detail.Permissions, len(rbac.AllPermissions()))
}

func TestCreateRespectsSuperadminCap(t *testing.T) {
	svc, _, _ := newService(t, rbac.Policy{MaxSuperAdmins: 1})

	_, err := svc.Create(context.Background(), root, users.CreateInput{
		Name: "Sam", Email: "sam@example.com", Password: "password1", Role: rbac.RoleSuperAdmin,
	}, shared.RequestInfo{})
	assert.ErrorIs(t, err, rbac.ErrSuperAdminLimit)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestSuperadminCapCountsActiveAccounts(t *testing.T) {
	svc, store, _ := newService(t, rbac.Policy{MaxSuperAdmins: 2})
	ctx := context.Background()
	retired := rbac.Account{ID: 9, Name: "Ret", Email: "ret@example.com", Role: rbac.RoleSuperAdmin}
	store.Put(retired, "")

	_, err := svc.Create(ctx, root, users.CreateInput{
		Name: "Sam", Email: "sam@example.com", Password: "password1", Role: rbac.RoleSuperAdmin,
	}, shared.RequestInfo{})
	require.NoError(t, err, "an inactive superadmin does not take a seat")

	_, err = svc.SetActive(ctx, root, retired.ID, true, shared.RequestInfo{})
	assert.ErrorIs(t, err, rbac.ErrSuperAdminLimit)
	acc, err := store.Get(ctx, retired.ID)
	require.NoError(t, err)
	assert.False(t, acc.IsActive)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newService(t, rbac.Policy{})

	_, err := svc.Create(context.Background(), admin, users.CreateInput{
		Name: "Dup", Email: "ULI@example.com", Password: "password1",
	}, shared.RequestInfo{})
	assert.ErrorIs(t, err, users.ErrEmailTaken)
}

func TestUpdateGates(t *testing.T) {
	svc, _, rec := newService(t, rbac.Policy{})
	name := "Renamed"

	_, err := svc.Update(context.Background(), admin, admin.ID, users.UpdateInput{Name: &name}, shared.RequestInfo{})
	assert.ErrorIs(t, err, rbac.ErrSelfModification)

	_, err = svc.Update(context.Background(), admin, root.ID, users.UpdateInput{Name: &name}, shared.RequestInfo{})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	detail, err := svc.Update(context.Background(), admin, user.ID, users.UpdateInput{Name: &name}, shared.RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Name)

	entry, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, audit.ActionUpdateUser, entry.Action)
	assert.Len(t, rec.Entries(), 1)
}

func TestUpdateWithoutChangeIsNotAudited(t *testing.T) {
	svc, store, rec := newService(t, rbac.Policy{})
	same := user.Name

	_, err := svc.Update(context.Background(), admin, user.ID, users.UpdateInput{Name: &same}, shared.RequestInfo{})
	require.NoError(t, err)
	assert.Empty(t, rec.Entries())
	assert.Zero(t, store.Writes)
}

func TestSetActive(t *testing.T) {
	svc, store, rec := newService(t, rbac.Policy{})
	ctx := context.Background()

	_, err := svc.SetActive(ctx, admin, admin.ID, false, shared.RequestInfo{})
	assert.ErrorIs(t, err, rbac.ErrSelfModification)

	_, err = svc.SetActive(ctx, admin, user.ID, true, shared.RequestInfo{})
	assert.ErrorIs(t, err, shared.ErrConflict)

	detail, err := svc.SetActive(ctx, admin, user.ID, false, shared.RequestInfo{})
	require.NoError(t, err)
	assert.False(t, detail.IsActive)
	acc, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, acc.IsActive)

	entry, _ := rec.Last()
	assert.Equal(t, audit.ActionDeactivateUser, entry.Action)

	_, err = svc.SetActive(ctx, admin, user.ID, true, shared.RequestInfo{})
	require.NoError(t, err)
	entry, _ = rec.Last()
	assert.Equal(t, audit.ActionActivateUser, entry.Action)
}

func TestDelete(t *testing.T) {
	svc, store, rec := newService(t, rbac.Policy{})
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, admin, user.ID, shared.RequestInfo{}), rbac.ErrRoleRequired)
	assert.ErrorIs(t, svc.Delete(ctx, root, root.ID, shared.RequestInfo{}), rbac.ErrSelfModification)
	assert.ErrorIs(t, svc.Delete(ctx, root, 404, shared.RequestInfo{}), shared.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, root, user.ID, shared.RequestInfo{}))
	_, err := store.Get(ctx, user.ID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	entry, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, audit.ActionDeleteUser, entry.Action)
	assert.Equal(t, rbac.RoleUser, entry.OldRole)
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _, _ := newService(t, rbac.Policy{})

	page, err := svc.List(context.Background(), users.Filters{Role: rbac.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, page.Accounts, 1)
	assert.Equal(t, admin.ID, page.Accounts[0].ID)

	page, err = svc.List(context.Background(), users.Filters{PerPage: 2, Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Accounts, 1)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	_, err = svc.List(context.Background(), users.Filters{Role: "owner"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestGetRequiresManage(t *testing.T) {
	svc, _, _ := newService(t, rbac.Policy{})

	_, err := svc.Get(context.Background(), admin, root.ID)
	assert.ErrorIs(t, err, rbac.ErrCannotManage)

	detail, err := svc.Get(context.Background(), admin, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, detail.Email)
}
