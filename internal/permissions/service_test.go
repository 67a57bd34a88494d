package permissions_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/audit/audittest"
	"github.com/warden-iam/warden/internal/permissions"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
	"github.com/warden-iam/warden/internal/users/userstest"
)

var (
	root  = rbac.Account{ID: 1, Name: "Root", Email: "root@example.com", Role: rbac.RoleSuperAdmin, IsActive: true}
	admin = rbac.Account{ID: 2, Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin, IsActive: true}
	user  = rbac.Account{ID: 3, Name: "Uli", Email: "uli@example.com", Role: rbac.RoleUser, IsActive: true}
	peer  = rbac.Account{ID: 4, Name: "Pia", Email: "pia@example.com", Role: rbac.RoleAdmin, IsActive: true}
)

type fixture struct {
	svc     *permissions.Service
	store   *userstest.MemStore
	rec     *audittest.Recorder
	catalog *rbac.Catalog
}

func newFixture(t *testing.T, policy rbac.Policy) fixture {
	t.Helper()
	catalog := rbac.NewCatalog(nil)
	guard := rbac.NewGuard(rbac.NewResolver(catalog), policy, nil)
	store := userstest.NewMemStore(root, admin, user, peer)
	rec := &audittest.Recorder{}
	svc := permissions.NewService(permissions.Config{Store: store, Guard: guard, Recorder: rec})
	return fixture{svc: svc, store: store, rec: rec, catalog: catalog}
}

func (f fixture) account(t *testing.T, id int64) rbac.Account {
	t.Helper()
	acc, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

var noReq = shared.RequestInfo{}

func TestGrantAddsOverrideAndAudits(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	change, err := f.svc.Grant(ctx, admin, user.ID, rbac.PermCreateContent, "writer", shared.RequestInfo{IP: "10.1.1.1", UserAgent: "curl"})
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Empty(t, change.Before)
	assert.Equal(t, []rbac.Permission{rbac.PermCreateContent}, change.After)
	assert.Equal(t, []rbac.Permission{rbac.PermCreateContent}, f.account(t, user.ID).Overrides.Granted)
	assert.Equal(t, admin.ID, *f.account(t, user.ID).UpdatedBy)

	entry, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, audit.ActionGrantPermission, entry.Action)
	assert.Equal(t, admin.ID, entry.Actor.ID)
	assert.Equal(t, user.ID, entry.Target.ID)
	assert.Equal(t, "writer", entry.Reason)
	assert.Equal(t, []rbac.Permission{rbac.PermCreateContent}, entry.Permissions)
	assert.Equal(t, "10.1.1.1", entry.Request.IP)
}

func TestGrantOfEffectivePermissionIsConflict(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Grant(context.Background(), root, peer.ID, rbac.PermManageUsers, "", noReq)
	assert.ErrorIs(t, err, permissions.ErrAlreadyGranted)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Empty(t, f.rec.Entries())
	assert.Zero(t, f.store.Writes)
	assert.Empty(t, f.account(t, peer.ID).Overrides.Granted)
}

func TestRevokeOfMissingPermissionIsConflict(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Revoke(context.Background(), admin, user.ID, rbac.PermExportData, "", noReq)
	assert.ErrorIs(t, err, permissions.ErrNotHeld)
	assert.Empty(t, f.rec.Entries())
}

func TestRevokeRoleDefaultThenGrantBack(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	change, err := f.svc.Revoke(ctx, root, peer.ID, rbac.PermDeleteContent, "", noReq)
	require.NoError(t, err)
	assert.NotContains(t, change.After, rbac.PermDeleteContent)
	assert.Contains(t, change.Before, rbac.PermDeleteContent)
	assert.Equal(t, []rbac.Permission{rbac.PermDeleteContent}, f.account(t, peer.ID).Overrides.Revoked)

	change, err = f.svc.Grant(ctx, root, peer.ID, rbac.PermDeleteContent, "", noReq)
	require.NoError(t, err)
	assert.Contains(t, change.After, rbac.PermDeleteContent)
	acc := f.account(t, peer.ID)
	assert.Empty(t, acc.Overrides.Revoked)
	assert.Equal(t, []rbac.Permission{rbac.PermDeleteContent}, acc.Overrides.Granted)
}

func TestUnknownPermissionIsInvalidInput(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Grant(context.Background(), admin, user.ID, rbac.Permission("launch_rockets"), "", noReq)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Zero(t, f.store.Writes)
}

func TestSelfModificationIsForbidden(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Grant(context.Background(), admin, admin.ID, rbac.PermExportData, "", noReq)
	assert.ErrorIs(t, err, rbac.ErrSelfModification)

	_, err = f.svc.ChangeRole(context.Background(), root, root.ID, rbac.TransitionSet, rbac.RoleAdmin, "", noReq)
	assert.ErrorIs(t, err, rbac.ErrSelfModification)
}

func TestEscalationGate(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()
	other := rbac.Account{ID: 9, Name: "Sol", Email: "sol@example.com", Role: rbac.RoleSuperAdmin, IsActive: true}
	f.store.Put(other, "")

	_, err := f.svc.Revoke(ctx, admin, other.ID, rbac.PermExportData, "", noReq)
	assert.ErrorIs(t, err, rbac.ErrEscalation)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.ChangeRole(ctx, admin, user.ID, rbac.TransitionSet, rbac.RoleSuperAdmin, "", noReq)
	assert.ErrorIs(t, err, rbac.ErrEscalation)
	assert.Equal(t, rbac.RoleUser, f.account(t, user.ID).Role)

	_, err = f.svc.Revoke(ctx, root, other.ID, rbac.PermExportData, "", noReq)
	require.NoError(t, err)
	view, err := f.svc.UserPermissions(ctx, root, other.ID)
	require.NoError(t, err)
	assert.Len(t, view.Effective, len(rbac.AllPermissions()), "superadmin ignores overrides")
}

func TestResetRestoresDefaults(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, root, peer.ID, rbac.PermExportData, "", noReq)
	require.NoError(t, err)
	_, err = f.svc.Revoke(ctx, root, peer.ID, rbac.PermPublishContent, "", noReq)
	require.NoError(t, err)

	change, err := f.svc.Reset(ctx, root, peer.ID, "cleanup", noReq)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, f.catalog.Defaults(rbac.RoleAdmin), change.After)
	assert.True(t, f.account(t, peer.ID).Overrides.IsEmpty())

	entry, _ := f.rec.Last()
	assert.Equal(t, audit.ActionResetPermissions, entry.Action)
	assert.ElementsMatch(t, []rbac.Permission{rbac.PermExportData, rbac.PermPublishContent}, entry.Permissions)

	entries := len(f.rec.Entries())
	change, err = f.svc.Reset(ctx, root, peer.ID, "", noReq)
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Len(t, f.rec.Entries(), entries)
}

func TestBulkPartitions(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	change, err := f.svc.Bulk(context.Background(), root, peer.ID,
		[]rbac.Permission{rbac.PermManageUsers, rbac.PermExportData, rbac.PermManageRoles}, false, "", noReq)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Permission{rbac.PermManageRoles, rbac.PermExportData}, change.Applied)
	assert.Equal(t, []rbac.Permission{rbac.PermManageUsers}, change.Unchanged)

	entry, _ := f.rec.Last()
	assert.Equal(t, audit.ActionBulkGrantPermissions, entry.Action)
	assert.Equal(t, change.Applied, entry.Permissions)

	change, err = f.svc.Bulk(context.Background(), root, peer.ID,
		[]rbac.Permission{rbac.PermManageRoles, rbac.PermSendNotifications}, true, "", noReq)
	require.NoError(t, err)
	assert.Len(t, change.Applied, 2)
	entry, _ = f.rec.Last()
	assert.Equal(t, audit.ActionBulkRevokePermissions, entry.Action)
}

func TestBulkRejectsWholeListOnUnknownToken(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Bulk(context.Background(), admin, user.ID,
		[]rbac.Permission{rbac.PermCreateContent, "nope"}, false, "", noReq)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Empty(t, f.account(t, user.ID).Overrides.Granted)

	_, err = f.svc.Bulk(context.Background(), admin, user.ID, nil, false, "", noReq)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestChangeRoleToSuperadmin(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, admin, user.ID, rbac.PermExportData, "", noReq)
	require.NoError(t, err)

	change, err := f.svc.ChangeRole(ctx, root, user.ID, rbac.TransitionSet, rbac.RoleSuperAdmin, "on call", noReq)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, change.OldRole)
	assert.Equal(t, rbac.RoleSuperAdmin, change.NewRole)
	assert.Len(t, change.After, len(rbac.AllPermissions()))
	assert.True(t, f.account(t, user.ID).Overrides.IsEmpty())

	entry, _ := f.rec.Last()
	assert.Equal(t, audit.ActionChangeRole, entry.Action)
	assert.Equal(t, rbac.RoleUser, entry.OldRole)
	assert.Equal(t, rbac.RoleSuperAdmin, entry.NewRole)
	assert.Equal(t, "on call", entry.Reason)
}

func TestSuperadminCap(t *testing.T) {
	f := newFixture(t, rbac.Policy{MaxSuperAdmins: 1})

	_, err := f.svc.ChangeRole(context.Background(), root, peer.ID, rbac.TransitionSet, rbac.RoleSuperAdmin, "", noReq)
	assert.ErrorIs(t, err, rbac.ErrSuperAdminLimit)
	assert.Equal(t, rbac.RoleAdmin, f.account(t, peer.ID).Role)
}

func TestPromoteAndDemote(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, err := f.svc.ChangeRole(ctx, admin, peer.ID, rbac.TransitionPromote, rbac.RoleAdmin, "", noReq)
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.ChangeRole(ctx, admin, user.ID, rbac.TransitionDemote, rbac.RoleUser, "", noReq)
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Grant(ctx, root, peer.ID, rbac.PermExportData, "", noReq)
	require.NoError(t, err)
	change, err := f.svc.ChangeRole(ctx, admin, peer.ID, rbac.TransitionDemote, rbac.RoleUser, "", noReq)
	require.NoError(t, err)
	assert.Empty(t, change.After)
	assert.True(t, f.account(t, peer.ID).Overrides.IsEmpty())
	entry, _ := f.rec.Last()
	assert.Equal(t, audit.ActionDemoteToUser, entry.Action)

	change, err = f.svc.ChangeRole(ctx, admin, peer.ID, rbac.TransitionPromote, rbac.RoleAdmin, "", noReq)
	require.NoError(t, err)
	assert.Equal(t, f.catalog.Defaults(rbac.RoleAdmin), change.After)
	entry, _ = f.rec.Last()
	assert.Equal(t, audit.ActionPromoteToAdmin, entry.Action)
}

func TestDemoteSuperadminNeedsRoleChange(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	other := rbac.Account{ID: 9, Email: "sol@example.com", Role: rbac.RoleSuperAdmin, IsActive: true}
	f.store.Put(other, "")

	_, err := f.svc.ChangeRole(context.Background(), root, other.ID, rbac.TransitionDemote, rbac.RoleUser, "", noReq)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestMissingTargetIsNotFound(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Grant(context.Background(), admin, 404, rbac.PermExportData, "", noReq)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStoreFailureIsAuditedAsFailure(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	f.store.Err = errors.New("connection reset")

	_, err := f.svc.Grant(context.Background(), admin, user.ID, rbac.PermExportData, "audit me", noReq)
	require.Error(t, err)

	entries := f.rec.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, audit.StatusFailure, entry.Status)
	assert.Equal(t, audit.ActionGrantPermission, entry.Action)
	assert.Equal(t, admin.ID, entry.Actor.ID)
	require.NotNil(t, entry.Target)
	assert.Equal(t, user.ID, entry.Target.ID)
	assert.Equal(t, []rbac.Permission{rbac.PermExportData}, entry.Permissions)
	assert.Equal(t, "audit me", entry.Reason)
}

func TestStoreFailureOnRoleChangeRecordsRequestedRole(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	f.store.Err = errors.New("connection reset")

	_, err := f.svc.ChangeRole(context.Background(), root, user.ID, rbac.TransitionPromote, rbac.RoleAdmin, "", noReq)
	require.Error(t, err)

	entry, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, audit.StatusFailure, entry.Status)
	assert.Equal(t, audit.ActionPromoteToAdmin, entry.Action)
	assert.Equal(t, rbac.RoleAdmin, entry.NewRole)
}

func TestRejectedRequestIsNotAudited(t *testing.T) {
	f := newFixture(t, rbac.Policy{})

	_, err := f.svc.Grant(context.Background(), admin, root.ID, rbac.PermExportData, "", noReq)
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.Empty(t, f.rec.Entries())
}

func TestConcurrentGrantsAreNotLost(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	perms := rbac.AllPermissions()

	var wg sync.WaitGroup
	for _, p := range perms {
		wg.Add(1)
		go func(p rbac.Permission) {
			defer wg.Done()
			_, err := f.svc.Grant(context.Background(), root, user.ID, p, "", noReq)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	view, err := f.svc.UserPermissions(context.Background(), root, user.ID)
	require.NoError(t, err)
	assert.Equal(t, perms, view.Effective)
	assert.Len(t, f.rec.Entries(), len(perms))
}

func TestTemplateChangeAppliesToNextResolution(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, _, err := f.catalog.ReplaceTemplate(rbac.TemplateRecord{Role: rbac.RoleUser, Permissions: []rbac.Permission{rbac.PermCreateContent}})
	require.NoError(t, err)

	view, err := f.svc.UserPermissions(ctx, admin, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Permission{rbac.PermCreateContent}, view.Effective)
	assert.True(t, f.account(t, user.ID).Overrides.IsEmpty())
}

func TestCheck(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, err := f.svc.Check(ctx, user, admin.ID, rbac.PermManageUsers)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	res, err := f.svc.Check(ctx, user, user.ID, rbac.PermManageUsers)
	require.NoError(t, err)
	assert.False(t, res.HasPermission)
	assert.Equal(t, permissions.SourceNone, res.Source)

	res, err = f.svc.Check(ctx, admin, peer.ID, rbac.PermManageUsers)
	require.NoError(t, err)
	assert.True(t, res.HasPermission)
	assert.Equal(t, permissions.SourceRole, res.Source)

	_, err = f.svc.Revoke(ctx, root, peer.ID, rbac.PermManageUsers, "", noReq)
	require.NoError(t, err)
	res, err = f.svc.Check(ctx, admin, peer.ID, rbac.PermManageUsers)
	require.NoError(t, err)
	assert.False(t, res.HasPermission)
	assert.Equal(t, permissions.SourceRevoked, res.Source)

	_, err = f.svc.Check(ctx, admin, root.ID, rbac.PermExportData)
	assert.ErrorIs(t, err, rbac.ErrCannotManage)

	res, err = f.svc.Check(ctx, root, root.ID, rbac.PermExportData)
	require.NoError(t, err)
	assert.Equal(t, permissions.SourceSuperAdmin, res.Source)
}

func TestAdminCannotReadSuperAdmin(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	_, err := f.svc.UserPermissions(ctx, admin, root.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.UserStats(ctx, admin, root.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.UserPermissions(ctx, root, root.ID)
	assert.NoError(t, err)
	_, err = f.svc.UserPermissions(ctx, user, admin.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.UserPermissions(ctx, user, 404)
	assert.ErrorIs(t, err, shared.ErrForbidden, "users must not learn whether other ids exist")
}

func TestStats(t *testing.T) {
	f := newFixture(t, rbac.Policy{})
	ctx := context.Background()

	stats, err := f.svc.UserStats(ctx, admin, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, stats.Coverage.Total)
	assert.Equal(t, 10, stats.Coverage.Granted)
	assert.Equal(t, 7, stats.Coverage.Available)
	assert.InDelta(t, 58.8, stats.Coverage.Coverage, 0.001)
	assert.Equal(t, 3, stats.ByCategory["user_management"].Granted)
	assert.Equal(t, 0, stats.ByCategory["roles_permissions"].Granted)

	sys, err := f.svc.SystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sys.TotalUsers)
	assert.Equal(t, 2, sys.ByRole[rbac.RoleAdmin].Count)
	assert.InDelta(t, 10.0, sys.ByRole[rbac.RoleAdmin].AveragePermissions, 0.001)
	assert.Equal(t, 1, sys.ByRole[rbac.RoleUser].Count)
	assert.Zero(t, sys.ByRole[rbac.RoleUser].AveragePermissions)
	assert.Equal(t, 3, sys.PermissionUsage[rbac.PermManageUsers].Count)
	assert.InDelta(t, 75.0, sys.PermissionUsage[rbac.PermManageUsers].Percentage, 0.001)
	assert.InDelta(t, 9.3, sys.AveragePermissions, 0.001)
}
