package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-iam/warden/internal/shared"
)

func TestVocabularyCoversCategories(t *testing.T) {
	perms := AllPermissions()
	assert.Len(t, perms, 17)
	total := 0
	for _, c := range Categories() {
		total += len(c.Permissions)
		for _, p := range c.Permissions {
			assert.Equal(t, c.Key, CategoryOf(p))
		}
	}
	assert.Equal(t, len(perms), total)
}

func TestSuperAdminTemplateIsComputed(t *testing.T) {
	catalog := NewCatalog(nil)
	assert.Equal(t, AllPermissions(), catalog.Defaults(RoleSuperAdmin))

	tmpl, err := catalog.Template(RoleSuperAdmin)
	require.NoError(t, err)
	assert.False(t, tmpl.Customizable)
	assert.Equal(t, "Super Administrator", tmpl.Label)
}

func TestReplaceTemplateRejectsSuperAdmin(t *testing.T) {
	catalog := NewCatalog(nil)
	_, _, err := catalog.ReplaceTemplate(TemplateRecord{Role: RoleSuperAdmin, Permissions: []Permission{PermManageUsers}})
	assert.ErrorIs(t, err, ErrTemplateLocked)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestReplaceTemplateSwapsSnapshot(t *testing.T) {
	catalog := NewCatalog(nil)
	before := catalog.Snapshot()

	prev, next, err := catalog.ReplaceTemplate(TemplateRecord{
		Role:        RoleAdmin,
		Permissions: []Permission{PermViewAnalytics, PermManageUsers, PermManageUsers},
		UpdatedBy:   42,
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultAdminPermissions, prev.Permissions)
	assert.Equal(t, []Permission{PermManageUsers, PermViewAnalytics}, next.Permissions)
	assert.Equal(t, int64(42), next.UpdatedBy)
	assert.Equal(t, before.Version+1, catalog.Snapshot().Version)
	assert.Equal(t, DefaultAdminPermissions, before.Defaults(RoleAdmin), "old snapshot must stay unchanged")
}

func TestReplaceTemplateRejectsUnknownPermission(t *testing.T) {
	catalog := NewCatalog(nil)
	_, _, err := catalog.ReplaceTemplate(TemplateRecord{Role: RoleUser, Permissions: []Permission{"nope"}})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Empty(t, catalog.Defaults(RoleUser))
}

func TestLoadIsAllOrNothing(t *testing.T) {
	catalog := NewCatalog(nil)
	err := catalog.Load([]TemplateRecord{
		{Role: RoleUser, Permissions: []Permission{PermCreateContent}},
		{Role: RoleAdmin, Permissions: []Permission{"nope"}},
	})
	assert.Error(t, err)
	assert.Empty(t, catalog.Defaults(RoleUser))

	require.NoError(t, catalog.Load([]TemplateRecord{{Role: RoleUser, Permissions: []Permission{PermCreateContent}}}))
	assert.Equal(t, []Permission{PermCreateContent}, catalog.Defaults(RoleUser))
}

func TestLoadOfUnchangedRecordsKeepsVersion(t *testing.T) {
	catalog := NewCatalog(nil)
	records := []TemplateRecord{
		{Role: RoleUser, Permissions: []Permission{PermEditContent, PermCreateContent}, UpdatedBy: 7},
		{Role: RoleAdmin, Permissions: DefaultAdminPermissions},
	}
	require.NoError(t, catalog.Load(records))
	loaded := catalog.Snapshot()
	assert.Equal(t, int64(2), loaded.Version)

	require.NoError(t, catalog.Load(records))
	assert.Same(t, loaded, catalog.Snapshot())

	records[0].Permissions = []Permission{PermCreateContent}
	require.NoError(t, catalog.Load(records))
	assert.Equal(t, loaded.Version+1, catalog.Snapshot().Version)
	assert.Equal(t, []Permission{PermCreateContent}, catalog.Defaults(RoleUser))
}

func TestParsePermissions(t *testing.T) {
	perms, err := ParsePermissions([]string{" Export_Data", "export_data", "manage_users"})
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermExportData, PermManageUsers}, perms)

	_, err = ParsePermissions([]string{"manage_users", "bogus"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Contains(t, err.Error(), "bogus")
}
