package rbac

import (
	"fmt"
	"slices"
	"strings"

	"github.com/warden-iam/warden/internal/shared"
)

// Permission is a capability token from the closed vocabulary.
type Permission string

const (
	PermManageUsers          Permission = "manage_users"
	PermDeactivateUsers      Permission = "deactivate_users"
	PermViewAllUsers         Permission = "view_all_users"
	PermManageContent        Permission = "manage_content"
	PermCreateContent        Permission = "create_content"
	PermEditContent          Permission = "edit_content"
	PermDeleteContent        Permission = "delete_content"
	PermPublishContent       Permission = "publish_content"
	PermManageSettings       Permission = "manage_settings"
	PermUpdateSystemSettings Permission = "update_system_settings"
	PermViewAuditLogs        Permission = "view_audit_logs"
	PermManageRoles          Permission = "manage_roles"
	PermAssignPermissions    Permission = "assign_permissions"
	PermViewAnalytics        Permission = "view_analytics"
	PermExportData           Permission = "export_data"
	PermSendNotifications    Permission = "send_notifications"
	PermManageNotifications  Permission = "manage_notifications"
)

// Category groups permissions for reporting. It has no effect on resolution.
type Category struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

var categories = []Category{
	{
		Key:         "user_management",
		Name:        "User Management",
		Description: "Manage user accounts and access",
		Permissions: []Permission{PermManageUsers, PermDeactivateUsers, PermViewAllUsers},
	},
	{
		Key:         "content_management",
		Name:        "Content Management",
		Description: "Create and moderate content",
		Permissions: []Permission{PermManageContent, PermCreateContent, PermEditContent, PermDeleteContent, PermPublishContent},
	},
	{
		Key:         "settings",
		Name:        "System Settings",
		Description: "Configure system behaviour",
		Permissions: []Permission{PermManageSettings, PermUpdateSystemSettings, PermViewAuditLogs},
	},
	{
		Key:         "roles_permissions",
		Name:        "Roles & Permissions",
		Description: "Manage roles and permission assignments",
		Permissions: []Permission{PermManageRoles, PermAssignPermissions},
	},
	{
		Key:         "analytics",
		Name:        "Analytics",
		Description: "View and export analytics",
		Permissions: []Permission{PermViewAnalytics, PermExportData},
	},
	{
		Key:         "notifications",
		Name:        "Notifications",
		Description: "Send and manage notifications",
		Permissions: []Permission{PermSendNotifications, PermManageNotifications},
	},
}

// vocabulary is the ordered union of all categories.
var vocabulary, vocabularyIndex = buildVocabulary()

func buildVocabulary() ([]Permission, map[Permission]int) {
	var perms []Permission
	index := make(map[Permission]int)
	for _, c := range categories {
		for _, p := range c.Permissions {
			index[p] = len(perms)
			perms = append(perms, p)
		}
	}
	return perms, index
}

// Categories returns a copy of the permission categories.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		c.Permissions = append([]Permission(nil), c.Permissions...)
		out[i] = c
	}
	return out
}

// AllPermissions returns the full vocabulary in catalog order.
func AllPermissions() []Permission {
	return append([]Permission(nil), vocabulary...)
}

// Known reports whether p belongs to the vocabulary.
func (p Permission) Known() bool {
	_, ok := vocabularyIndex[p]
	return ok
}

// CategoryOf returns the category key a permission belongs to.
func CategoryOf(p Permission) string {
	for _, c := range categories {
		for _, cp := range c.Permissions {
			if cp == p {
				return c.Key
			}
		}
	}
	return ""
}

// ParsePermissions normalises tokens and rejects the whole list when any
// token is outside the vocabulary. Duplicates are collapsed.
func ParsePermissions(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	seen := make(map[Permission]struct{}, len(raw))
	var unknown []string
	for _, token := range raw {
		p := Permission(strings.ToLower(strings.TrimSpace(token)))
		if !p.Known() {
			unknown = append(unknown, token)
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown permission(s) %s", shared.ErrInvalidInput, strings.Join(unknown, ", "))
	}
	return out, nil
}

// ParsePermission validates a single token.
func ParsePermission(raw string) (Permission, error) {
	perms, err := ParsePermissions([]string{raw})
	if err != nil {
		return "", err
	}
	return perms[0], nil
}

// sortPermissions orders perms in catalog order in place.
func sortPermissions(perms []Permission) {
	slices.SortFunc(perms, func(a, b Permission) int {
		return vocabularyIndex[a] - vocabularyIndex[b]
	})
}

// PermissionStrings converts perms for storage. The result is never nil.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// PermissionsFromStrings converts stored tokens without validating them.
func PermissionsFromStrings(raw []string) []Permission {
	out := make([]Permission, len(raw))
	for i, s := range raw {
		out[i] = Permission(s)
	}
	return out
}
