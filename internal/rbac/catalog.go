package rbac

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/warden-iam/warden/internal/shared"
)

// ErrTemplateLocked is returned when editing the superadmin template.
var ErrTemplateLocked = fmt.Errorf("%w: superadmin template is fixed to all permissions", shared.ErrForbidden)

// Template describes the defaults and presentation data of one role.
type Template struct {
	Role         Role         `json:"role"`
	Label        string       `json:"label"`
	Description  string       `json:"description"`
	Permissions  []Permission `json:"permissions"`
	Customizable bool         `json:"customizable"`
	CanManage    []Role       `json:"canManage"`
	UpdatedBy    int64        `json:"updatedBy,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt,omitzero"`
}

// TemplateRecord is the persisted form of a customised role template.
type TemplateRecord struct {
	Role        Role
	Permissions []Permission
	UpdatedBy   int64
	UpdatedAt   time.Time
}

type templateMeta struct {
	label       string
	description string
	canManage   []Role
}

var templateInfo = map[Role]templateMeta{
	RoleUser:       {label: "Regular User", description: "Basic user with limited access", canManage: []Role{RoleAdmin, RoleSuperAdmin}},
	RoleAdmin:      {label: "Administrator", description: "Full administrative access", canManage: []Role{RoleSuperAdmin}},
	RoleSuperAdmin: {label: "Super Administrator", description: "Complete system access", canManage: []Role{}},
}

// DefaultAdminPermissions is the built-in admin template.
var DefaultAdminPermissions = []Permission{
	PermManageUsers,
	PermDeactivateUsers,
	PermViewAllUsers,
	PermManageContent,
	PermCreateContent,
	PermEditContent,
	PermDeleteContent,
	PermPublishContent,
	PermViewAnalytics,
	PermSendNotifications,
}

// Snapshot is an immutable view of the role defaults. A new snapshot is
// built for every template change and swapped in atomically.
type Snapshot struct {
	Version   int64
	UpdatedAt time.Time
	records   map[Role]TemplateRecord
}

// Defaults returns a copy of the default permissions of role.
// The superadmin default is always the whole vocabulary.
func (s *Snapshot) Defaults(role Role) []Permission {
	if role == RoleSuperAdmin {
		return AllPermissions()
	}
	return append([]Permission{}, s.records[role].Permissions...)
}

func (s *Snapshot) has(role Role, p Permission) bool {
	if role == RoleSuperAdmin {
		return p.Known()
	}
	for _, d := range s.records[role].Permissions {
		if d == p {
			return true
		}
	}
	return false
}

func (s *Snapshot) template(role Role) Template {
	meta := templateInfo[role]
	rec := s.records[role]
	return Template{
		Role:         role,
		Label:        meta.label,
		Description:  meta.description,
		Permissions:  s.Defaults(role),
		Customizable: role != RoleSuperAdmin,
		CanManage:    append([]Role{}, meta.canManage...),
		UpdatedBy:    rec.UpdatedBy,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (s *Snapshot) with(rec TemplateRecord) *Snapshot {
	next := &Snapshot{
		Version:   s.Version + 1,
		UpdatedAt: rec.UpdatedAt,
		records:   make(map[Role]TemplateRecord, len(s.records)),
	}
	for role, existing := range s.records {
		next.records[role] = existing
	}
	next.records[rec.Role] = rec
	return next
}

// Catalog is the process-wide registry of role defaults.
type Catalog struct {
	current atomic.Pointer[Snapshot]
}

// NewCatalog builds a catalog with the built-in templates. userDefaults is
// the deployment's baseline for plain users and may be empty.
func NewCatalog(userDefaults []Permission) *Catalog {
	c := &Catalog{}
	userPerms := append([]Permission(nil), userDefaults...)
	sortPermissions(userPerms)
	c.current.Store(&Snapshot{
		Version: 1,
		records: map[Role]TemplateRecord{
			RoleUser:  {Role: RoleUser, Permissions: userPerms},
			RoleAdmin: {Role: RoleAdmin, Permissions: append([]Permission(nil), DefaultAdminPermissions...)},
		},
	})
	return c
}

// Snapshot returns the current immutable snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Permissions returns the vocabulary in catalog order.
func (c *Catalog) Permissions() []Permission {
	return AllPermissions()
}

// Roles returns every role ordered by privilege.
func (c *Catalog) Roles() []Role {
	return AllRoles()
}

// IsKnown reports whether p belongs to the vocabulary.
func (c *Catalog) IsKnown(p Permission) bool {
	return p.Known()
}

// Defaults returns the current default permissions of role.
func (c *Catalog) Defaults(role Role) []Permission {
	return c.Snapshot().Defaults(role)
}

// Template returns the template of a single role.
func (c *Catalog) Template(role Role) (Template, error) {
	if !role.Valid() {
		return Template{}, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, role)
	}
	return c.Snapshot().template(role), nil
}

// Templates returns every role template ordered by privilege.
func (c *Catalog) Templates() []Template {
	snap := c.Snapshot()
	out := make([]Template, 0, len(roleRank))
	for _, role := range AllRoles() {
		out = append(out, snap.template(role))
	}
	return out
}

// ReplaceTemplate swaps in new defaults for a non-superadmin role and
// returns the template before and after the change. Stored overrides are
// not touched.
func (c *Catalog) ReplaceTemplate(rec TemplateRecord) (Template, Template, error) {
	if err := validateRecord(rec); err != nil {
		return Template{}, Template{}, err
	}
	rec.Permissions = normalise(rec.Permissions)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	for {
		prev := c.current.Load()
		next := prev.with(rec)
		if c.current.CompareAndSwap(prev, next) {
			return prev.template(rec.Role), next.template(rec.Role), nil
		}
	}
}

// Load installs persisted templates. Either every record is applied or none.
// Records identical to the current snapshot leave it, and its version, alone.
func (c *Catalog) Load(records []TemplateRecord) error {
	normalised := make([]TemplateRecord, 0, len(records))
	for _, rec := range records {
		if err := validateRecord(rec); err != nil {
			return err
		}
		rec.Permissions = normalise(rec.Permissions)
		normalised = append(normalised, rec)
	}
	for {
		prev := c.current.Load()
		var changed []TemplateRecord
		for _, rec := range normalised {
			if !sameRecord(prev.records[rec.Role], rec) {
				changed = append(changed, rec)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		next := prev.with(changed[0])
		for _, rec := range changed[1:] {
			next.records[rec.Role] = rec
			if rec.UpdatedAt.After(next.UpdatedAt) {
				next.UpdatedAt = rec.UpdatedAt
			}
		}
		if c.current.CompareAndSwap(prev, next) {
			return nil
		}
	}
}

func sameRecord(a, b TemplateRecord) bool {
	return a.UpdatedBy == b.UpdatedBy && slices.Equal(a.Permissions, b.Permissions)
}

// Validate reports whether rec may replace a template.
func (rec TemplateRecord) Validate() error {
	return validateRecord(rec)
}

func validateRecord(rec TemplateRecord) error {
	if !rec.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, rec.Role)
	}
	if rec.Role == RoleSuperAdmin {
		return ErrTemplateLocked
	}
	for _, p := range rec.Permissions {
		if !p.Known() {
			return fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, p)
		}
	}
	return nil
}

// NormalisePermissions drops duplicates from perms and returns them in
// catalog order.
func NormalisePermissions(perms []Permission) []Permission {
	return normalise(perms)
}

func normalise(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}
