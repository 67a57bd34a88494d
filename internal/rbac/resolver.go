package rbac

// PermissionSet is an effective permission set.
type PermissionSet map[Permission]struct{}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int {
	return len(s)
}

// Sorted returns the set in catalog order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// Resolver computes effective permissions. It holds no mutable state of its
// own and is safe for concurrent use.
type Resolver struct {
	catalog *Catalog
}

// NewResolver builds a resolver over catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Catalog exposes the catalog the resolver reads from.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the effective permissions of account.
func (r *Resolver) Resolve(account Account) PermissionSet {
	return resolveWith(r.catalog.Snapshot(), account.Role, account.Overrides)
}

// HasPermission reports whether account effectively holds p.
func (r *Resolver) HasPermission(account Account, p Permission) bool {
	return holds(r.catalog.Snapshot(), account, p)
}

// HasAny reports whether account holds at least one of perms.
func (r *Resolver) HasAny(account Account, perms ...Permission) bool {
	if len(perms) == 0 {
		return true
	}
	snap := r.catalog.Snapshot()
	for _, p := range perms {
		if holds(snap, account, p) {
			return true
		}
	}
	return false
}

// HasAll reports whether account holds every one of perms.
func (r *Resolver) HasAll(account Account, perms ...Permission) bool {
	snap := r.catalog.Snapshot()
	for _, p := range perms {
		if !holds(snap, account, p) {
			return false
		}
	}
	return true
}

func resolveWith(snap *Snapshot, role Role, overrides OverrideSet) PermissionSet {
	if role == RoleSuperAdmin {
		all := AllPermissions()
		set := make(PermissionSet, len(all))
		for _, p := range all {
			set[p] = struct{}{}
		}
		return set
	}
	defaults := snap.Defaults(role)
	set := make(PermissionSet, len(defaults)+len(overrides.Granted))
	for _, p := range defaults {
		set[p] = struct{}{}
	}
	for _, p := range overrides.Granted {
		set[p] = struct{}{}
	}
	for _, p := range overrides.Revoked {
		delete(set, p)
	}
	return set
}

func holds(snap *Snapshot, account Account, p Permission) bool {
	if account.Role == RoleSuperAdmin {
		return p.Known()
	}
	if account.Overrides.IsRevoked(p) {
		return false
	}
	return account.Overrides.IsGranted(p) || snap.has(account.Role, p)
}
