package roles

import (
	"time"

	"github.com/warden-iam/warden/internal/rbac"
)

// Channel is the redis pub/sub channel announcing template changes.
const Channel = "warden:role-templates"

// DefaultResync is how often a Watcher reloads templates without a signal.
const DefaultResync = 5 * time.Minute

// Change describes a template update.
type Change struct {
	Template rbac.Template     `json:"template"`
	Changed  bool              `json:"changed"`
	Added    []rbac.Permission `json:"added"`
	Removed  []rbac.Permission `json:"removed"`
	Before   []rbac.Permission `json:"before"`
	After    []rbac.Permission `json:"after"`
}

// diff lists what after adds to and removes from before.
func diff(before, after []rbac.Permission) (added, removed []rbac.Permission) {
	in := func(perms []rbac.Permission, p rbac.Permission) bool {
		for _, q := range perms {
			if q == p {
				return true
			}
		}
		return false
	}
	added, removed = []rbac.Permission{}, []rbac.Permission{}
	for _, p := range after {
		if !in(before, p) {
			added = append(added, p)
		}
	}
	for _, p := range before {
		if !in(after, p) {
			removed = append(removed, p)
		}
	}
	return added, removed
}
