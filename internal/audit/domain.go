package audit

import (
	"time"

	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Action mengidentifikasi jenis perubahan yang dicatat.
type Action string

const (
	ActionGrantPermission       Action = "GRANT_PERMISSION"
	ActionRevokePermission      Action = "REVOKE_PERMISSION"
	ActionResetPermissions      Action = "RESET_PERMISSIONS"
	ActionChangeRole            Action = "CHANGE_ROLE"
	ActionPromoteToAdmin        Action = "PROMOTE_TO_ADMIN"
	ActionDemoteToUser          Action = "DEMOTE_TO_USER"
	ActionBulkGrantPermissions  Action = "BULK_GRANT_PERMISSIONS"
	ActionBulkRevokePermissions Action = "BULK_REVOKE_PERMISSIONS"
	ActionUpdateRoleTemplate    Action = "UPDATE_ROLE_TEMPLATE"
	ActionCreateUser            Action = "CREATE_USER"
	ActionUpdateUser            Action = "UPDATE_USER"
	ActionDeactivateUser        Action = "DEACTIVATE_USER"
	ActionActivateUser          Action = "ACTIVATE_USER"
	ActionDeleteUser            Action = "DELETE_USER"
)

var knownActions = map[Action]struct{}{
	ActionGrantPermission: {}, ActionRevokePermission: {}, ActionResetPermissions: {},
	ActionChangeRole: {}, ActionPromoteToAdmin: {}, ActionDemoteToUser: {},
	ActionBulkGrantPermissions: {}, ActionBulkRevokePermissions: {}, ActionUpdateRoleTemplate: {},
	ActionCreateUser: {}, ActionUpdateUser: {}, ActionDeactivateUser: {},
	ActionActivateUser: {}, ActionDeleteUser: {},
}

// Valid reports whether a is a recorded action kind.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// Status values. Failure marks an attempt that broke on an internal error;
// rejected requests (forbidden, invalid, conflict) are not audited.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Party adalah snapshot aktor atau target pada saat kejadian.
type Party struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name,omitempty"`
	Email string    `json:"email,omitempty"`
	Role  rbac.Role `json:"role,omitempty"`
}

// PartyOf captures the audit-relevant fields of an account.
func PartyOf(acc rbac.Account) Party {
	return Party{ID: acc.ID, Name: acc.Name, Email: acc.Email, Role: acc.Role}
}

// Entry adalah satu catatan audit yang tidak dapat diubah.
type Entry struct {
	ID          int64              `json:"id,omitempty"`
	EventID     string             `json:"eventId"`
	Actor       Party              `json:"actor"`
	Target      *Party             `json:"target,omitempty"`
	Action      Action             `json:"action"`
	Detail      string             `json:"detail"`
	Reason      string             `json:"reason,omitempty"`
	Permissions []rbac.Permission  `json:"permissions,omitempty"`
	OldRole     rbac.Role          `json:"oldRole,omitempty"`
	NewRole     rbac.Role          `json:"newRole,omitempty"`
	Before      []rbac.Permission  `json:"before,omitempty"`
	After       []rbac.Permission  `json:"after,omitempty"`
	Request     shared.RequestInfo `json:"request"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Filters menampung filter untuk query audit.
type Filters struct {
	ActorID  int64
	TargetID int64
	Action   Action
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Result membungkus hasil query dengan informasi paging.
type Result struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}
