package model

import "time"

// TableRole is a per-table role granted to a user.
type TableRole string

const (
	RoleOwner  TableRole = "owner"
	RoleEditor TableRole = "editor"
	RoleViewer TableRole = "viewer"
	RoleAdmin  TableRole = "admin"
)

// Action is an operation checked against a user's table role.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// RolePermissions lists the actions each role grants.
var RolePermissions = map[TableRole][]Action{
	RoleAdmin:  {ActionRead, ActionWrite, ActionDelete, ActionAdmin},
	RoleOwner:  {ActionRead, ActionWrite, ActionDelete, ActionAdmin},
	RoleEditor: {ActionRead, ActionWrite},
	RoleViewer: {ActionRead},
}

// Valid reports whether r is a known role.
func (r TableRole) Valid() bool {
	_, ok := RolePermissions[r]
	return ok
}

// Allows reports whether the role grants action a.
func (r TableRole) Allows(a Action) bool {
	for _, granted := range RolePermissions[r] {
		if granted == a {
			return true
		}
	}
	return false
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionAdmin:
		return true
	}
	return false
}

// TablePermission binds a user to a role on one table.
type TablePermission struct {
	ID        int64     `json:"id" db:"id"`
	TableID   int64     `json:"table_id" db:"table_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Role      TableRole `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OwnerTypeUser marks tables owned directly by a user account. The owner of
// such a table has full access without an explicit permission row.
const OwnerTypeUser = "USER"
