package auth

import (
	"fmt"
	"slices"
)

// Role is the authorisation tier attached to an API key.
type Role string

// Roles, lowest first.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Permission names one capability of the API.
type Permission string

// Permissions.
const (
	PermInstrumentRead      Permission = "instrument:read"
	PermInstrumentOperate   Permission = "instrument:operate"
	PermInstrumentConfigure Permission = "instrument:configure"
	PermAuditRead           Permission = "audit:read"
)

// rolePermissions is the complete authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermInstrumentRead,
	},
	RoleOperator: {
		PermInstrumentRead,
		PermInstrumentOperate,
	},
	RoleAdmin: {
		PermInstrumentRead,
		PermInstrumentOperate,
		PermInstrumentConfigure,
		PermAuditRead,
	},
}

// ParseRole validates a configured role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// HasPermission reports whether role grants perm. Unknown roles grant
// nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role,
// or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
