package auth

import "strings"

// Role is the caller's permission level on park settlements. Viewers read,
// operators run the lifecycle (create/calculate/invoice), admins additionally
// close, delete and export.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// NormalizeRole validates a role string case-insensitively and returns the
// canonical lowercase form.
func NormalizeRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(value)); role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// RoleAtLeast reports whether role satisfies the required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
