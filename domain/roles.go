package domain

// Standard Roles
const (
	// RoleSuperAdmin may launch every tool and sweep expired grants.
	RoleSuperAdmin = "Super Administrator"
	RoleUser       = "User"
)

// IsElevated reports whether role bypasses per-tool permission lists.
func IsElevated(role string) bool {
	return role == RoleSuperAdmin
}
