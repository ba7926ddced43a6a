package sessionkit

import "fmt"

// Role is the closed set of marketplace account roles.
type Role string

const (
	RoleMember     Role = "member"
	RoleAgent      Role = "agent"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates a role string against the closed set.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleMember, RoleAgent, RoleAdmin, RoleSuperAdmin:
		return Role(value), nil
	default:
		return "", fmt.Errorf("auth.role.unknown: %q", value)
	}
}

// AssignableAtRegistration reports whether a role may be chosen during
// self-registration. super_admin accounts are provisioned out of band.
func (role Role) AssignableAtRegistration() bool {
	switch role {
	case RoleMember, RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}

// OneOf reports whether the role appears in the allow-list.
func (role Role) OneOf(allowed ...Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}
