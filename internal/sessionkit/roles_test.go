package sessionkit

import "testing"

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"member", "agent", "admin", "super_admin"} {
		role, parseErr := ParseRole(valid)
		if parseErr != nil {
			t.Fatalf("expected %q to parse, got %v", valid, parseErr)
		}
		if string(role) != valid {
			t.Fatalf("expected role %q, got %q", valid, role)
		}
	}

	if _, parseErr := ParseRole("owner"); parseErr == nil {
		t.Fatalf("expected unknown role to fail")
	}
	if _, parseErr := ParseRole(""); parseErr == nil {
		t.Fatalf("expected empty role to fail")
	}
}

func TestAssignableAtRegistration(t *testing.T) {
	if !RoleMember.AssignableAtRegistration() || !RoleAgent.AssignableAtRegistration() || !RoleAdmin.AssignableAtRegistration() {
		t.Fatalf("expected member, agent, and admin to be assignable")
	}
	if RoleSuperAdmin.AssignableAtRegistration() {
		t.Fatalf("super_admin must never be self-assignable")
	}
}

func TestRoleOneOf(t *testing.T) {
	if !RoleAdmin.OneOf(RoleAdmin, RoleSuperAdmin) {
		t.Fatalf("expected admin to match the allow-list")
	}
	if RoleMember.OneOf(RoleAdmin, RoleSuperAdmin) {
		t.Fatalf("expected member to miss the allow-list")
	}
	if RoleMember.OneOf() {
		t.Fatalf("expected empty allow-list to deny")
	}
}
