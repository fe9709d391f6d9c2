package access

import (
	"testing"

	"github.com/clearline-network/clearline/internal/domain"
)

func TestGrantRevoke(t *testing.T) {
	r := NewRegistry()
	alice := domain.Address("alice")

	if r.IsMember(alice) {
		t.Error("fresh registry should hold no roles")
	}

	r.Grant(alice, domain.RoleMember)
	if !r.IsMember(alice) {
		t.Error("alice should be a member after Grant")
	}
	if r.IsOperator(alice) {
		t.Error("member grant must not imply operator")
	}

	// Idempotent grant
	r.Grant(alice, domain.RoleMember)
	if !r.IsMember(alice) {
		t.Error("double grant should keep the role")
	}

	r.Revoke(alice, domain.RoleMember)
	if r.IsMember(alice) {
		t.Error("alice should not be a member after Revoke")
	}
}

func TestMultipleRoles(t *testing.T) {
	r := NewRegistry()
	op := domain.Address("op")
	r.Grant(op, domain.RoleMember)
	r.Grant(op, domain.RoleOperator)

	if !r.HasRole(op, domain.RoleOperator) || !r.HasRole(op, domain.RoleMember) {
		t.Error("op should hold both roles")
	}
	if got := len(r.RolesOf(op)); got != 2 {
		t.Errorf("RolesOf returned %d roles, want 2", got)
	}

	r.Revoke(op, domain.RoleMember)
	if !r.IsOperator(op) {
		t.Error("revoking member must not touch operator")
	}
}

func TestMembers(t *testing.T) {
	r := NewRegistry()
	r.Grant("a", domain.RoleMember)
	r.Grant("b", domain.RoleMember)
	r.Grant("c", domain.RoleOperator)

	if got := len(r.Members()); got != 2 {
		t.Errorf("Members returned %d, want 2", got)
	}
}
