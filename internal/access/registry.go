// Package access implements the network's role registry: an enum-keyed
// permission set shared by every engine. Each engine re-checks the caller
// here on every restricted operation rather than trusting its caller's
// own checks.
package access

import (
	"sync"

	"github.com/clearline-network/clearline/internal/domain"
)

// Registry is a map-backed role store implementing domain.Authorizer.
type Registry struct {
	mu    sync.RWMutex
	roles map[domain.Address]map[domain.Role]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[domain.Address]map[domain.Role]bool)}
}

// Grant gives addr the role. Granting an already-held role is a no-op.
func (r *Registry) Grant(addr domain.Address, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.roles[addr]
	if !ok {
		set = make(map[domain.Role]bool)
		r.roles[addr] = set
	}
	set[role] = true
}

// Revoke removes the role from addr.
func (r *Registry) Revoke(addr domain.Address, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.roles[addr]; ok {
		delete(set, role)
		if len(set) == 0 {
			delete(r.roles, addr)
		}
	}
}

// HasRole reports whether addr holds role.
func (r *Registry) HasRole(addr domain.Address, role domain.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[addr][role]
}

// RolesOf returns all roles held by addr.
func (r *Registry) RolesOf(addr domain.Address) []domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Role
	for role, ok := range r.roles[addr] {
		if ok {
			out = append(out, role)
		}
	}
	return out
}

// Members returns every address holding the member role.
func (r *Registry) Members() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Address
	for addr, set := range r.roles {
		if set[domain.RoleMember] {
			out = append(out, addr)
		}
	}
	return out
}

// Snapshot returns every address's roles.
func (r *Registry) Snapshot() map[domain.Address][]domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Address][]domain.Role, len(r.roles))
	for addr, set := range r.roles {
		for role, ok := range set {
			if ok {
				out[addr] = append(out[addr], role)
			}
		}
	}
	return out
}

// Restore replaces the registry's contents from a snapshot.
func (r *Registry) Restore(roles map[domain.Address][]domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = make(map[domain.Address]map[domain.Role]bool, len(roles))
	for addr, rs := range roles {
		set := make(map[domain.Role]bool, len(rs))
		for _, role := range rs {
			set[role] = true
		}
		r.roles[addr] = set
	}
}

func (r *Registry) IsMember(addr domain.Address) bool   { return r.HasRole(addr, domain.RoleMember) }
func (r *Registry) IsOperator(addr domain.Address) bool { return r.HasRole(addr, domain.RoleOperator) }
func (r *Registry) IsIssuer(addr domain.Address) bool   { return r.HasRole(addr, domain.RoleIssuer) }
func (r *Registry) IsAdmin(addr domain.Address) bool    { return r.HasRole(addr, domain.RoleAdmin) }
