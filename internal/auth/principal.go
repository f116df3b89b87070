package auth

import (
	"sort"

	"mailvault.org/internal/directory"
)

// Principal is a user with its department and effective permission set
// resolved once per request.
type Principal struct {
	User        directory.User
	Department  directory.Department
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal from a user and the union of its role permissions.
func NewPrincipal(user directory.User, dept directory.Department, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Principal{User: user, Department: dept, Permissions: set}
}

// HasPermission reports whether the principal holds perm. Superusers hold every permission.
func (p Principal) HasPermission(perm string) bool {
	if p.User.Superuser {
		return true
	}
	_, ok := p.Permissions[perm]
	return ok
}

// PermissionList returns the explicit permission codes in sorted order.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasAnyRole reports whether the user holds one of roles.
func (p Principal) HasAnyRole(roles []string) bool {
	for _, have := range p.User.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
