// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package access

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

type permissionSet map[Permission]struct{}

// defaultTable is built once and never mutated.
var defaultTable = buildTable(DefaultRoles())

func buildTable(roles map[Role][]Permission) map[Role]permissionSet {
	table := make(map[Role]permissionSet, len(roles))
	for role, perms := range roles {
		set := make(permissionSet, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		table[role] = set
	}
	return table
}

// Resolver answers capability checks against the static role table.
//
// Thread-safety: the table is immutable after construction; a Resolver
// may be shared freely.
type Resolver struct {
	table map[Role]permissionSet
}

// NewResolver returns a Resolver over the default role table.
func NewResolver() *Resolver {
	return &Resolver{table: defaultTable}
}

// PermissionsFor returns the permissions granted to role in enumeration
// order. Unknown roles get an empty slice.
func (r *Resolver) PermissionsFor(role Role) []Permission {
	set := r.table[role]
	out := make([]Permission, 0, len(set))
	for _, p := range allPermissions {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether role grants permission.
func (r *Resolver) Has(role Role, permission Permission) bool {
	_, ok := r.table[role][permission]
	return ok
}

// Match returns the permissions of role that match a glob pattern such as
// "client:*" or "*:read". Segments are separated by ':'.
func (r *Resolver) Match(role Role, pattern string) ([]Permission, error) {
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return nil, oops.In("access").
			Code("INVALID_PERMISSION_PATTERN").
			With("role", role).
			With("pattern", pattern).
			Wrap(err)
	}

	var out []Permission
	for _, p := range r.PermissionsFor(role) {
		if g.Match(string(p)) {
			out = append(out, p)
		}
	}
	return out, nil
}
