// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package access provides role-based authorization for Pharmadiet.
//
// Roles are a closed set. Each role maps to a fixed set of permissions
// through an immutable table built at package initialization; permissions
// are never stored per user. Permission identifiers use "entity:action"
// form, for example "client:create" or "user:manage".
package access

import (
	"strings"

	"github.com/samber/oops"
)

// Role identifies a user's role.
type Role string

// Known roles.
const (
	RoleAdmin        Role = "admin"
	RolePharmacist   Role = "pharmacist"
	RoleNutritionist Role = "nutritionist"
	RoleAssistant    Role = "assistant"
	RoleViewer       Role = "viewer"
)

var allRoles = []Role{RoleAdmin, RolePharmacist, RoleNutritionist, RoleAssistant, RoleViewer}

// Roles returns every known role, most privileged first.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := defaultTable[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts s to a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.In("access").
			Code("INVALID_ROLE").
			With("role", s).
			Errorf("role must be one of: admin, pharmacist, nutritionist, assistant, viewer")
	}
	return r, nil
}
