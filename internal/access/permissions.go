// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package access

import (
	"strings"

	"github.com/samber/oops"
)

// Permission is a single capability in "entity:action" form.
type Permission string

// Client record permissions.
const (
	ClientCreate Permission = "client:create"
	ClientRead   Permission = "client:read"
	ClientUpdate Permission = "client:update"
	ClientDelete Permission = "client:delete"
)

// Diet record permissions.
const (
	DietCreate Permission = "diet:create"
	DietRead   Permission = "diet:read"
	DietUpdate Permission = "diet:update"
	DietDelete Permission = "diet:delete"
)

// Report permissions.
const (
	ReportGenerate Permission = "report:generate"
	ReportView     Permission = "report:view"
	ReportDelete   Permission = "report:delete"
)

// System permissions.
const (
	UserManage     Permission = "user:manage"
	SettingsManage Permission = "settings:manage"
	BackupRestore  Permission = "backup:restore"
	AuditView      Permission = "audit:view"
)

var allPermissions = []Permission{
	ClientCreate, ClientRead, ClientUpdate, ClientDelete,
	DietCreate, DietRead, DietUpdate, DietDelete,
	ReportGenerate, ReportView, ReportDelete,
	UserManage, SettingsManage, BackupRestore, AuditView,
}

// readPermissions are the permissions that never change state.
var readPermissions = map[Permission]struct{}{
	ClientRead: {},
	DietRead:   {},
	ReportView: {},
	AuditView:  {},
}

// AllPermissions returns the closed permission enumeration.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// IsRead reports whether p only grants read access.
func (p Permission) IsRead() bool {
	_, ok := readPermissions[p]
	return ok
}

// IsSystem reports whether p is a system-level permission.
func (p Permission) IsSystem() bool {
	switch p {
	case UserManage, SettingsManage, BackupRestore, AuditView:
		return true
	default:
		return false
	}
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission converts s to a known Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allPermissions {
		if p == known {
			return p, nil
		}
	}
	return "", oops.In("access").
		Code("INVALID_PERMISSION").
		With("permission", s).
		Errorf("unknown permission %q", s)
}

// Permission groups. Roles compose these groups rather than inheriting.

var recordReaderPowers = []Permission{
	ClientRead,
	DietRead,
	ReportView,
}

var clientEditorPowers = []Permission{
	ClientCreate,
	ClientUpdate,
}

var dietEditorPowers = []Permission{
	DietCreate,
	DietUpdate,
}

var reportGeneratorPowers = []Permission{
	ReportGenerate,
}

var deletePowers = []Permission{
	ClientDelete,
	DietDelete,
	ReportDelete,
}

var systemPowers = []Permission{
	UserManage,
	SettingsManage,
	BackupRestore,
	AuditView,
}

// DefaultRoles returns the role definitions.
func DefaultRoles() map[Role][]Permission {
	clinician := compose(recordReaderPowers, clientEditorPowers, dietEditorPowers, reportGeneratorPowers)
	return map[Role][]Permission{
		RoleAdmin:        compose(clinician, deletePowers, systemPowers),
		RolePharmacist:   clinician,
		RoleNutritionist: compose(clinician),
		RoleAssistant:    compose(recordReaderPowers, clientEditorPowers),
		RoleViewer:       compose(recordReaderPowers),
	}
}

// compose merges multiple permission slices into one.
func compose(groups ...[]Permission) []Permission {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]Permission, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
