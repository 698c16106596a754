// Package authroles maps identity-provider groups onto school roles.
package authroles

import (
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

// StaticRoleMapper maps groups by exact membership. When a principal belongs to
// several mapped groups the most privileged role wins (admin, teacher, student).
type StaticRoleMapper struct {
	AdminGroup   string
	TeacherGroup string
	StudentGroup string
}

// Map returns the role for groups, or "" when none of them is mapped.
func (m StaticRoleMapper) Map(groups []string) domainauth.Role {
	var teacher, student bool
	for _, g := range groups {
		switch {
		case g == "":
			continue
		case g == m.AdminGroup:
			return domainauth.RoleAdmin
		case g == m.TeacherGroup:
			teacher = true
		case g == m.StudentGroup:
			student = true
		}
	}
	switch {
	case teacher:
		return domainauth.RoleTeacher
	case student:
		return domainauth.RoleStudent
	default:
		return ""
	}
}
