package authroles

import (
	"testing"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/stretchr/testify/assert"
)

func TestStaticRoleMapper_Map(t *testing.T) {
	m := StaticRoleMapper{AdminGroup: "sms-admins", TeacherGroup: "sms-teachers", StudentGroup: "sms-students"}

	tests := []struct {
		name   string
		groups []string
		want   domainauth.Role
	}{
		{name: "admin", groups: []string{"sms-admins"}, want: domainauth.RoleAdmin},
		{name: "admin beats teacher", groups: []string{"sms-teachers", "sms-admins"}, want: domainauth.RoleAdmin},
		{name: "teacher beats student", groups: []string{"sms-students", "sms-teachers"}, want: domainauth.RoleTeacher},
		{name: "student", groups: []string{"other", "sms-students"}, want: domainauth.RoleStudent},
		{name: "unmapped", groups: []string{"other"}, want: ""},
		{name: "none", groups: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Map(tt.groups))
		})
	}
}

func TestStaticRoleMapper_EmptyGroupNamesNeverMatch(t *testing.T) {
	m := StaticRoleMapper{TeacherGroup: "teachers"}
	assert.Equal(t, domainauth.Role(""), m.Map([]string{""}))
}
