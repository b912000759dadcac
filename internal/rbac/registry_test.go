package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRoleHasPermissionsAndLevel(t *testing.T) {
	reg := NewRegistry()
	seen := make(map[int]Role)
	for _, role := range Roles() {
		assert.NotEmpty(t, reg.Permissions(role), role)
		level := reg.Level(role)
		assert.Greater(t, level, LevelUnknown, role)
		if other, dup := seen[level]; dup {
			t.Fatalf("roles %s and %s share level %d", role, other, level)
		}
		seen[level] = role
	}
}

func TestHierarchyOrder(t *testing.T) {
	reg := NewRegistry()
	roles := Roles()
	for i := 0; i+1 < len(roles); i++ {
		assert.Greater(t, reg.Level(roles[i]), reg.Level(roles[i+1]), "%s > %s", roles[i], roles[i+1])
	}
	assert.True(t, reg.HasEqualOrHigherRole(RoleEvaluator, RoleIntern))
	assert.False(t, reg.HasEqualOrHigherRole(RoleIntern, RoleEvaluator))
	assert.True(t, reg.HasEqualOrHigherRole(RoleIntern, RoleUnknown))
}

func TestUnknownRoleIsNoAccess(t *testing.T) {
	reg := NewRegistry()
	role := ParseRole("Janitor")
	assert.Equal(t, RoleUnknown, role)
	assert.Empty(t, reg.Permissions(role))
	assert.Equal(t, LevelUnknown, reg.Level(role))
	assert.Empty(t, reg.AllowedDomains(role))
	assert.False(t, reg.IsRoleLegalForEmail("someone@xu.edu.ph", role))
	assert.False(t, reg.HasPermission(role, PermCreateRequests))
}

func TestKnownRequiresExactRole(t *testing.T) {
	for _, role := range Roles() {
		assert.True(t, role.Known(), role)
	}
	for _, raw := range []string{"", " Intern", "Intern ", "intern", "Janitor"} {
		assert.False(t, Role(raw).Known(), "%q", raw)
	}
	assert.Equal(t, RoleIntern, ParseRole(" Intern "))
}

func TestDomainPartition(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		email string
		role  Role
		legal bool
	}{
		{"sysadmin@xu.edu.ph", RoleSystemAdministrator, true},
		{"registrar@xu.edu.ph", RoleUniversityRegistrar, true},
		{"eval@XU.EDU.PH", RoleEvaluator, true},
		{"assistant@my.xu.edu.ph", RoleStudentAssistant, true},
		{"intern@my.xu.edu.ph", RoleIntern, true},
		{"student@my.xu.edu.ph", RoleSystemAdministrator, false},
		{"staff@xu.edu.ph", RoleIntern, false},
		{"hacker@gmail.com", RoleIntern, false},
		{"", RoleIntern, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.legal, reg.IsRoleLegalForEmail(tc.email, tc.role), "%s as %s", tc.email, tc.role)
	}

	for _, role := range Roles() {
		require.Len(t, reg.AllowedDomains(role), 1, role)
	}
}

func TestPermissionsReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	perms := reg.Permissions(RoleSystemAdministrator)
	require.Contains(t, perms, PermManageAccessControl)
	perms[0] = "tampered"
	assert.Equal(t, PermManageAccessControl, reg.Permissions(RoleSystemAdministrator)[0])
}

func TestInfo(t *testing.T) {
	info := NewRegistry().Info(RoleEvaluator)
	assert.Equal(t, 2, info.Level)
	assert.Equal(t, []string{DomainStaff}, info.AllowedDomains)
	assert.Equal(t, len(info.Permissions), info.PermissionCount)
	assert.Contains(t, info.Permissions, PermUpdateRequestStatus)
}
