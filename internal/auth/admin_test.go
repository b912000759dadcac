package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/session"
)

func TestSystemStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	f.login(t, "intern@my.xu.edu.ph", "Intern111!")
	f.login(t, "intern@my.xu.edu.ph", "Intern111!")
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, "evaluator@xu.edu.ph", "wrong")
	}

	status, err := f.svc.SystemStatus(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveUsersByRole[rbac.RoleSystemAdministrator])
	assert.Equal(t, 2, status.ActiveUsersByRole[rbac.RoleIntern])
	assert.Equal(t, 3, status.SecurityStatistics.ActiveSessionsCount)
	assert.Equal(t, 1, status.SecurityStatistics.LockedAccounts)
	assert.Equal(t, 5, status.SecurityStatistics.TotalUsers)
	assert.Positive(t, status.SecurityStatistics.RecentSecurityEvents)
	assert.Equal(t, 4, status.RoleHierarchy[rbac.RoleSystemAdministrator])
	assert.Equal(t, "operational", status.SystemHealth)

	registrar := f.login(t, "registrar@xu.edu.ph", "Registrar456!")
	_, err = f.svc.SystemStatus(ctx, registrar)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)

	_, err = f.svc.SystemStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidSessionFormat)
}

func TestUserDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registrar := f.login(t, "registrar@xu.edu.ph", "Registrar456!")
	f.clock.Advance(time.Minute)
	f.login(t, "evaluator@xu.edu.ph", "Evaluator789!")
	_, _ = f.svc.Login(ctx, "intern@my.xu.edu.ph", "wrong")

	details, err := f.svc.UserDetails(ctx, registrar, "evaluator@xu.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEvaluator, details.Role)
	assert.Equal(t, 1, details.ActiveSessionsCount)
	require.NotNil(t, details.LastActivity)
	assert.Equal(t, f.clock.Now(), *details.LastActivity)
	assert.Equal(t, "active", details.AccountStatus)
	assert.Equal(t, 2, details.RoleInfo.Level)

	intern, err := f.svc.UserDetails(ctx, registrar, "intern@my.xu.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, 1, intern.LoginHistory.FailedAttempts)
	assert.False(t, intern.LoginHistory.IsLocked)
	assert.Nil(t, intern.LastActivity)

	_, err = f.svc.UserDetails(ctx, registrar, "ghost@xu.edu.ph")
	assert.ErrorIs(t, err, ErrUserNotFound)

	evaluator := f.login(t, "evaluator@xu.edu.ph", "Evaluator789!")
	_, err = f.svc.UserDetails(ctx, evaluator, "intern@my.xu.edu.ph")
	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestUserDetailsReportsLockedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, "assistant@my.xu.edu.ph", "wrong")
	}
	details, err := f.svc.UserDetails(ctx, admin, "assistant@my.xu.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, "locked", details.AccountStatus)
	assert.True(t, details.LoginHistory.IsLocked)
	require.NotNil(t, details.LoginHistory.LockedUntil)
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	internToken := f.login(t, "intern@my.xu.edu.ph", "Intern111!")

	user, err := f.svc.AssignRole(ctx, admin, "intern@my.xu.edu.ph", rbac.RoleStudentAssistant)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStudentAssistant, user.Role)

	// The live session keeps the permissions it was created with.
	view, err := f.svc.ValidateSession(ctx, internToken)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleIntern, view.Role)
	assert.False(t, view.Can(rbac.PermCoordinateWithRegistrar))

	res, err := f.svc.Login(ctx, "intern@my.xu.edu.ph", "Intern111!")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStudentAssistant, res.User.Role)
	assert.Contains(t, res.User.Permissions, rbac.PermCoordinateWithRegistrar)
}

func TestAssignRoleRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	registrar := f.login(t, "registrar@xu.edu.ph", "Registrar456!")

	_, err := f.svc.AssignRole(ctx, admin, "registrar@xu.edu.ph", rbac.RoleSystemAdministrator)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)

	_, err = f.svc.AssignRole(ctx, admin, "intern@my.xu.edu.ph", rbac.RoleEvaluator)
	assert.ErrorIs(t, err, ErrInvalidRoleForDomain)

	_, err = f.svc.AssignRole(ctx, admin, "intern@my.xu.edu.ph", rbac.ParseRole("Dean"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.svc.AssignRole(ctx, admin, "stranger@xu.edu.ph", rbac.RoleEvaluator)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.AssignRole(ctx, registrar, "intern@my.xu.edu.ph", rbac.RoleStudentAssistant)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestValidateIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.svc.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 3, report.Statistics.UsersByDomain[rbac.DomainStaff])
	assert.Equal(t, 2, report.Statistics.UsersByDomain[rbac.DomainStudent])

	require.NoError(t, f.svc.whitelist.Seed([]SeedUser{{Email: "rogue@my.xu.edu.ph", Role: "Evaluator"}}, bcrypt.MinCost))
	_, err = f.store.Create(ctx, session.User{Email: "ghost@my.xu.edu.ph", Role: rbac.RoleIntern}, MethodPassword)
	require.NoError(t, err)

	report, err = f.svc.ValidateIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "INVALID_ROLE_DOMAIN", report.Issues[0].Type)
	assert.Equal(t, "rogue@my.xu.edu.ph", report.Issues[0].User)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, IntegrityWarning{Type: "ORPHANED_SESSIONS", Count: 1}, report.Warnings[0])
	assert.Equal(t, 1, report.Statistics.ActiveSessions)
}

func TestWhitelistLoadsYAML(t *testing.T) {
	path := t.TempDir() + "/whitelist.yaml"
	hash, err := bcrypt.GenerateFromPassword([]byte("Hashed!1"), bcrypt.MinCost)
	require.NoError(t, err)
	content := "users:\n" +
		"  - email: Dean@xu.edu.ph\n    role: UniversityRegistrar\n    password: Plain!1\n" +
		"  - email: helper@my.xu.edu.ph\n    role: Intern\n    password_hash: " + string(hash) + "\n"
	require.NoError(t, writeFile(path, content))

	entries, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	wl := NewWhitelist(rbac.RoleIntern)
	require.NoError(t, wl.Seed(entries, bcrypt.MinCost))
	dean, ok := wl.Lookup("dean@xu.edu.ph")
	require.True(t, ok)
	assert.True(t, dean.CheckPassword("Plain!1"))
	helper, ok := wl.Lookup("helper@my.xu.edu.ph")
	require.True(t, ok)
	assert.True(t, helper.CheckPassword("Hashed!1"))

	synth, ok := wl.Lookup("someone@my.xu.edu.ph")
	require.True(t, ok)
	assert.Equal(t, rbac.RoleIntern, synth.Role)
	assert.False(t, synth.CheckPassword(""))

	require.Error(t, wl.Seed([]SeedUser{{Email: "x@xu.edu.ph", Role: "Janitor"}}, bcrypt.MinCost))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
