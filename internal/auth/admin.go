package auth

import (
	"context"
	"sort"
	"time"

	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/session"
)

const recentEventWindow = 50

// SecurityStatistics summarises authentication state.
type SecurityStatistics struct {
	TotalUsers           int `json:"totalUsers"`
	ActiveSessionsCount  int `json:"activeSessionsCount"`
	LockedAccounts       int `json:"lockedAccounts"`
	RecentSecurityEvents int `json:"recentSecurityEvents"`
}

// SystemStatus is the administrator dashboard payload.
type SystemStatus struct {
	Timestamp          time.Time              `json:"timestamp"`
	ActiveUsersByRole  map[rbac.Role]int      `json:"activeUsersByRole"`
	SecurityStatistics SecurityStatistics     `json:"securityStatistics"`
	RoleHierarchy      map[rbac.Role]int      `json:"roleHierarchy"`
	DomainRestrictions map[string][]rbac.Role `json:"domainRestrictions"`
	SystemHealth       string                 `json:"systemHealth"`
}

// SystemStatus returns live authentication statistics. Only system administrators may call it.
func (s *Service) SystemStatus(ctx context.Context, token string) (*SystemStatus, error) {
	if _, err := s.requireRole(ctx, token, rbac.RoleSystemAdministrator); err != nil {
		return nil, err
	}
	active, err := s.sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	byRole := make(map[rbac.Role]int)
	for _, sess := range active {
		byRole[sess.Role]++
	}
	now := s.clock()
	return &SystemStatus{
		Timestamp:         now,
		ActiveUsersByRole: byRole,
		SecurityStatistics: SecurityStatistics{
			TotalUsers:           s.whitelist.Len(),
			ActiveSessionsCount:  len(active),
			LockedAccounts:       s.throttle.LockedCount(now),
			RecentSecurityEvents: len(s.audit.Recent(recentEventWindow)),
		},
		RoleHierarchy:      s.registry.Hierarchy(),
		DomainRestrictions: s.registry.DomainRestrictions(),
		SystemHealth:       "operational",
	}, nil
}

// LoginHistory is the throttle view of one identity.
type LoginHistory struct {
	FailedAttempts int        `json:"failedAttempts"`
	LastAttempt    *time.Time `json:"lastAttempt"`
	IsLocked       bool       `json:"isLocked"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// UserDetails describes one whitelisted user for administrators.
type UserDetails struct {
	Email               string       `json:"email"`
	Role                rbac.Role    `json:"role"`
	RoleInfo            rbac.Info    `json:"roleInfo"`
	LoginHistory        LoginHistory `json:"loginHistory"`
	ActiveSessionsCount int          `json:"activeSessionsCount"`
	LastActivity        *time.Time   `json:"lastActivity"`
	AccountStatus       string       `json:"accountStatus"`
}

// UserDetails returns account details for email. System administrators and registrars only.
func (s *Service) UserDetails(ctx context.Context, token, email string) (*UserDetails, error) {
	if _, err := s.requireRole(ctx, token, rbac.RoleSystemAdministrator, rbac.RoleUniversityRegistrar); err != nil {
		return nil, err
	}
	user, ok := s.whitelist.Lookup(email)
	if !ok {
		return nil, ErrUserNotFound
	}

	now := s.clock()
	history := LoginHistory{IsLocked: s.throttle.IsLocked(user.Email, now)}
	if rec, found := s.throttle.State(user.Email); found {
		last := rec.LastAttemptAt
		history.FailedAttempts = rec.FailedCount
		history.LastAttempt = &last
		history.LockedUntil = rec.LockedUntil
	}

	active, err := s.sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	details := &UserDetails{
		Email:         user.Email,
		Role:          user.Role,
		RoleInfo:      s.registry.Info(user.Role),
		LoginHistory:  history,
		AccountStatus: "active",
	}
	for _, sess := range active {
		if sess.Email != user.Email {
			continue
		}
		details.ActiveSessionsCount++
		if details.LastActivity == nil || sess.LastAccessedAt.After(*details.LastActivity) {
			at := sess.LastAccessedAt
			details.LastActivity = &at
		}
	}
	if history.IsLocked {
		details.AccountStatus = "locked"
	}
	return details, nil
}

// IntegrityIssue is a whitelist entry that violates the role/domain partition.
type IntegrityIssue struct {
	Type   string    `json:"type"`
	User   string    `json:"user"`
	Role   rbac.Role `json:"role"`
	Domain string    `json:"domain"`
}

// IntegrityWarning flags a non-fatal inconsistency.
type IntegrityWarning struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// IntegrityStatistics summarises the whitelist.
type IntegrityStatistics struct {
	TotalUsers     int               `json:"totalUsers"`
	UsersByDomain  map[string]int    `json:"usersByDomain"`
	UsersByRole    map[rbac.Role]int `json:"usersByRole"`
	ActiveSessions int               `json:"activeSessions"`
}

// IntegrityReport is the result of ValidateIntegrity.
type IntegrityReport struct {
	Timestamp  time.Time           `json:"timestamp"`
	Issues     []IntegrityIssue    `json:"issues"`
	Warnings   []IntegrityWarning  `json:"warnings"`
	Statistics IntegrityStatistics `json:"statistics"`
}

// ValidateIntegrity checks whitelist legality and looks for sessions whose owner is no
// longer whitelisted.
func (s *Service) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	users := s.whitelist.Users()
	report := &IntegrityReport{
		Timestamp: s.clock(),
		Issues:    []IntegrityIssue{},
		Warnings:  []IntegrityWarning{},
		Statistics: IntegrityStatistics{
			TotalUsers:    len(users),
			UsersByDomain: make(map[string]int),
			UsersByRole:   make(map[rbac.Role]int),
		},
	}
	for _, user := range users {
		domain := rbac.DomainOf(user.Email)
		if !s.registry.IsRoleLegalForEmail(user.Email, user.Role) {
			report.Issues = append(report.Issues, IntegrityIssue{
				Type:   "INVALID_ROLE_DOMAIN",
				User:   user.Email,
				Role:   user.Role,
				Domain: domain,
			})
		}
		report.Statistics.UsersByDomain[domain]++
		report.Statistics.UsersByRole[user.Role]++
	}

	active, err := s.sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	orphaned := 0
	for _, sess := range active {
		if !s.whitelist.Listed(sess.Email) {
			orphaned++
		}
	}
	if orphaned > 0 {
		report.Warnings = append(report.Warnings, IntegrityWarning{Type: "ORPHANED_SESSIONS", Count: orphaned})
	}
	report.Statistics.ActiveSessions = len(active)
	return report, nil
}

// AssignRole changes email's role. The caller needs assign_roles and must outrank both the
// user's current role and the new one. Live sessions keep their permission snapshot.
func (s *Service) AssignRole(ctx context.Context, token, email string, role rbac.Role) (User, error) {
	caller, err := s.activeSession(ctx, token)
	if err != nil {
		return User{}, err
	}
	if !caller.View(s.sessions.MaxAge()).Can(rbac.PermAssignRoles) {
		return User{}, ErrInsufficientPermissions
	}
	if !role.Known() {
		return User{}, ErrInvalidRole
	}
	current, ok := s.whitelist.Lookup(email)
	if !ok {
		return User{}, ErrUserNotFound
	}
	callerLevel := s.registry.Level(caller.Role)
	if callerLevel <= s.registry.Level(current.Role) || callerLevel <= s.registry.Level(role) {
		return User{}, ErrInsufficientPermissions
	}
	if !s.registry.IsRoleLegalForEmail(current.Email, role) {
		return User{}, ErrInvalidRoleForDomain
	}
	updated, err := s.whitelist.SetRole(current.Email, role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, audit.TypeAdministration, "ROLE_ASSIGNED", map[string]any{
		"actor":        caller.Email,
		"email":        updated.Email,
		"previousRole": current.Role.String(),
		"role":         role.String(),
	})
	return updated, nil
}

// AuditLog returns up to limit of the most recent security events.
func (s *Service) AuditLog(limit int) []audit.Event {
	return s.audit.Recent(limit)
}

// ActiveSessions returns live sessions ordered by creation time.
func (s *Service) ActiveSessions(ctx context.Context) ([]*session.Session, error) {
	active, err := s.sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].Email < active[j].Email
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (s *Service) requireRole(ctx context.Context, token string, roles ...rbac.Role) (*session.Session, error) {
	sess, err := s.activeSession(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if sess.Role == role {
			return sess, nil
		}
	}
	return nil, ErrInsufficientPermissions
}
