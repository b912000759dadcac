// Package session issues and tracks authenticated sessions.
package session

import (
	"errors"
	"slices"
	"time"

	"github.com/xu-registrar/doctrack/internal/rbac"
)

// Destroy reasons.
const (
	ReasonTimeout    = "timeout"
	ReasonUserLogout = "user_logout"
)

// DefaultMaxAge is the hard session lifetime measured from creation.
const DefaultMaxAge = 24 * time.Hour

var (
	// ErrInvalidUser indicates the user cannot hold a session (missing data or illegal role).
	ErrInvalidUser = errors.New("session: invalid user")
	// ErrNotFound indicates no session exists for the id.
	ErrNotFound = errors.New("session: not found")
	// ErrAlreadyDestroyed indicates the session is already terminal.
	ErrAlreadyDestroyed = errors.New("session: already destroyed")
	// ErrDuplicateID indicates an id collision on insert.
	ErrDuplicateID = errors.New("session: duplicate id")
)

// User is the identity a session is issued for.
type User struct {
	Email string
	Role  rbac.Role
}

// Session is the stored session record.
type Session struct {
	ID             string     `json:"sessionId"`
	Email          string     `json:"email"`
	Role           rbac.Role  `json:"role"`
	Permissions    []string   `json:"permissions"`
	RoleLevel      int        `json:"roleLevel"`
	Domain         string     `json:"domain"`
	LoginMethod    string     `json:"loginMethod,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	IsActive       bool       `json:"isActive"`
	DestroyedAt    *time.Time `json:"destroyedAt,omitempty"`
	DestroyedBy    string     `json:"destroyedBy,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Permissions = slices.Clone(s.Permissions)
	if s.DestroyedAt != nil {
		at := *s.DestroyedAt
		out.DestroyedAt = &at
	}
	return &out
}

// ExpiresAt returns the end of the session's lifetime.
func (s *Session) ExpiresAt(maxAge time.Duration) time.Time {
	return s.CreatedAt.Add(maxAge)
}

// View returns a read-only projection of the session.
func (s *Session) View(maxAge time.Duration) *View {
	return &View{
		SessionID:      s.ID,
		Email:          s.Email,
		Role:           s.Role,
		Permissions:    slices.Clone(s.Permissions),
		IsActive:       s.IsActive,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		ExpiresAt:      s.ExpiresAt(maxAge),
	}
}

// Stale reports whether the session outlived maxAge at now. It never mutates the session.
func Stale(s *Session, now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CreatedAt) > maxAge
}

// View is what callers see after validating a token. It holds copies only.
type View struct {
	SessionID      string    `json:"sessionId"`
	Email          string    `json:"email"`
	Role           rbac.Role `json:"role"`
	Permissions    []string  `json:"permissions"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// PrincipalEmail implements rbac.Principal.
func (v *View) PrincipalEmail() string { return v.Email }

// PrincipalRole implements rbac.Principal.
func (v *View) PrincipalRole() rbac.Role { return v.Role }

// Can reports whether the session's permission snapshot includes permission.
func (v *View) Can(permission string) bool {
	return permission != "" && slices.Contains(v.Permissions, permission)
}

var _ rbac.Principal = (*View)(nil)
