package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/rbac"
)

// IDPrefix marks every session token.
const IDPrefix = "sess_"

const (
	idEntropyBytes = 32
	idLength       = len(IDPrefix) + 43 // base64url, no padding, of 32 bytes
	insertAttempts = 3
)

// Backend persists sessions. Update must apply fn atomically with respect to other calls.
type Backend interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
}

// Auditor receives security events.
type Auditor interface {
	Record(ctx context.Context, eventType, action string, details map[string]any)
}

// StoreConfig collects Store dependencies.
type StoreConfig struct {
	Backend  Backend
	Registry *rbac.Registry
	Audit    Auditor
	Logger   *slog.Logger
	// MaxAge is the hard lifetime measured from creation.
	MaxAge time.Duration
	// Retention is how long destroyed sessions are kept before the sweeper prunes them.
	Retention time.Duration
	Clock     func() time.Time
}

// Store issues, validates and destroys sessions.
type Store struct {
	backend   Backend
	registry  *rbac.Registry
	audit     Auditor
	logger    *slog.Logger
	maxAge    time.Duration
	retention time.Duration
	clock     func() time.Time
}

// NewStore constructs a Store. A nil backend defaults to an in-memory one.
func NewStore(cfg StoreConfig) *Store {
	s := &Store{
		backend:   cfg.Backend,
		registry:  cfg.Registry,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		maxAge:    cfg.MaxAge,
		retention: cfg.Retention,
		clock:     cfg.Clock,
	}
	if s.backend == nil {
		s.backend = NewMemoryBackend()
	}
	if s.registry == nil {
		s.registry = rbac.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.retention <= 0 {
		s.retention = s.maxAge
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// MaxAge returns the configured session lifetime.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.clock() }

// Create issues a new active session for user. The permission list is a snapshot of the
// role table at this moment.
func (s *Store) Create(ctx context.Context, user User, loginMethod string) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || !user.Role.Known() {
		return nil, ErrInvalidUser
	}
	perms := s.registry.Permissions(user.Role)
	if len(perms) == 0 {
		return nil, ErrInvalidUser
	}
	if !s.registry.IsRoleLegalForEmail(email, user.Role) {
		s.record(ctx, audit.TypeSessionCreation, "INVALID_ROLE_FOR_DOMAIN", map[string]any{
			"email":  email,
			"role":   user.Role.String(),
			"domain": rbac.DomainOf(email),
		})
		return nil, fmt.Errorf("%w: role %s not allowed for %s", ErrInvalidUser, user.Role, rbac.DomainOf(email))
	}

	now := s.clock()
	sess := &Session{
		Email:          email,
		Role:           user.Role,
		Permissions:    perms,
		RoleLevel:      s.registry.Level(user.Role),
		Domain:         rbac.DomainOf(email),
		LoginMethod:    loginMethod,
		CreatedAt:      now,
		LastAccessedAt: now,
		IsActive:       true,
	}
	for attempt := 0; ; attempt++ {
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		sess.ID = id
		err = s.backend.Insert(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateID) || attempt+1 >= insertAttempts {
			return nil, err
		}
	}
	s.record(ctx, audit.TypeSession, "CREATE", map[string]any{
		"sessionId": sess.ID,
		"email":     sess.Email,
		"role":      sess.Role.String(),
	})
	return sess.Clone(), nil
}

// Get returns a copy of the session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	return s.backend.Get(ctx, id)
}

// Touch refreshes lastAccessedAt on an active session.
func (s *Store) Touch(ctx context.Context, id string) (*Session, error) {
	now := s.clock()
	return s.backend.Update(ctx, id, func(sess *Session) error {
		if !sess.IsActive {
			return ErrAlreadyDestroyed
		}
		sess.LastAccessedAt = now
		return nil
	})
}

// Destroy marks the session terminal with reason. Destroying twice fails with
// ErrAlreadyDestroyed.
func (s *Store) Destroy(ctx context.Context, id, reason string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	now := s.clock()
	sess, err := s.backend.Update(ctx, id, func(sess *Session) error {
		if !sess.IsActive {
			return ErrAlreadyDestroyed
		}
		sess.IsActive = false
		sess.DestroyedAt = &now
		sess.DestroyedBy = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	action := "DESTROY"
	switch reason {
	case ReasonTimeout:
		action = "EXPIRE"
	case ReasonUserLogout:
		action = "LOGOUT"
	}
	s.record(ctx, audit.TypeSession, action, map[string]any{"sessionId": id, "email": sess.Email})
	return sess, nil
}

// SweepExpired destroys every active session older than maxAge at now with reason
// "timeout", and prunes destroyed sessions past the retention window.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	ids, err := s.backend.IDs(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		sess, err := s.backend.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if sess.IsActive {
			if !Stale(sess, now, maxAge) {
				continue
			}
			if _, err := s.Destroy(ctx, id, ReasonTimeout); err != nil {
				if errors.Is(err, ErrAlreadyDestroyed) || errors.Is(err, ErrNotFound) {
					continue
				}
				return expired, err
			}
			expired++
			continue
		}
		if sess.DestroyedAt != nil && now.Sub(*sess.DestroyedAt) > s.retention {
			if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("prune session", slog.String("session_id", id), slog.Any("error", err))
			}
		}
	}
	return expired, nil
}

// Active returns copies of every active, non-stale session.
func (s *Store) Active(ctx context.Context) ([]*Session, error) {
	ids, err := s.backend.IDs(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.backend.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.IsActive && !Stale(sess, now, s.maxAge) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Store) record(ctx context.Context, eventType, action string, details map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, eventType, action, details)
	}
}

// NewID generates an unguessable session id carrying IDPrefix.
func NewID() (string, error) {
	b := make([]byte, idEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return IDPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidID is a cheap shape check run before any lookup.
func ValidID(id string) bool {
	if len(id) != idLength || !strings.HasPrefix(id, IDPrefix) {
		return false
	}
	for _, c := range id[len(IDPrefix):] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
