// Package auth authenticates users, issues sessions and answers permission queries.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/session"
	"github.com/xu-registrar/doctrack/internal/throttle"
)

// Login methods recorded on sessions.
const (
	MethodPassword = "email_password"
	MethodGoogle   = "google_oauth"
)

// Metrics observes authentication outcomes.
type Metrics interface {
	ObserveAuth(method, outcome string)
}

// Config collects Service dependencies.
type Config struct {
	Registry  *rbac.Registry
	Sessions  *session.Store
	Throttle  *throttle.Throttle
	Whitelist *Whitelist
	Audit     *audit.Logger
	Logger    *slog.Logger
	Metrics   Metrics
	// Delay runs before every password verdict. Nil means RandomDelay(50ms, 150ms).
	Delay DelayFunc
	// GoogleClientID is the audience Google identities must carry.
	GoogleClientID string
	Clock          func() time.Time
}

// Service is the authorization core.
type Service struct {
	registry       *rbac.Registry
	sessions       *session.Store
	throttle       *throttle.Throttle
	whitelist      *Whitelist
	audit          *audit.Logger
	logger         *slog.Logger
	metrics        Metrics
	delay          DelayFunc
	googleClientID string
	clock          func() time.Time
	validate       *validator.Validate
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		registry:       cfg.Registry,
		sessions:       cfg.Sessions,
		throttle:       cfg.Throttle,
		whitelist:      cfg.Whitelist,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		delay:          cfg.Delay,
		googleClientID: cfg.GoogleClientID,
		clock:          cfg.Clock,
		validate:       validator.New(),
	}
	if s.registry == nil {
		s.registry = rbac.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.throttle == nil {
		s.throttle = throttle.New(throttle.Config{})
	}
	if s.whitelist == nil {
		s.whitelist = NewWhitelist(rbac.RoleStudentAssistant)
	}
	if s.sessions == nil {
		s.sessions = session.NewStore(session.StoreConfig{Registry: s.registry, Audit: s.audit, Logger: s.logger})
	}
	if s.delay == nil {
		s.delay = RandomDelay(50*time.Millisecond, 150*time.Millisecond)
	}
	if s.clock == nil {
		s.clock = s.sessions.Now
	}
	return s
}

// Registry exposes the role registry.
func (s *Service) Registry() *rbac.Registry { return s.registry }

// Whitelist exposes the whitelist.
func (s *Service) Whitelist() *Whitelist { return s.whitelist }

// UserSummary describes the authenticated user.
type UserSummary struct {
	Email       string    `json:"email"`
	Role        rbac.Role `json:"role"`
	Permissions []string  `json:"permissions"`
	Name        string    `json:"name,omitempty"`
	Picture     string    `json:"picture,omitempty"`
}

// SessionSummary describes the issued session.
type SessionSummary struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Message        string         `json:"message"`
	User           UserSummary    `json:"user"`
	Session        SessionSummary `json:"session"`
	LoginMethod    string         `json:"loginMethod"`
	LoginTimestamp time.Time      `json:"loginTimestamp"`
}

// Login authenticates email and password and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	cleanEmail, cleanPassword, reason := s.sanitizeLogin(email, password)
	if reason != "" {
		s.record(ctx, audit.TypeLoginAttempt, "INVALID_INPUT", map[string]any{"email": emailOrNull(email), "reason": reason})
		s.observe(MethodPassword, string(CodeMissingCredentials))
		return nil, ErrMissingCredentials
	}

	now := s.clock()
	if s.throttle.IsLocked(cleanEmail, now) {
		retry := s.throttle.RemainingLockSeconds(cleanEmail, now)
		s.record(ctx, audit.TypeLoginAttempt, "ACCOUNT_LOCKED", map[string]any{"email": cleanEmail, "retryAfter": retry})
		s.observe(MethodPassword, string(CodeAccountLocked))
		return nil, lockedError(retry)
	}

	if !s.registry.IsValidDomain(cleanEmail) {
		return nil, s.reject(ctx, cleanEmail, now, ErrInvalidDomain, nil)
	}

	user, ok := s.whitelist.Lookup(cleanEmail)
	if !ok {
		if err := s.delay(ctx); err != nil {
			return nil, err
		}
		s.whitelist.Decoy(cleanPassword)
		return nil, s.reject(ctx, cleanEmail, now, ErrUnauthorizedUser, nil)
	}

	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	if !user.CheckPassword(cleanPassword) {
		attempts := 1
		if rec, found := s.throttle.State(cleanEmail); found {
			attempts = rec.FailedCount + 1
		}
		return nil, s.reject(ctx, cleanEmail, now, ErrInvalidPassword, map[string]any{"attemptCount": attempts})
	}

	sess, err := s.sessions.Create(ctx, session.User{Email: user.Email, Role: user.Role}, MethodPassword)
	if err != nil {
		if errors.Is(err, session.ErrInvalidUser) {
			return nil, s.reject(ctx, cleanEmail, now, ErrSessionCreationFailed, nil)
		}
		return nil, err
	}

	s.throttle.RecordSuccess(cleanEmail)
	s.record(ctx, audit.TypeLoginSuccess, "USER_AUTHENTICATED", map[string]any{
		"email":     cleanEmail,
		"role":      user.Role.String(),
		"sessionId": sess.ID,
		"method":    MethodPassword,
	})
	s.observe(MethodPassword, "success")
	return s.loginResult(sess, MethodPassword, "Login successful", "", ""), nil
}

// ValidateSession resolves token to a read-only view, refreshing its access time.
func (s *Service) ValidateSession(ctx context.Context, token string) (*session.View, error) {
	sess, err := s.activeSession(ctx, token)
	if err != nil {
		return nil, err
	}
	touched, err := s.sessions.Touch(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyDestroyed) || errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return touched.View(s.sessions.MaxAge()), nil
}

// Logout destroys the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingSession
	}
	if !session.ValidID(token) {
		return ErrInvalidSessionFormat
	}
	_, err := s.sessions.Destroy(ctx, token, session.ReasonUserLogout)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrAlreadyDestroyed):
		return ErrSessionDestroyed
	}
	return err
}

// HasPermission reports whether token names a live session holding permission.
func (s *Service) HasPermission(ctx context.Context, token, permission string) bool {
	sess, err := s.activeSession(ctx, token)
	if err != nil {
		return false
	}
	return sess.View(s.sessions.MaxAge()).Can(permission)
}

// SessionStatus describes a session's lifecycle state.
type SessionStatus struct {
	IsActive       bool       `json:"isActive"`
	DestroyedAt    *time.Time `json:"destroyedAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// SessionStatus reports the session's state without refreshing it. Stale sessions are
// expired as a side effect.
func (s *Service) SessionStatus(ctx context.Context, token string) (*SessionStatus, error) {
	if !session.ValidID(token) {
		return nil, ErrInvalidSessionFormat
	}
	sess, err := s.sessions.Get(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.IsActive && session.Stale(sess, s.clock(), s.sessions.MaxAge()) {
		expired, err := s.expire(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		if expired != nil {
			sess = expired
		}
		return &SessionStatus{IsActive: false, DestroyedAt: sess.DestroyedAt, Reason: session.ReasonTimeout}, nil
	}
	last := sess.LastAccessedAt
	expires := sess.ExpiresAt(s.sessions.MaxAge())
	return &SessionStatus{
		IsActive:       sess.IsActive,
		DestroyedAt:    sess.DestroyedAt,
		LastAccessedAt: &last,
		ExpiresAt:      &expires,
		Reason:         sess.DestroyedBy,
	}, nil
}

// GoogleIdentity is a verified identity supplied by the OAuth collaborator.
type GoogleIdentity struct {
	Email         string
	EmailVerified bool
	Audience      string
	Name          string
	Picture       string
}

// AuthenticateWithGoogle issues a session for a verified Google identity. No password is
// involved; the whitelist and domain rules still apply.
func (s *Service) AuthenticateWithGoogle(ctx context.Context, id GoogleIdentity) (*LoginResult, error) {
	email := normalizeEmail(id.Email)
	if email == "" || !id.EmailVerified || s.googleClientID == "" || id.Audience != s.googleClientID {
		s.record(ctx, audit.TypeOAuth, "TOKEN_REJECTED", map[string]any{
			"email":         emailOrNull(email),
			"emailVerified": id.EmailVerified,
		})
		s.observe(MethodGoogle, string(CodeInvalidToken))
		return nil, ErrInvalidToken
	}
	if !s.registry.IsValidDomain(email) {
		s.record(ctx, audit.TypeOAuth, string(CodeUnauthorizedDomain), map[string]any{"email": email})
		s.observe(MethodGoogle, string(CodeUnauthorizedDomain))
		return nil, ErrUnauthorizedDomain
	}
	user, ok := s.whitelist.Lookup(email)
	if !ok {
		s.record(ctx, audit.TypeOAuth, string(CodeUserNotAuthorized), map[string]any{"email": email})
		s.observe(MethodGoogle, string(CodeUserNotAuthorized))
		return nil, ErrUserNotAuthorized
	}
	sess, err := s.sessions.Create(ctx, session.User{Email: user.Email, Role: user.Role}, MethodGoogle)
	if err != nil {
		if errors.Is(err, session.ErrInvalidUser) {
			s.record(ctx, audit.TypeOAuth, "SESSION_CREATION_FAILED", map[string]any{"email": email})
			s.observe(MethodGoogle, string(CodeSessionCreationFailed))
			return nil, ErrSessionCreationFailed
		}
		return nil, err
	}
	if user.Provisioned {
		s.whitelist.Provision(user)
	}
	s.record(ctx, audit.TypeLoginSuccess, "OAUTH_AUTHENTICATED", map[string]any{
		"email":     email,
		"role":      user.Role.String(),
		"sessionId": sess.ID,
		"method":    MethodGoogle,
	})
	s.observe(MethodGoogle, "success")
	return s.loginResult(sess, MethodGoogle, "Google OAuth authentication successful", id.Name, id.Picture), nil
}

// activeSession performs the shape, lookup, liveness and lazy-expiry checks without
// refreshing the access time.
func (s *Service) activeSession(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, ErrMissingSession
	}
	if !session.ValidID(token) {
		return nil, ErrInvalidSessionFormat
	}
	sess, err := s.sessions.Get(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrSessionNotFound
	}
	if session.Stale(sess, s.clock(), s.sessions.MaxAge()) {
		if _, err := s.expire(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// expire destroys a stale session, tolerating a concurrent destroy.
func (s *Service) expire(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.sessions.Destroy(ctx, id, session.ReasonTimeout)
	if errors.Is(err, session.ErrAlreadyDestroyed) || errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// reject records a throttled failure for identity and returns err.
func (s *Service) reject(ctx context.Context, identity string, now time.Time, err *Error, extra map[string]any) error {
	s.throttle.RecordFailure(identity, now)
	details := map[string]any{"email": identity}
	for k, v := range extra {
		details[k] = v
	}
	s.record(ctx, audit.TypeLoginAttempt, string(err.Code), details)
	if s.throttle.IsLocked(identity, now) {
		s.logger.WarnContext(ctx, "account locked",
			slog.String("email", identity),
			slog.Int("max_attempts", s.throttle.MaxAttempts()))
	}
	s.observe(MethodPassword, string(err.Code))
	return err
}

func (s *Service) sanitizeLogin(email, password string) (string, string, string) {
	if email == "" || password == "" {
		return "", "", "Missing credentials"
	}
	cleanEmail := normalizeEmail(email)
	cleanPassword := strings.TrimSpace(password)
	if cleanEmail == "" || cleanPassword == "" {
		return "", "", "Empty credentials"
	}
	if err := s.validate.Var(cleanEmail, "required,email"); err != nil {
		return "", "", "Invalid email format"
	}
	return cleanEmail, cleanPassword, ""
}

func (s *Service) loginResult(sess *session.Session, method, message, name, picture string) *LoginResult {
	return &LoginResult{
		Message: message,
		User: UserSummary{
			Email:       sess.Email,
			Role:        sess.Role,
			Permissions: append([]string(nil), sess.Permissions...),
			Name:        name,
			Picture:     picture,
		},
		Session: SessionSummary{
			SessionID: sess.ID,
			ExpiresAt: sess.ExpiresAt(s.sessions.MaxAge()),
			IsActive:  sess.IsActive,
		},
		LoginMethod:    method,
		LoginTimestamp: sess.CreatedAt,
	}
}

func (s *Service) record(ctx context.Context, eventType, action string, details map[string]any) {
	s.audit.Record(ctx, eventType, action, details)
}

func (s *Service) observe(method, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveAuth(method, outcome)
	}
}

func emailOrNull(email string) string {
	if email == "" {
		return "null"
	}
	return email
}
