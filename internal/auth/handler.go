package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xu-registrar/doctrack/internal/platform/httpx"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/session"
)

const (
	sessionCookie = "sessionToken"
	stateCookie   = "oauth_state"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	google       *GoogleService
	rbac         rbac.Middleware
	validator    *validator.Validate
	development  bool
	secureCookie bool
	loginLimit   func(http.Handler) http.Handler
}

// HandlerOptions tunes cookie and error disclosure behaviour.
type HandlerOptions struct {
	// Development exposes infrastructure error details to clients.
	Development bool
	// SecureCookies marks cookies Secure.
	SecureCookies bool
	// LoginLimit wraps the credential endpoint, typically with a per-IP rate limiter.
	LoginLimit func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. google may be nil when OAuth is not configured.
func NewHandler(logger *slog.Logger, service *Service, google *GoogleService, mw rbac.Middleware, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger,
		service:      service,
		google:       google,
		rbac:         mw,
		validator:    validator.New(),
		development:  opts.Development,
		secureCookie: opts.SecureCookies,
		loginLimit:   opts.LoginLimit,
	}
}

// Authenticate attaches the session principal when the request carries a valid token.
// Anonymous requests pass through; guards decide whether that is acceptable.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httpx.BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		view, err := h.service.ValidateSession(r.Context(), token)
		if err != nil {
			var authErr *Error
			if !errors.As(err, &authErr) {
				h.logger.Error("validate session", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := rbac.ContextWithPrincipal(r.Context(), view)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MountRoutes registers /api/auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.loginLimit != nil {
		r.With(h.loginLimit).Post("/login", h.handleLogin)
	} else {
		r.Post("/login", h.handleLogin)
	}
	r.Post("/logout", h.handleLogout)
	r.Get("/session/{id}", h.handleSession)
	r.Get("/session/{id}/status", h.handleSessionStatus)
	r.Post("/google/logout", h.handleGoogleLogout)
}

// MountGoogleRoutes registers the browser-facing OAuth redirect routes.
func (h *Handler) MountGoogleRoutes(r chi.Router) {
	r.Get("/", h.startGoogle)
	r.Get("/callback", h.googleCallback)
}

// MountAdminRoutes registers /api/admin routes. Requests must pass through Authenticate.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/status", h.handleSystemStatus)
	r.Get("/users/{email}", h.handleUserDetails)
	r.Put("/users/{email}/role", h.handleAssignRole)
	r.With(h.rbac.RequireAny(rbac.PermManageAccessControl)).Get("/integrity", h.handleIntegrity)
	r.With(h.rbac.RequireAny(rbac.PermViewAllAuditLogs)).Get("/audit", h.handleAudit)
	r.With(h.requirePermission(rbac.PermManageAccessControl)).Get("/sessions", h.handleActiveSessions)
}

// requirePermission guards a route by re-checking the bearer session against the store.
func (h *Handler) requirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := httpx.BearerToken(r)
			if token == "" {
				h.writeAuthError(w, ErrMissingSession)
				return
			}
			if !h.service.HasPermission(r.Context(), token, permission) {
				h.writeAuthError(w, ErrInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type failureResponse struct {
	Success    bool   `json:"success"`
	ErrorCode  Code   `json:"errorCode,omitempty"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

type loginResponse struct {
	Success bool `json:"success"`
	*LoginResult
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeAuthError(w, ErrMissingCredentials)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	h.setSessionCookie(w, result.Session.SessionID, result.Session.ExpiresAt)
	httpx.JSON(w, http.StatusOK, loginResponse{Success: true, LoginResult: result})
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

type messageResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.writeAuthError(w, ErrMissingSession)
			return
		}
	}
	token := strings.TrimSpace(req.SessionID)
	if token == "" {
		token = httpx.BearerToken(r)
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		h.writeAuthError(w, err)
		return
	}
	h.clearCookie(w, sessionCookie)
	httpx.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "Session destroyed successfully", SessionID: token})
}

type sessionResponse struct {
	Success bool          `json:"success"`
	Session *session.View `json:"session"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.ValidateSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			httpx.JSON(w, http.StatusUnauthorized, failureResponse{
				ErrorCode: authErr.Code,
				Message:   "Session not found or expired",
			})
			return
		}
		h.internalError(w, "validate session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{Success: true, Session: view})
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.SessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) startGoogle(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Google sign-in is not configured")
		return
	}
	authURL, state, err := h.google.AuthURL("")
	if err != nil {
		h.internalError(w, "build google auth url", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) googleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Google sign-in is not configured")
		return
	}
	query := r.URL.Query()
	if query.Get("error") != "" {
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}
	state := query.Get("state")
	if cookie, err := r.Cookie(stateCookie); err != nil || cookie.Value != state {
		http.Redirect(w, r, "/?error="+strings.ToLower(string(CodeInvalidParams)), http.StatusFound)
		return
	}
	h.clearCookie(w, stateCookie)

	result, err := h.google.HandleCallback(r.Context(), query.Get("code"), state)
	if err != nil {
		var authErr *Error
		if !errors.As(err, &authErr) {
			h.internalError(w, "google callback", err)
			return
		}
		h.logger.Info("google sign-in rejected", slog.String("code", string(authErr.Code)))
		http.Redirect(w, r, "/?error="+strings.ToLower(string(authErr.Code)), http.StatusFound)
		return
	}
	h.setSessionCookie(w, result.Session.SessionID, result.Session.ExpiresAt)
	target := "/dashboard"
	if result.User.Role == rbac.RoleIntern {
		target = "/?welcome=true"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type googleLogoutRequest struct {
	SessionID   string `json:"sessionId"`
	GoogleToken string `json:"googleToken"`
}

type googleLogoutResponse struct {
	Success bool `json:"success"`
	*GoogleLogoutResult
}

func (h *Handler) handleGoogleLogout(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Google sign-in is not configured")
		return
	}
	var req googleLogoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeAuthError(w, ErrInvalidParams)
		return
	}
	if req.SessionID == "" {
		req.SessionID = httpx.BearerToken(r)
	}
	result := h.google.Logout(r.Context(), req.SessionID, req.GoogleToken)
	h.clearCookie(w, sessionCookie)
	httpx.JSON(w, http.StatusOK, googleLogoutResponse{Success: true, GoogleLogoutResult: result})
}

func (h *Handler) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.SystemStatus(r.Context(), httpx.BearerToken(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.UserDetails(r.Context(), httpx.BearerToken(r), chi.URLParam(r, "email"))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type assignRoleResponse struct {
	Success bool      `json:"success"`
	Email   string    `json:"email"`
	Role    rbac.Role `json:"role"`
	Message string    `json:"message"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is required")
		return
	}
	user, err := h.service.AssignRole(r.Context(), httpx.BearerToken(r), chi.URLParam(r, "email"), rbac.ParseRole(req.Role))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignRoleResponse{
		Success: true,
		Email:   user.Email,
		Role:    user.Role,
		Message: "Role updated; existing sessions keep their permissions until they end",
	})
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ValidateIntegrity(r.Context())
	if err != nil {
		h.internalError(w, "validate integrity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": h.service.AuditLog(limit)})
}

type activeSession struct {
	Email          string    `json:"email"`
	Role           rbac.Role `json:"role"`
	LoginMethod    string    `json:"loginMethod,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

func (h *Handler) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	active, err := h.service.ActiveSessions(r.Context())
	if err != nil {
		h.internalError(w, "active sessions", err)
		return
	}
	out := make([]activeSession, 0, len(active))
	for _, sess := range active {
		out = append(out, activeSession{
			Email:          sess.Email,
			Role:           sess.Role,
			LoginMethod:    sess.LoginMethod,
			CreatedAt:      sess.CreatedAt,
			LastAccessedAt: sess.LastAccessedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(out), "sessions": out})
}

// writeAuthError renders a typed failure. Unknown-user and wrong-password collapse into a
// single generic response.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		h.internalError(w, "auth", err)
		return
	}
	resp := failureResponse{ErrorCode: authErr.Code, Message: authErr.Message}
	if h.development {
		resp.Details = authErr.Detail
	}
	status := http.StatusUnauthorized
	switch authErr.Code {
	case CodeUnauthorizedUser, CodeInvalidPassword:
		resp.ErrorCode = "INVALID_CREDENTIALS"
		resp.Message = ErrInvalidPassword.Message
	case CodeMissingCredentials, CodeMissingSession, CodeInvalidSessionFormat, CodeInvalidParams,
		CodeMissingToken, CodeInvalidRole, CodeInvalidRoleForDomain:
		status = http.StatusBadRequest
	case CodeAccountLocked:
		status = http.StatusTooManyRequests
		resp.RetryAfter = authErr.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(authErr.RetryAfter))
	case CodeSessionDestroyed:
		status = http.StatusConflict
	case CodeInsufficientPermissions:
		status = http.StatusForbidden
	case CodeUserNotFound:
		status = http.StatusNotFound
	case CodeSessionCreationFailed:
		status = http.StatusInternalServerError
	case CodeTokenExchangeFailed, CodeVerificationFailed:
		status = http.StatusBadGateway
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.JSON(w, http.StatusInternalServerError, failureResponse{Message: "Internal server error"})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
