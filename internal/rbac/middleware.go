package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xu-registrar/doctrack/internal/platform/httpx"
)

// Principal describes the authenticated actor attached to a request.
type Principal interface {
	PrincipalEmail() string
	PrincipalRole() Role
	Can(permission string) bool
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal, or nil when the request is anonymous.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current principal has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(p Principal) bool {
		return hasAnyPermission(p, normalized)
	})
}

// RequireAll ensures the current principal has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(p Principal) bool {
		return hasAllPermissions(p, normalized)
	})
}

func (m Middleware) guard(required []string, allowed func(Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Session not found or expired")
				return
			}
			if len(required) == 0 || allowed(p) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("email", p.PrincipalEmail()),
					slog.String("role", p.PrincipalRole().String()),
					slog.String("path", r.URL.Path),
				)
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "Insufficient permissions")
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(p Principal, required []string) bool {
	for _, perm := range required {
		if p.Can(perm) {
			return true
		}
	}
	return false
}

func hasAllPermissions(p Principal, required []string) bool {
	for _, perm := range required {
		if !p.Can(perm) {
			return false
		}
	}
	return true
}
