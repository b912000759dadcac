package auth

import "fmt"

// Code identifies an authentication outcome so callers can branch without string matching.
type Code string

// Error codes.
const (
	CodeMissingCredentials    Code = "MISSING_CREDENTIALS"
	CodeAccountLocked         Code = "ACCOUNT_LOCKED"
	CodeInvalidDomain         Code = "INVALID_DOMAIN"
	CodeUnauthorizedUser      Code = "UNAUTHORIZED_USER"
	CodeInvalidPassword       Code = "INVALID_PASSWORD"
	CodeSessionCreationFailed Code = "SESSION_CREATION_FAILED"

	CodeMissingSession       Code = "MISSING_SESSION"
	CodeInvalidSessionFormat Code = "INVALID_SESSION_FORMAT"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeSessionDestroyed     Code = "SESSION_ALREADY_DESTROYED"

	CodeMissingToken        Code = "MISSING_TOKEN"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeUnauthorizedDomain  Code = "UNAUTHORIZED_DOMAIN"
	CodeUserNotAuthorized   Code = "USER_NOT_AUTHORIZED"
	CodeInvalidAuthCode     Code = "INVALID_AUTH_CODE"
	CodeTokenExchangeFailed Code = "TOKEN_EXCHANGE_FAILED"
	CodeInvalidParams       Code = "INVALID_PARAMS"
	CodeVerificationFailed  Code = "VERIFICATION_FAILED"

	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeInvalidRole             Code = "INVALID_ROLE"
	CodeInvalidRoleForDomain    Code = "INVALID_ROLE_FOR_DOMAIN"
)

// Error is a typed authentication failure. Two errors match under errors.Is when their
// codes match.
type Error struct {
	Code       Code
	Message    string
	RetryAfter int
	// Detail carries infrastructure context; only surfaced in development.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("auth: %s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Is matches on code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) with(detail string) *Error {
	out := *e
	out.Detail = detail
	return &out
}

// Sentinel errors. Compare with errors.Is; never mutate.
var (
	ErrMissingCredentials    = &Error{Code: CodeMissingCredentials, Message: "Email and password are required"}
	ErrAccountLocked         = &Error{Code: CodeAccountLocked, Message: "Account temporarily locked due to multiple failed login attempts"}
	ErrInvalidDomain         = &Error{Code: CodeInvalidDomain, Message: "Invalid email domain"}
	ErrUnauthorizedUser      = &Error{Code: CodeUnauthorizedUser, Message: "User not authorized"}
	ErrInvalidPassword       = &Error{Code: CodeInvalidPassword, Message: "Invalid credentials"}
	ErrSessionCreationFailed = &Error{Code: CodeSessionCreationFailed, Message: "Failed to create session"}

	ErrMissingSession       = &Error{Code: CodeMissingSession, Message: "Session ID is required"}
	ErrInvalidSessionFormat = &Error{Code: CodeInvalidSessionFormat, Message: "Invalid session ID format"}
	ErrSessionNotFound      = &Error{Code: CodeSessionNotFound, Message: "Invalid or expired session"}
	ErrSessionExpired       = &Error{Code: CodeSessionExpired, Message: "Session expired"}
	ErrSessionDestroyed     = &Error{Code: CodeSessionDestroyed, Message: "Session already destroyed"}

	ErrMissingToken        = &Error{Code: CodeMissingToken, Message: "Access token is required"}
	ErrInvalidToken        = &Error{Code: CodeInvalidToken, Message: "Google token verification failed"}
	ErrUnauthorizedDomain  = &Error{Code: CodeUnauthorizedDomain, Message: "Email domain is not authorized for this system"}
	ErrUserNotAuthorized   = &Error{Code: CodeUserNotAuthorized, Message: "User is not authorized to access this system"}
	ErrInvalidAuthCode     = &Error{Code: CodeInvalidAuthCode, Message: "Failed to exchange authorization code for access token"}
	ErrTokenExchangeFailed = &Error{Code: CodeTokenExchangeFailed, Message: "Failed to exchange authorization code for access token"}
	ErrInvalidParams       = &Error{Code: CodeInvalidParams, Message: "Invalid request parameters"}
	ErrVerificationFailed  = &Error{Code: CodeVerificationFailed, Message: "Failed to verify Google token"}

	ErrInsufficientPermissions = &Error{Code: CodeInsufficientPermissions, Message: "Insufficient permissions"}
	ErrUserNotFound            = &Error{Code: CodeUserNotFound, Message: "User not found"}
	ErrInvalidRole             = &Error{Code: CodeInvalidRole, Message: "Invalid role"}
	ErrInvalidRoleForDomain    = &Error{Code: CodeInvalidRoleForDomain, Message: "Role is not allowed for the user's email domain"}
)

func lockedError(retryAfter int) *Error {
	out := *ErrAccountLocked
	out.RetryAfter = retryAfter
	return &out
}
