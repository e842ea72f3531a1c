package domainerrors

import "errors"

// DomainError is the error shape surfaced to API clients.
type DomainError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e DomainError) Error() string { return e.Message }

// Is matches on Code so errors carrying different details still compare equal.
func (e DomainError) Is(target error) bool {
	var t DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e with a more specific message.
func (e DomainError) WithMessage(message string) DomainError {
	e.Message = message
	return e
}

// WithDetails returns a copy of e carrying details.
func (e DomainError) WithDetails(details map[string]interface{}) DomainError {
	e.Details = details
	return e
}

func New(code, message string, details map[string]interface{}) DomainError {
	return DomainError{Code: code, Message: message, Details: details}
}

var (
	ErrNotFound          = DomainError{Code: "NOT_FOUND", Message: "Resource not found"}
	ErrAPIKeyNotFound    = DomainError{Code: "API_KEY_NOT_FOUND", Message: "API key not found"}
	ErrUserNotFound      = DomainError{Code: "USER_NOT_FOUND", Message: "User not found"}
	ErrRoleNotFound      = DomainError{Code: "ROLE_NOT_FOUND", Message: "Role not found"}
	ErrBackendNotFound   = DomainError{Code: "BACKEND_NOT_FOUND", Message: "Backend not found"}
	ErrConflict          = DomainError{Code: "CONFLICT", Message: "Resource already exists"}
	ErrInvalidInput      = DomainError{Code: "INVALID_INPUT", Message: "Invalid input"}
	ErrUnauthorized      = DomainError{Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrInvalidAPIKey     = DomainError{Code: "INVALID_API_KEY", Message: "Invalid API key"}
	ErrAPIKeyRevoked     = DomainError{Code: "API_KEY_REVOKED", Message: "API key has been revoked"}
	ErrAPIKeyExpired     = DomainError{Code: "API_KEY_EXPIRED", Message: "API key has expired"}
	ErrInsufficientAuth  = DomainError{Code: "INSUFFICIENT_PERMISSIONS", Message: "Insufficient permissions"}
	ErrForbidden         = DomainError{Code: "FORBIDDEN", Message: "Operation not allowed"}
	ErrRateLimited       = DomainError{Code: "RATE_LIMITED", Message: "Rate limit exceeded"}
	ErrDaemonUnavailable = DomainError{Code: "DAEMON_UNAVAILABLE", Message: "Daemon unavailable"}
	ErrInternal          = DomainError{Code: "INTERNAL_ERROR", Message: "Internal server error"}
)
