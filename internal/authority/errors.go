package authority

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-stable error codes returned to clients.
const (
	CodeInvalidCredentials       = "INVALID_CREDENTIALS"
	CodeNoOrganizationAccess     = "NO_ORGANIZATION_ACCESS"
	CodeOrganizationAccessDenied = "ORGANIZATION_ACCESS_DENIED"
	CodeSessionNotFound          = "SESSION_NOT_FOUND"
	CodeSessionExpired           = "SESSION_EXPIRED"
	CodeInvalidRefreshToken      = "INVALID_REFRESH_TOKEN"
	CodeValidationTimeout        = "VALIDATION_TIMEOUT"
	CodeStoreUnavailable         = "STORE_UNAVAILABLE"
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeInternal                 = "INTERNAL_ERROR"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrNoOrganizationAccess     = errors.New("no organization access")
	ErrOrganizationAccessDenied = errors.New("organization access denied")
	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionExpired           = errors.New("session expired")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrValidationTimeout        = errors.New("session validation failed")
	ErrStoreUnavailable         = errors.New("session store unavailable")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrInternal                 = errors.New("internal error")
)

var kinds = map[string]error{
	CodeInvalidCredentials:       ErrInvalidCredentials,
	CodeNoOrganizationAccess:     ErrNoOrganizationAccess,
	CodeOrganizationAccessDenied: ErrOrganizationAccessDenied,
	CodeSessionNotFound:          ErrSessionNotFound,
	CodeSessionExpired:           ErrSessionExpired,
	CodeInvalidRefreshToken:      ErrInvalidRefreshToken,
	CodeValidationTimeout:        ErrValidationTimeout,
	CodeStoreUnavailable:         ErrStoreUnavailable,
	CodeInvalidRequest:           ErrInvalidRequest,
	CodeInternal:                 ErrInternal,
}

var httpStatusMap = map[string]int{
	CodeInvalidCredentials:       http.StatusUnauthorized,
	CodeNoOrganizationAccess:     http.StatusForbidden,
	CodeOrganizationAccessDenied: http.StatusForbidden,
	CodeSessionNotFound:          http.StatusUnauthorized,
	CodeSessionExpired:           http.StatusUnauthorized,
	CodeInvalidRefreshToken:      http.StatusUnauthorized,
	CodeValidationTimeout:        http.StatusUnauthorized,
	CodeStoreUnavailable:         http.StatusInternalServerError,
	CodeInvalidRequest:           http.StatusBadRequest,
	CodeInternal:                 http.StatusInternalServerError,
}

// Error is what every Authority operation fails with. Message is safe to
// show to clients; the cause is kept for logs only.
type Error struct {
	Code    string
	Message string
	Status  int

	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
		kind:    kinds[code],
		cause:   cause,
	}
}

// NewError builds an Error for callers outside the authority, such as
// request validation in handlers.
func NewError(code, message string) *Error {
	return newError(code, message, nil)
}

// CodeOf returns the error code carried by err, CodeInternal for foreign
// errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf maps err to an HTTP status.
func StatusOf(err error) int {
	if status, ok := httpStatusMap[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func errInvalidCredentials() error {
	return newError(CodeInvalidCredentials, "invalid identifier or secret", nil)
}

func errNoOrganizationAccess() error {
	return newError(CodeNoOrganizationAccess, "user has no active organization membership", nil)
}

func errOrganizationAccessDenied(orgID string) error {
	return newError(CodeOrganizationAccessDenied, fmt.Sprintf("no active membership in organization %s", orgID), nil)
}

func errSessionNotFound() error {
	return newError(CodeSessionNotFound, "session not found", nil)
}

func errSessionExpired() error {
	return newError(CodeSessionExpired, "session expired or revoked", nil)
}

func errInvalidRefreshToken() error {
	return newError(CodeInvalidRefreshToken, "refresh token is invalid or expired", nil)
}
