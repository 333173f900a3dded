package tunegate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes as constants
const (
	ErrorCodeNotAuthenticated = "not_authenticated"
	ErrorCodeAuthExpired      = "auth_expired"
	ErrorCodeStateMismatch    = "state_mismatch"
	ErrorCodeExchangeFailed   = "exchange_failed"
	ErrorCodeRateLimited      = "rate_limited"
	ErrorCodeUpstreamError    = "upstream_error"
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeServerError      = "server_error"
)

// AuthError represents a delegation-core error with an HTTP-mappable status.
type AuthError struct {
	Code        string // machine-readable error code (e.g., "auth_expired")
	Description string // human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAuthError creates a new core error
func NewAuthError(code, description string, status int) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors
var (
	// ErrNotAuthenticated indicates no credentials exist for the user;
	// the login flow must be started
	ErrNotAuthenticated = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeNotAuthenticated, desc, http.StatusUnauthorized)
	}

	// ErrAuthExpired indicates the token could not be refreshed;
	// the user must re-authenticate from the start
	ErrAuthExpired = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeAuthExpired, desc, http.StatusUnauthorized)
	}

	// ErrStateMismatch indicates the callback carried an invalid, expired,
	// or replayed state token. Terminal for the attempt.
	ErrStateMismatch = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeStateMismatch, desc, http.StatusForbidden)
	}

	// ErrExchangeFailed indicates the provider rejected the code exchange.
	// Terminal for the attempt.
	ErrExchangeFailed = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeExchangeFailed, desc, http.StatusBadGateway)
	}

	// ErrInvalidRequest indicates the request is malformed or missing
	// required parameters
	ErrInvalidRequest = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an unexpected internal failure
	ErrServerError = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// RateLimitError is returned when the outbound budget for an endpoint is
// exhausted. It is a retryable-later condition, never silently dropped.
type RateLimitError struct {
	Endpoint  string
	Limit     int
	ResetTime time.Time
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: limit %d reached for %s, retry after %s",
		ErrorCodeRateLimited, e.Limit, e.Endpoint, e.ResetTime.Format(time.RFC3339))
}

// RetryAfter returns the wait until the window resets, never negative
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	wait := e.ResetTime.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// UpstreamError is returned when the catalog API answers with a non-2xx
// status other than 401. It carries the status and response body.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s returned %d", ErrorCodeUpstreamError, e.Endpoint, e.StatusCode)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsNotAuthenticated reports whether err maps to "no valid credentials"
func IsNotAuthenticated(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code == ErrorCodeNotAuthenticated || ae.Code == ErrorCodeAuthExpired
	}
	return false
}
