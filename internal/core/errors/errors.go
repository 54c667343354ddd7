package errors

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - these represent business rule violations
var (
	// Remote collaborator failures
	ErrNetwork  = errors.New("network error")
	ErrNotFound = errors.New("resource not found")
	ErrUnknown  = errors.New("unknown error")

	// Local infrastructure going away, typically during shutdown
	ErrUnavailable = errors.New("service unavailable")

	// Relationship rules
	ErrCooldown          = errors.New("connection request is cooling down")
	ErrInvalidTransition = errors.New("invalid connection transition")
	ErrSelfConnection    = errors.New("cannot change a relationship with yourself")

	// Screen lifecycle
	ErrScreenNotFound = errors.New("screen not found")
	ErrScreenClosed   = errors.New("screen is closed")
	ErrTooManyScreens = errors.New("too many open screens")
	ErrEntityNotFound = errors.New("entity not on screen")
	ErrUserNotFound   = errors.New("user not on screen")

	// Validation
	ErrInvalidKind    = errors.New("invalid entity kind")
	ErrInvalidAction  = errors.New("invalid action")
	ErrInvalidDelta   = errors.New("comment delta must be +1 or -1")
	ErrSectionUnknown = errors.New("section is not part of this screen")

	// Generic
	ErrForbidden    = errors.New("action forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// CooldownError reports a connection request attempted before its window elapsed.
type CooldownError struct {
	Phase   string
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cannot reconnect from %s before %s", e.Phase, e.RetryAt.UTC().Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrCooldown) match.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}
