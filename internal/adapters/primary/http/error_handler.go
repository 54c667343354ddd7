package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
)

// ErrorResponse is the standard JSON error response format
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorResponse includes field-level validation errors
type ValidationErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error and writes the appropriate HTTP response
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	// Check for AppError first (our custom error type)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.logError(r, appErr.StatusCode, appErr.Err)
		h.writeErrorResponse(w, appErr.StatusCode, ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		})
		return
	}

	// Check for ValidationErrors
	var validationErrs *apperrors.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.logError(r, http.StatusUnprocessableEntity, err)
		h.writeValidationErrorResponse(w, validationErrs)
		return
	}

	// Map known domain errors to HTTP responses
	statusCode, response := h.mapDomainError(err)
	h.logError(r, statusCode, err)
	h.writeErrorResponse(w, statusCode, response)
}

// mapDomainError converts domain errors to HTTP status codes and responses
func (h *ErrorHandler) mapDomainError(err error) (int, ErrorResponse) {
	var cooldown *apperrors.CooldownError
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{
			Error: "Authentication required",
			Code:  "UNAUTHORIZED",
		}
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{
			Error: "You do not have permission to perform this action",
			Code:  "FORBIDDEN",
		}

	// Screen lifecycle
	case errors.Is(err, apperrors.ErrScreenNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "Screen not found",
			Code:  "SCREEN_NOT_FOUND",
		}
	case errors.Is(err, apperrors.ErrScreenClosed):
		return http.StatusGone, ErrorResponse{
			Error: "Screen is closed",
			Code:  "SCREEN_CLOSED",
		}
	case errors.Is(err, apperrors.ErrTooManyScreens):
		return http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many open screens. Close one first.",
			Code:  "TOO_MANY_SCREENS",
		}
	case errors.Is(err, apperrors.ErrEntityNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "Entity is not on this screen",
			Code:  "ENTITY_NOT_FOUND",
		}
	case errors.Is(err, apperrors.ErrUserNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "User is not on this screen",
			Code:  "USER_NOT_FOUND",
		}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "Resource not found",
			Code:  "NOT_FOUND",
		}

	// Relationship rules
	case errors.As(err, &cooldown):
		return http.StatusConflict, ErrorResponse{
			Error: cooldown.Error(),
			Code:  "CONNECTION_COOLDOWN",
			Details: map[string]interface{}{
				"phase":   cooldown.Phase,
				"retryAt": cooldown.RetryAt.UTC().Format(time.RFC3339),
			},
		}
	case errors.Is(err, apperrors.ErrCooldown):
		return http.StatusConflict, ErrorResponse{
			Error: "Connection request is cooling down",
			Code:  "CONNECTION_COOLDOWN",
		}
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_TRANSITION",
		}

	// Validation errors
	case errors.Is(err, apperrors.ErrSelfConnection),
		errors.Is(err, apperrors.ErrInvalidKind),
		errors.Is(err, apperrors.ErrInvalidAction),
		errors.Is(err, apperrors.ErrInvalidDelta),
		errors.Is(err, apperrors.ErrSectionUnknown),
		errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		}

	// Remote backend
	case errors.Is(err, apperrors.ErrNetwork):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "The content backend is unavailable. Please retry.",
			Code:  "BACKEND_UNAVAILABLE",
		}

	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "The service is shutting down. Please retry.",
			Code:  "SERVICE_UNAVAILABLE",
		}

	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many requests. Please try again later.",
			Code:  "RATE_LIMITED",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{
			Error: "The request timed out",
			Code:  "TIMEOUT",
		}

	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error: "An unexpected error occurred",
			Code:  "INTERNAL_ERROR",
		}
	}
}

// logError logs the error with appropriate context
func (h *ErrorHandler) logError(r *http.Request, statusCode int, err error) {
	logAttrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", statusCode,
		"error", err.Error(),
	}

	// Log at different levels based on status code
	switch {
	case statusCode >= 500:
		h.logger.ErrorContext(r.Context(), "server error", logAttrs...)
	case statusCode >= 400:
		h.logger.WarnContext(r.Context(), "client error", logAttrs...)
	default:
		h.logger.InfoContext(r.Context(), "request error", logAttrs...)
	}
}

// writeErrorResponse writes a JSON error response
func (h *ErrorHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// writeValidationErrorResponse writes a validation error response
func (h *ErrorHandler) writeValidationErrorResponse(w http.ResponseWriter, errs *apperrors.ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(ValidationErrorResponse{
		Error:  "Validation failed",
		Code:   "VALIDATION_ERROR",
		Fields: errs.Errors,
	})
}

// HandleError Helper function to handle errors inline in handlers
// Usage: if HandleError(w, r, err, h.errorHandler) { return }
func HandleError(w http.ResponseWriter, r *http.Request, err error, handler *ErrorHandler) bool {
	if err != nil {
		handler.Handle(w, r, err)
		return true
	}
	return false
}
