// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All ledger errors surface as AppError so callers can branch on Code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Request errors (400)
	CodeValidation    = "VALIDATION_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeMissingTenant = "MISSING_TENANT_CONTEXT"
	CodeRateLimited   = "RATE_LIMITED"
	CodeRequestTooBig = "REQUEST_TOO_LARGE"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound         = "NOT_FOUND"
	CodeItemNotFound     = "ITEM_NOT_FOUND"
	CodeMovementNotFound = "MOVEMENT_NOT_FOUND"

	// Conflict (409)
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeSerializationFailure = "SERIALIZATION_FAILURE"
	CodeIdempotency          = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, ids, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a request validation error (400).
// Used by the HTTP layer for malformed bodies and query strings.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidInput creates an error for a contradictory ledger request (400).
func NewInvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewMissingTenant is returned when no tenant can be resolved for a call.
// It is fatal for the request and must not be retried.
func NewMissingTenant(message string) *AppError {
	return &AppError{
		Code:       CodeMissingTenant,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a generic not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewItemNotFound reports a product or variant absent for the tenant.
func NewItemNotFound(kind string, id any) *AppError {
	return &AppError{
		Code:       CodeItemNotFound,
		Message:    fmt.Sprintf("%s not found", kind),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"kind": kind, "id": id},
	}
}

// NewMovementNotFound reports a stock movement absent for the tenant.
func NewMovementNotFound(id any) *AppError {
	return &AppError{
		Code:       CodeMovementNotFound,
		Message:    "stock movement not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"id": id},
	}
}

// NewInsufficientStock creates a stock shortage error.
// The request is rejected as a whole, never clamped.
func NewInsufficientStock(itemKind, itemID string, current, requested int) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"item_kind":        itemKind,
			"item_id":          itemID,
			"current_quantity": current,
			"requested_change": requested,
		},
	}
}

// NewSerializationFailure wraps a transient database conflict.
// Callers may retry the whole operation.
func NewSerializationFailure(err error) *AppError {
	return &AppError{
		Code:       CodeSerializationFailure,
		Message:    "Concurrent update detected, retry the operation",
		HTTPStatus: http.StatusConflict,
		Err:        err,
		Details:    map[string]any{"retryable": true},
	}
}

// NewTimeout wraps a lock or statement timeout.
func NewTimeout(err error) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    "Operation timed out",
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewRateLimited is returned when a client exceeds the write rate.
func NewRateLimited(limit int64) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "Too many requests",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]any{"limit": limit},
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different actor/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks for any of the not-found codes.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound) || IsCode(err, CodeItemNotFound) || IsCode(err, CodeMovementNotFound)
}

// IsRetryable reports whether the operation failed on a transient conflict
// and may be attempted again unchanged.
func IsRetryable(err error) bool {
	return IsCode(err, CodeSerializationFailure)
}
