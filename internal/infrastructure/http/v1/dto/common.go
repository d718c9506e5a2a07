// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
)

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// FromAppError builds the response body for err.
func FromAppError(err *apperror.AppError) ErrorResponse {
	return ErrorResponse{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
}

// --- Helpers ---

// parseID parses a request id field, naming the field on failure.
func parseID(field, raw string) (id.ID, error) {
	parsed, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, apperror.NewValidation("invalid " + field).WithDetail("field", field).WithDetail("value", raw)
	}
	return parsed, nil
}

// parseOptionalID parses an optional id field.
func parseOptionalID(field string, raw *string) (*id.ID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := parseID(field, *raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
