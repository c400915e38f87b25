// Package errors maps service errors onto the JSON error body of the API.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"go.pilab.hu/toolgate"
)

// APIError is the JSON error body returned by every API endpoint.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`

	// Status is the HTTP status the error is sent with.
	Status int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error codes
const (
	InvalidRequest       = "invalid_request"
	Unauthorized         = "unauthorized"
	AccessDenied         = "access_denied"
	NotFound             = "not_found"
	InvalidConfiguration = "invalid_configuration"
	ServerError          = "server_error"
)

func NewInvalidRequest(description string) *APIError {
	return &APIError{Code: InvalidRequest, Description: description, Status: http.StatusBadRequest}
}

func NewUnauthorized(description string) *APIError {
	return &APIError{Code: Unauthorized, Description: description, Status: http.StatusUnauthorized}
}

func NewAccessDenied(description string) *APIError {
	return &APIError{Code: AccessDenied, Description: description, Status: http.StatusForbidden}
}

func NewNotFound(description string) *APIError {
	return &APIError{Code: NotFound, Description: description, Status: http.StatusNotFound}
}

func NewServerError(description string) *APIError {
	return &APIError{Code: ServerError, Description: description, Status: http.StatusInternalServerError}
}

// FromError maps a service error to its API form. Unknown errors become a
// generic server_error so internal details never reach the client.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, toolgate.ErrInvalidToolID):
		return NewInvalidRequest("Invalid tool ID")
	case errors.Is(err, toolgate.ErrNotFound):
		return NewNotFound("Tool not found")
	case errors.Is(err, toolgate.ErrForbidden):
		return NewAccessDenied("You don't have access to this tool")
	case errors.Is(err, toolgate.ErrInvalidConfiguration):
		return &APIError{
			Code:        InvalidConfiguration,
			Description: "Tool URL not configured",
			Status:      http.StatusBadRequest,
		}
	default:
		return NewServerError("Internal server error")
	}
}
