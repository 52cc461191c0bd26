package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Stable error code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Code = ErrValidation
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// ErrValidation is the code attached to request validation failures.
const ErrValidation = "VALIDATION_FAILED"

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindState:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindResource:
		return http.StatusNotFound
	case KindExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// SendServiceError writes err with the status of its kind. Internal errors
// are not echoed to the client.
func SendServiceError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: CodeOf(err)}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}

	var funds *InsufficientFundsError
	if errors.As(err, &funds) {
		resp.Details = map[string]string{
			"available": funds.Available.String(),
			"requested": funds.Requested.String(),
		}
	}
	var transition *TransitionError
	if errors.As(err, &transition) {
		resp.Details = map[string]string{
			"from": string(transition.From),
			"to":   string(transition.To),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
