package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Error codes carried by APIError.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidJSON     = "INVALID_JSON"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeValidation      = "VALIDATION_FAILED"
	CodeSchemeNotFound  = "SCHEME_NOT_FOUND"
	CodeExportFailed    = "EXPORT_FAILED"
)

// APIError is a request-level failure raised by handlers and middleware
// before any pipeline code runs. Pipeline failures are AppErrors.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// FieldError names one rejected body field or query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors lists every rejected field of a request body.
type FieldErrors struct {
	Errors []FieldError `json:"errors"`
}

// New creates an APIError without details.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError whose details are rendered as the
// "details" problem extension.
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	e := New(statusCode, errorCode, message)
	e.Details = details
	return e
}

// MalformedBody reports a request body that could not be read or decoded.
func MalformedBody(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Request body could not be read", err.Error())
}

// InvalidJSON reports a body that is not valid JSON.
func InvalidJSON() *APIError {
	return New(http.StatusBadRequest, CodeInvalidJSON, "Request body contains invalid JSON")
}

// BodyTooLarge reports a body over the configured limit.
func BodyTooLarge(size, limit int64) *APIError {
	return NewWithDetails(http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
		"Request body exceeds maximum allowed size",
		map[string]int64{"size": size, "max_size": limit})
}

// InvalidParam reports a single rejected field or query parameter.
func InvalidParam(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidation, "Request validation failed",
		FieldError{Field: field, Message: message})
}

// InvalidFields reports every rejected field of a validated body.
func InvalidFields(fields []FieldError) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidation, "Request validation failed",
		FieldErrors{Errors: fields})
}

// SchemeNotFound is the 404 for a region scheme name that is not loaded.
func SchemeNotFound(scheme string) *APIError {
	return NewWithDetails(http.StatusNotFound, CodeSchemeNotFound, "Region scheme not found",
		map[string]string{"scheme": scheme})
}

// ExportFailed reports a download that could not be produced.
func ExportFailed(format string) *APIError {
	return New(http.StatusInternalServerError, CodeExportFailed, fmt.Sprintf("%s export failed", format))
}
