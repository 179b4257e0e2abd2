package errors

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeFileMissing    ErrorType = "FILE_MISSING"
	ErrTypeParsing        ErrorType = "PARSING"
	ErrTypeData           ErrorType = "DATA"
	ErrTypeModelFit       ErrorType = "MODEL_FIT"
	ErrTypeNotFitted      ErrorType = "NOT_FITTED"
	ErrTypeEmptyJoin      ErrorType = "EMPTY_JOIN"
	ErrTypeDivisionByZero ErrorType = "DIVISION_BY_ZERO"
	ErrTypeStorage        ErrorType = "STORAGE"
	ErrTypeValidation     ErrorType = "VALIDATION"
	ErrTypeNotFound       ErrorType = "NOT_FOUND"
	ErrTypeConfig         ErrorType = "CONFIG"
)

// Sentinels for errors.Is. Any AppError of the same Type matches.
var (
	ErrFileMissing    = &AppError{Type: ErrTypeFileMissing}
	ErrParse          = &AppError{Type: ErrTypeParsing}
	ErrData           = &AppError{Type: ErrTypeData}
	ErrModelFit       = &AppError{Type: ErrTypeModelFit}
	ErrNotFitted      = &AppError{Type: ErrTypeNotFitted}
	ErrEmptyJoin      = &AppError{Type: ErrTypeEmptyJoin}
	ErrDivisionByZero = &AppError{Type: ErrTypeDivisionByZero}
	ErrStorage        = &AppError{Type: ErrTypeStorage}
	ErrInvalid        = &AppError{Type: ErrTypeValidation}
	ErrMissing        = &AppError{Type: ErrTypeNotFound}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HTTPStatus maps the error type to the status code used by the API.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrTypeFileMissing, ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeValidation:
		return http.StatusBadRequest
	case ErrTypeNotFitted:
		return http.StatusConflict
	case ErrTypeParsing, ErrTypeData, ErrTypeModelFit, ErrTypeEmptyJoin, ErrTypeDivisionByZero:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper functions for common error types

// NewFileMissingError reports an input file that does not exist.
func NewFileMissingError(path string, cause error) *AppError {
	return NewAppError(ErrTypeFileMissing, fmt.Sprintf("file not found: %s", path), cause).
		WithContext("path", path)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewDataError reports input data that violates a precondition.
func NewDataError(message string) *AppError {
	return NewAppError(ErrTypeData, message, nil)
}

// NewModelFitError creates a model fitting error
func NewModelFitError(message string, cause error) *AppError {
	return NewAppError(ErrTypeModelFit, message, cause)
}

// NewNotFittedError is returned when predicting with a model that was never fitted.
func NewNotFittedError() *AppError {
	return NewAppError(ErrTypeNotFitted, "model has not been fitted", nil)
}

// NewEmptyJoinError reports that predicted and actual series share no timestamps.
func NewEmptyJoinError(predicted, actual int) *AppError {
	return NewAppError(ErrTypeEmptyJoin, "no overlapping timestamps between predicted and actual series", nil).
		WithContext("predicted_points", predicted).
		WithContext("actual_points", actual)
}

// NewDivisionByZeroError reports a ratio that is undefined for a zero denominator.
func NewDivisionByZeroError(message string) *AppError {
	return NewAppError(ErrTypeDivisionByZero, message, nil)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}
