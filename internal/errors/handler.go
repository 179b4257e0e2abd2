package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Common error types following RFC 7807
const (
	TypeValidation  = "/errors/validation"
	TypeNotFound    = "/errors/not-found"
	TypeRateLimit   = "/errors/rate-limit"
	TypeInternal    = "/errors/internal"
	TypeServiceDown = "/errors/service-unavailable"
	TypeTimeout     = "/errors/timeout"
	TypeConflict    = "/errors/conflict"

	TypeMethodNotAllowed = "/errors/method-not-allowed"
)

// Domain-specific error types
const (
	TypeFileMissing    = "/errors/data/file-missing"
	TypeParse          = "/errors/data/parse"
	TypeData           = "/errors/data/invalid"
	TypeModelFit       = "/errors/forecast/fit-failed"
	TypeNotFitted      = "/errors/forecast/not-fitted"
	TypeEmptyJoin      = "/errors/metrics/empty-join"
	TypeDivisionByZero = "/errors/metrics/division-by-zero"
	TypeStorage        = "/errors/cache/storage"
	TypeConfig         = "/errors/config"
)

var appErrorTitles = map[ErrorType]struct {
	problemType string
	title       string
}{
	ErrTypeFileMissing:    {TypeFileMissing, "Input File Missing"},
	ErrTypeParsing:        {TypeParse, "Input File Malformed"},
	ErrTypeData:           {TypeData, "Invalid Input Data"},
	ErrTypeModelFit:       {TypeModelFit, "Model Fit Failed"},
	ErrTypeNotFitted:      {TypeNotFitted, "Model Not Fitted"},
	ErrTypeEmptyJoin:      {TypeEmptyJoin, "No Overlapping Observations"},
	ErrTypeDivisionByZero: {TypeDivisionByZero, "Metric Undefined"},
	ErrTypeStorage:        {TypeStorage, "Cache Storage Error"},
	ErrTypeValidation:     {TypeValidation, "Validation Failed"},
	ErrTypeNotFound:       {TypeNotFound, "Resource Not Found"},
	ErrTypeConfig:         {TypeConfig, "Configuration Error"},
}

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack {
		problem.With("stack", string(debug.Stack()))
	}
	h.respond(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return h.appErrorToProblem(appErr, r)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

func (h *ErrorHandler) appErrorToProblem(appErr *AppError, r *http.Request) *ProblemDetails {
	meta, ok := appErrorTitles[appErr.Type]
	if !ok {
		meta.problemType, meta.title = TypeInternal, "Internal Server Error"
	}

	detail := appErr.Message
	if appErr.Cause != nil && appErr.HTTPStatus() < http.StatusInternalServerError {
		detail = fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
	}

	problem := NewProblemDetails(appErr.HTTPStatus(), meta.problemType, meta.title, detail, r.URL.Path).
		With("error_code", string(appErr.Type))
	if len(appErr.Context) > 0 {
		problem.With("context", appErr.Context)
	}
	return problem
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	var problemType string
	switch status := apiErr.StatusCode; {
	case status == http.StatusNotFound:
		problemType = TypeNotFound
	case status == http.StatusConflict:
		problemType = TypeConflict
	case status == http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case status == http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		problemType = TypeValidation
	default:
		problemType = TypeInternal
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).With("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.With("details", apiErr.Details)
	}

	return problem
}

// HandlePanic answers 500 for a recovered panic. The panic value and
// stack are exposed only when the handler includes stacks.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	stack := string(debug.Stack())
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", stack))

	problem := NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "An unexpected error occurred", r.URL.Path)
	if h.includeStack {
		problem.With("panic", fmt.Sprint(recovered)).With("stack", stack)
	}
	h.respond(w, r, problem)
}

// NotFound is the router's 404 handler.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, NewProblemDetails(http.StatusNotFound, TypeNotFound,
		"Not Found", "No endpoint at "+r.URL.Path, r.URL.Path))
}

// MethodNotAllowed is the router's 405 handler.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, NewProblemDetails(http.StatusMethodNotAllowed, TypeMethodNotAllowed,
		"Method Not Allowed", fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), r.URL.Path))
}

// respond tags problem with the request ID and renders it.
func (h *ErrorHandler) respond(w http.ResponseWriter, r *http.Request, problem *ProblemDetails) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		problem.With("trace_id", reqID)
	}
	render.Render(w, r, problem)
}
