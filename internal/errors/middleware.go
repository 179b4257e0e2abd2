package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxCapturedBody = 64 << 10
	maxLoggedBody   = 500
)

var redactedFields = []string{"password", "token", "secret", "api_key", "redis_password"}

// ErrorMiddleware renders panics as problem details and logs the body of
// rejected JSON requests. It is meant for routes that accept a body.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var body []byte
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength <= maxCapturedBody {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		defer func() {
			if rec := recover(); rec != nil {
				m.handler.HandlePanic(ww, r, rec)
			}
		}()

		next.ServeHTTP(ww, r)

		if ww.Status() < 400 || len(body) == 0 {
			return
		}
		m.logger.WarnContext(r.Context(), "Request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_body", sanitizeRequestBody(body)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// sanitizeRequestBody redacts credential fields of a JSON object and
// truncates the result.
func sanitizeRequestBody(body []byte) string {
	out := string(body)
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		for _, field := range redactedFields {
			if _, ok := data[field]; ok {
				data[field] = "[REDACTED]"
			}
		}
		if sanitized, err := json.Marshal(data); err == nil {
			out = string(sanitized)
		}
	}
	if len(out) > maxLoggedBody {
		out = out[:maxLoggedBody] + "..."
	}
	return out
}
