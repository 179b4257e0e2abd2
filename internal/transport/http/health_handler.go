package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"divorcecast/internal/services"
)

// HealthChecker is the part of services.HealthService the probes use.
type HealthChecker interface {
	HealthCheck(ctx context.Context) services.HealthStatus
	ReadinessCheck(ctx context.Context) services.HealthStatus
	LivenessCheck(ctx context.Context) services.HealthStatus
	Version() map[string]any
}

// HealthHandler serves the probe and version endpoints.
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		checker: checker,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Register mounts the probes directly on r, next to the other /api routes.
func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/health/ready", h.ready)
	r.Get("/health/live", h.live)
	r.Get("/version", h.version)
}

func (h *HealthHandler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.checker.HealthCheck(r.Context()))
}

// ready answers 503 with the per-file load status until the required
// datasets load.
func (h *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	status := h.checker.ReadinessCheck(r.Context())
	if status.Status != services.StatusReady {
		h.logger.DebugContext(r.Context(), "Readiness probe failed", slog.Int("files", len(status.Files)))
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

func (h *HealthHandler) live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.checker.LivenessCheck(r.Context()))
}

func (h *HealthHandler) version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.checker.Version())
}
