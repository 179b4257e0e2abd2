package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "divorcecast/internal/errors"
)

// success writes the standard envelope.
func success(w http.ResponseWriter, r *http.Request, data any, count int) {
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   data,
		"count":  count,
	})
}

// DataHandler serves input file status and raw series.
type DataHandler struct {
	service      DashboardServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewDataHandler creates a new data handler with RFC 7807 error handling
func NewDataHandler(service DashboardServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *DataHandler {
	return &DataHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "data_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the data routes
func (h *DataHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/status", h.GetStatus)
	r.Get("/series", h.GetSeries)

	return r
}

// GetStatus handles GET /api/data/status. Failed files are reported, not
// returned as errors.
func (h *DataHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.service.DataStatus(r.Context())

	failed := 0
	for _, st := range statuses {
		if !st.OK {
			failed++
		}
	}
	if failed > 0 {
		h.logger.WarnContext(r.Context(), "Some datasets failed to load",
			slog.Int("failed", failed),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	}

	success(w, r, statuses, len(statuses))
}

// GetSeries handles GET /api/data/series?column=
func (h *DataHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	column := r.URL.Query().Get("column")

	obs, err := h.service.Series(r.Context(), column)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, obs, obs.Len())
}
