package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"divorcecast/internal/config"
	apierrors "divorcecast/internal/errors"
	"divorcecast/internal/exporter"
	custommw "divorcecast/internal/middleware"
	"divorcecast/internal/services"
)

const (
	maxScenarioYears     = 10
	defaultScenarioYears = 3
	defaultScenarioSeed  = 42
)

// ForecastHandler serves model forecasts, metrics, tuning and scenarios.
type ForecastHandler struct {
	service      DashboardServiceInterface
	cfg          config.ForecastConfig
	exporter     *exporter.ForecastExporter
	query        *custommw.QueryParamValidator
	validation   *custommw.ValidationMiddleware
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewForecastHandler creates a forecast handler.
func NewForecastHandler(service DashboardServiceInterface, cfg config.ForecastConfig, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ForecastHandler {
	return &ForecastHandler{
		service:      service,
		cfg:          cfg,
		exporter:     exporter.NewForecastExporter(nil, logger),
		query:        custommw.NewQueryParamValidator(logger, errorHandler),
		validation:   custommw.NewValidationMiddleware(logger, errorHandler),
		logger:       logger.With(slog.String("component", "forecast_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the read-only forecast routes. Tune is mounted
// separately because it needs a longer timeout.
func (h *ForecastHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/saturating", h.GetSaturating)
	r.Get("/saturating.csv", h.DownloadSaturatingCSV)
	r.Get("/saturating/stored", h.GetStoredSaturating)
	r.Get("/classical/future", h.GetClassicalFuture)
	r.Get("/classical/rolling", h.GetClassicalRolling)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/scenario", h.GetScenario)

	return r
}

// TuneRoutes returns the tuning route.
func (h *ForecastHandler) TuneRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(h.validation.ValidateRequest)
	r.Post("/", h.PostTune)
	return r
}

func (h *ForecastHandler) defaultHorizon() int {
	return min(h.cfg.DefaultHorizon, h.cfg.FuturePeriods)
}

// horizon parses ?horizon= as 0..FuturePeriods in steps of HorizonStep.
func (h *ForecastHandler) horizon(w http.ResponseWriter, r *http.Request) (int, bool) {
	return h.query.ValidateStep(w, r, "horizon", 0, h.cfg.FuturePeriods, h.cfg.HorizonStep, h.defaultHorizon())
}

// GetSaturating handles GET /api/forecast/saturating
func (h *ForecastHandler) GetSaturating(w http.ResponseWriter, r *http.Request) {
	horizon, ok := h.horizon(w, r)
	if !ok {
		return
	}
	intervals, ok := h.query.ValidateBool(w, r, "intervals", true)
	if !ok {
		return
	}

	res, err := h.service.SaturatingForecast(r.Context(), horizon, intervals)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, res, res.Forecast.Len())
}

// DownloadSaturatingCSV handles GET /api/forecast/saturating.csv
func (h *ForecastHandler) DownloadSaturatingCSV(w http.ResponseWriter, r *http.Request) {
	horizon, ok := h.horizon(w, r)
	if !ok {
		return
	}

	res, err := h.service.SaturatingForecast(r.Context(), horizon, true)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="forecast_saturating_%d.csv"`, horizon))
	if err := h.exporter.WriteForecast(w, res.Forecast, true); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to stream forecast CSV",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	}
}

// GetStoredSaturating handles GET /api/forecast/saturating/stored
func (h *ForecastHandler) GetStoredSaturating(w http.ResponseWriter, r *http.Request) {
	horizon, ok := h.horizon(w, r)
	if !ok {
		return
	}

	fc, err := h.service.StoredSaturating(r.Context(), horizon)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, fc, fc.Len())
}

// GetClassicalFuture handles GET /api/forecast/classical/future
func (h *ForecastHandler) GetClassicalFuture(w http.ResponseWriter, r *http.Request) {
	horizon, ok := h.horizon(w, r)
	if !ok {
		return
	}

	fc, err := h.service.ClassicalFuture(r.Context(), horizon)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, fc, fc.Len())
}

// GetClassicalRolling handles GET /api/forecast/classical/rolling
func (h *ForecastHandler) GetClassicalRolling(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.ClassicalRolling(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, points, len(points))
}

// GetMetrics handles GET /api/forecast/metrics
func (h *ForecastHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Metrics(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, c, len(c.Rounds))
}

// PostTune handles POST /api/forecast/tune
func (h *ForecastHandler) PostTune(w http.ResponseWriter, r *http.Request) {
	var req services.TuneRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.MalformedBody(err))
			return
		}
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Tuning requested",
		slog.Int("samples", req.Samples),
		slog.String("request_id", middleware.GetReqID(r.Context())))

	res, err := h.service.Tune(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, res, len(res.Trials))
}

// GetScenario handles GET /api/forecast/scenario?years=&seed=
func (h *ForecastHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	years, ok := h.query.ValidateInt(w, r, "years", 1, maxScenarioYears, defaultScenarioYears)
	if !ok {
		return
	}
	seed, ok := h.query.ValidateInt(w, r, "seed", 0, math.MaxInt32, defaultScenarioSeed)
	if !ok {
		return
	}

	res, err := h.service.Scenario(r.Context(), years, int64(seed))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	success(w, r, res, res.Scenario.Len())
}
