package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "divorcecast/internal/errors"
	"divorcecast/internal/exporter"
	custommw "divorcecast/internal/middleware"
	"divorcecast/internal/region"
	"divorcecast/internal/services"
)

const (
	minYearBE   = 2400
	maxYearBE   = 2700
	defaultTopN = 5
	maxTopN     = 77
)

// RegionHandler serves regional aggregates and the XLSX report.
type RegionHandler struct {
	service      DashboardServiceInterface
	exporter     *exporter.RegionExporter
	query        *custommw.QueryParamValidator
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewRegionHandler creates a region handler.
func NewRegionHandler(service DashboardServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *RegionHandler {
	return &RegionHandler{
		service:      service,
		exporter:     exporter.NewRegionExporter(nil, logger),
		query:        custommw.NewQueryParamValidator(logger, errorHandler),
		logger:       logger.With(slog.String("component", "region_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the region routes
func (h *RegionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/schemes", h.GetSchemes)
	r.Get("/summary", h.GetSummary)
	r.Get("/summary.xlsx", h.DownloadSummaryXLSX)
	r.Get("/kpis", h.GetKPIs)
	r.Get("/trend", h.GetTrend)
	r.Get("/share", h.GetShare)
	r.Get("/top-provinces", h.GetTopProvinces)

	return r
}

// regionQuery reads the filter shared by every region route.
func (h *RegionHandler) regionQuery(w http.ResponseWriter, r *http.Request) (services.RegionQuery, bool) {
	q := r.URL.Query()
	from, ok := h.year(w, r, "from")
	if !ok {
		return services.RegionQuery{}, false
	}
	to, ok := h.year(w, r, "to")
	if !ok {
		return services.RegionQuery{}, false
	}
	return services.RegionQuery{
		Scheme:   strings.TrimSpace(q.Get("scheme")),
		Region:   strings.TrimSpace(q.Get("region")),
		Province: strings.TrimSpace(q.Get("province")),
		YearFrom: from,
		YearTo:   to,
	}, true
}

// year accepts an empty value as 0, otherwise a Buddhist-era year.
func (h *RegionHandler) year(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	if r.URL.Query().Get(param) == "" {
		return 0, true
	}
	return h.query.ValidateInt(w, r, param, minYearBE, maxYearBE, 0)
}

// handleError maps unknown schemes to the scheme-specific 404.
func (h *RegionHandler) handleError(w http.ResponseWriter, r *http.Request, q services.RegionQuery, err error) {
	if q.Scheme != "" && errors.Is(err, apierrors.ErrMissing) {
		h.errorHandler.HandleError(w, r, apierrors.SchemeNotFound(q.Scheme))
		return
	}
	h.errorHandler.HandleError(w, r, err)
}

// GetSchemes handles GET /api/regions/schemes
func (h *RegionHandler) GetSchemes(w http.ResponseWriter, r *http.Request) {
	schemes := h.service.Schemes()
	success(w, r, schemes, len(schemes))
}

// GetSummary handles GET /api/regions/summary
func (h *RegionHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	summary, err := h.service.RegionSummary(r.Context(), q)
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}
	success(w, r, summary, len(summary.Regions))
}

// GetKPIs handles GET /api/regions/kpis
func (h *RegionHandler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	kpis, err := h.service.RegionKPIs(r.Context(), q)
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}
	success(w, r, kpis, 1)
}

// GetTrend handles GET /api/regions/trend
func (h *RegionHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	trend, err := h.service.RegionTrend(r.Context(), q)
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}
	success(w, r, trend, len(trend))
}

// GetShare handles GET /api/regions/share
func (h *RegionHandler) GetShare(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	share, err := h.service.RegionShare(r.Context(), q)
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}
	success(w, r, share, len(share))
}

// GetTopProvinces handles GET /api/regions/top-provinces?by=&n=
func (h *RegionHandler) GetTopProvinces(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	n, ok := h.query.ValidateInt(w, r, "n", 1, maxTopN, defaultTopN)
	if !ok {
		return
	}
	by, ok := h.query.ValidateEnum(w, r, "by", []string{string(region.ByDivorces), string(region.ByMarriages)}, string(region.ByDivorces))
	if !ok {
		return
	}

	top, err := h.service.TopProvinces(r.Context(), q, n, region.RankBy(by))
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}
	success(w, r, top, len(top))
}

// DownloadSummaryXLSX handles GET /api/regions/summary.xlsx
func (h *RegionHandler) DownloadSummaryXLSX(w http.ResponseWriter, r *http.Request) {
	q, ok := h.regionQuery(w, r)
	if !ok {
		return
	}
	report, err := h.service.RegionReport(r.Context(), q)
	if err != nil {
		h.handleError(w, r, q, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.WriteWorkbook(&buf, report); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to build workbook",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())))
		h.errorHandler.HandleError(w, r, apierrors.ExportFailed("xlsx"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="region_summary_%s.xlsx"`, report.Summary.Scheme))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "Workbook download interrupted", slog.String("error", err.Error()))
	}
}
