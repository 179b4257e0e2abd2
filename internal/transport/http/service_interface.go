package http

import (
	"context"

	"divorcecast/internal/dataload"
	"divorcecast/internal/evaluation"
	"divorcecast/internal/exporter"
	"divorcecast/internal/forecast"
	"divorcecast/internal/memo"
	"divorcecast/internal/region"
	"divorcecast/internal/series"
	"divorcecast/internal/services"
)

// DashboardServiceInterface is the part of services.DashboardService the
// handlers use.
type DashboardServiceInterface interface {
	DataStatus(ctx context.Context) []services.LoadStatus
	Series(ctx context.Context, column string) (series.Observed, error)

	SaturatingForecast(ctx context.Context, horizon int, intervals bool) (*services.ForecastResult, error)
	StoredSaturating(ctx context.Context, horizon int) (series.Forecast, error)
	ClassicalFuture(ctx context.Context, horizon int) (series.Forecast, error)
	ClassicalRolling(ctx context.Context) ([]dataload.RollingPoint, error)
	Metrics(ctx context.Context) (*evaluation.Comparison, error)
	Tune(ctx context.Context, req services.TuneRequest) (*forecast.TuneResult, error)
	Scenario(ctx context.Context, years int, seed int64) (*services.ScenarioResult, error)

	Schemes() []region.SchemeInfo
	RegionSummary(ctx context.Context, q services.RegionQuery) (region.Summary, error)
	RegionKPIs(ctx context.Context, q services.RegionQuery) (region.KPIs, error)
	RegionTrend(ctx context.Context, q services.RegionQuery) ([]region.YearTotal, error)
	RegionShare(ctx context.Context, q services.RegionQuery) ([]region.Share, error)
	TopProvinces(ctx context.Context, q services.RegionQuery, n int, by region.RankBy) ([]region.ProvinceTotal, error)
	RegionReport(ctx context.Context, q services.RegionQuery) (exporter.RegionReport, error)

	CacheStats() memo.Stats
}

var _ DashboardServiceInterface = (*services.DashboardService)(nil)
