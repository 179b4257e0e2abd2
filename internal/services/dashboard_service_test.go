package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/region"
	"divorcecast/internal/series"
	ws "divorcecast/internal/websocket"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Broadcast(ctx context.Context, eventType string, data any) error {
	return m.Called(ctx, eventType, data).Error(0)
}

const testSchemes = `
schemes:
  - id: two
    name: Two Regions
    regions:
      - name: North
        provinces: [A, B]
      - name: South
        provinces: [C]
`

func modelSeriesCSV(n int) string {
	var b strings.Builder
	b.WriteString("ds,Divorce,Marriage\n")
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := 1000 + 5*float64(i) + 100*math.Sin(2*math.Pi*float64(i)/12)
		fmt.Fprintf(&b, "%s,%.2f,%d\n", series.AddMonths(start, i).Format("2006-01-02"), v, 3000+i)
	}
	return b.String()
}

const regionalCSV = "Year_BE,Province,Marriage,Divorce\n" +
	"2560,A,100,30\n" +
	"2560,B,300,30\n" +
	"2560,C,50,25\n" +
	"2561,A,150,20\n" +
	"2562,Z,10,10\n"

func fullFixtures() map[string]string {
	return map[string]string{
		"divorce_all_model.csv":                modelSeriesCSV(36),
		"monthly_marriage_divorce_wide_BE.csv": regionalCSV,
		"sarimax_metrics.csv":                  "round,train,test,mae,rmse,mape\n1,24,12,10,12,5\n2,36,12,20,24,7\n",
		"sarimax_rolling_forecast.csv":         "ds,forecast\n2021-01-01,1100\n2021-02-01,1120\n",
		"prophet_forecast_future.csv":          "ds,yhat,yhat_lower,yhat_upper,trend\n2022-01-01,10,8,12,10\n2022-02-01,11,9,13,11\n2022-03-01,12,10,14,12\n",
		"sarima_rolling_future_forecast.csv":   "ds,yhat\n2022-01-01,20\n2022-02-01,21\n",
	}
}

func newTestService(t *testing.T, files map[string]string, notifier Notifier) *DashboardService {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	schemePath := filepath.Join(t.TempDir(), "regions.yaml")
	require.NoError(t, os.WriteFile(schemePath, []byte(testSchemes), 0644))

	cfg := config.Default()
	cfg.Regions.File = schemePath
	cfg.Forecast.TuneSamples = 2
	cfg.Forecast.TuneConcurrency = 1

	svc, err := NewDashboardService(DashboardDeps{
		Config:   cfg,
		Paths:    &config.Paths{BaseDir: dir, DataDir: dir, OutputDir: filepath.Join(dir, "out"), LogsDir: dir},
		Notifier: notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return svc
}

func statusOf(t *testing.T, statuses []LoadStatus, dataset string) LoadStatus {
	t.Helper()
	for _, st := range statuses {
		if st.Dataset == dataset {
			return st
		}
	}
	t.Fatalf("no status for %s", dataset)
	return LoadStatus{}
}

func TestNewDashboardService_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Forecast.ZeroActualPolicy = "ignore"

	_, err := NewDashboardService(DashboardDeps{Config: cfg, Paths: &config.Paths{}})
	assert.Error(t, err)

	_, err = NewDashboardService(DashboardDeps{})
	assert.Error(t, err)
}

func TestDataStatus(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)

	statuses := svc.DataStatus(context.Background())
	require.Len(t, statuses, len(Datasets))
	for _, st := range statuses {
		assert.True(t, st.OK, st.Dataset)
		assert.Empty(t, st.Message)
	}
	assert.Equal(t, 36, statusOf(t, statuses, DatasetModelSeries).Rows)
	assert.Equal(t, 5, statusOf(t, statuses, DatasetRegional).Rows)
}

func TestDataStatus_MissingFileGivesMessage(t *testing.T) {
	files := fullFixtures()
	delete(files, "monthly_marriage_divorce_wide_BE.csv")
	svc := newTestService(t, files, nil)

	records, err := svc.RegionalRecords(context.Background())
	assert.Empty(t, records)
	assert.ErrorIs(t, err, apperrors.ErrFileMissing)

	st := statusOf(t, svc.DataStatus(context.Background()), DatasetRegional)
	assert.False(t, st.OK)
	assert.Equal(t, "FILE_MISSING", st.ErrorType)
	assert.Contains(t, st.Message, "monthly_marriage_divorce_wide_BE.csv")

	assert.True(t, statusOf(t, svc.DataStatus(context.Background()), DatasetModelSeries).OK)
}

func TestDataStatus_FutureWithoutTrendIsParsingError(t *testing.T) {
	files := fullFixtures()
	files["prophet_forecast_future.csv"] = "ds,yhat,yhat_lower,yhat_upper\n2022-01-01,10,8,12\n"
	svc := newTestService(t, files, nil)

	_, err := svc.StoredSaturating(context.Background(), 1)
	assert.ErrorIs(t, err, apperrors.ErrParse)

	st := statusOf(t, svc.DataStatus(context.Background()), DatasetSaturatingFuture)
	assert.False(t, st.OK)
	assert.Contains(t, st.Message, "trend")
}

func TestSeries(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)

	target, err := svc.Series(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Divorce", target.Name)
	assert.Equal(t, 36, target.Len())

	marriage, err := svc.Series(context.Background(), "Marriage")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, marriage.Points[0].Value)

	_, err = svc.Series(context.Background(), "Population")
	assert.ErrorIs(t, err, apperrors.ErrMissing)
}

func TestSaturatingForecast(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)
	ctx := context.Background()

	res, err := svc.SaturatingForecast(ctx, 12, true)
	require.NoError(t, err)
	assert.Equal(t, 36+12, res.Forecast.Len())
	assert.Equal(t, 36, res.History)
	assert.Greater(t, res.Cap, 0.0)
	assert.Equal(t, 36, res.InSample.N)
	assert.InDelta(t, math.Sqrt(res.InSample.MSE), res.InSample.RMSE, 1e-9)
	for _, p := range res.Forecast.Points {
		assert.True(t, p.HasBounds)
		assert.LessOrEqual(t, p.Yhat, res.Cap+1e-9)
	}

	hits := svc.CacheStats().Hits
	again, err := svc.SaturatingForecast(ctx, 12, false)
	require.NoError(t, err)
	assert.Equal(t, hits+2, svc.CacheStats().Hits, "table load and fit are served from cache")
	for _, p := range again.Forecast.Points {
		assert.False(t, p.HasBounds)
	}

	_, err = svc.SaturatingForecast(ctx, 61, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestSaturatingForecast_TooShort(t *testing.T) {
	files := fullFixtures()
	files["divorce_all_model.csv"] = modelSeriesCSV(6)
	svc := newTestService(t, files, nil)

	_, err := svc.SaturatingForecast(context.Background(), 12, true)
	assert.ErrorIs(t, err, apperrors.ErrModelFit)
}

func TestStoredForecasts(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)
	ctx := context.Background()

	stored, err := svc.StoredSaturating(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Len())
	assert.Equal(t, 10.0, stored.Points[0].Yhat)

	classical, err := svc.ClassicalFuture(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 2, classical.Len())

	rolling, err := svc.ClassicalRolling(ctx)
	require.NoError(t, err)
	assert.Len(t, rolling, 2)
}

func TestMetrics(t *testing.T) {
	t.Run("both models", func(t *testing.T) {
		svc := newTestService(t, fullFixtures(), nil)

		c, err := svc.Metrics(context.Background())
		require.NoError(t, err)
		require.NotNil(t, c.Saturating)
		require.NotNil(t, c.Classical)
		assert.Equal(t, 2, c.Classical.Rounds)
		assert.InDelta(t, 15.0, c.Classical.MAE, 1e-9)
		assert.InDelta(t, 6.0, c.Classical.MAPE, 1e-9)
		assert.Len(t, c.Rounds, 2)
	})

	t.Run("classical file missing", func(t *testing.T) {
		files := fullFixtures()
		delete(files, "sarimax_metrics.csv")
		svc := newTestService(t, files, nil)

		c, err := svc.Metrics(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, c.Saturating)
		assert.Nil(t, c.Classical)
	})

	t.Run("both missing", func(t *testing.T) {
		svc := newTestService(t, map[string]string{}, nil)

		_, err := svc.Metrics(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrFileMissing)
	})
}

func TestTune_NotifiesTrials(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Broadcast", mock.Anything, ws.EventTuneTrial, mock.Anything).Return(nil)
	notifier.On("Broadcast", mock.Anything, ws.EventTuneComplete, mock.Anything).Return(nil)

	svc := newTestService(t, fullFixtures(), notifier)
	seed := int64(7)

	res, err := svc.Tune(context.Background(), TuneRequest{Samples: 2, Seed: &seed})
	require.NoError(t, err)
	assert.Len(t, res.Trials, 2)
	assert.Equal(t, 28, res.TrainSize)

	notifier.AssertNumberOfCalls(t, "Broadcast", 3)
	notifier.AssertCalled(t, "Broadcast", mock.Anything, ws.EventTuneComplete, mock.Anything)

	again, err := svc.Tune(context.Background(), TuneRequest{Samples: 2, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, res.Params, again.Params)
}

func TestScenario(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)

	res, err := svc.Scenario(context.Background(), 2, 42)
	require.NoError(t, err)
	assert.Len(t, res.Stats, 12)
	assert.Equal(t, 24, res.Scenario.Len())

	again, err := svc.Scenario(context.Background(), 2, 42)
	require.NoError(t, err)
	assert.Equal(t, res.Scenario.Values(), again.Scenario.Values())
}

func TestRegionQueries(t *testing.T) {
	svc := newTestService(t, fullFixtures(), nil)
	ctx := context.Background()

	schemes := svc.Schemes()
	require.Len(t, schemes, 1)
	assert.Equal(t, "two", schemes[0].ID)

	summary, err := svc.RegionSummary(ctx, RegionQuery{})
	require.NoError(t, err)
	assert.Equal(t, region.Filter{YearFrom: 2560, YearTo: 2562}, summary.Filter)
	require.Len(t, summary.Regions, 2)
	assert.Equal(t, "South", summary.Regions[0].Region)
	assert.InDelta(t, 50.0, summary.Regions[0].DivorceRate, 1e-9)
	assert.Equal(t, 1, summary.Unmapped)

	kpis, err := svc.RegionKPIs(ctx, RegionQuery{YearFrom: 2560, YearTo: 2560})
	require.NoError(t, err)
	assert.Equal(t, 450, kpis.TotalMarriages)

	trend, err := svc.RegionTrend(ctx, RegionQuery{Region: "North"})
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, 2560, trend[0].Year)

	top, err := svc.TopProvinces(ctx, RegionQuery{}, 1, region.ByMarriages)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "B", top[0].Province)

	report, err := svc.RegionReport(ctx, RegionQuery{})
	require.NoError(t, err)
	assert.Equal(t, summary, report.Summary)
	assert.NotEmpty(t, report.Share)
	require.NotEmpty(t, report.TopByDivorces)
	assert.Equal(t, "A", report.TopByDivorces[0].Province)
	assert.Equal(t, 50, report.TopByDivorces[0].Divorces)
	require.NotEmpty(t, report.TopByMarriages)
	assert.Equal(t, "B", report.TopByMarriages[0].Province)

	_, err = svc.RegionSummary(ctx, RegionQuery{Scheme: "nine"})
	assert.ErrorIs(t, err, apperrors.ErrMissing)

	_, err = svc.RegionSummary(ctx, RegionQuery{YearFrom: 2562, YearTo: 2560})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestRegionSummary_NoYearColumn(t *testing.T) {
	files := fullFixtures()
	files["monthly_marriage_divorce_wide_BE.csv"] = "Province,Marriage,Divorce\nA,10,5\nC,10,1\n"
	svc := newTestService(t, files, nil)

	summary, err := svc.RegionSummary(context.Background(), RegionQuery{YearFrom: 2560, YearTo: 2561})
	require.NoError(t, err)
	assert.False(t, summary.Filter.HasYearRange())
	assert.Equal(t, 20, summary.TotalMarriages())
}

func TestWarm(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Broadcast", mock.Anything, ws.EventCacheWarmed, mock.Anything).Return(nil)

	svc := newTestService(t, fullFixtures(), notifier)
	require.NoError(t, svc.Warm(context.Background()))
	notifier.AssertExpectations(t)

	_, err := svc.SaturatingForecast(context.Background(), svc.cfg.Forecast.DefaultHorizon, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, svc.CacheStats().Hits, int64(1))
}

func TestHandleDatasetChange(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Broadcast", mock.Anything, ws.EventDatasetChanged,
		map[string]string{"file": "sarimax_metrics.csv", "dataset": DatasetClassicalMetrics}).Return(ws.ErrHubStopped)

	svc := newTestService(t, fullFixtures(), notifier)
	ctx := context.Background()
	_, err := svc.ClassicalMetrics(ctx)
	require.NoError(t, err)

	svc.HandleDatasetChange(ctx, filepath.Join(svc.paths.DataDir, "sarimax_metrics.csv"))
	notifier.AssertExpectations(t)

	svc.mu.RLock()
	_, ok := svc.status[DatasetClassicalMetrics]
	svc.mu.RUnlock()
	assert.False(t, ok)
}
