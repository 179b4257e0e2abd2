package forecast

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/evaluation"
	"divorcecast/internal/series"
)

var start = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

func monthly(t *testing.T, n int, f func(i int) float64) series.Observed {
	t.Helper()
	points := make([]series.Point, n)
	for i := range points {
		points[i] = series.Point{Time: series.AddMonths(start, i), Value: f(i)}
	}
	s, err := series.NewObserved("Divorce", points)
	require.NoError(t, err)
	return s
}

func seasonal(i int) float64 {
	return 1000 + 5*float64(i) + 100*math.Sin(2*math.Pi*float64(i)/12)
}

func prepared(t *testing.T, n int) series.Bounded {
	t.Helper()
	b, err := Prepare(monthly(t, n, seasonal))
	require.NoError(t, err)
	return b
}

func TestPrepare(t *testing.T) {
	s := monthly(t, 24, seasonal)
	b, err := Prepare(s)
	require.NoError(t, err)

	max, _ := s.Max()
	assert.InDelta(t, 1.2*max, b.Cap, 1e-9)
	assert.Equal(t, 0.0, b.Floor)
	assert.Equal(t, s.Len(), b.Len())

	_, err = Prepare(series.Observed{Name: "empty"})
	assert.ErrorIs(t, err, apperrors.ErrData)
}

func TestLogisticModel_FitPredict(t *testing.T) {
	ctx := context.Background()
	m := NewLogisticModel(nil)
	b := prepared(t, 48)

	fitted, err := m.Fit(ctx, b, DefaultParams())
	require.NoError(t, err)
	assert.True(t, fitted.IsFitted())
	assert.Equal(t, series.ModelSaturating, fitted.Model)
	assert.Equal(t, series.AddMonths(start, 47), fitted.End())

	const horizon = 24
	fc, err := m.Predict(ctx, fitted, horizon)
	require.NoError(t, err)
	require.Equal(t, b.Len()+horizon, fc.Len())

	for i, p := range fc.Points {
		if i < b.Len() {
			assert.True(t, p.Time.Equal(b.Points[i].Time), "training timestamp %d", i)
		} else {
			assert.True(t, p.Time.Equal(series.AddMonths(fc.Points[i-1].Time, 1)), "future step %d", i)
		}
		assert.Equal(t, b.Cap, p.Cap)
		assert.Equal(t, b.Floor, p.Floor)
		assert.True(t, p.HasBounds)
		assert.LessOrEqual(t, p.Yhat, p.Cap)
		assert.GreaterOrEqual(t, p.Yhat, p.Floor)
		assert.LessOrEqual(t, p.Lower, p.Yhat)
		assert.GreaterOrEqual(t, p.Upper, p.Yhat)
		assert.GreaterOrEqual(t, p.Lower, p.Floor)
	}

	first := fc.Points[b.Len()]
	last := fc.Points[fc.Len()-1]
	assert.Greater(t, last.Upper-last.Yhat, first.Upper-first.Yhat, "intervals widen with distance")
}

func TestLogisticModel_InSampleAccuracy(t *testing.T) {
	ctx := context.Background()
	m := NewLogisticModel(nil)
	s := monthly(t, 60, seasonal)
	b, err := Prepare(s)
	require.NoError(t, err)

	_, fc, err := FitPredict(ctx, m, b, DefaultParams().WithPriors(0.5, 10), 0)
	require.NoError(t, err)

	metrics, err := evaluation.Evaluate(fc, s, evaluation.ExcludeZeroActuals)
	require.NoError(t, err)
	assert.Equal(t, 60, metrics.N)
	assert.Less(t, metrics.MAPE, 5.0)
}

func TestLogisticModel_LinearGrowth(t *testing.T) {
	ctx := context.Background()
	p := DefaultParams()
	p.Growth = GrowthLinear

	_, fc, err := FitPredict(ctx, NewLogisticModel(nil), prepared(t, 36), p, 12)
	require.NoError(t, err)
	assert.Equal(t, 48, fc.Len())
	for _, pt := range fc.Points {
		assert.False(t, math.IsNaN(pt.Yhat))
	}
}

func TestLogisticModel_FitErrors(t *testing.T) {
	gap := monthly(t, 24, seasonal)
	gap.Points = append(gap.Points[:12:12], gap.Points[13:]...)

	tests := []struct {
		name   string
		series series.Bounded
		params func(Params) Params
		want   error
	}{
		{
			name:   "fewer than a year",
			series: prepared(t, 11),
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "custom minimum",
			series: prepared(t, 20),
			params: func(p Params) Params { p.MinTrainingPoints = 24; return p },
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "missing month",
			series: series.Bounded{Observed: gap, Cap: 2000},
			want:   apperrors.ErrData,
		},
		{
			name:   "weekly seasonality",
			series: prepared(t, 24),
			params: func(p Params) Params { p.WeeklySeasonality = true; return p },
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "daily seasonality",
			series: prepared(t, 24),
			params: func(p Params) Params { p.DailySeasonality = true; return p },
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "unknown growth",
			series: prepared(t, 24),
			params: func(p Params) Params { p.Growth = "flat"; return p },
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "non-positive prior",
			series: prepared(t, 24),
			params: func(p Params) Params { p.ChangepointPriorScale = 0; return p },
			want:   apperrors.ErrModelFit,
		},
		{
			name:   "cap not above floor",
			series: series.Bounded{Observed: monthly(t, 24, func(int) float64 { return 0 })},
			want:   apperrors.ErrData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			if tt.params != nil {
				p = tt.params(p)
			}
			fitted, err := NewLogisticModel(nil).Fit(context.Background(), tt.series, p)
			assert.Nil(t, fitted)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLogisticModel_PredictErrors(t *testing.T) {
	ctx := context.Background()
	m := NewLogisticModel(nil)

	_, err := m.Predict(ctx, nil, 12)
	assert.ErrorIs(t, err, apperrors.ErrNotFitted)

	_, err = m.Predict(ctx, &Fitted{}, 12)
	assert.ErrorIs(t, err, apperrors.ErrNotFitted)

	fitted, err := m.Fit(ctx, prepared(t, 24), DefaultParams())
	require.NoError(t, err)
	_, err = m.Predict(ctx, fitted, -1)
	assert.ErrorIs(t, err, apperrors.ErrData)

	fc, err := m.Predict(ctx, fitted, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, fc.Len())
}

func TestLogisticModel_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLogisticModel(nil).Fit(ctx, prepared(t, 24), DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogisticModel_Deterministic(t *testing.T) {
	ctx := context.Background()
	m := NewLogisticModel(nil)

	_, a, err := FitPredict(ctx, m, prepared(t, 36), DefaultParams(), 12)
	require.NoError(t, err)
	_, b, err := FitPredict(ctx, m, prepared(t, 36), DefaultParams(), 12)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlaceChangepoints(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		count int
		want  int
	}{
		{"reduced to history", 12, 25, 8},
		{"requested fits", 100, 25, 25},
		{"none requested", 48, 0, 0},
		{"too short", 2, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cps := placeChangepoints(tt.n, tt.count, 0.8, float64(tt.n-1))
			assert.Len(t, cps, tt.want)
			for i := 1; i < len(cps); i++ {
				assert.Greater(t, cps[i], cps[i-1])
			}
			for _, c := range cps {
				assert.LessOrEqual(t, c, 0.8)
			}
		})
	}
}

type failingModel struct {
	calls atomic.Int32
}

func (f *failingModel) Fit(context.Context, series.Bounded, Params) (*Fitted, error) {
	f.calls.Add(1)
	return nil, apperrors.NewModelFitError("boom", nil)
}

func (f *failingModel) Predict(context.Context, *Fitted, int) (series.Forecast, error) {
	return series.Forecast{}, apperrors.NewNotFittedError()
}

func TestTune(t *testing.T) {
	ctx := context.Background()
	s := monthly(t, 60, seasonal)

	var seen atomic.Int32
	opts := DefaultTuneOptions()
	opts.Samples = 6
	opts.OnTrial = func(Trial) { seen.Add(1) }

	res, err := Tune(ctx, NewLogisticModel(nil), s, DefaultGrid(), opts)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Len(t, res.Trials, 6)
	assert.Equal(t, int32(6), seen.Load())
	assert.Equal(t, 48, res.TrainSize)
	assert.Equal(t, 12, res.ValidationSize)

	for _, tr := range res.Trials {
		if tr.OK() {
			assert.GreaterOrEqual(t, tr.MAPE, res.MAPE)
		}
	}
	assert.Contains(t, DefaultGrid().ChangepointPriorScales, res.Params.ChangepointPriorScale)
	assert.Contains(t, DefaultGrid().SeasonalityPriorScales, res.Params.SeasonalityPriorScale)
	assert.Equal(t, GrowthLogistic, res.Params.Growth, "base params are kept")

	again, err := Tune(ctx, NewLogisticModel(nil), s, DefaultGrid(), opts)
	require.NoError(t, err)
	assert.Equal(t, res.Params, again.Params)
	assert.Equal(t, res.Trials, again.Trials)
}

func TestTune_Fallback(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		n     int
	}{
		{"every fit fails", &failingModel{}, 60},
		{"training split too short", NewLogisticModel(nil), 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Tune(context.Background(), tt.model, monthly(t, tt.n, seasonal), DefaultGrid(), DefaultTuneOptions())
			require.NoError(t, err)
			assert.True(t, res.Fallback)
			assert.Equal(t, FallbackChangepointPriorScale, res.Params.ChangepointPriorScale)
			assert.Equal(t, FallbackSeasonalityPriorScale, res.Params.SeasonalityPriorScale)
			assert.Len(t, res.Trials, 20)
			for _, tr := range res.Trials {
				assert.False(t, tr.OK())
			}
		})
	}
}

func TestTune_Errors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Tune(ctx, NewLogisticModel(nil), monthly(t, 60, seasonal), DefaultGrid(), DefaultTuneOptions())
	assert.True(t, errors.Is(err, context.Canceled))

	_, err = Tune(context.Background(), NewLogisticModel(nil), monthly(t, 60, seasonal), Grid{}, DefaultTuneOptions())
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, err = Tune(context.Background(), NewLogisticModel(nil), series.Observed{}, DefaultGrid(), DefaultTuneOptions())
	assert.ErrorIs(t, err, apperrors.ErrData)
}

func TestSample(t *testing.T) {
	combos := DefaultGrid().Combinations()
	require.Len(t, combos, 20)

	picked := sample(combos, 5, 42)
	assert.Len(t, picked, 5)
	assert.Equal(t, picked, sample(combos, 5, 42))

	seen := map[[2]float64]bool{}
	for _, c := range picked {
		assert.False(t, seen[c], "duplicate combination %v", c)
		seen[c] = true
	}

	assert.Len(t, sample(combos, 100, 1), 20)
	assert.Len(t, sample(combos, 0, 1), 20)
}

func TestMonthlyStats(t *testing.T) {
	s := monthly(t, 36, func(i int) float64 { return float64(100*(i%12) + i/12) })

	stats, err := MonthlyStats(s)
	require.NoError(t, err)
	require.Len(t, stats, 12)

	jan := stats[0]
	assert.Equal(t, time.January, jan.Month)
	assert.Equal(t, 3, jan.N)
	assert.InDelta(t, 1.0, jan.Mean, 1e-9)
	assert.InDelta(t, 1.0, jan.Std, 1e-9)
	assert.LessOrEqual(t, jan.Q20, jan.Q80)
	assert.GreaterOrEqual(t, jan.Q20, 0.0)
	assert.LessOrEqual(t, jan.Q80, 2.0)

	_, err = MonthlyStats(series.Observed{})
	assert.ErrorIs(t, err, apperrors.ErrData)
}

func TestMonthlyStats_QuantilesInterpolateLinearly(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		q20, q80 float64
	}{
		{"five years", []float64{3, 1, 5, 2, 4}, 1.8, 4.2},
		{"two years", []float64{10, 20}, 12, 18},
		{"single year", []float64{7}, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := monthly(t, 12*len(tt.values), func(i int) float64 {
				if i%12 == 0 {
					return tt.values[i/12]
				}
				return 0
			})

			stats, err := MonthlyStats(s)
			require.NoError(t, err)
			jan := stats[0]
			require.Equal(t, time.January, jan.Month)
			assert.InDelta(t, tt.q20, jan.Q20, 1e-9)
			assert.InDelta(t, tt.q80, jan.Q80, 1e-9)
		})
	}
}

func TestGenerateScenario(t *testing.T) {
	stats, err := MonthlyStats(monthly(t, 48, seasonal))
	require.NoError(t, err)
	last := series.AddMonths(start, 47)

	sc, err := GenerateScenario(stats, last, 3, 42)
	require.NoError(t, err)
	require.Equal(t, 36, sc.Len())
	assert.True(t, sc.Points[0].Time.Equal(series.AddMonths(last, 1)))
	require.NoError(t, sc.CheckMonthly())

	byMonth := map[time.Month]MonthStats{}
	for _, ms := range stats {
		byMonth[ms.Month] = ms
	}
	for _, p := range sc.Points {
		ms := byMonth[p.Time.Month()]
		assert.GreaterOrEqual(t, p.Value, ms.Q20)
		assert.LessOrEqual(t, p.Value, ms.Q80)
	}

	again, err := GenerateScenario(stats, last, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, sc, again)
}

func TestGenerateScenario_Errors(t *testing.T) {
	stats, err := MonthlyStats(monthly(t, 6, seasonal))
	require.NoError(t, err)

	_, err = GenerateScenario(stats, start, 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrData, "months without history")

	_, err = GenerateScenario(stats, start, 0, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}
