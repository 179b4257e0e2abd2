package dataload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/region"
	"divorcecast/internal/series"
)

// Column names of the input contracts.
const (
	ColDate      = "ds"
	ColProvince  = "Province"
	ColMarriage  = "Marriage"
	ColDivorce   = "Divorce"
	ColYearBE    = "Year_BE"
	ColForecast  = "forecast"
	ColYhat      = "yhat"
	ColYhatLower = "yhat_lower"
	ColYhatUpper = "yhat_upper"
	ColTrend     = "trend"
	ColCap       = "cap"
	ColFloor     = "floor"
)

// ClassicalModelName labels rounds read from the classical metrics file.
const ClassicalModelName = "SARIMAX"

// RoundMetric is one rolling-evaluation round of the classical model.
type RoundMetric struct {
	Model string  `json:"model"`
	Round int     `json:"round"`
	Train int     `json:"train"`
	Test  int     `json:"test"`
	MAE   float64 `json:"mae"`
	RMSE  float64 `json:"rmse"`
	MAPE  float64 `json:"mape"`
}

// RollingPoint is one value of the classical rolling forecast.
type RollingPoint struct {
	Time     time.Time `json:"ds"`
	Forecast float64   `json:"forecast"`
}

// Loader reads the input tables.
type Loader struct {
	logger       *slog.Logger
	targetColumn string
}

// NewLoader creates a loader whose model table targets targetColumn,
// "Divorce" when empty.
func NewLoader(logger *slog.Logger, targetColumn string) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if targetColumn == "" {
		targetColumn = ColDivorce
	}
	return &Loader{
		logger:       logger.With(slog.String("component", "dataload")),
		targetColumn: targetColumn,
	}
}

// TargetColumn returns the column exposed by ModelTable.Observed.
func (l *Loader) TargetColumn() string {
	return l.targetColumn
}

func (l *Loader) loaded(ctx context.Context, path string, rows int) {
	l.logger.DebugContext(ctx, "Loaded table",
		slog.String("file", filepath.Base(path)),
		slog.Int("rows", rows))
}

// ModelSeries reads the model table: a ds column, the target column and
// any number of numeric covariates. Non-numeric columns are ignored.
// Rows are sorted by ds.
func (l *Loader) ModelSeries(ctx context.Context, path string) (*ModelTable, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColDate, l.targetColumn); err != nil {
		return nil, err
	}

	times, err := t.dates(ColDate)
	if err != nil {
		return nil, err
	}

	order := sortedOrder(times)
	mt := &ModelTable{
		Target:  l.targetColumn,
		Times:   permuteTimes(times, order),
		columns: make(map[string][]float64),
	}

	for i := 1; i < len(mt.Times); i++ {
		if series.MonthStart(mt.Times[i]).Equal(series.MonthStart(mt.Times[i-1])) {
			return nil, apperrors.NewParsingError(
				fmt.Sprintf("%s: duplicate %s %s", filepath.Base(path), ColDate, mt.Times[i].Format("2006-01")), nil).
				WithContext("file", path).
				WithContext("column", ColDate)
		}
	}

	for _, name := range t.names() {
		if name == ColDate {
			continue
		}
		values, err := t.floats(name)
		if err != nil {
			if name == l.targetColumn {
				return nil, err
			}
			continue
		}
		mt.columns[name] = permuteFloats(values, order)
		mt.names = append(mt.names, name)
	}

	if _, err := mt.Observed(); err != nil {
		return nil, err
	}

	l.loaded(ctx, path, mt.Len())
	return mt, nil
}

// Regional reads the regional table. Year_BE is optional; without it every
// record has Year 0. Province names are normalized.
func (l *Loader) Regional(ctx context.Context, path string) ([]region.Record, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColProvince, ColMarriage, ColDivorce); err != nil {
		return nil, err
	}

	provinces := t.text(ColProvince)
	marriages, err := t.counts(ColMarriage)
	if err != nil {
		return nil, err
	}
	divorces, err := t.counts(ColDivorce)
	if err != nil {
		return nil, err
	}

	var years []int
	if t.has(ColYearBE) {
		if years, err = t.counts(ColYearBE); err != nil {
			return nil, err
		}
	}

	records := make([]region.Record, t.rows())
	for i := range records {
		records[i] = region.Record{
			Province:  region.NormalizeProvince(provinces[i]),
			Marriages: marriages[i],
			Divorces:  divorces[i],
		}
		if years != nil {
			records[i].Year = years[i]
		}
	}

	l.loaded(ctx, path, len(records))
	return records, nil
}

// ClassicalMetrics reads the rolling-evaluation rounds. Column names are
// matched case-insensitively.
func (l *Loader) ClassicalMetrics(ctx context.Context, path string) ([]RoundMetric, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	t.upperColumns()
	if err := t.require("ROUND", "TRAIN", "TEST", "MAE", "RMSE", "MAPE"); err != nil {
		return nil, err
	}

	ints := make(map[string][]int)
	for _, name := range []string{"ROUND", "TRAIN", "TEST"} {
		if ints[name], err = t.counts(name); err != nil {
			return nil, err
		}
	}
	floats := make(map[string][]float64)
	for _, name := range []string{"MAE", "RMSE", "MAPE"} {
		if floats[name], err = t.floats(name); err != nil {
			return nil, err
		}
	}

	rounds := make([]RoundMetric, t.rows())
	for i := range rounds {
		rounds[i] = RoundMetric{
			Model: ClassicalModelName,
			Round: ints["ROUND"][i],
			Train: ints["TRAIN"][i],
			Test:  ints["TEST"][i],
			MAE:   floats["MAE"][i],
			RMSE:  floats["RMSE"][i],
			MAPE:  floats["MAPE"][i],
		}
	}

	l.loaded(ctx, path, len(rounds))
	return rounds, nil
}

// RollingForecast reads the classical rolling forecast sorted by ds.
func (l *Loader) RollingForecast(ctx context.Context, path string) ([]RollingPoint, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColDate, ColForecast); err != nil {
		return nil, err
	}

	times, err := t.dates(ColDate)
	if err != nil {
		return nil, err
	}
	values, err := t.floats(ColForecast)
	if err != nil {
		return nil, err
	}

	order := sortedOrder(times)
	points := make([]RollingPoint, len(order))
	for i, idx := range order {
		points[i] = RollingPoint{Time: series.MonthStart(times[idx]), Forecast: values[idx]}
	}

	l.loaded(ctx, path, len(points))
	return points, nil
}

// ClassicalFuture reads the classical future forecast. cap and floor are
// optional.
func (l *Loader) ClassicalFuture(ctx context.Context, path string) (series.Forecast, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return series.Forecast{}, err
	}
	if err := t.require(ColDate, ColYhat); err != nil {
		return series.Forecast{}, err
	}

	times, err := t.dates(ColDate)
	if err != nil {
		return series.Forecast{}, err
	}
	yhat, err := t.floats(ColYhat)
	if err != nil {
		return series.Forecast{}, err
	}

	var caps, floors []float64
	if t.has(ColCap) {
		if caps, _, err = t.optionalFloats(ColCap); err != nil {
			return series.Forecast{}, err
		}
	}
	if t.has(ColFloor) {
		if floors, _, err = t.optionalFloats(ColFloor); err != nil {
			return series.Forecast{}, err
		}
	}

	order := sortedOrder(times)
	fc := series.Forecast{Model: series.ModelClassical, Points: make([]series.ForecastPoint, len(order))}
	for i, idx := range order {
		p := series.ForecastPoint{
			Time: series.MonthStart(times[idx]),
			Yhat: yhat[idx],
		}
		if caps != nil {
			p.Cap = caps[idx]
		}
		if floors != nil {
			p.Floor = floors[idx]
		}
		fc.Points[i] = p
	}

	l.loaded(ctx, path, fc.Len())
	return fc, nil
}

// SaturatingFuture reads the stored forecast of the saturating-growth model.
func (l *Loader) SaturatingFuture(ctx context.Context, path string) (series.Forecast, error) {
	t, err := readTable(ctx, path)
	if err != nil {
		return series.Forecast{}, err
	}
	if err := t.require(ColDate, ColYhat, ColYhatLower, ColYhatUpper, ColTrend); err != nil {
		return series.Forecast{}, err
	}

	times, err := t.dates(ColDate)
	if err != nil {
		return series.Forecast{}, err
	}
	cols := make(map[string][]float64)
	for _, name := range []string{ColYhat, ColYhatLower, ColYhatUpper, ColTrend} {
		if cols[name], err = t.floats(name); err != nil {
			return series.Forecast{}, err
		}
	}

	order := sortedOrder(times)
	fc := series.Forecast{Model: series.ModelSaturating, Points: make([]series.ForecastPoint, len(order))}
	for i, idx := range order {
		fc.Points[i] = series.ForecastPoint{
			Time:      series.MonthStart(times[idx]),
			Yhat:      cols[ColYhat][idx],
			Lower:     cols[ColYhatLower][idx],
			Upper:     cols[ColYhatUpper][idx],
			Trend:     cols[ColTrend][idx],
			HasBounds: true,
		}
	}

	l.loaded(ctx, path, fc.Len())
	return fc, nil
}

// sortedOrder returns the row indices ordered by time, stable for equal
// times.
func sortedOrder(times []time.Time) []int {
	order := make([]int, len(times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]].Before(times[order[b]]) })
	return order
}

func permuteTimes(in []time.Time, order []int) []time.Time {
	out := make([]time.Time, len(order))
	for i, idx := range order {
		out[i] = in[idx]
	}
	return out
}

func permuteFloats(in []float64, order []int) []float64 {
	out := make([]float64, len(order))
	for i, idx := range order {
		out[i] = in[idx]
	}
	return out
}
