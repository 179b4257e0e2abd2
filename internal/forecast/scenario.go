package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

// Scenario clipping quantiles.
const (
	ScenarioLowQuantile  = 0.2
	ScenarioHighQuantile = 0.8
)

// ScenarioSeriesName names generated scenario series.
const ScenarioSeriesName = "scenario"

// MonthStats summarizes one calendar month across all years.
type MonthStats struct {
	Month time.Month `json:"month"`
	N     int        `json:"n"`
	Mean  float64    `json:"mean"`
	Std   float64    `json:"std"`
	Q20   float64    `json:"q20"`
	Q80   float64    `json:"q80"`
}

// MonthlyStats groups s by calendar month. Months without observations
// are omitted; the result is ordered January to December.
func MonthlyStats(s series.Observed) ([]MonthStats, error) {
	if s.Len() == 0 {
		return nil, apperrors.NewDataError(fmt.Sprintf("%s: no observations for monthly statistics", s.Name))
	}
	byMonth := make(map[time.Month][]float64, 12)
	for _, p := range s.Points {
		byMonth[p.Time.Month()] = append(byMonth[p.Time.Month()], p.Value)
	}

	out := make([]MonthStats, 0, len(byMonth))
	for m := time.January; m <= time.December; m++ {
		vals, ok := byMonth[m]
		if !ok {
			continue
		}
		sort.Float64s(vals)
		ms := MonthStats{
			Month: m,
			N:     len(vals),
			Mean:  stat.Mean(vals, nil),
			Q20:   linearQuantile(vals, ScenarioLowQuantile),
			Q80:   linearQuantile(vals, ScenarioHighQuantile),
		}
		if len(vals) > 1 {
			ms.Std = stat.StdDev(vals, nil)
		}
		out = append(out, ms)
	}
	return out, nil
}

// linearQuantile interpolates between the order statistics around
// p*(n-1) of sorted. gonum's stat.LinInterp follows the empirical CDF
// instead and gives a narrower band on short samples.
func linearQuantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// GenerateScenario draws years x 12 monthly values after start. Each
// value is sampled from a normal with the calendar month's mean and
// standard deviation, then clipped to that month's [Q20, Q80]. The same
// seed yields the same series.
func GenerateScenario(stats []MonthStats, start time.Time, years int, seed int64) (series.Observed, error) {
	if years <= 0 {
		return series.Observed{}, apperrors.NewAppValidationError(fmt.Sprintf("scenario years must be positive, got %d", years))
	}
	const name = ScenarioSeriesName
	byMonth := make(map[time.Month]MonthStats, len(stats))
	for _, ms := range stats {
		byMonth[ms.Month] = ms
	}
	for m := time.January; m <= time.December; m++ {
		if _, ok := byMonth[m]; !ok {
			return series.Observed{}, apperrors.NewDataError(
				fmt.Sprintf("%s: no history for %s, cannot generate a scenario", name, m))
		}
	}

	src := rand.NewPCG(uint64(seed), 0)
	base := series.MonthStart(start)
	points := make([]series.Point, 0, years*12)
	for i := 1; i <= years*12; i++ {
		t := series.AddMonths(base, i)
		ms := byMonth[t.Month()]

		v := ms.Mean
		if ms.Std > 0 {
			v = distuv.Normal{Mu: ms.Mean, Sigma: ms.Std, Src: src}.Rand()
		}
		v = min(max(v, ms.Q20), ms.Q80)
		points = append(points, series.Point{Time: t, Value: v})
	}
	return series.NewObserved(name, points)
}
