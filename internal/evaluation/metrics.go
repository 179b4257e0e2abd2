package evaluation

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

// ZeroActualPolicy decides how MAPE treats rows whose actual value is 0.
type ZeroActualPolicy string

const (
	// ExcludeZeroActuals drops zero-actual rows from MAPE only.
	ExcludeZeroActuals ZeroActualPolicy = "exclude"
	// FailOnZeroActual rejects the evaluation when any actual is 0.
	FailOnZeroActual ZeroActualPolicy = "fail"
)

// ParsePolicy maps a configuration value to a policy. Empty selects
// ExcludeZeroActuals.
func ParsePolicy(s string) (ZeroActualPolicy, error) {
	switch ZeroActualPolicy(s) {
	case "", ExcludeZeroActuals:
		return ExcludeZeroActuals, nil
	case FailOnZeroActual:
		return FailOnZeroActual, nil
	}
	return "", apperrors.NewAppValidationError(fmt.Sprintf("unknown zero actual policy %q", s))
}

// MetricSet holds the error statistics of one evaluation. MAPE is a
// percentage. N is the joined row count and Excluded the rows left out of
// MAPE.
type MetricSet struct {
	MAE      float64 `json:"mae"`
	MSE      float64 `json:"mse"`
	RMSE     float64 `json:"rmse"`
	MAPE     float64 `json:"mape"`
	N        int     `json:"n"`
	Excluded int     `json:"excluded"`
}

// Pair is one joined row.
type Pair struct {
	Time      time.Time `json:"ds"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
}

// Join returns the rows of pred whose timestamp also appears in actual,
// in forecast order.
func Join(pred series.Forecast, actual series.Observed) []Pair {
	byTime := make(map[int64]float64, actual.Len())
	for _, p := range actual.Points {
		byTime[p.Time.UnixNano()] = p.Value
	}

	pairs := make([]Pair, 0, min(pred.Len(), actual.Len()))
	for _, p := range pred.Points {
		if v, ok := byTime[p.Time.UnixNano()]; ok {
			pairs = append(pairs, Pair{Time: p.Time, Actual: v, Predicted: p.Yhat})
		}
	}
	return pairs
}

// Evaluate computes the error statistics of pred against actual.
// Under ExcludeZeroActuals, zero actuals are left out of MAPE only, but a
// window whose actuals are all zero fails with DivisionByZero and no
// MetricSet at all: MAE, MSE and RMSE are withheld along with MAPE.
func Evaluate(pred series.Forecast, actual series.Observed, policy ZeroActualPolicy) (MetricSet, error) {
	pairs := Join(pred, actual)
	if len(pairs) == 0 {
		return MetricSet{}, apperrors.NewEmptyJoinError(pred.Len(), actual.Len())
	}

	abs := make([]float64, len(pairs))
	sq := make([]float64, len(pairs))
	pct := make([]float64, 0, len(pairs))
	for i, p := range pairs {
		diff := p.Actual - p.Predicted
		abs[i] = math.Abs(diff)
		sq[i] = diff * diff

		if p.Actual == 0 {
			if policy == FailOnZeroActual {
				return MetricSet{}, apperrors.NewDivisionByZeroError(
					fmt.Sprintf("MAPE undefined: actual value is 0 at %s", p.Time.Format("2006-01")))
			}
			continue
		}
		pct = append(pct, abs[i]/math.Abs(p.Actual))
	}

	if len(pct) == 0 {
		return MetricSet{}, apperrors.NewDivisionByZeroError("MAPE undefined: every actual value is 0")
	}

	mse := stat.Mean(sq, nil)
	return MetricSet{
		MAE:      stat.Mean(abs, nil),
		MSE:      mse,
		RMSE:     math.Sqrt(mse),
		MAPE:     stat.Mean(pct, nil) * 100,
		N:        len(pairs),
		Excluded: len(pairs) - len(pct),
	}, nil
}
