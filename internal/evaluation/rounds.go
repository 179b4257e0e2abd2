package evaluation

import (
	"gonum.org/v1/gonum/stat"

	"divorcecast/internal/dataload"
	apperrors "divorcecast/internal/errors"
)

// RoundSummary is the mean error over rolling-evaluation rounds.
type RoundSummary struct {
	Model  string  `json:"model"`
	Rounds int     `json:"rounds"`
	MAE    float64 `json:"mae"`
	RMSE   float64 `json:"rmse"`
	MAPE   float64 `json:"mape"`
}

// AverageRounds averages MAE, RMSE and MAPE across rounds.
func AverageRounds(rounds []dataload.RoundMetric) (RoundSummary, error) {
	if len(rounds) == 0 {
		return RoundSummary{}, apperrors.NewDataError("no evaluation rounds to average")
	}

	mae := make([]float64, len(rounds))
	rmse := make([]float64, len(rounds))
	mape := make([]float64, len(rounds))
	for i, r := range rounds {
		mae[i], rmse[i], mape[i] = r.MAE, r.RMSE, r.MAPE
	}

	return RoundSummary{
		Model:  rounds[0].Model,
		Rounds: len(rounds),
		MAE:    stat.Mean(mae, nil),
		RMSE:   stat.Mean(rmse, nil),
		MAPE:   stat.Mean(mape, nil),
	}, nil
}

// Comparison puts the in-sample metrics of the saturating model next to
// the averaged rounds of the classical model.
type Comparison struct {
	Saturating *MetricSet             `json:"saturating,omitempty"`
	Classical  *RoundSummary          `json:"classical,omitempty"`
	Rounds     []dataload.RoundMetric `json:"rounds,omitempty"`

	// LowerMAPE names the model with the smaller MAPE when both are present.
	LowerMAPE string `json:"lower_mape,omitempty"`
}

// Compare builds a Comparison. Either side may be nil when its input
// could not be computed.
func Compare(saturating *MetricSet, classical *RoundSummary, rounds []dataload.RoundMetric) Comparison {
	c := Comparison{Saturating: saturating, Classical: classical, Rounds: rounds}
	if saturating != nil && classical != nil {
		if saturating.MAPE <= classical.MAPE {
			c.LowerMAPE = "saturating"
		} else {
			c.LowerMAPE = "classical"
		}
	}
	return c
}
