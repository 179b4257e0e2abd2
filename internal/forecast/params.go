package forecast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
)

// Growth modes.
const (
	GrowthLogistic = "logistic"
	GrowthLinear   = "linear"
)

// Params configures a fit. The zero value is invalid; start from
// DefaultParams.
type Params struct {
	Growth                string  `json:"growth" validate:"oneof=logistic linear"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale" validate:"gt=0"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale" validate:"gt=0"`
	YearlySeasonality     bool    `json:"yearly_seasonality"`
	WeeklySeasonality     bool    `json:"weekly_seasonality"`
	DailySeasonality      bool    `json:"daily_seasonality"`
	NChangepoints         int     `json:"n_changepoints" validate:"gte=0,lte=100"`
	ChangepointRange      float64 `json:"changepoint_range" validate:"gt=0,lte=1"`
	YearlyFourierOrder    int     `json:"yearly_fourier_order" validate:"gte=1,lte=20"`
	IntervalWidth         float64 `json:"interval_width" validate:"gt=0,lt=1"`
	MinTrainingPoints     int     `json:"min_training_points" validate:"gte=12"`
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		Growth:                GrowthLogistic,
		ChangepointPriorScale: 1.0,
		SeasonalityPriorScale: 0.1,
		YearlySeasonality:     true,
		NChangepoints:         25,
		ChangepointRange:      0.8,
		YearlyFourierOrder:    10,
		IntervalWidth:         0.8,
		MinTrainingPoints:     12,
	}
}

// ParamsFromConfig builds Params from the forecast configuration section.
func ParamsFromConfig(cfg config.ForecastConfig) Params {
	return Params{
		Growth:                cfg.Growth,
		ChangepointPriorScale: cfg.ChangepointPriorScale,
		SeasonalityPriorScale: cfg.SeasonalityPriorScale,
		YearlySeasonality:     cfg.YearlySeasonality,
		WeeklySeasonality:     cfg.WeeklySeasonality,
		DailySeasonality:      cfg.DailySeasonality,
		NChangepoints:         cfg.NChangepoints,
		ChangepointRange:      cfg.ChangepointRange,
		YearlyFourierOrder:    cfg.YearlyFourierOrder,
		IntervalWidth:         cfg.IntervalWidth,
		MinTrainingPoints:     cfg.MinTrainingPoints,
	}
}

// WithPriors returns a copy with the two prior scales replaced.
func (p Params) WithPriors(changepoint, seasonality float64) Params {
	p.ChangepointPriorScale = changepoint
	p.SeasonalityPriorScale = seasonality
	return p
}

var validate = validator.New()

// Validate checks ranges and rejects seasonalities that monthly data
// cannot estimate. Failures are MODEL_FIT errors.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return apperrors.NewModelFitError("invalid model parameters: "+strings.Join(fields, "; "), err)
		}
		return apperrors.NewModelFitError("invalid model parameters", err)
	}
	if p.WeeklySeasonality {
		return apperrors.NewModelFitError("weekly seasonality cannot be estimated from monthly data", nil)
	}
	if p.DailySeasonality {
		return apperrors.NewModelFitError("daily seasonality cannot be estimated from monthly data", nil)
	}
	return nil
}
