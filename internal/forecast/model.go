package forecast

import (
	"context"
	"time"

	"divorcecast/internal/series"
)

// Model is a forecasting backend. Fit returns an immutable handle that
// Predict consumes; implementations must be safe for concurrent use.
type Model interface {
	Fit(ctx context.Context, s series.Bounded, p Params) (*Fitted, error)
	Predict(ctx context.Context, m *Fitted, horizon int) (series.Forecast, error)
}

// Fitted is the result of a fit. Its zero value is not fitted.
type Fitted struct {
	Model  string    `json:"model"`
	Params Params    `json:"params"`
	Cap    float64   `json:"cap"`
	Floor  float64   `json:"floor"`
	Start  time.Time `json:"start"`
	N      int       `json:"n"`

	// Residual standard deviation in the original scale.
	Sigma float64 `json:"sigma"`

	state *logisticState
}

// IsFitted reports whether m holds a fitted model.
func (m *Fitted) IsFitted() bool {
	return m != nil && m.state != nil
}
