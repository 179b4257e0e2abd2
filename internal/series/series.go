package series

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "divorcecast/internal/errors"
)

// Point is a single monthly observation.
type Point struct {
	Time  time.Time `json:"ds"`
	Value float64   `json:"y"`
}

// Observed is an ordered monthly series for one quantity. Values are
// non-negative and timestamps are unique.
type Observed struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// NewObserved copies, normalizes and sorts points. Duplicate timestamps,
// negative values and NaN are rejected.
func NewObserved(name string, points []Point) (Observed, error) {
	out := make([]Point, len(points))
	for i, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return Observed{}, apperrors.NewDataError(fmt.Sprintf("%s: non-finite value at %s", name, p.Time.Format("2006-01-02")))
		}
		if p.Value < 0 {
			return Observed{}, apperrors.NewDataError(fmt.Sprintf("%s: negative value %g at %s", name, p.Value, p.Time.Format("2006-01-02")))
		}
		out[i] = Point{Time: MonthStart(p.Time), Value: p.Value}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	for i := 1; i < len(out); i++ {
		if out[i].Time.Equal(out[i-1].Time) {
			return Observed{}, apperrors.NewDataError(fmt.Sprintf("%s: duplicate timestamp %s", name, out[i].Time.Format("2006-01")))
		}
	}

	return Observed{Name: name, Points: out}, nil
}

// Len returns the number of points.
func (s Observed) Len() int { return len(s.Points) }

// Values returns the values in timestamp order.
func (s Observed) Values() []float64 {
	v := make([]float64, len(s.Points))
	for i, p := range s.Points {
		v[i] = p.Value
	}
	return v
}

// Times returns the timestamps in order.
func (s Observed) Times() []time.Time {
	t := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		t[i] = p.Time
	}
	return t
}

// Max returns the largest value. ok is false for an empty series.
func (s Observed) Max() (max float64, ok bool) {
	if len(s.Points) == 0 {
		return 0, false
	}
	max = s.Points[0].Value
	for _, p := range s.Points[1:] {
		if p.Value > max {
			max = p.Value
		}
	}
	return max, true
}

// Head returns the first n points as a new series.
func (s Observed) Head(n int) Observed {
	if n > len(s.Points) {
		n = len(s.Points)
	}
	if n < 0 {
		n = 0
	}
	return Observed{Name: s.Name, Points: append([]Point(nil), s.Points[:n]...)}
}

// Tail returns the points from index n onward as a new series.
func (s Observed) Tail(n int) Observed {
	if n > len(s.Points) {
		n = len(s.Points)
	}
	if n < 0 {
		n = 0
	}
	return Observed{Name: s.Name, Points: append([]Point(nil), s.Points[n:]...)}
}

// CheckMonthly verifies that consecutive points are exactly one calendar
// month apart.
func (s Observed) CheckMonthly() error {
	for i := 1; i < len(s.Points); i++ {
		want := AddMonths(s.Points[i-1].Time, 1)
		if !s.Points[i].Time.Equal(want) {
			return apperrors.NewDataError(fmt.Sprintf("%s: expected %s after %s, got %s",
				s.Name,
				want.Format("2006-01"),
				s.Points[i-1].Time.Format("2006-01"),
				s.Points[i].Time.Format("2006-01")))
		}
	}
	return nil
}

// Bounded is an observed series annotated with saturation bounds.
type Bounded struct {
	Observed
	Cap   float64 `json:"cap"`
	Floor float64 `json:"floor"`
}

// ForecastPoint is one model output row.
type ForecastPoint struct {
	Time      time.Time `json:"ds"`
	Yhat      float64   `json:"yhat"`
	Lower     float64   `json:"yhat_lower"`
	Upper     float64   `json:"yhat_upper"`
	Trend     float64   `json:"trend"`
	Cap       float64   `json:"cap,omitempty"`
	Floor     float64   `json:"floor"`
	HasBounds bool      `json:"has_bounds"`
}

// Forecast is an ordered series of model outputs.
type Forecast struct {
	Model  string          `json:"model"`
	Points []ForecastPoint `json:"points"`
}

// Len returns the number of points.
func (f Forecast) Len() int { return len(f.Points) }

// Head returns the first n points.
func (f Forecast) Head(n int) Forecast {
	if n > len(f.Points) {
		n = len(f.Points)
	}
	if n < 0 {
		n = 0
	}
	return Forecast{Model: f.Model, Points: append([]ForecastPoint(nil), f.Points[:n]...)}
}

// Tail returns the last n points.
func (f Forecast) Tail(n int) Forecast {
	n = max(0, min(n, len(f.Points)))
	return Forecast{Model: f.Model, Points: append([]ForecastPoint(nil), f.Points[len(f.Points)-n:]...)}
}

// After returns the points strictly after t.
func (f Forecast) After(t time.Time) Forecast {
	out := Forecast{Model: f.Model}
	for _, p := range f.Points {
		if p.Time.After(t) {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// WithoutBounds drops interval columns, used when intervals are toggled off.
func (f Forecast) WithoutBounds() Forecast {
	out := Forecast{Model: f.Model, Points: make([]ForecastPoint, len(f.Points))}
	for i, p := range f.Points {
		p.Lower, p.Upper, p.HasBounds = 0, 0, false
		out.Points[i] = p
	}
	return out
}

// Model names attached to Forecast.Model.
const (
	ModelSaturating = "saturating"
	ModelClassical  = "classical"
)
