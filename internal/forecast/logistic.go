package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

var tracer = otel.Tracer("divorcecast/forecast")

const (
	// logitClamp keeps observations strictly inside (floor, cap).
	logitClamp = 1e-4
	// trendRidge lightly regularizes intercept and base slope.
	trendRidge = 1e-8
	// maxMonthlyHarmonic is the highest yearly harmonic monthly sampling
	// can resolve.
	maxMonthlyHarmonic = 6
)

// LogisticModel is a saturating-growth trend with piecewise slope changes
// and a yearly Fourier seasonality, fitted as a penalized regression in
// logit space.
type LogisticModel struct {
	logger *slog.Logger
}

// NewLogisticModel creates the saturating model backend.
func NewLogisticModel(logger *slog.Logger) *LogisticModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogisticModel{logger: logger.With(slog.String("component", "forecast"))}
}

// Name identifies the backend in Forecast.Model.
func (m *LogisticModel) Name() string { return series.ModelSaturating }

type logisticState struct {
	growth       string
	tScale       float64
	changepoints []float64
	harmonics    int
	startMonth   int
	beta         []float64
	z            float64
}

func (st *logisticState) trendColumns() int { return 2 + len(st.changepoints) }

func (st *logisticState) columns() int {
	cols := st.trendColumns() + 2*st.harmonics
	if st.harmonics == maxMonthlyHarmonic {
		cols-- // sin(pi*m) is identically zero
	}
	return cols
}

// design builds the regression rows for time indices [0, count).
func (st *logisticState) design(count int) *mat.Dense {
	x := mat.NewDense(count, st.columns(), nil)
	for i := 0; i < count; i++ {
		t := float64(i) / st.tScale
		x.Set(i, 0, 1)
		x.Set(i, 1, t)
		col := 2
		for _, s := range st.changepoints {
			x.Set(i, col, math.Max(0, t-s))
			col++
		}
		month := float64(st.startMonth + i)
		for k := 1; k <= st.harmonics; k++ {
			arg := 2 * math.Pi * float64(k) * month / 12
			x.Set(i, col, math.Cos(arg))
			col++
			if k < maxMonthlyHarmonic {
				x.Set(i, col, math.Sin(arg))
				col++
			}
		}
	}
	return x
}

func (st *logisticState) penalties(p Params) []float64 {
	pen := make([]float64, st.columns())
	pen[0], pen[1] = trendRidge, trendRidge
	for j := 2; j < st.trendColumns(); j++ {
		pen[j] = 1 / (p.ChangepointPriorScale * p.ChangepointPriorScale)
	}
	for j := st.trendColumns(); j < len(pen); j++ {
		pen[j] = 1 / (p.SeasonalityPriorScale * p.SeasonalityPriorScale)
	}
	return pen
}

// transform maps an observation into the regression scale.
func (st *logisticState) transform(y, cap, floor float64) float64 {
	p := (y - floor) / (cap - floor)
	if st.growth == GrowthLinear {
		return p
	}
	p = math.Min(math.Max(p, logitClamp), 1-logitClamp)
	return math.Log(p / (1 - p))
}

// inverse maps a regression-scale value back to observations.
func (st *logisticState) inverse(z, cap, floor float64) float64 {
	if st.growth == GrowthLinear {
		return floor + (cap-floor)*z
	}
	return floor + (cap-floor)/(1+math.Exp(-z))
}

// placeChangepoints spreads count changepoints evenly over the first
// rangeFrac of the history, in scaled time.
func placeChangepoints(n, count int, rangeFrac, tScale float64) []float64 {
	hist := int(math.Floor(float64(n) * rangeFrac))
	if count > hist-1 {
		count = hist - 1
	}
	if count <= 0 {
		return nil
	}
	out := make([]float64, count)
	for j := 1; j <= count; j++ {
		idx := math.Round(float64(j) * float64(hist-1) / float64(count))
		out[j-1] = idx / tScale
	}
	return out
}

// ridge solves (X'X + diag(pen)) b = X'y by Cholesky factorization.
func ridge(x *mat.Dense, y, pen []float64) ([]float64, error) {
	_, cols := x.Dims()

	var a mat.SymDense
	a.SymOuterK(1, x.T())
	for i := 0; i < cols; i++ {
		a.SetSym(i, i, a.At(i, i)+pen[i])
	}

	var b mat.VecDense
	b.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var chol mat.Cholesky
	if ok := chol.Factorize(&a); !ok {
		return nil, errors.New("normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &b); err != nil {
		return nil, err
	}

	out := make([]float64, cols)
	for i := range out {
		out[i] = beta.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, errors.New("solution is not finite")
		}
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Fit estimates the model on s. The series must be strictly monthly and
// at least p.MinTrainingPoints long.
func (m *LogisticModel) Fit(ctx context.Context, s series.Bounded, p Params) (*Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := tracer.Start(ctx, "forecast.Fit", trace.WithAttributes(
		attribute.String("series", s.Name),
		attribute.Int("points", s.Len()),
		attribute.Float64("changepoint_prior_scale", p.ChangepointPriorScale),
		attribute.Float64("seasonality_prior_scale", p.SeasonalityPriorScale),
	))
	defer span.End()

	if err := p.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.CheckMonthly(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	n := s.Len()
	if n < p.MinTrainingPoints {
		return nil, apperrors.NewModelFitError(
			fmt.Sprintf("%s: need at least %d monthly points for yearly seasonality, got %d", s.Name, p.MinTrainingPoints, n), nil).
			WithContext("points", n)
	}
	if !(s.Cap > s.Floor) {
		return nil, apperrors.NewDataError(fmt.Sprintf("%s: cap %.4g must exceed floor %.4g", s.Name, s.Cap, s.Floor))
	}

	st := &logisticState{
		growth:     p.Growth,
		tScale:     float64(n - 1),
		startMonth: int(s.Points[0].Time.Month()) - 1,
		z:          distuv.UnitNormal.Quantile(0.5 + p.IntervalWidth/2),
	}
	if p.YearlySeasonality {
		st.harmonics = min(p.YearlyFourierOrder, maxMonthlyHarmonic)
	}
	st.changepoints = placeChangepoints(n, p.NChangepoints, p.ChangepointRange, st.tScale)

	values := s.Values()
	target := make([]float64, n)
	for i, v := range values {
		target[i] = st.transform(v, s.Cap, s.Floor)
	}

	beta, err := ridge(st.design(n), target, st.penalties(p))
	if err != nil {
		fitErr := apperrors.NewModelFitError(fmt.Sprintf("%s: solver failed", s.Name), err)
		span.RecordError(fitErr)
		return nil, fitErr
	}
	st.beta = beta

	fitted := &Fitted{
		Model:  series.ModelSaturating,
		Params: p,
		Cap:    s.Cap,
		Floor:  s.Floor,
		Start:  s.Points[0].Time,
		N:      n,
		state:  st,
	}
	x := st.design(n)
	var sse float64
	for i, v := range values {
		r := v - st.inverse(dot(x.RawRowView(i), beta), s.Cap, s.Floor)
		sse += r * r
	}
	fitted.Sigma = math.Sqrt(sse / float64(n))

	m.logger.DebugContext(ctx, "Model fitted",
		slog.String("series", s.Name),
		slog.Int("points", n),
		slog.Int("changepoints", len(st.changepoints)),
		slog.Int("harmonics", st.harmonics),
		slog.Float64("sigma", fitted.Sigma))
	return fitted, nil
}

// Predict returns the in-sample fit followed by horizon future months.
// Intervals widen with the distance past the last training month and
// never fall below the floor.
func (m *LogisticModel) Predict(ctx context.Context, f *Fitted, horizon int) (series.Forecast, error) {
	if !f.IsFitted() {
		return series.Forecast{}, apperrors.NewNotFittedError()
	}
	if horizon < 0 {
		return series.Forecast{}, apperrors.NewDataError(fmt.Sprintf("horizon must be non-negative, got %d", horizon))
	}
	if err := ctx.Err(); err != nil {
		return series.Forecast{}, err
	}
	_, span := tracer.Start(ctx, "forecast.Predict", trace.WithAttributes(
		attribute.Int("horizon", horizon),
	))
	defer span.End()

	st := f.state
	total := f.N + horizon
	x := st.design(total)
	tc := st.trendColumns()

	out := series.Forecast{Model: f.Model, Points: make([]series.ForecastPoint, total)}
	for i := 0; i < total; i++ {
		row := x.RawRowView(i)
		trendZ := dot(row[:tc], st.beta[:tc])
		seasonZ := dot(row[tc:], st.beta[tc:])
		yhat := st.inverse(trendZ+seasonZ, f.Cap, f.Floor)

		ahead := max(0, i-(f.N-1))
		width := st.z * f.Sigma * math.Sqrt(1+float64(ahead)/float64(f.N))

		out.Points[i] = series.ForecastPoint{
			Time:      series.AddMonths(f.Start, i),
			Yhat:      yhat,
			Lower:     math.Min(yhat, math.Max(f.Floor, yhat-width)),
			Upper:     yhat + width,
			Trend:     st.inverse(trendZ, f.Cap, f.Floor),
			Cap:       f.Cap,
			Floor:     f.Floor,
			HasBounds: true,
		}
	}
	return out, nil
}

// FitPredict fits s and forecasts horizon months past its end.
func FitPredict(ctx context.Context, model Model, s series.Bounded, p Params, horizon int) (*Fitted, series.Forecast, error) {
	fitted, err := model.Fit(ctx, s, p)
	if err != nil {
		return nil, series.Forecast{}, err
	}
	fc, err := model.Predict(ctx, fitted, horizon)
	if err != nil {
		return nil, series.Forecast{}, err
	}
	return fitted, fc, nil
}

// End returns the last training month of a fitted model.
func (f *Fitted) End() time.Time {
	if f == nil || f.N == 0 {
		return time.Time{}
	}
	return series.AddMonths(f.Start, f.N-1)
}
