package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/evaluation"
	"divorcecast/internal/series"
)

// Fallback prior scales used when no trial succeeds.
const (
	FallbackChangepointPriorScale = 0.05
	FallbackSeasonalityPriorScale = 10.0
)

// Grid is the prior-scale search space.
type Grid struct {
	ChangepointPriorScales []float64 `json:"changepoint_prior_scales" validate:"required,dive,gt=0"`
	SeasonalityPriorScales []float64 `json:"seasonality_prior_scales" validate:"required,dive,gt=0"`
}

// DefaultGrid returns the 5 x 4 production grid.
func DefaultGrid() Grid {
	return Grid{
		ChangepointPriorScales: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
		SeasonalityPriorScales: []float64{0.01, 0.1, 1.0, 10.0},
	}
}

// Combinations enumerates the grid, changepoint scale outermost.
func (g Grid) Combinations() [][2]float64 {
	out := make([][2]float64, 0, len(g.ChangepointPriorScales)*len(g.SeasonalityPriorScales))
	for _, cp := range g.ChangepointPriorScales {
		for _, sp := range g.SeasonalityPriorScales {
			out = append(out, [2]float64{cp, sp})
		}
	}
	return out
}

// Trial is the outcome of one sampled combination.
type Trial struct {
	ChangepointPriorScale float64 `json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale"`
	MAPE                  float64 `json:"mape"`
	Error                 string  `json:"error,omitempty"`
}

// OK reports whether the trial produced a usable score.
func (t Trial) OK() bool { return t.Error == "" }

// TuneOptions controls a search.
type TuneOptions struct {
	Base          Params
	Samples       int
	Seed          int64
	Concurrency   int
	TrainFraction float64
	Logger        *slog.Logger
	// OnTrial observes each finished trial. It may be called concurrently.
	OnTrial func(Trial)
}

// DefaultTuneOptions returns 20 samples, seed 42, four workers and an
// 80/20 split.
func DefaultTuneOptions() TuneOptions {
	return TuneOptions{
		Base:          DefaultParams(),
		Samples:       20,
		Seed:          42,
		Concurrency:   4,
		TrainFraction: 0.8,
	}
}

// TuneResult is the selected parameter set. MAPE is zero when Fallback is
// set.
type TuneResult struct {
	Params         Params  `json:"params"`
	MAPE           float64 `json:"mape"`
	Fallback       bool    `json:"fallback"`
	Trials         []Trial `json:"trials"`
	TrainSize      int     `json:"train_size"`
	ValidationSize int     `json:"validation_size"`
}

// sample draws k distinct combinations in a seed-determined order.
func sample(combos [][2]float64, k int, seed int64) [][2]float64 {
	if k > len(combos) || k <= 0 {
		k = len(combos)
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	perm := rng.Perm(len(combos))
	out := make([][2]float64, k)
	for i := 0; i < k; i++ {
		out[i] = combos[perm[i]]
	}
	return out
}

// Tune searches the prior scales by fitting on the leading TrainFraction
// of s and scoring MAPE on the rest. Bounds come from the full series.
// Failed trials are skipped; when none succeeds the fallback scales are
// returned with Fallback set. Results depend only on s, grid and Seed.
func Tune(ctx context.Context, model Model, s series.Observed, grid Grid, opts TuneOptions) (*TuneResult, error) {
	if opts.TrainFraction <= 0 || opts.TrainFraction >= 1 {
		opts.TrainFraction = 0.8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	combos := grid.Combinations()
	if len(combos) == 0 {
		return nil, apperrors.NewAppValidationError("tuning grid is empty")
	}

	bounded, err := Prepare(s)
	if err != nil {
		return nil, err
	}
	trainSize := int(float64(s.Len()) * opts.TrainFraction)
	train := series.Bounded{Observed: s.Head(trainSize), Cap: bounded.Cap, Floor: bounded.Floor}
	valid := s.Tail(s.Len() - trainSize)

	ctx, span := tracer.Start(ctx, "forecast.Tune")
	defer span.End()

	picked := sample(combos, opts.Samples, opts.Seed)
	trials := make([]Trial, len(picked))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, combo := range picked {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trial := runTrial(gctx, model, train, valid, opts.Base.WithPriors(combo[0], combo[1]))
			if gctx.Err() != nil {
				return gctx.Err()
			}
			trials[i] = trial
			if opts.OnTrial != nil {
				mu.Lock()
				opts.OnTrial(trial)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &TuneResult{
		Trials:         trials,
		TrainSize:      train.Len(),
		ValidationSize: valid.Len(),
	}
	best := -1
	for i, t := range trials {
		if !t.OK() {
			continue
		}
		if best < 0 || t.MAPE < trials[best].MAPE {
			best = i
		}
	}
	if best < 0 {
		result.Params = opts.Base.WithPriors(FallbackChangepointPriorScale, FallbackSeasonalityPriorScale)
		result.Fallback = true
		logger.WarnContext(ctx, "No tuning trial succeeded, using fallback priors",
			slog.Int("trials", len(trials)))
		return result, nil
	}

	result.Params = opts.Base.WithPriors(trials[best].ChangepointPriorScale, trials[best].SeasonalityPriorScale)
	result.MAPE = trials[best].MAPE
	logger.InfoContext(ctx, "Tuning complete",
		slog.Int("trials", len(trials)),
		slog.Float64("changepoint_prior_scale", result.Params.ChangepointPriorScale),
		slog.Float64("seasonality_prior_scale", result.Params.SeasonalityPriorScale),
		slog.Float64("mape", result.MAPE))
	return result, nil
}

func runTrial(ctx context.Context, model Model, train series.Bounded, valid series.Observed, p Params) Trial {
	trial := Trial{
		ChangepointPriorScale: p.ChangepointPriorScale,
		SeasonalityPriorScale: p.SeasonalityPriorScale,
	}
	fitted, fc, err := FitPredict(ctx, model, train, p, valid.Len())
	if err != nil {
		trial.Error = err.Error()
		return trial
	}
	metrics, err := evaluation.Evaluate(fc.After(fitted.End()), valid, evaluation.ExcludeZeroActuals)
	if err != nil {
		trial.Error = err.Error()
		return trial
	}
	if math.IsNaN(metrics.MAPE) || math.IsInf(metrics.MAPE, 0) {
		trial.Error = fmt.Sprintf("non-finite MAPE %v", metrics.MAPE)
		return trial
	}
	trial.MAPE = metrics.MAPE
	return trial
}
