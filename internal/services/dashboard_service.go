package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"divorcecast/internal/config"
	"divorcecast/internal/dataload"
	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/evaluation"
	"divorcecast/internal/forecast"
	"divorcecast/internal/infrastructure"
	"divorcecast/internal/memo"
	"divorcecast/internal/region"
	"divorcecast/internal/series"
	ws "divorcecast/internal/websocket"
)

// Dataset identifiers, matching the data section of the configuration.
const (
	DatasetModelSeries      = "model_series"
	DatasetRegional         = "regional"
	DatasetClassicalMetrics = "classical_metrics"
	DatasetClassicalRolling = "classical_rolling"
	DatasetSaturatingFuture = "saturating_future"
	DatasetClassicalFuture  = "classical_future"
)

// Datasets lists every input in reporting order.
var Datasets = []string{
	DatasetModelSeries,
	DatasetRegional,
	DatasetClassicalMetrics,
	DatasetClassicalRolling,
	DatasetSaturatingFuture,
	DatasetClassicalFuture,
}

// Notifier pushes events to connected dashboards. *websocket.Hub
// satisfies it.
type Notifier interface {
	Broadcast(ctx context.Context, eventType string, data any) error
}

// LoadStatus is the outcome of the most recent load of one input file.
type LoadStatus struct {
	Dataset   string    `json:"dataset"`
	File      string    `json:"file"`
	OK        bool      `json:"ok"`
	Rows      int       `json:"rows"`
	Message   string    `json:"message,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ForecastResult is one fit of the saturating model.
type ForecastResult struct {
	Forecast series.Forecast      `json:"forecast"`
	Horizon  int                  `json:"horizon"`
	History  int                  `json:"history"`
	Cap      float64              `json:"cap"`
	Floor    float64              `json:"floor"`
	Params   forecast.Params      `json:"params"`
	InSample evaluation.MetricSet `json:"in_sample"`
}

// TuneRequest selects the sample count and seed of a search. Zero values
// fall back to configuration.
type TuneRequest struct {
	Samples int    `json:"samples" validate:"omitempty,gte=1,lte=20"`
	Seed    *int64 `json:"seed" validate:"omitempty,gte=0"`
}

// ScenarioResult is a synthetic continuation of the target series.
type ScenarioResult struct {
	Stats    []forecast.MonthStats `json:"stats"`
	Scenario series.Observed       `json:"scenario"`
	Years    int                   `json:"years"`
	Seed     int64                 `json:"seed"`
}

// DashboardDeps are the collaborators of a DashboardService. Cache,
// Model, Schemes and Notifier are optional.
type DashboardDeps struct {
	Config   *config.Config
	Paths    *config.Paths
	Cache    *memo.Cache
	Model    forecast.Model
	Schemes  *region.Schemes
	Metrics  *infrastructure.BusinessMetrics
	Notifier Notifier
	Logger   *slog.Logger
}

// DashboardService is the load boundary and pipeline behind every panel.
// Loader failures are recorded per file and returned as typed errors;
// pipeline failures propagate unchanged.
type DashboardService struct {
	cfg      *config.Config
	paths    *config.Paths
	loader   *dataload.Loader
	cache    *memo.Cache
	model    forecast.Model
	schemes  *region.Schemes
	metrics  *infrastructure.BusinessMetrics
	notifier Notifier
	logger   *slog.Logger

	params forecast.Params
	policy evaluation.ZeroActualPolicy

	mu     sync.RWMutex
	status map[string]LoadStatus
}

// NewDashboardService validates the forecast configuration and wires the
// defaults for any optional dependency.
func NewDashboardService(deps DashboardDeps) (*DashboardService, error) {
	if deps.Config == nil || deps.Paths == nil {
		return nil, apperrors.NewConfigError("dashboard service requires config and paths", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "dashboard_service"))

	params := forecast.ParamsFromConfig(deps.Config.Forecast)
	if err := params.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid forecast configuration", err)
	}
	policy, err := evaluation.ParsePolicy(deps.Config.Forecast.ZeroActualPolicy)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid zero actual policy", err)
	}

	schemes := deps.Schemes
	if schemes == nil {
		if schemes, err = region.LoadSchemes(deps.Config.Regions.File); err != nil {
			return nil, err
		}
	}
	cache := deps.Cache
	if cache == nil {
		cache = memo.NewCache(memo.NewMemoryStore(), deps.Config.Cache.TTL, logger, deps.Metrics)
	}
	model := deps.Model
	if model == nil {
		model = forecast.NewLogisticModel(logger)
	}

	logger.Info("DashboardService initialized",
		slog.String("data_dir", deps.Paths.DataDir),
		slog.String("zero_actual_policy", string(policy)),
		slog.Any("schemes", schemes.Names()))

	return &DashboardService{
		cfg:      deps.Config,
		paths:    deps.Paths,
		loader:   dataload.NewLoader(logger, deps.Config.Data.TargetColumn),
		cache:    cache,
		model:    model,
		schemes:  schemes,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		logger:   logger,
		params:   params,
		policy:   policy,
		status:   make(map[string]LoadStatus),
	}, nil
}

// Params returns the configured model parameters.
func (s *DashboardService) Params() forecast.Params { return s.params }

// CacheStats returns the memoization counters.
func (s *DashboardService) CacheStats() memo.Stats { return s.cache.Stats() }

func (s *DashboardService) datasetFile(dataset string) string {
	d := s.cfg.Data
	switch dataset {
	case DatasetModelSeries:
		return d.ModelSeries
	case DatasetRegional:
		return d.Regional
	case DatasetClassicalMetrics:
		return d.ClassicalMetrics
	case DatasetClassicalRolling:
		return d.ClassicalRolling
	case DatasetSaturatingFuture:
		return d.SaturatingFuture
	case DatasetClassicalFuture:
		return d.ClassicalFuture
	}
	return ""
}

// load reads one dataset through the cache and records the outcome.
func load[T any](ctx context.Context, s *DashboardService, dataset string, read func(context.Context, string) (T, error), rows func(T) int) (T, error) {
	var out T
	file := s.datasetFile(dataset)
	path := s.paths.DataFile(file)

	key, err := memo.FileKey(path, dataset, s.loader.TargetColumn())
	if err == nil {
		_, err = s.cache.Do(ctx, key, &out, func(ctx context.Context) (any, error) {
			return read(ctx, path)
		})
	}
	if err != nil {
		var zero T
		s.recordFailure(ctx, dataset, file, err)
		return zero, err
	}

	s.setStatus(LoadStatus{Dataset: dataset, File: file, OK: true, Rows: rows(out), CheckedAt: time.Now().UTC()})
	return out, nil
}

func (s *DashboardService) recordFailure(ctx context.Context, dataset, file string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	st := LoadStatus{Dataset: dataset, File: file, CheckedAt: time.Now().UTC(), ErrorType: "UNKNOWN"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		st.ErrorType = string(appErr.Type)
		st.Message = fmt.Sprintf("%s could not be loaded: %s", file, appErr.Message)
	} else {
		st.Message = fmt.Sprintf("%s could not be loaded: %v", file, err)
	}
	s.setStatus(st)

	s.logger.WarnContext(ctx, "Dataset load failed",
		slog.String("dataset", dataset),
		slog.String("file", file),
		slog.String("error_type", st.ErrorType),
		slog.String("error", err.Error()))
	infrastructure.RecordLoadFailure(ctx, s.metrics, file, st.ErrorType)
}

func (s *DashboardService) setStatus(st LoadStatus) {
	s.mu.Lock()
	s.status[st.Dataset] = st
	s.mu.Unlock()
}

// isLoadError reports whether err came from reading an input file rather
// than from the pipeline.
func isLoadError(err error) bool {
	return errors.Is(err, apperrors.ErrFileMissing) || errors.Is(err, apperrors.ErrParse)
}

// ModelTable loads the model input table.
func (s *DashboardService) ModelTable(ctx context.Context) (*dataload.ModelTable, error) {
	return load(ctx, s, DatasetModelSeries, s.loader.ModelSeries, func(m *dataload.ModelTable) int { return m.Len() })
}

// RegionalRecords loads the regional table.
func (s *DashboardService) RegionalRecords(ctx context.Context) ([]region.Record, error) {
	return load(ctx, s, DatasetRegional, s.loader.Regional, func(r []region.Record) int { return len(r) })
}

// ClassicalMetrics loads the rolling-evaluation rounds of the classical model.
func (s *DashboardService) ClassicalMetrics(ctx context.Context) ([]dataload.RoundMetric, error) {
	return load(ctx, s, DatasetClassicalMetrics, s.loader.ClassicalMetrics, func(r []dataload.RoundMetric) int { return len(r) })
}

// ClassicalRolling loads the classical model's rolling forecast.
func (s *DashboardService) ClassicalRolling(ctx context.Context) ([]dataload.RollingPoint, error) {
	return load(ctx, s, DatasetClassicalRolling, s.loader.RollingForecast, func(r []dataload.RollingPoint) int { return len(r) })
}

// ClassicalFuture returns the first horizon points of the stored classical
// forecast.
func (s *DashboardService) ClassicalFuture(ctx context.Context, horizon int) (series.Forecast, error) {
	fc, err := load(ctx, s, DatasetClassicalFuture, s.loader.ClassicalFuture, series.Forecast.Len)
	if err != nil {
		return series.Forecast{}, err
	}
	return fc.Head(horizon), nil
}

// StoredSaturating returns the first horizon points of the precomputed
// saturating forecast.
func (s *DashboardService) StoredSaturating(ctx context.Context, horizon int) (series.Forecast, error) {
	fc, err := load(ctx, s, DatasetSaturatingFuture, s.loader.SaturatingFuture, series.Forecast.Len)
	if err != nil {
		return series.Forecast{}, err
	}
	return fc.Head(horizon), nil
}

// Series returns one numeric column of the model table; an empty column
// selects the target.
func (s *DashboardService) Series(ctx context.Context, column string) (series.Observed, error) {
	mt, err := s.ModelTable(ctx)
	if err != nil {
		return series.Observed{}, err
	}
	if column == "" {
		return mt.Observed()
	}
	return mt.Series(column)
}

// DataStatus loads every dataset and reports the outcome of each.
func (s *DashboardService) DataStatus(ctx context.Context) []LoadStatus {
	for _, dataset := range Datasets {
		if ctx.Err() != nil {
			break
		}
		s.refresh(ctx, dataset)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LoadStatus, 0, len(Datasets))
	for _, dataset := range Datasets {
		st, ok := s.status[dataset]
		if !ok {
			st = LoadStatus{Dataset: dataset, File: s.datasetFile(dataset), Message: "not loaded"}
		}
		out = append(out, st)
	}
	return out
}

func (s *DashboardService) refresh(ctx context.Context, dataset string) {
	switch dataset {
	case DatasetModelSeries:
		s.ModelTable(ctx)
	case DatasetRegional:
		s.RegionalRecords(ctx)
	case DatasetClassicalMetrics:
		s.ClassicalMetrics(ctx)
	case DatasetClassicalRolling:
		s.ClassicalRolling(ctx)
	case DatasetSaturatingFuture:
		s.StoredSaturating(ctx, 0)
	case DatasetClassicalFuture:
		s.ClassicalFuture(ctx, 0)
	}
}

// SaturatingForecast fits the saturating model to the target series and
// predicts horizon months past the history. Without intervals the bounds
// are stripped.
func (s *DashboardService) SaturatingForecast(ctx context.Context, horizon int, intervals bool) (*ForecastResult, error) {
	if horizon < 0 || horizon > s.cfg.Forecast.FuturePeriods {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("horizon must be between 0 and %d months", s.cfg.Forecast.FuturePeriods)).
			WithContext("horizon", horizon)
	}

	obs, err := s.Series(ctx, "")
	if err != nil {
		return nil, err
	}
	bounded, err := forecast.Prepare(obs)
	if err != nil {
		return nil, err
	}

	key, err := memo.Key(memo.NamespaceForecast, series.ModelSaturating, bounded, s.params, horizon)
	if err != nil {
		return nil, err
	}

	var res ForecastResult
	hit, err := s.cache.Do(ctx, key, &res, func(ctx context.Context) (any, error) {
		return s.fit(ctx, bounded, horizon)
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Saturating forecast ready",
		slog.Int("horizon", horizon),
		slog.Bool("cached", hit),
		slog.Float64("mape", res.InSample.MAPE))

	if !intervals {
		res.Forecast = res.Forecast.WithoutBounds()
	}
	return &res, nil
}

func (s *DashboardService) fit(ctx context.Context, bounded series.Bounded, horizon int) (*ForecastResult, error) {
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"forecast.history": bounded.Len(),
		"forecast.horizon": horizon,
		"forecast.cap":     bounded.Cap,
	})
	start := time.Now()
	_, fc, err := forecast.FitPredict(ctx, s.model, bounded, s.params, horizon)
	infrastructure.RecordFitMetrics(ctx, s.metrics, series.ModelSaturating, time.Since(start), err)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}

	inSample, err := evaluation.Evaluate(fc, bounded.Observed, s.policy)
	if err != nil {
		return nil, err
	}

	return &ForecastResult{
		Forecast: fc,
		Horizon:  horizon,
		History:  bounded.Len(),
		Cap:      bounded.Cap,
		Floor:    bounded.Floor,
		Params:   s.params,
		InSample: inSample,
	}, nil
}

// Metrics compares the saturating model's in-sample fit with the
// classical model's averaged rounds. A side whose input file cannot be
// loaded is omitted; the call fails only when both are missing.
func (s *DashboardService) Metrics(ctx context.Context) (*evaluation.Comparison, error) {
	var (
		saturating *evaluation.MetricSet
		classical  *evaluation.RoundSummary
		firstErr   error
	)

	res, err := s.SaturatingForecast(ctx, 0, true)
	switch {
	case err == nil:
		saturating = &res.InSample
	case isLoadError(err):
		firstErr = err
	default:
		return nil, err
	}

	rounds, err := s.ClassicalMetrics(ctx)
	switch {
	case err == nil:
		summary, err := evaluation.AverageRounds(rounds)
		if err != nil {
			return nil, err
		}
		classical = &summary
	case isLoadError(err):
		if firstErr == nil {
			firstErr = err
		}
	default:
		return nil, err
	}

	if saturating == nil && classical == nil {
		return nil, firstErr
	}
	c := evaluation.Compare(saturating, classical, rounds)
	return &c, nil
}

// Tune searches the prior scale grid on a holdout split of the target
// series. Each finished trial is broadcast to dashboards.
func (s *DashboardService) Tune(ctx context.Context, req TuneRequest) (*forecast.TuneResult, error) {
	samples := req.Samples
	if samples == 0 {
		samples = s.cfg.Forecast.TuneSamples
	}
	seed := s.cfg.Forecast.TuneSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	obs, err := s.Series(ctx, "")
	if err != nil {
		return nil, err
	}

	key, err := memo.Key(memo.NamespaceTune, obs, s.params, samples, seed)
	if err != nil {
		return nil, err
	}

	var res forecast.TuneResult
	hit, err := s.cache.Do(ctx, key, &res, func(ctx context.Context) (any, error) {
		opts := forecast.DefaultTuneOptions()
		opts.Base = s.params
		opts.Samples = samples
		opts.Seed = seed
		opts.Concurrency = s.cfg.Forecast.TuneConcurrency
		opts.Logger = s.logger
		opts.OnTrial = func(t forecast.Trial) {
			var trialErr error
			if !t.OK() {
				trialErr = errors.New(t.Error)
			}
			infrastructure.RecordTuneTrial(ctx, s.metrics, trialErr)
			s.notify(ctx, ws.EventTuneTrial, t)
		}
		return forecast.Tune(ctx, s.model, obs, forecast.DefaultGrid(), opts)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, ws.EventTuneComplete, map[string]any{
		"changepoint_prior_scale": res.Params.ChangepointPriorScale,
		"seasonality_prior_scale": res.Params.SeasonalityPriorScale,
		"mape":                    res.MAPE,
		"fallback":                res.Fallback,
		"cached":                  hit,
	})
	return &res, nil
}

// Scenario draws a synthetic continuation of the target series from its
// per-month statistics.
func (s *DashboardService) Scenario(ctx context.Context, years int, seed int64) (*ScenarioResult, error) {
	obs, err := s.Series(ctx, "")
	if err != nil {
		return nil, err
	}
	stats, err := forecast.MonthlyStats(obs)
	if err != nil {
		return nil, err
	}
	last := obs.Points[obs.Len()-1].Time
	scenario, err := forecast.GenerateScenario(stats, last, years, seed)
	if err != nil {
		return nil, err
	}
	return &ScenarioResult{Stats: stats, Scenario: scenario, Years: years, Seed: seed}, nil
}

// Warm precomputes the default forecast and region summary, then tells
// dashboards the cache is fresh.
func (s *DashboardService) Warm(ctx context.Context) error {
	start := time.Now()

	var errs []error
	if _, err := s.SaturatingForecast(ctx, s.cfg.Forecast.DefaultHorizon, true); err != nil {
		errs = append(errs, fmt.Errorf("forecast: %w", err))
	}
	if _, err := s.RegionSummary(ctx, RegionQuery{}); err != nil {
		errs = append(errs, fmt.Errorf("region summary: %w", err))
	}
	err := errors.Join(errs...)

	stats := s.cache.Stats()
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Cache warm finished",
		slog.Duration("duration", time.Since(start)),
		slog.Int64("hits", stats.Hits),
		slog.Int64("misses", stats.Misses),
		slog.Any("error", err))

	s.notify(ctx, ws.EventCacheWarmed, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"ok":          err == nil,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
	})
	return err
}

// HandleDatasetChange reacts to a watched input file changing on disk.
// Cache eviction has already happened by the time it runs.
func (s *DashboardService) HandleDatasetChange(ctx context.Context, file string) {
	base := filepath.Base(file)
	infrastructure.RecordDatasetChange(ctx, s.metrics, base)

	dataset := ""
	for _, d := range Datasets {
		if s.datasetFile(d) == base {
			dataset = d
			break
		}
	}
	if dataset != "" {
		s.mu.Lock()
		delete(s.status, dataset)
		s.mu.Unlock()
	}

	infrastructure.AddSpanEvent(ctx, "dataset.changed", map[string]interface{}{"file": base, "dataset": dataset})
	s.logger.InfoContext(ctx, "Dataset changed",
		slog.String("file", base),
		slog.String("dataset", dataset))
	s.notify(ctx, ws.EventDatasetChanged, map[string]string{"file": base, "dataset": dataset})
}

func (s *DashboardService) notify(ctx context.Context, eventType string, data any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Broadcast(ctx, eventType, data); err != nil {
		s.logger.DebugContext(ctx, "Event not delivered",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}
