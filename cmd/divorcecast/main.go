// Command divorcecast runs the forecasting and regional pipeline once and
// writes the CSV and XLSX files the dashboard reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/exporter"
	"divorcecast/internal/forecast"
	"divorcecast/internal/infrastructure"
	"divorcecast/internal/services"
	"divorcecast/internal/validation"
)

// Output file names.
const (
	ForecastFile      = "forecast_future.csv"
	MetricsFile       = "forecast_metrics.csv"
	RegionSummaryCSV  = "region_summary.csv"
	RegionSummaryXLSX = "region_summary.xlsx"
)

type options struct {
	DataDir  string
	OutDir   string
	Horizon  int
	Scheme   string
	YearFrom int
	YearTo   int
	Tune     bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	opts := options{}
	flag.StringVar(&opts.DataDir, "data", "", "input directory (defaults to the configured data dir)")
	flag.StringVar(&opts.OutDir, "out", "", "output directory (defaults to the configured output dir)")
	flag.IntVar(&opts.Horizon, "horizon", cfg.Forecast.FuturePeriods, "forecast horizon in months")
	flag.StringVar(&opts.Scheme, "scheme", cfg.Regions.DefaultScheme, "region scheme id")
	flag.IntVar(&opts.YearFrom, "from", cfg.Regions.DefaultYearFrom, "first Buddhist-era year of the regional summary, 0 for all")
	flag.IntVar(&opts.YearTo, "to", cfg.Regions.DefaultYearTo, "last Buddhist-era year of the regional summary, 0 for all")
	flag.BoolVar(&opts.Tune, "tune", false, "tune prior scales before forecasting")
	flag.Parse()

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", slog.String("error", err.Error()))
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("Pipeline failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run executes the pipeline. Each output is attempted even when an
// earlier one fails; the joined error reports every failure.
func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	paths, err := cfg.GetPaths()
	if err != nil {
		return fmt.Errorf("failed to resolve paths: %w", err)
	}
	if opts.DataDir != "" {
		if paths.DataDir, err = filepath.Abs(opts.DataDir); err != nil {
			return fmt.Errorf("failed to resolve data dir: %w", err)
		}
	}
	if opts.OutDir != "" {
		if paths.OutputDir, err = filepath.Abs(opts.OutDir); err != nil {
			return fmt.Errorf("failed to resolve output dir: %w", err)
		}
	}
	paths.LogPathResolution(logger)

	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateInputDirectory(paths.DataDir); err != nil {
		return err
	}
	if err := validator.ValidateOutputDirectory(paths.OutputDir); err != nil {
		return err
	}
	validator.Preflight(paths.DataDir, []string{
		cfg.Data.ModelSeries,
		cfg.Data.Regional,
		cfg.Data.ClassicalMetrics,
		cfg.Data.ClassicalRolling,
		cfg.Data.SaturatingFuture,
		cfg.Data.ClassicalFuture,
	})

	deps := services.DashboardDeps{Config: cfg, Paths: paths, Logger: logger}
	svc, err := services.NewDashboardService(deps)
	if err != nil {
		return err
	}

	if opts.Tune {
		if svc, err = tuned(ctx, svc, deps, logger); err != nil {
			return err
		}
	}

	forecasts := exporter.NewForecastExporter(paths, logger)
	regions := exporter.NewRegionExporter(paths, logger)

	var errs []error

	res, err := svc.SaturatingForecast(ctx, opts.Horizon, true)
	if err == nil {
		err = forecasts.ExportForecast(ForecastFile, res.Forecast.Tail(res.Horizon))
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", ForecastFile, err))
	}

	cmp, err := svc.Metrics(ctx)
	if err == nil {
		err = forecasts.ExportMetrics(MetricsFile, *cmp)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MetricsFile, err))
	}

	q := services.RegionQuery{Scheme: opts.Scheme, YearFrom: opts.YearFrom, YearTo: opts.YearTo}
	report, err := svc.RegionReport(ctx, q)
	if err == nil {
		err = errors.Join(
			regions.ExportSummaryCSV(RegionSummaryCSV, report.Summary),
			regions.ExportWorkbook(RegionSummaryXLSX, report),
		)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("region summary: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Pipeline complete",
		slog.String("output_dir", paths.OutputDir),
		slog.Int("horizon", opts.Horizon))
	return nil
}

// withPriors copies cfg with the prior scales of p.
func withPriors(cfg *config.Config, p forecast.Params) *config.Config {
	next := *cfg
	next.Forecast.ChangepointPriorScale = p.ChangepointPriorScale
	next.Forecast.SeasonalityPriorScale = p.SeasonalityPriorScale
	return &next
}

// tuned runs the prior-scale search and rebuilds the service with the
// winning scales, or the fallback scales when every trial failed.
func tuned(ctx context.Context, svc *services.DashboardService, deps services.DashboardDeps, logger *slog.Logger) (*services.DashboardService, error) {
	res, err := svc.Tune(ctx, services.TuneRequest{})
	if err != nil {
		return nil, fmt.Errorf("tuning failed: %w", err)
	}
	deps.Config = withPriors(deps.Config, res.Params)

	if res.Fallback {
		logger.WarnContext(ctx, "No tuning trial succeeded, using fallback priors",
			slog.Float64("changepoint_prior_scale", res.Params.ChangepointPriorScale),
			slog.Float64("seasonality_prior_scale", res.Params.SeasonalityPriorScale))
	} else {
		logger.InfoContext(ctx, "Tuned parameters selected",
			slog.Float64("changepoint_prior_scale", res.Params.ChangepointPriorScale),
			slog.Float64("seasonality_prior_scale", res.Params.SeasonalityPriorScale),
			slog.Float64("mape", res.MAPE))
	}

	next, err := services.NewDashboardService(deps)
	if err != nil {
		return nil, apperrors.NewConfigError("tuned parameters rejected", err)
	}
	return next, nil
}
