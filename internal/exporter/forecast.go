package exporter

import (
	"fmt"
	"io"
	"log/slog"

	"divorcecast/internal/config"
	"divorcecast/internal/evaluation"
	"divorcecast/internal/series"
)

// ForecastExporter writes forecast series and model metrics.
type ForecastExporter struct {
	csvWriter *CSVWriter
}

// NewForecastExporter creates a forecast exporter writing under paths.
func NewForecastExporter(paths *config.Paths, logger *slog.Logger) *ForecastExporter {
	return &ForecastExporter{csvWriter: NewCSVWriter(paths, logger)}
}

// ForecastHeaders are the columns the precomputed future files use, so an
// export can be read back by the loader.
func ForecastHeaders() []string {
	return []string{"ds", "yhat", "yhat_lower", "yhat_upper", "trend", "cap", "floor"}
}

// ForecastRecords converts fc to CSV rows. Points without bounds repeat
// yhat in the interval columns.
func ForecastRecords(fc series.Forecast) [][]string {
	records := make([][]string, 0, fc.Len())
	for _, p := range fc.Points {
		lower, upper := p.Lower, p.Upper
		if !p.HasBounds {
			lower, upper = p.Yhat, p.Yhat
		}
		records = append(records, []string{
			formatDate(p.Time),
			formatValue(p.Yhat),
			formatValue(lower),
			formatValue(upper),
			formatValue(p.Trend),
			formatValue(p.Cap),
			formatValue(p.Floor),
		})
	}
	return records
}

// ExportForecast writes fc to filePath.
func (e *ForecastExporter) ExportForecast(filePath string, fc series.Forecast) error {
	if err := e.csvWriter.WriteSimpleCSV(filePath, ForecastHeaders(), ForecastRecords(fc)); err != nil {
		return fmt.Errorf("failed to export %s forecast: %w", fc.Model, err)
	}
	return nil
}

// WriteForecast streams fc as CSV to w.
func (e *ForecastExporter) WriteForecast(w io.Writer, fc series.Forecast, bom bool) error {
	return e.csvWriter.Encode(w, WriteOptions{
		Headers:   ForecastHeaders(),
		Records:   ForecastRecords(fc),
		BOMPrefix: bom,
	})
}

// MetricsHeaders are the columns of the metrics export.
func MetricsHeaders() []string {
	return []string{"model", "source", "round", "n", "mae", "mse", "rmse", "mape"}
}

// MetricsRecords flattens a comparison: one in-sample row for the
// saturating model, one averaged row for the classical model, then one row
// per classical round. Missing values are left blank.
func MetricsRecords(c evaluation.Comparison) [][]string {
	var records [][]string
	if m := c.Saturating; m != nil {
		records = append(records, []string{
			series.ModelSaturating, "in_sample", "", formatInt(m.N),
			formatFloat(m.MAE), formatFloat(m.MSE), formatFloat(m.RMSE), formatFloat(m.MAPE),
		})
	}
	if s := c.Classical; s != nil {
		records = append(records, []string{
			series.ModelClassical, "round_average", "", formatInt(s.Rounds),
			formatFloat(s.MAE), "", formatFloat(s.RMSE), formatFloat(s.MAPE),
		})
	}
	for _, r := range c.Rounds {
		records = append(records, []string{
			series.ModelClassical, "round", formatInt(r.Round), formatInt(r.Test),
			formatFloat(r.MAE), "", formatFloat(r.RMSE), formatFloat(r.MAPE),
		})
	}
	return records
}

// ExportMetrics writes the comparison to filePath.
func (e *ForecastExporter) ExportMetrics(filePath string, c evaluation.Comparison) error {
	if err := e.csvWriter.WriteSimpleCSV(filePath, MetricsHeaders(), MetricsRecords(c)); err != nil {
		return fmt.Errorf("failed to export metrics: %w", err)
	}
	return nil
}
