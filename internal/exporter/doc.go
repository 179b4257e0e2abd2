// Package exporter writes forecast, metric and regional summary outputs
// for the dashboard and the batch CLI.
//
// CSVWriter is the shared CSV layer. It writes to files under the output
// directory or to any io.Writer, optionally prefixed with a UTF-8 BOM so
// Excel detects the encoding of Thai province names.
//
// ForecastExporter and RegionExporter turn domain values into rows. The
// region exporter also produces a multi-sheet XLSX workbook with excelize.
//
// Example usage:
//
//	fc := exporter.NewForecastExporter(paths, logger)
//	if err := fc.ExportForecast("forecast_future.csv", forecast); err != nil {
//		return err
//	}
//
//	rx := exporter.NewRegionExporter(paths, logger)
//	err := rx.ExportWorkbook("region_summary.xlsx", report)
package exporter
