package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"divorcecast/internal/config"
	"divorcecast/internal/region"
)

// Workbook sheet names.
const (
	SheetSummary      = "Summary"
	SheetTrend        = "Trend"
	SheetTopProvinces = "Top provinces"
	SheetShare        = "Share"
	SheetKPIs         = "KPIs"
)

// TopProvinceCount is how many provinces each ranking on the workbook's
// top provinces sheet lists.
const TopProvinceCount = 5

// RegionReport is everything the regional workbook shows for one filter.
type RegionReport struct {
	Summary region.Summary
	KPIs    region.KPIs
	Trend   []region.YearTotal
	Share   []region.Share

	TopByDivorces  []region.ProvinceTotal
	TopByMarriages []region.ProvinceTotal
}

// RegionExporter writes regional summaries as CSV and XLSX.
type RegionExporter struct {
	csvWriter *CSVWriter
	logger    *slog.Logger
}

// NewRegionExporter creates a region exporter writing under paths.
func NewRegionExporter(paths *config.Paths, logger *slog.Logger) *RegionExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegionExporter{
		csvWriter: NewCSVWriter(paths, logger),
		logger:    logger,
	}
}

// SummaryHeaders are the columns of the region summary export.
func SummaryHeaders() []string {
	return []string{"region", "marriages", "divorces", "divorce_rate"}
}

// SummaryRecords keeps the summary's rate-descending order.
func SummaryRecords(s region.Summary) [][]string {
	records := make([][]string, 0, len(s.Regions))
	for _, r := range s.Regions {
		records = append(records, []string{
			r.Region,
			formatInt(r.Marriages),
			formatInt(r.Divorces),
			formatFloat(r.DivorceRate),
		})
	}
	return records
}

// ExportSummaryCSV writes the summary to filePath.
func (e *RegionExporter) ExportSummaryCSV(filePath string, s region.Summary) error {
	if err := e.csvWriter.WriteSimpleCSV(filePath, SummaryHeaders(), SummaryRecords(s)); err != nil {
		return fmt.Errorf("failed to export region summary: %w", err)
	}
	return nil
}

// BuildWorkbook lays the report out over five sheets. The caller closes
// the returned file.
func BuildWorkbook(report RegionReport) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetTrend, SheetTopProvinces, SheetShare, SheetKPIs} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	summary := make([][]any, 0, len(report.Summary.Regions))
	for _, r := range report.Summary.Regions {
		summary = append(summary, []any{r.Region, r.Marriages, r.Divorces, round2(r.DivorceRate)})
	}

	trend := make([][]any, 0, len(report.Trend))
	for _, y := range report.Trend {
		trend = append(trend, []any{y.Year, y.Marriages, y.Divorces, round2(region.DivorceRate(y.Marriages, y.Divorces))})
	}

	top := make([][]any, 0, len(report.TopByDivorces)+len(report.TopByMarriages))
	for _, ranking := range []struct {
		by   region.RankBy
		rows []region.ProvinceTotal
	}{{region.ByDivorces, report.TopByDivorces}, {region.ByMarriages, report.TopByMarriages}} {
		for i, p := range ranking.rows {
			top = append(top, []any{string(ranking.by), i + 1, p.Province, p.Region, p.Marriages, p.Divorces})
		}
	}

	share := make([][]any, 0, len(report.Share))
	for _, s := range report.Share {
		share = append(share, []any{s.Region, s.Marriages, round2(s.Percent)})
	}

	kpis := [][]any{
		{"Scheme", report.Summary.Scheme},
		{"Year from", report.Summary.Filter.YearFrom},
		{"Year to", report.Summary.Filter.YearTo},
		{"Total marriages", report.KPIs.TotalMarriages},
		{"Total divorces", report.KPIs.TotalDivorces},
		{"Divorce rate (%)", round2(report.KPIs.DivorceRate)},
		{"Years analyzed", report.KPIs.YearsAnalyzed},
	}

	sheets := []struct {
		name    string
		headers []any
		rows    [][]any
	}{
		{SheetSummary, []any{"Region", "Marriages", "Divorces", "Divorce rate (%)"}, summary},
		{SheetTrend, []any{"Year", "Marriages", "Divorces", "Divorce rate (%)"}, trend},
		{SheetTopProvinces, []any{"Ranked by", "Rank", "Province", "Region", "Marriages", "Divorces"}, top},
		{SheetShare, []any{"Region", "Marriages", "Share (%)"}, share},
		{SheetKPIs, []any{"Metric", "Value"}, kpis},
	}
	for _, s := range sheets {
		if err := writeSheet(f, s.name, s.headers, s.rows, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sheet %s: %w", s.name, err)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, headers []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 18)
}

// WriteWorkbook streams the XLSX report to w.
func (e *RegionExporter) WriteWorkbook(w io.Writer, report RegionReport) error {
	f, err := BuildWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// ExportWorkbook saves the XLSX report to filePath.
func (e *RegionExporter) ExportWorkbook(filePath string, report RegionReport) error {
	fullPath := e.csvWriter.resolvePath(filePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := BuildWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()

	e.logger.Info("Writing XLSX workbook",
		slog.String("file_path", filePath),
		slog.String("full_path", fullPath),
		slog.Int("region_count", len(report.Summary.Regions)))

	if err := f.SaveAs(fullPath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
