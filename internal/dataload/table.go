package dataload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"

	apperrors "divorcecast/internal/errors"
)

// dateLayouts are tried in order when parsing a ds cell.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01",
	"2006/01/02",
	time.RFC3339,
}

// table is a text grid with trimmed, BOM-free column names.
type table struct {
	path    string
	df      dataframe.DataFrame
	columns map[string]string
}

func readTable(ctx context.Context, path string) (*table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewFileMissingError(path, err)
		}
		return nil, apperrors.NewParsingError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	opts := []dataframe.LoadOption{
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	}

	var df dataframe.DataFrame
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err := readWorkbook(f)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("cannot read workbook %s", path), err).
				WithContext("file", path)
		}
		df = dataframe.LoadRecords(records, opts...)
	default:
		df = dataframe.ReadCSV(f, opts...)
	}

	if df.Err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("cannot parse %s", path), df.Err).
			WithContext("file", path)
	}

	t := &table{path: path, df: df, columns: make(map[string]string)}
	for _, name := range df.Names() {
		t.columns[cleanHeader(name)] = name
	}
	return t, nil
}

// readWorkbook returns the first worksheet as rows padded to the header width.
func readWorkbook(r io.Reader) ([][]string, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	width := len(rows[0])
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if len(row) < width {
			row = append(row, make([]string, width-len(row))...)
		}
		out = append(out, row[:width])
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cleanHeader(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
}

func (t *table) rows() int {
	return t.df.Nrow()
}

func (t *table) has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// upperColumns re-keys the column lookup by upper-cased name.
func (t *table) upperColumns() {
	upper := make(map[string]string, len(t.columns))
	for clean, raw := range t.columns {
		upper[strings.ToUpper(clean)] = raw
	}
	t.columns = upper
}

// names returns the cleaned column names in file order.
func (t *table) names() []string {
	out := make([]string, 0, len(t.columns))
	for _, raw := range t.df.Names() {
		out = append(out, cleanHeader(raw))
	}
	return out
}

func (t *table) require(names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return apperrors.NewParsingError(
		fmt.Sprintf("%s: missing required column(s) %s", filepath.Base(t.path), strings.Join(missing, ", ")), nil).
		WithContext("file", t.path).
		WithContext("columns", missing)
}

func (t *table) text(name string) []string {
	return t.df.Col(t.columns[name]).Records()
}

func (t *table) cellError(column string, row int, value string, cause error) error {
	// Row numbers are 1-based and count the header line.
	line := row + 2
	return apperrors.NewParsingError(
		fmt.Sprintf("%s: column %s row %d: cannot parse %q", filepath.Base(t.path), column, line, value), cause).
		WithContext("file", t.path).
		WithContext("column", column).
		WithContext("row", line)
}

func (t *table) floats(name string) ([]float64, error) {
	cells := t.text(name)
	out := make([]float64, len(cells))
	for i, cell := range cells {
		v, err := parseNumber(cell)
		if err != nil {
			return nil, t.cellError(name, i, cell, err)
		}
		out[i] = v
	}
	return out, nil
}

// optionalFloats parses a column where blank cells are allowed and
// reported through the returned mask.
func (t *table) optionalFloats(name string) ([]float64, []bool, error) {
	cells := t.text(name)
	out := make([]float64, len(cells))
	present := make([]bool, len(cells))
	for i, cell := range cells {
		if isMissing(cell) {
			continue
		}
		v, err := parseNumber(cell)
		if err != nil {
			return nil, nil, t.cellError(name, i, cell, err)
		}
		out[i] = v
		present[i] = true
	}
	return out, present, nil
}

func (t *table) counts(name string) ([]int, error) {
	values, err := t.floats(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(values))
	for i, v := range values {
		if v < 0 {
			return nil, t.cellError(name, i, strconv.FormatFloat(v, 'f', -1, 64), fmt.Errorf("negative count"))
		}
		out[i] = int(math.Round(v))
	}
	return out, nil
}

func (t *table) dates(name string) ([]time.Time, error) {
	cells := t.text(name)
	out := make([]time.Time, len(cells))
	for i, cell := range cells {
		ts, err := parseDate(cell)
		if err != nil {
			return nil, t.cellError(name, i, cell, err)
		}
		out[i] = ts
	}
	return out, nil
}

func isMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "NaN", "NA", "nan", "<nil>":
		return true
	}
	return false
}

func parseNumber(cell string) (float64, error) {
	if isMissing(cell) {
		return 0, fmt.Errorf("missing value")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(cell), ",", ""), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	return v, nil
}

func parseDate(cell string) (time.Time, error) {
	s := strings.TrimSpace(cell)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
