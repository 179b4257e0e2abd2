package dataload

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

// ModelTable is the model input table sorted by date. The target column
// and every numeric covariate are kept.
type ModelTable struct {
	Target string
	Times  []time.Time

	names   []string
	columns map[string][]float64
}

// Len returns the number of rows.
func (m *ModelTable) Len() int {
	return len(m.Times)
}

// Columns returns the numeric column names in file order.
func (m *ModelTable) Columns() []string {
	return append([]string(nil), m.names...)
}

// Series returns one numeric column as an observed series.
func (m *ModelTable) Series(name string) (series.Observed, error) {
	values, ok := m.columns[name]
	if !ok {
		return series.Observed{}, apperrors.NewNotFoundError(fmt.Sprintf("column %q", name))
	}
	points := make([]series.Point, len(values))
	for i, v := range values {
		points[i] = series.Point{Time: m.Times[i], Value: v}
	}
	return series.NewObserved(name, points)
}

// Observed returns the target column.
func (m *ModelTable) Observed() (series.Observed, error) {
	return m.Series(m.Target)
}

type modelTableJSON struct {
	Target  string               `json:"target"`
	Times   []time.Time          `json:"times"`
	Names   []string             `json:"names"`
	Columns map[string][]float64 `json:"columns"`
}

// MarshalJSON encodes the table including its covariates so it can be
// memoized.
func (m *ModelTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelTableJSON{
		Target:  m.Target,
		Times:   m.Times,
		Names:   m.names,
		Columns: m.columns,
	})
}

// UnmarshalJSON restores a table written by MarshalJSON.
func (m *ModelTable) UnmarshalJSON(data []byte) error {
	var raw modelTableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, name := range raw.Names {
		if len(raw.Columns[name]) != len(raw.Times) {
			return fmt.Errorf("model table column %q has %d values for %d rows", name, len(raw.Columns[name]), len(raw.Times))
		}
	}
	m.Target = raw.Target
	m.Times = raw.Times
	m.names = raw.Names
	m.columns = raw.Columns
	return nil
}
