package dataload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func newTestLoader() *Loader {
	return NewLoader(nil, "")
}

func TestModelSeries(t *testing.T) {
	path := writeFile(t, "model.csv", "\ufeffds,Divorce,Marriage,note\n"+
		"2020-03-01,30,300,c\n"+
		"2020-01-01,10,100,a\n"+
		"2020-02-01,20,200,b\n")

	mt, err := newTestLoader().ModelSeries(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, mt.Len())
	assert.Equal(t, []string{"Divorce", "Marriage"}, mt.Columns(), "non-numeric columns are dropped")

	obs, err := mt.Observed()
	require.NoError(t, err)
	assert.Equal(t, "Divorce", obs.Name)
	assert.Equal(t, []float64{10, 20, 30}, obs.Values())
	assert.Equal(t, []time.Time{month(2020, 1), month(2020, 2), month(2020, 3)}, obs.Times())

	marriage, err := mt.Series("Marriage")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 300}, marriage.Values())

	_, err = mt.Series("Population")
	assert.ErrorIs(t, err, apperrors.ErrMissing)
}

func TestModelTable_JSON(t *testing.T) {
	path := writeFile(t, "model.csv", "ds,Divorce,Marriage\n2020-01,1,5\n2020-02,2,6\n")
	mt, err := newTestLoader().ModelSeries(context.Background(), path)
	require.NoError(t, err)

	data, err := json.Marshal(mt)
	require.NoError(t, err)

	var back ModelTable
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, mt.Columns(), back.Columns())

	want, err := mt.Series("Marriage")
	require.NoError(t, err)
	got, err := back.Series("Marriage")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, json.Unmarshal([]byte(`{"times":["2020-01-01T00:00:00Z"],"names":["x"],"columns":{"x":[]}}`), &back))
}

func TestModelSeries_CustomTarget(t *testing.T) {
	path := writeFile(t, "model.csv", "ds,Divorce,Marriage\n2020-01,1,5\n2020-02,2,6\n")

	mt, err := NewLoader(nil, "Marriage").ModelSeries(context.Background(), path)
	require.NoError(t, err)

	obs, err := mt.Observed()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, obs.Values())
}

func TestModelSeries_Deterministic(t *testing.T) {
	path := writeFile(t, "model.csv", "ds,Divorce\n2020-02-01,2\n2020-01-01,1\n")
	l := newTestLoader()

	a, err := l.ModelSeries(context.Background(), path)
	require.NoError(t, err)
	b, err := l.ModelSeries(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestModelSeries_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
		context map[string]interface{}
	}{
		{
			name:    "missing target column",
			content: "ds,Marriage\n2020-01-01,1\n",
			wantErr: apperrors.ErrParse,
			context: map[string]interface{}{"columns": []string{"Divorce"}},
		},
		{
			name:    "bad date",
			content: "ds,Divorce\n2020-01-01,1\nnot-a-date,2\n",
			wantErr: apperrors.ErrParse,
			context: map[string]interface{}{"column": "ds", "row": 3},
		},
		{
			name:    "bad target value",
			content: "ds,Divorce\n2020-01-01,x\n",
			wantErr: apperrors.ErrParse,
			context: map[string]interface{}{"column": "Divorce", "row": 2},
		},
		{
			name:    "blank target value",
			content: "ds,Divorce\n2020-01-01,\n",
			wantErr: apperrors.ErrParse,
		},
		{
			name:    "duplicate month",
			content: "ds,Divorce\n2020-01-01,1\n2020-01-15,2\n",
			wantErr: apperrors.ErrParse,
		},
		{
			name:    "negative target",
			content: "ds,Divorce\n2020-01-01,-1\n",
			wantErr: apperrors.ErrData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "model.csv", tt.content)
			mt, err := newTestLoader().ModelSeries(context.Background(), path)
			assert.Nil(t, mt, "no partial result")
			require.ErrorIs(t, err, tt.wantErr)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			for k, v := range tt.context {
				assert.Equal(t, v, appErr.Context[k], k)
			}
		})
	}
}

func TestLoad_FileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.csv")
	l := newTestLoader()
	ctx := context.Background()

	_, err := l.ModelSeries(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrFileMissing)
	assert.Contains(t, err.Error(), "absent.csv")

	_, err = l.Regional(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrFileMissing)

	_, err = l.SaturatingFuture(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrFileMissing)
}

func TestLoad_CanceledContext(t *testing.T) {
	path := writeFile(t, "model.csv", "ds,Divorce\n2020-01-01,1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader().ModelSeries(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegional(t *testing.T) {
	path := writeFile(t, "regional.csv", "Year_BE,Province,Marriage,Divorce\n"+
		"2560, จังหวัดน่าน ,\"1,200\",300\n"+
		"2561,กรุงเทพมหานคร,5000,2500.0\n")

	records, err := newTestLoader().Regional(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "จังหวัดน่าน", records[0].Province)
	assert.Equal(t, 2560, records[0].Year)
	assert.Equal(t, 1200, records[0].Marriages)
	assert.Equal(t, 300, records[0].Divorces)
	assert.Equal(t, 2500, records[1].Divorces)
}

func TestRegional_WithoutYear(t *testing.T) {
	path := writeFile(t, "regional.csv", "Province,Marriage,Divorce\nA,1,0\n")

	records, err := newTestLoader().Regional(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Year)
}

func TestRegional_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing province", "Year_BE,Marriage,Divorce\n2560,1,1\n"},
		{"negative count", "Province,Marriage,Divorce\nA,-5,1\n"},
		{"bad year", "Year_BE,Province,Marriage,Divorce\nx,A,1,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "regional.csv", tt.content)
			records, err := newTestLoader().Regional(context.Background(), path)
			assert.Nil(t, records)
			assert.ErrorIs(t, err, apperrors.ErrParse)
		})
	}
}

func TestClassicalMetrics(t *testing.T) {
	path := writeFile(t, "metrics.csv", "round,Train,TEST,mae,RMSE,Mape\n"+
		"1,48,12,10.5,12.25,5.5\n"+
		"2,60,12,8,9,4\n")

	rounds, err := newTestLoader().ClassicalMetrics(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, RoundMetric{Model: "SARIMAX", Round: 1, Train: 48, Test: 12, MAE: 10.5, RMSE: 12.25, MAPE: 5.5}, rounds[0])

	missing := writeFile(t, "metrics.csv", "ROUND,TRAIN,TEST,MAE\n1,1,1,1\n")
	_, err = newTestLoader().ClassicalMetrics(context.Background(), missing)
	require.ErrorIs(t, err, apperrors.ErrParse)
	assert.Contains(t, err.Error(), "RMSE, MAPE")
}

func TestRollingForecast(t *testing.T) {
	path := writeFile(t, "rolling.csv", "ds,forecast\n2021-02-01,7.5\n2021-01-01,5\n")

	points, err := newTestLoader().RollingForecast(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []RollingPoint{
		{Time: month(2021, 1), Forecast: 5},
		{Time: month(2021, 2), Forecast: 7.5},
	}, points)
}

func TestClassicalFuture(t *testing.T) {
	t.Run("with bounds", func(t *testing.T) {
		path := writeFile(t, "future.csv", "ds,yhat,cap,floor\n2024-01-01,100,150,0\n2024-02-01,110,,\n")

		fc, err := newTestLoader().ClassicalFuture(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, 2, fc.Len())
		assert.Equal(t, series.ModelClassical, fc.Model)
		assert.Equal(t, 150.0, fc.Points[0].Cap)
		assert.Equal(t, 0.0, fc.Points[1].Cap)
		assert.False(t, fc.Points[0].HasBounds)
	})

	t.Run("without optional columns", func(t *testing.T) {
		path := writeFile(t, "future.csv", "ds,yhat\n2024-01-01 00:00:00,100\n")

		fc, err := newTestLoader().ClassicalFuture(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, 1, fc.Len())
		assert.Equal(t, month(2024, 1), fc.Points[0].Time)
	})
}

func TestSaturatingFuture(t *testing.T) {
	path := writeFile(t, "prophet.csv", "ds,yhat,yhat_lower,yhat_upper,trend\n"+
		"2024-02-01T00:00:00Z,11,9,13,10.5\n"+
		"2024/01/01,10,8,12,10\n")

	fc, err := newTestLoader().SaturatingFuture(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())
	assert.Equal(t, series.ModelSaturating, fc.Model)
	assert.Equal(t, series.ForecastPoint{
		Time: month(2024, 1), Yhat: 10, Lower: 8, Upper: 12, Trend: 10, HasBounds: true,
	}, fc.Points[0])

	bad := writeFile(t, "prophet.csv", "ds,yhat,yhat_lower,yhat_upper\n2024-01-01,1,1,1\n")
	_, err = newTestLoader().SaturatingFuture(context.Background(), bad)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestModelSeries_XLSX(t *testing.T) {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	rows := [][]interface{}{
		{"ds", "Divorce"},
		{"2020-02-01", 20},
		{"2020-01-01", 10},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "model.xlsx")
	require.NoError(t, wb.SaveAs(path))

	mt, err := newTestLoader().ModelSeries(context.Background(), path)
	require.NoError(t, err)

	obs, err := mt.Observed()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, obs.Values())
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2020-05-01", month(2020, 5), true},
		{" 2020-05 ", month(2020, 5), true},
		{"2020/05/01", month(2020, 5), true},
		{"2020-05-01 00:00:00", month(2020, 5), true},
		{"2020-05-01T00:00:00+07:00", time.Date(2020, 4, 30, 17, 0, 0, 0, time.UTC), true},
		{"05/01/2020", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
