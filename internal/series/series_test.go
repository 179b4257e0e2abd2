package series

import (
	"errors"
	"math"
	"testing"
	"time"

	apperrors "divorcecast/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestNewObserved(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		wantErr bool
		first   time.Time
	}{
		{
			name: "sorts ascending and truncates to month start",
			points: []Point{
				{Time: time.Date(2020, 3, 15, 12, 0, 0, 0, time.UTC), Value: 3},
				{Time: month(2020, 1), Value: 1},
				{Time: month(2020, 2), Value: 2},
			},
			first: month(2020, 1),
		},
		{
			name:    "duplicate timestamp",
			points:  []Point{{Time: month(2020, 1), Value: 1}, {Time: time.Date(2020, 1, 20, 0, 0, 0, 0, time.UTC), Value: 2}},
			wantErr: true,
		},
		{
			name:    "negative value",
			points:  []Point{{Time: month(2020, 1), Value: -1}},
			wantErr: true,
		},
		{
			name:    "NaN value",
			points:  []Point{{Time: month(2020, 1), Value: math.NaN()}},
			wantErr: true,
		},
		{
			name:   "empty is allowed",
			points: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewObserved("Divorce", tt.points)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrData))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.points), s.Len())
			if !tt.first.IsZero() {
				assert.Equal(t, tt.first, s.Points[0].Time)
				assert.Equal(t, month(2020, 3), s.Points[2].Time)
			}
		})
	}
}

func TestObserved_CheckMonthly(t *testing.T) {
	ok, err := NewObserved("y", []Point{
		{Time: month(2019, 11), Value: 1},
		{Time: month(2019, 12), Value: 1},
		{Time: month(2020, 1), Value: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, ok.CheckMonthly())

	gap, err := NewObserved("y", []Point{
		{Time: month(2020, 1), Value: 1},
		{Time: month(2020, 3), Value: 1},
	})
	require.NoError(t, err)
	err = gap.CheckMonthly()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrData))
	assert.Contains(t, err.Error(), "expected 2020-02")
}

func TestObserved_MaxHeadTail(t *testing.T) {
	s, err := NewObserved("y", []Point{
		{Time: month(2020, 1), Value: 4},
		{Time: month(2020, 2), Value: 9},
		{Time: month(2020, 3), Value: 2},
	})
	require.NoError(t, err)

	max, ok := s.Max()
	assert.True(t, ok)
	assert.Equal(t, 9.0, max)

	_, ok = Observed{}.Max()
	assert.False(t, ok)

	assert.Equal(t, []float64{4, 9}, s.Head(2).Values())
	assert.Equal(t, []float64{2}, s.Tail(2).Values())
	assert.Equal(t, 3, s.Head(10).Len())
	assert.Equal(t, 0, s.Tail(10).Len())
}

func TestMonthArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		from  time.Time
		n     int
		want  time.Time
		delta int
	}{
		{"same year", month(2020, 1), 2, month(2020, 3), 2},
		{"year rollover", month(2020, 11), 3, month(2021, 2), 3},
		{"backwards", month(2020, 1), -1, month(2019, 12), -1},
		{"five years", month(2023, 1), 60, month(2028, 1), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonths(tt.from, tt.n)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.delta, MonthsBetween(tt.from, got))
		})
	}

	assert.Equal(t, month(2021, 7), MonthStart(time.Date(2021, 7, 31, 23, 59, 0, 0, time.UTC)))
}

func TestForecast_Helpers(t *testing.T) {
	f := Forecast{Model: "logistic", Points: []ForecastPoint{
		{Time: month(2020, 1), Yhat: 1, Lower: 0.5, Upper: 1.5, HasBounds: true},
		{Time: month(2020, 2), Yhat: 2, Lower: 1.5, Upper: 2.5, HasBounds: true},
		{Time: month(2020, 3), Yhat: 3, Lower: 2.5, Upper: 3.5, HasBounds: true},
	}}

	assert.Equal(t, 2, f.Head(2).Len())
	assert.Equal(t, 1, f.After(month(2020, 2)).Len())
	assert.Equal(t, month(2020, 2), f.Tail(2).Points[0].Time)
	assert.Equal(t, 3, f.Tail(9).Len())
	assert.Zero(t, f.Tail(0).Len())

	plain := f.WithoutBounds()
	assert.False(t, plain.Points[0].HasBounds)
	assert.Zero(t, plain.Points[0].Upper)
	assert.True(t, f.Points[0].HasBounds, "original must not be mutated")
}
