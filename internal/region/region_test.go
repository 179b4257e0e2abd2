package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	apperrors "divorcecast/internal/errors"
)

const testSchemes = `
schemes:
  - id: two
    name: Two Regions
    regions:
      - name: North
        provinces: [A, B]
      - name: South
        provinces: [C]
  - id: one
    regions:
      - name: All
        provinces: [A, B, C, D]
`

func testRegistry(t *testing.T) *Schemes {
	t.Helper()
	reg, err := ParseSchemes([]byte(testSchemes))
	require.NoError(t, err)
	return reg
}

func sampleRecords() []Record {
	return []Record{
		{Province: "A", Year: 2560, Marriages: 100, Divorces: 30},
		{Province: "B", Year: 2560, Marriages: 300, Divorces: 30},
		{Province: "C", Year: 2560, Marriages: 50, Divorces: 25},
		{Province: "Z", Year: 2560, Marriages: 999, Divorces: 999},
		{Province: "A", Year: 2561, Marriages: 200, Divorces: 20},
		{Province: "C", Year: 2562, Marriages: 0, Divorces: 0},
	}
}

func TestDefaultSchemes(t *testing.T) {
	reg, err := DefaultSchemes()
	require.NoError(t, err)

	assert.Equal(t, []string{"highways-4", "official-6"}, reg.Names())

	four, err := reg.Get("highways-4")
	require.NoError(t, err)
	assert.Len(t, four.Regions(), 4)

	six, err := reg.Get("การแบ่งอย่างเป็นทางการ (6 ภูมิภาค)")
	require.NoError(t, err)
	assert.Len(t, six.Regions(), 6)

	region, ok := six.RegionOf("  จังหวัดชลบุรี ")
	assert.True(t, ok)
	assert.Equal(t, "ภาคตะวันออก", region)

	_, ok = four.RegionOf("จังหวัดชลบุรี")
	assert.False(t, ok, "Chonburi is not part of the four-region table")

	assert.Same(t, four, reg.Default())
}

func TestParseSchemes_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "schemes: ["},
		{"empty", "schemes: []"},
		{"missing id", "schemes:\n  - name: x\n"},
		{"duplicate scheme", "schemes:\n  - id: a\n  - id: a\n"},
		{"duplicate region", "schemes:\n  - id: a\n    regions:\n      - name: r\n      - name: r\n"},
		{"province in two regions", "schemes:\n  - id: a\n    regions:\n      - name: r\n        provinces: [p]\n      - name: s\n        provinces: [p]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchemes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSchemes_GetUnknown(t *testing.T) {
	_, err := testRegistry(t).Get("nope")
	assert.ErrorIs(t, err, apperrors.ErrMissing)
}

func TestNormalizeProvince(t *testing.T) {
	decomposed := norm.NFD.String("Café")
	assert.NotEqual(t, "Café", decomposed)
	assert.Equal(t, "Café", NormalizeProvince(" "+decomposed+"\t"))
}

func TestAggregate(t *testing.T) {
	reg := testRegistry(t)
	two, _ := reg.Get("two")

	tests := []struct {
		name     string
		filter   Filter
		want     []RegionTotal
		unmapped int
	}{
		{
			name:   "single year",
			filter: Filter{YearFrom: 2560, YearTo: 2560},
			want: []RegionTotal{
				{Region: "South", Marriages: 50, Divorces: 25, DivorceRate: 50},
				{Region: "North", Marriages: 400, Divorces: 60, DivorceRate: 15},
			},
			unmapped: 1,
		},
		{
			name:   "all years",
			filter: Filter{},
			want: []RegionTotal{
				{Region: "South", Marriages: 50, Divorces: 25, DivorceRate: 50},
				{Region: "North", Marriages: 600, Divorces: 80, DivorceRate: 80.0 / 600 * 100},
			},
			unmapped: 1,
		},
		{
			name:   "region filter",
			filter: Filter{YearFrom: 2560, YearTo: 2562, Region: "South"},
			want: []RegionTotal{
				{Region: "South", Marriages: 50, Divorces: 25, DivorceRate: 50},
			},
		},
		{
			name:   "province overrides region",
			filter: Filter{Region: "South", Province: "A"},
			want: []RegionTotal{
				{Region: "North", Marriages: 300, Divorces: 50, DivorceRate: 50.0 / 300 * 100},
			},
		},
		{
			name:   "zero marriages",
			filter: Filter{YearFrom: 2562, YearTo: 2562},
			want: []RegionTotal{
				{Region: "South", Marriages: 0, Divorces: 0, DivorceRate: 0},
			},
		},
		{
			name:   "no rows in range",
			filter: Filter{YearFrom: 2570, YearTo: 2575},
			want:   []RegionTotal{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Aggregate(sampleRecords(), two, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, "two", got.Scheme)
			require.Len(t, got.Regions, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Region, got.Regions[i].Region)
				assert.Equal(t, tt.want[i].Marriages, got.Regions[i].Marriages)
				assert.Equal(t, tt.want[i].Divorces, got.Regions[i].Divorces)
				assert.InDelta(t, tt.want[i].DivorceRate, got.Regions[i].DivorceRate, 1e-9)
			}
			assert.Equal(t, tt.unmapped, got.Unmapped)
		})
	}
}

func TestAggregate_CombinedRateNotAveraged(t *testing.T) {
	reg := testRegistry(t)
	two, _ := reg.Get("two")

	records := []Record{
		{Province: "A", Year: 2563, Marriages: 100, Divorces: 50},
		{Province: "B", Year: 2563, Marriages: 900, Divorces: 90},
	}

	got, err := Aggregate(records, two, Filter{YearFrom: 2563, YearTo: 2563})
	require.NoError(t, err)
	require.Len(t, got.Regions, 1)

	// (50+90)/(100+900), not mean(50%, 10%).
	assert.InDelta(t, 14.0, got.Regions[0].DivorceRate, 1e-9)
}

func TestAggregate_MarriageSumConservation(t *testing.T) {
	reg := testRegistry(t)
	records := sampleRecords()

	filters := []Filter{
		{},
		{YearFrom: 2560, YearTo: 2560},
		{YearFrom: 2561, YearTo: 2562},
		{Region: "North"},
		{Province: "C"},
		{Province: "Z"},
	}

	for _, scheme := range reg.List() {
		for _, f := range filters {
			if f.Region != "" && !scheme.HasRegion(f.Region) {
				continue
			}
			summary, err := Aggregate(records, scheme, f)
			require.NoError(t, err)

			rows, err := Select(records, scheme, f)
			require.NoError(t, err)
			want := 0
			for _, r := range rows {
				if _, ok := scheme.RegionOf(r.Province); ok {
					want += r.Marriages
				}
			}
			assert.Equal(t, want, summary.TotalMarriages(), "scheme %s filter %+v", scheme.ID, f)

			for _, r := range summary.Regions {
				assert.GreaterOrEqual(t, r.DivorceRate, 0.0)
				if r.Marriages == 0 {
					assert.Equal(t, 0.0, r.DivorceRate)
				}
			}
		}
	}
}

func TestAggregate_InvalidFilter(t *testing.T) {
	two, _ := testRegistry(t).Get("two")

	_, err := Aggregate(sampleRecords(), two, Filter{YearFrom: 2565, YearTo: 2560})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, err = Aggregate(sampleRecords(), two, Filter{Region: "East"})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestAggregate_TiesOrderedByName(t *testing.T) {
	two, _ := testRegistry(t).Get("two")
	records := []Record{
		{Province: "C", Marriages: 10, Divorces: 1},
		{Province: "A", Marriages: 10, Divorces: 1},
	}

	got, err := Aggregate(records, two, Filter{})
	require.NoError(t, err)
	require.Len(t, got.Regions, 2)
	assert.Equal(t, "North", got.Regions[0].Region)
	assert.Equal(t, "South", got.Regions[1].Region)
}

func TestDivorceRate(t *testing.T) {
	assert.Equal(t, 0.0, DivorceRate(0, 10))
	assert.Equal(t, 25.0, DivorceRate(200, 50))
}

func TestInsights(t *testing.T) {
	two, _ := testRegistry(t).Get("two")
	rows, err := Select(sampleRecords(), two, Filter{YearFrom: 2560, YearTo: 2561})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	t.Run("kpis include unmapped provinces", func(t *testing.T) {
		k := ComputeKPIs(rows)
		assert.Equal(t, 1649, k.TotalMarriages)
		assert.Equal(t, 1104, k.TotalDivorces)
		assert.InDelta(t, 1104.0/1649*100, k.DivorceRate, 1e-9)
		assert.Equal(t, 2, k.YearsAnalyzed)
	})

	t.Run("yearly trend ascending", func(t *testing.T) {
		trend := YearlyTrend(rows)
		assert.Equal(t, []YearTotal{
			{Year: 2560, Marriages: 1449, Divorces: 1084},
			{Year: 2561, Marriages: 200, Divorces: 20},
		}, trend)
	})

	t.Run("top provinces", func(t *testing.T) {
		top := TopProvinces(rows, 2, ByDivorces)
		require.Len(t, top, 2)
		assert.Equal(t, "Z", top[0].Province)
		assert.Equal(t, "A", top[1].Province)
		assert.Equal(t, 50, top[1].Divorces)

		top = TopProvinces(rows, 10, ByMarriages)
		assert.Len(t, top, 4)
		assert.Equal(t, []string{"Z", "A", "B", "C"}, []string{top[0].Province, top[1].Province, top[2].Province, top[3].Province})
	})

	t.Run("marriage share of mapped regions", func(t *testing.T) {
		share := MarriageShare(rows)
		require.Len(t, share, 2)
		assert.Equal(t, "North", share[0].Region)
		assert.InDelta(t, 600.0/650*100, share[0].Percent, 1e-9)
		assert.InDelta(t, 100.0, share[0].Percent+share[1].Percent, 1e-9)
	})

	t.Run("share with no marriages", func(t *testing.T) {
		share := MarriageShare([]Record{{Province: "A", Region: "North"}})
		require.Len(t, share, 1)
		assert.Equal(t, 0.0, share[0].Percent)
	})
}

func TestParseRankBy(t *testing.T) {
	by, err := ParseRankBy("")
	require.NoError(t, err)
	assert.Equal(t, ByDivorces, by)

	by, err = ParseRankBy("marriages")
	require.NoError(t, err)
	assert.Equal(t, ByMarriages, by)

	_, err = ParseRankBy("rate")
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestYearBounds(t *testing.T) {
	from, to, ok := YearBounds(sampleRecords())
	assert.True(t, ok)
	assert.Equal(t, 2560, from)
	assert.Equal(t, 2562, to)

	from, to, ok = YearBounds([]Record{{Province: "A"}})
	assert.False(t, ok)
	assert.Equal(t, DefaultYearFrom, from)
	assert.Equal(t, DefaultYearTo, to)
}
