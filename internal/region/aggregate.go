package region

import (
	"fmt"
	"sort"

	apperrors "divorcecast/internal/errors"
)

// Record is one row of the regional table.
type Record struct {
	Province  string `json:"province"`
	Region    string `json:"region,omitempty"`
	Year      int    `json:"year"`
	Marriages int    `json:"marriages"`
	Divorces  int    `json:"divorces"`
}

// Filter narrows the rows an aggregation sees. A zero year range disables
// year filtering. Province takes precedence over Region.
type Filter struct {
	YearFrom int    `json:"year_from"`
	YearTo   int    `json:"year_to"`
	Region   string `json:"region,omitempty"`
	Province string `json:"province,omitempty"`
}

// HasYearRange reports whether the filter restricts years.
func (f Filter) HasYearRange() bool {
	return f.YearFrom != 0 || f.YearTo != 0
}

// RegionTotal is the aggregate of one region.
type RegionTotal struct {
	Region      string  `json:"region"`
	Marriages   int     `json:"marriages"`
	Divorces    int     `json:"divorces"`
	DivorceRate float64 `json:"divorce_rate"`
}

// Summary is the per-region result of Aggregate, ordered by divorce rate
// descending.
type Summary struct {
	Scheme   string        `json:"scheme"`
	Filter   Filter        `json:"filter"`
	Regions  []RegionTotal `json:"regions"`
	Unmapped int           `json:"unmapped_rows"`
}

// TotalMarriages sums marriages over all regions.
func (s Summary) TotalMarriages() int {
	total := 0
	for _, r := range s.Regions {
		total += r.Marriages
	}
	return total
}

// DivorceRate returns divorces per hundred marriages, or 0 when there are
// no marriages.
func DivorceRate(marriages, divorces int) float64 {
	if marriages <= 0 {
		return 0
	}
	return float64(divorces) / float64(marriages) * 100
}

// Select applies f to records and returns the surviving rows with Region
// set from scheme. Unmapped rows are kept with an empty Region.
func Select(records []Record, scheme *Scheme, f Filter) ([]Record, error) {
	if f.HasYearRange() && f.YearFrom > f.YearTo {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("year range is inverted: %d > %d", f.YearFrom, f.YearTo))
	}
	if f.Region != "" && !scheme.HasRegion(f.Region) {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("region %q is not part of scheme %s", f.Region, scheme.ID))
	}

	province := NormalizeProvince(f.Province)

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if f.HasYearRange() && (rec.Year < f.YearFrom || rec.Year > f.YearTo) {
			continue
		}

		name := NormalizeProvince(rec.Province)
		region, _ := scheme.RegionOf(name)

		switch {
		case province != "":
			if name != province {
				continue
			}
		case f.Region != "":
			if region != f.Region {
				continue
			}
		}

		rec.Province = name
		rec.Region = region
		out = append(out, rec)
	}
	return out, nil
}

// Aggregate groups the filtered rows by region, sums marriages and
// divorces and ranks regions by divorce rate. Ties are ordered by region
// name.
func Aggregate(records []Record, scheme *Scheme, f Filter) (Summary, error) {
	rows, err := Select(records, scheme, f)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Scheme: scheme.ID, Filter: f, Regions: []RegionTotal{}}
	totals := make(map[string]*RegionTotal)
	for _, rec := range rows {
		if rec.Region == "" {
			summary.Unmapped++
			continue
		}
		t, ok := totals[rec.Region]
		if !ok {
			t = &RegionTotal{Region: rec.Region}
			totals[rec.Region] = t
		}
		t.Marriages += rec.Marriages
		t.Divorces += rec.Divorces
	}

	for _, t := range totals {
		t.DivorceRate = DivorceRate(t.Marriages, t.Divorces)
		summary.Regions = append(summary.Regions, *t)
	}

	sort.Slice(summary.Regions, func(i, j int) bool {
		a, b := summary.Regions[i], summary.Regions[j]
		if a.DivorceRate != b.DivorceRate {
			return a.DivorceRate > b.DivorceRate
		}
		return a.Region < b.Region
	})

	return summary, nil
}
