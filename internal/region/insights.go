package region

import (
	"fmt"
	"sort"

	apperrors "divorcecast/internal/errors"
)

// Default Buddhist-era year range used when the table carries no years.
const (
	DefaultYearFrom = 2560
	DefaultYearTo   = 2565
)

// KPIs are the headline figures of a filtered selection.
type KPIs struct {
	TotalMarriages int     `json:"total_marriages"`
	TotalDivorces  int     `json:"total_divorces"`
	DivorceRate    float64 `json:"divorce_rate"`
	YearsAnalyzed  int     `json:"years_analyzed"`
}

// YearTotal is the sum of one year.
type YearTotal struct {
	Year      int `json:"year"`
	Marriages int `json:"marriages"`
	Divorces  int `json:"divorces"`
}

// ProvinceTotal is the sum of one province.
type ProvinceTotal struct {
	Province  string `json:"province"`
	Region    string `json:"region,omitempty"`
	Marriages int    `json:"marriages"`
	Divorces  int    `json:"divorces"`
}

// Share is a region's portion of all mapped marriages.
type Share struct {
	Region    string  `json:"region"`
	Marriages int     `json:"marriages"`
	Percent   float64 `json:"percent"`
}

// RankBy selects the quantity TopProvinces ranks on.
type RankBy string

const (
	ByDivorces  RankBy = "divorces"
	ByMarriages RankBy = "marriages"
)

// ParseRankBy validates a ranking key.
func ParseRankBy(s string) (RankBy, error) {
	switch RankBy(s) {
	case ByDivorces, ByMarriages:
		return RankBy(s), nil
	case "":
		return ByDivorces, nil
	}
	return "", apperrors.NewAppValidationError(fmt.Sprintf("cannot rank by %q", s))
}

// ComputeKPIs summarizes rows, including provinces outside the scheme.
// YearsAnalyzed counts distinct known years.
func ComputeKPIs(rows []Record) KPIs {
	var k KPIs
	years := make(map[int]struct{})
	for _, r := range rows {
		k.TotalMarriages += r.Marriages
		k.TotalDivorces += r.Divorces
		if r.Year != 0 {
			years[r.Year] = struct{}{}
		}
	}
	k.DivorceRate = DivorceRate(k.TotalMarriages, k.TotalDivorces)
	k.YearsAnalyzed = len(years)
	return k
}

// YearlyTrend sums rows per year in ascending year order.
func YearlyTrend(rows []Record) []YearTotal {
	byYear := make(map[int]*YearTotal)
	for _, r := range rows {
		t, ok := byYear[r.Year]
		if !ok {
			t = &YearTotal{Year: r.Year}
			byYear[r.Year] = t
		}
		t.Marriages += r.Marriages
		t.Divorces += r.Divorces
	}

	out := make([]YearTotal, 0, len(byYear))
	for _, t := range byYear {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// TopProvinces returns the n provinces with the most divorces or
// marriages. Ties are ordered by province name.
func TopProvinces(rows []Record, n int, by RankBy) []ProvinceTotal {
	byProvince := make(map[string]*ProvinceTotal)
	for _, r := range rows {
		t, ok := byProvince[r.Province]
		if !ok {
			t = &ProvinceTotal{Province: r.Province, Region: r.Region}
			byProvince[r.Province] = t
		}
		t.Marriages += r.Marriages
		t.Divorces += r.Divorces
	}

	out := make([]ProvinceTotal, 0, len(byProvince))
	for _, t := range byProvince {
		out = append(out, *t)
	}

	value := func(p ProvinceTotal) int {
		if by == ByMarriages {
			return p.Marriages
		}
		return p.Divorces
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := value(out[i]), value(out[j])
		if vi != vj {
			return vi > vj
		}
		return out[i].Province < out[j].Province
	})

	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// MarriageShare returns each mapped region's percentage of mapped
// marriages, largest first. Percentages are 0 when there are no marriages.
func MarriageShare(rows []Record) []Share {
	byRegion := make(map[string]int)
	total := 0
	for _, r := range rows {
		if r.Region == "" {
			continue
		}
		byRegion[r.Region] += r.Marriages
		total += r.Marriages
	}

	out := make([]Share, 0, len(byRegion))
	for region, m := range byRegion {
		s := Share{Region: region, Marriages: m}
		if total > 0 {
			s.Percent = float64(m) / float64(total) * 100
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// YearBounds returns the smallest and largest known year. Without any
// year data it returns the default range and ok=false.
func YearBounds(records []Record) (from, to int, ok bool) {
	for _, r := range records {
		if r.Year == 0 {
			continue
		}
		if !ok {
			from, to, ok = r.Year, r.Year, true
			continue
		}
		if r.Year < from {
			from = r.Year
		}
		if r.Year > to {
			to = r.Year
		}
	}
	if !ok {
		return DefaultYearFrom, DefaultYearTo, false
	}
	return from, to, true
}
