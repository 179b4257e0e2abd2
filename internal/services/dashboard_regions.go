package services

import (
	"context"
	"log/slog"

	"divorcecast/internal/exporter"
	"divorcecast/internal/infrastructure"
	"divorcecast/internal/memo"
	"divorcecast/internal/region"
)

// RegionQuery is the filter shared by every regional panel. Zero years
// select the full range present in the data.
type RegionQuery struct {
	Scheme   string `json:"scheme"`
	Region   string `json:"region,omitempty"`
	Province string `json:"province,omitempty"`
	YearFrom int    `json:"year_from"`
	YearTo   int    `json:"year_to"`
}

// Schemes lists the configured region schemes in order.
func (s *DashboardService) Schemes() []region.SchemeInfo {
	list := s.schemes.List()
	out := make([]region.SchemeInfo, 0, len(list))
	for _, sc := range list {
		out = append(out, sc.Info())
	}
	return out
}

func (s *DashboardService) scheme(key string) (*region.Scheme, error) {
	if key == "" {
		key = s.cfg.Regions.DefaultScheme
	}
	if key == "" {
		return s.schemes.Default(), nil
	}
	return s.schemes.Get(key)
}

// resolve loads the regional table and turns q into a filter. When the
// table carries no years the year filter is dropped.
func (s *DashboardService) resolve(ctx context.Context, q RegionQuery) ([]region.Record, *region.Scheme, region.Filter, error) {
	sc, err := s.scheme(q.Scheme)
	if err != nil {
		return nil, nil, region.Filter{}, err
	}
	records, err := s.RegionalRecords(ctx)
	if err != nil {
		return nil, nil, region.Filter{}, err
	}

	f := region.Filter{Region: q.Region, Province: q.Province}
	if from, to, ok := region.YearBounds(records); ok {
		f.YearFrom, f.YearTo = q.YearFrom, q.YearTo
		if f.YearFrom == 0 {
			f.YearFrom = from
		}
		if f.YearTo == 0 {
			f.YearTo = to
		}
	}

	infrastructure.RecordRegionQuery(ctx, s.metrics, sc.ID)
	return records, sc, f, nil
}

func (s *DashboardService) selectRows(ctx context.Context, q RegionQuery) ([]region.Record, error) {
	records, sc, f, err := s.resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	return region.Select(records, sc, f)
}

// RegionSummary aggregates the filtered rows per region.
func (s *DashboardService) RegionSummary(ctx context.Context, q RegionQuery) (region.Summary, error) {
	records, sc, f, err := s.resolve(ctx, q)
	if err != nil {
		return region.Summary{}, err
	}

	key, err := memo.Key(memo.NamespaceRegion, sc.ID, f, records)
	if err != nil {
		return region.Summary{}, err
	}

	var summary region.Summary
	hit, err := s.cache.Do(ctx, key, &summary, func(context.Context) (any, error) {
		return region.Aggregate(records, sc, f)
	})
	if err != nil {
		return region.Summary{}, err
	}

	s.logger.DebugContext(ctx, "Region summary ready",
		slog.String("scheme", sc.ID),
		slog.Int("regions", len(summary.Regions)),
		slog.Int("unmapped", summary.Unmapped),
		slog.Bool("cached", hit))
	return summary, nil
}

// RegionKPIs returns the headline totals of the filtered rows.
func (s *DashboardService) RegionKPIs(ctx context.Context, q RegionQuery) (region.KPIs, error) {
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return region.KPIs{}, err
	}
	return region.ComputeKPIs(rows), nil
}

// RegionTrend returns per-year sums of the filtered rows.
func (s *DashboardService) RegionTrend(ctx context.Context, q RegionQuery) ([]region.YearTotal, error) {
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	return region.YearlyTrend(rows), nil
}

// RegionShare returns each region's share of mapped marriages.
func (s *DashboardService) RegionShare(ctx context.Context, q RegionQuery) ([]region.Share, error) {
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	return region.MarriageShare(rows), nil
}

// TopProvinces ranks the provinces of the filtered rows.
func (s *DashboardService) TopProvinces(ctx context.Context, q RegionQuery, n int, by region.RankBy) ([]region.ProvinceTotal, error) {
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	return region.TopProvinces(rows, n, by), nil
}

// RegionReport gathers everything the regional workbook shows.
func (s *DashboardService) RegionReport(ctx context.Context, q RegionQuery) (exporter.RegionReport, error) {
	summary, err := s.RegionSummary(ctx, q)
	if err != nil {
		return exporter.RegionReport{}, err
	}
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return exporter.RegionReport{}, err
	}
	return exporter.RegionReport{
		Summary: summary,
		KPIs:    region.ComputeKPIs(rows),
		Trend:   region.YearlyTrend(rows),
		Share:   region.MarriageShare(rows),

		TopByDivorces:  region.TopProvinces(rows, exporter.TopProvinceCount, region.ByDivorces),
		TopByMarriages: region.TopProvinces(rows, exporter.TopProvinceCount, region.ByMarriages),
	}, nil
}
