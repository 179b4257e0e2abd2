// Package region maps provinces to regions and aggregates the regional
// marriage and divorce table.
//
// Region schemes are data, not code: a YAML table (regions.yaml, embedded
// as the default) lists the regions of each scheme and their member
// provinces. The table is parsed once into an immutable Schemes registry.
//
// All aggregation functions are pure. Provinces that do not belong to the
// active scheme are dropped from region-level results without error.
package region
