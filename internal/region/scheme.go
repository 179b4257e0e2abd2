package region

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v2"

	apperrors "divorcecast/internal/errors"
)

//go:embed regions.yaml
var defaultSchemesYAML []byte

type schemesFile struct {
	Schemes []schemeDef `yaml:"schemes"`
}

type schemeDef struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Regions []regionDef `yaml:"regions"`
}

type regionDef struct {
	Name      string   `yaml:"name"`
	Provinces []string `yaml:"provinces"`
}

// NormalizeProvince trims and NFC-normalizes a province name so that
// names from data files and from the scheme table compare equal.
func NormalizeProvince(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Scheme is one province to region lookup table.
type Scheme struct {
	ID   string
	Name string

	regions    []string
	members    map[string][]string
	byProvince map[string]string
}

// RegionOf returns the region a province belongs to.
func (s *Scheme) RegionOf(province string) (string, bool) {
	r, ok := s.byProvince[NormalizeProvince(province)]
	return r, ok
}

// Provinces returns the member provinces of a region in table order.
func (s *Scheme) Provinces(region string) ([]string, bool) {
	p, ok := s.members[region]
	if !ok {
		return nil, false
	}
	return append([]string(nil), p...), true
}

// Regions returns the region names in table order.
func (s *Scheme) Regions() []string {
	return append([]string(nil), s.regions...)
}

// HasRegion reports whether region is part of the scheme.
func (s *Scheme) HasRegion(region string) bool {
	_, ok := s.members[region]
	return ok
}

// SchemeInfo is the JSON shape of a scheme.
type SchemeInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Regions []RegionInfo `json:"regions"`
}

// RegionInfo lists a region and its provinces.
type RegionInfo struct {
	Name      string   `json:"name"`
	Provinces []string `json:"provinces"`
}

// Info returns a copy of the scheme for serialization.
func (s *Scheme) Info() SchemeInfo {
	info := SchemeInfo{ID: s.ID, Name: s.Name, Regions: make([]RegionInfo, 0, len(s.regions))}
	for _, r := range s.regions {
		p, _ := s.Provinces(r)
		info.Regions = append(info.Regions, RegionInfo{Name: r, Provinces: p})
	}
	return info
}

// Schemes is the immutable registry of region schemes.
type Schemes struct {
	order []*Scheme
	byKey map[string]*Scheme
}

// DefaultSchemes parses the embedded scheme table.
func DefaultSchemes() (*Schemes, error) {
	return ParseSchemes(defaultSchemesYAML)
}

// LoadSchemes reads a scheme table from path, or the embedded table when
// path is empty.
func LoadSchemes(path string) (*Schemes, error) {
	if path == "" {
		return DefaultSchemes()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("cannot read region schemes %s", path), err)
	}
	return ParseSchemes(data)
}

// ParseSchemes builds a registry from YAML. A province listed in two
// regions of the same scheme is rejected.
func ParseSchemes(data []byte) (*Schemes, error) {
	var file schemesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewConfigError("invalid region scheme table", err)
	}
	if len(file.Schemes) == 0 {
		return nil, apperrors.NewConfigError("region scheme table is empty", nil)
	}

	reg := &Schemes{byKey: make(map[string]*Scheme)}
	for _, def := range file.Schemes {
		if def.ID == "" {
			return nil, apperrors.NewConfigError("region scheme without id", nil)
		}
		if _, dup := reg.byKey[def.ID]; dup {
			return nil, apperrors.NewConfigError(fmt.Sprintf("duplicate region scheme %q", def.ID), nil)
		}
		if def.Name == "" {
			def.Name = def.ID
		}

		s := &Scheme{
			ID:         def.ID,
			Name:       def.Name,
			members:    make(map[string][]string),
			byProvince: make(map[string]string),
		}
		for _, r := range def.Regions {
			if _, dup := s.members[r.Name]; dup {
				return nil, apperrors.NewConfigError(fmt.Sprintf("scheme %s: duplicate region %q", def.ID, r.Name), nil)
			}
			s.regions = append(s.regions, r.Name)
			provinces := make([]string, 0, len(r.Provinces))
			for _, p := range r.Provinces {
				p = NormalizeProvince(p)
				if prev, dup := s.byProvince[p]; dup {
					return nil, apperrors.NewConfigError(
						fmt.Sprintf("scheme %s: province %q listed in both %q and %q", def.ID, p, prev, r.Name), nil)
				}
				s.byProvince[p] = r.Name
				provinces = append(provinces, p)
			}
			s.members[r.Name] = provinces
		}

		reg.order = append(reg.order, s)
		reg.byKey[s.ID] = s
		if s.Name != s.ID {
			reg.byKey[s.Name] = s
		}
	}
	return reg, nil
}

// Get looks a scheme up by id or display name.
func (r *Schemes) Get(key string) (*Scheme, error) {
	s, ok := r.byKey[key]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("region scheme %q", key))
	}
	return s, nil
}

// Default returns the first scheme in the table.
func (r *Schemes) Default() *Scheme {
	return r.order[0]
}

// Names returns the scheme ids in table order.
func (r *Schemes) Names() []string {
	out := make([]string, len(r.order))
	for i, s := range r.order {
		out[i] = s.ID
	}
	return out
}

// List returns every scheme in table order.
func (r *Schemes) List() []*Scheme {
	return append([]*Scheme(nil), r.order...)
}
