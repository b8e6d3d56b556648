package region

import (
	_ "embed"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/textutil"
)

//go:embed subdivisions.yaml
var subdivisionsYAML []byte

// minReverseMatchLen guards the "query inside table name" direction against
// very short geocoder strings matching half the table.
const minReverseMatchLen = 4

type countryTable struct {
	Name         string            `yaml:"name"`
	Subdivisions map[string]string `yaml:"subdivisions"`
}

type tableEntry struct {
	name   string
	folded string
	suffix string
}

// Table maps geocoder subdivision names to ISO 3166-2 suffixes per country.
// It is intentionally partial; lookups outside it degrade to country level.
type Table struct {
	countries map[string][]tableEntry
	names     map[string]string
}

// DefaultTable parses the embedded subdivision table.
func DefaultTable() (*Table, error) {
	return ParseTable(subdivisionsYAML)
}

// ParseTable parses a table in the embedded YAML layout.
func ParseTable(data []byte) (*Table, error) {
	var raw map[string]countryTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(err).
			Component("region").
			Category(errors.CategoryFileParsing).
			Context("operation", "parse_subdivision_table").
			Build()
	}

	t := &Table{
		countries: make(map[string][]tableEntry, len(raw)),
		names:     make(map[string]string, len(raw)),
	}
	for cc, ct := range raw {
		cc = strings.ToUpper(cc)
		if !validCountryCode(cc) {
			return nil, invalidCode("country", cc)
		}
		entries := make([]tableEntry, 0, len(ct.Subdivisions))
		for name, suffix := range ct.Subdivisions {
			if !validSuffix(strings.ToUpper(suffix)) {
				return nil, invalidCode("subdivision", cc+"-"+suffix)
			}
			entries = append(entries, tableEntry{name: name, folded: textutil.Fold(name), suffix: strings.ToUpper(suffix)})
		}
		// Longest names first so "West Virginia" wins over "Virginia" in substring matches.
		sort.Slice(entries, func(i, j int) bool {
			if len(entries[i].folded) != len(entries[j].folded) {
				return len(entries[i].folded) > len(entries[j].folded)
			}
			return entries[i].folded < entries[j].folded
		})
		t.countries[cc] = entries
		t.names[cc] = ct.Name
	}
	return t, nil
}

// Lookup finds the subdivision suffix for name within country cc: exact match,
// then case- and accent-insensitive equality, then substring containment in
// either direction.
func (t *Table) Lookup(cc, name string) (string, bool) {
	entries := t.countries[strings.ToUpper(cc)]
	name = strings.TrimSpace(name)
	if len(entries) == 0 || name == "" {
		return "", false
	}

	for _, e := range entries {
		if e.name == name {
			return e.suffix, true
		}
	}

	folded := textutil.Fold(name)
	for _, e := range entries {
		if e.folded == folded {
			return e.suffix, true
		}
	}
	for _, e := range entries {
		if strings.Contains(folded, e.folded) {
			return e.suffix, true
		}
	}
	if len(folded) >= minReverseMatchLen {
		// Shortest containing name is the closest fit.
		for i := len(entries) - 1; i >= 0; i-- {
			if strings.Contains(entries[i].folded, folded) {
				return entries[i].suffix, true
			}
		}
	}
	return "", false
}

// Countries returns the country codes the table covers, sorted.
func (t *Table) Countries() []string {
	out := make([]string, 0, len(t.countries))
	for cc := range t.countries {
		out = append(out, cc)
	}
	sort.Strings(out)
	return out
}

// CountryName returns the English country name for cc, if covered.
func (t *Table) CountryName(cc string) string {
	return t.names[strings.ToUpper(cc)]
}

// Suffixes returns every distinct suffix known for cc.
func (t *Table) Suffixes(cc string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range t.countries[strings.ToUpper(cc)] {
		if _, ok := seen[e.suffix]; !ok {
			seen[e.suffix] = struct{}{}
			out = append(out, e.suffix)
		}
	}
	sort.Strings(out)
	return out
}

