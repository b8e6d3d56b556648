// Package checklist defines the species-occurrence data shared by the cache,
// the offline store, the location pipeline and the reconciler.
package checklist

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/tphakala/birdid/internal/errors"
)

// SpeciesCode is an eBird species code such as "norcar" or "eurrob1".
type SpeciesCode string

// DataSource records which tier produced a species list.
type DataSource string

const (
	SourceGPSPoint          DataSource = "GPS_POINT"
	SourceSubdivisionAnnual DataSource = "SUBDIVISION_ANNUAL"
	SourceCountryOffline    DataSource = "COUNTRY_OFFLINE"
	SourceCountryAPI        DataSource = "COUNTRY_API"
)

// Valid reports whether s is a known data source.
func (s DataSource) Valid() bool {
	switch s {
	case SourceGPSPoint, SourceSubdivisionAnnual, SourceCountryOffline, SourceCountryAPI:
		return true
	}
	return false
}

// Label is the human-readable provenance shown next to filtered results.
func (s DataSource) Label() string {
	switch s {
	case SourceGPSPoint:
		return "Recent nearby observations"
	case SourceSubdivisionAnnual:
		return "Regional checklist"
	case SourceCountryOffline:
		return "Country checklist (offline)"
	case SourceCountryAPI:
		return "Country checklist"
	}
	return string(s)
}

// Set is an unordered set of species codes.
type Set map[SpeciesCode]struct{}

// NewSet builds a set from codes, dropping empty codes and duplicates.
func NewSet(codes ...SpeciesCode) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		if c != "" {
			s[c] = struct{}{}
		}
	}
	return s
}

// Contains reports whether code is in the set.
func (s Set) Contains(code SpeciesCode) bool {
	_, ok := s[code]
	return ok
}

// Len returns the number of codes.
func (s Set) Len() int { return len(s) }

// Sorted returns the codes in lexical order.
func (s Set) Sorted() []SpeciesCode {
	out := make([]SpeciesCode, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether both sets hold the same codes.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array for stable files.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of codes.
func (s *Set) UnmarshalJSON(data []byte) error {
	var codes []SpeciesCode
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewSet(codes...)
	return nil
}

// Entry is one cached species list. Entries are values; a refresh creates a new one.
type Entry struct {
	SpeciesCodes     Set        `json:"speciesCodes"`
	SpeciesCount     int        `json:"speciesCount"`
	CachedAt         time.Time  `json:"cachedAt"`
	DataSource       DataSource `json:"dataSource"`
	ObservationCount int        `json:"observationCount,omitempty"`
	Region           string     `json:"region,omitempty"`
	Country          string     `json:"country,omitempty"`
}

// NewEntry builds an entry whose SpeciesCount matches its set.
func NewEntry(codes Set, source DataSource, cachedAt time.Time) Entry {
	if codes == nil {
		codes = Set{}
	}
	return Entry{
		SpeciesCodes: codes,
		SpeciesCount: codes.Len(),
		CachedAt:     cachedAt.UTC(),
		DataSource:   source,
	}
}

// WithRegion returns a copy of e tagged with the region and country it describes.
func (e Entry) WithRegion(region, country string) Entry {
	e.Region = region
	e.Country = country
	return e
}

// WithObservations returns a copy of e carrying the observation count behind it.
func (e Entry) WithObservations(n int) Entry {
	e.ObservationCount = n
	return e
}

// Validate checks the invariants every decoded entry must hold.
func (e Entry) Validate() error {
	if e.SpeciesCount != e.SpeciesCodes.Len() {
		return errors.Newf("species count %d does not match %d codes", e.SpeciesCount, e.SpeciesCodes.Len()).
			Component("checklist").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if !e.DataSource.Valid() {
		return errors.Newf("unknown data source %q", e.DataSource).
			Component("checklist").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if e.CachedAt.IsZero() {
		return errors.Newf("entry has no cache timestamp").
			Component("checklist").
			Category(errors.CategoryFileParsing).
			Build()
	}
	return nil
}

// DecodeEntry parses and validates a JSON-encoded entry.
func DecodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, errors.New(err).
			Component("checklist").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Fresh reports whether e is still within window of now.
func (e Entry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.CachedAt) <= window
}
