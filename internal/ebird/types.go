// Package ebird provides a client for the subset of the eBird API v2 used to
// build regional species checklists.
package ebird

import (
	"time"

	"github.com/tphakala/birdid/internal/checklist"
)

// Config holds configuration for the eBird client
type Config struct {
	APIKey       string        `json:"api_key"`
	BaseURL      string        `json:"base_url"`
	Timeout      time.Duration `json:"timeout"`
	RateLimitMS  int           `json:"rate_limit_ms"` // Milliseconds between requests
	MaxRetries   int           `json:"max_retries"`
	ReferenceTTL time.Duration `json:"reference_ttl"` // Memo lifetime for region lists and taxonomy
	Locale       string        `json:"locale"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.ebird.org/v2",
		Timeout:      30 * time.Second,
		RateLimitMS:  100, // 10 requests per second max
		MaxRetries:   3,
		ReferenceTTL: 24 * time.Hour, // Region lists rarely change
		Locale:       "en",
	}
}

// Error represents an eBird API error response
type Error struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return e.Detail
}

// errorEnvelope is the JSON:API style error body newer endpoints return.
type errorEnvelope struct {
	Errors []Error `json:"errors"`
}

// Observation is one record from the recent observations endpoints.
type Observation struct {
	SpeciesCode     checklist.SpeciesCode `json:"speciesCode"`
	CommonName      string                `json:"comName"`
	ScientificName  string                `json:"sciName"`
	LocationID      string                `json:"locId"`
	LocationName    string                `json:"locName"`
	ObservedAt      string                `json:"obsDt"` // "2006-01-02 15:04", local time of the observation
	HowMany         int                   `json:"howMany"`
	Lat             float64               `json:"lat"`
	Lng             float64               `json:"lng"`
	Valid           bool                  `json:"obsValid"`
	Reviewed        bool                  `json:"obsReviewed"`
	LocationPrivate bool                  `json:"locationPrivate"`
}

// NearbyResult summarises recent observations around a point.
type NearbyResult struct {
	Species          checklist.Set
	ObservationCount int
}

// RegionInfo is an entry from the region reference lists.
type RegionInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TaxonomyEntry represents a single entry from the eBird taxonomy
type TaxonomyEntry struct {
	ScientificName string                `json:"sciName"`
	CommonName     string                `json:"comName"`
	SpeciesCode    checklist.SpeciesCode `json:"speciesCode"`
	Category       string                `json:"category"`   // species, spuh, slash, hybrid, etc.
	TaxonOrder     float64               `json:"taxonOrder"` // For sorting in taxonomic order
	BandingCodes   []string              `json:"bandingCodes"`
	Order          string                `json:"order"`
	FamilyCode     string                `json:"familyCode"`
	FamilyComName  string                `json:"familyComName"`
	FamilySciName  string                `json:"familySciName"`
	ReportAs       string                `json:"reportAs,omitempty"` // Species to report as (for subspecies)
	Extinct        bool                  `json:"extinct,omitempty"`
}
