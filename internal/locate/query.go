package locate

import (
	"fmt"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/region"
)

const (
	// MinSpeciesThreshold is the smallest point result accepted. A 30-day
	// window around a point is often too sparse to filter with.
	MinSpeciesThreshold = 50

	DefaultRadiusKm = 25
	MinRadiusKm     = 1
	MaxRadiusKm     = 50
)

// Query is a point-radius location query.
type Query struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm int     `json:"radiusKm"`
}

// Validate reports malformed queries as validation errors.
func (q Query) Validate() error {
	switch {
	case q.Lat < -90 || q.Lat > 90:
		return invalidQuery(fmt.Sprintf("latitude %f outside [-90, 90]", q.Lat))
	case q.Lon < -180 || q.Lon > 180:
		return invalidQuery(fmt.Sprintf("longitude %f outside [-180, 180]", q.Lon))
	case q.RadiusKm < MinRadiusKm || q.RadiusKm > MaxRadiusKm:
		return invalidQuery(fmt.Sprintf("radius %d km outside [%d, %d]", q.RadiusKm, MinRadiusKm, MaxRadiusKm))
	}
	return nil
}

func invalidQuery(msg string) error {
	return errors.Newf("invalid location query: %s", msg).
		Component("locate").
		Category(errors.CategoryValidation).
		Build()
}

// Resolution is the species list chosen for a location and where it came from.
type Resolution struct {
	Entry   checklist.Entry
	Region  region.ID // zero when no region was resolved
	Country string
	Query   *Query // nil for region-only resolutions
	// FromCache is set when the point cache answered without any tier running
	FromCache bool
	TraceID   string
}

// Species returns the resolved species set.
func (r *Resolution) Species() checklist.Set {
	if r == nil {
		return nil
	}
	return r.Entry.SpeciesCodes
}

// Source returns the provenance of the species set.
func (r *Resolution) Source() checklist.DataSource {
	if r == nil {
		return ""
	}
	return r.Entry.DataSource
}
