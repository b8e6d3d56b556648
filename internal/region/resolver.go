package region

import (
	"context"
	"time"

	"github.com/golang/geo/s2"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/birdid/internal/logger"
)

const (
	// memoCellLevel groups coordinates into S2 cells of roughly 1 km².
	memoCellLevel = 13

	DefaultMemoTTL = 24 * time.Hour
)

type resolved struct {
	id      ID
	country string
}

// Resolver maps coordinates to region identifiers. Failures are soft: any
// geocoding problem yields "not found", never an error.
type Resolver struct {
	geocoder Geocoder
	table    *Table
	memo     *cache.Cache
	log      logger.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMemoTTL sets how long per-cell results are remembered. Zero disables memoisation.
func WithMemoTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl <= 0 {
			r.memo = nil
			return
		}
		r.memo = cache.New(ttl, 2*ttl)
	}
}

// NewResolver creates a resolver backed by geocoder and table.
func NewResolver(geocoder Geocoder, table *Table, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		geocoder: geocoder,
		table:    table,
		memo:     cache.New(DefaultMemoTTL, 2*DefaultMemoTTL),
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the most specific region known for lat/lon and its country
// code. The subdivision prefix always equals the returned country.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) (id ID, country string, ok bool) {
	if r == nil || r.geocoder == nil {
		return ID{}, "", false
	}

	key := cellKey(lat, lon)
	if r.memo != nil {
		if v, found := r.memo.Get(key); found {
			if res, valid := v.(resolved); valid {
				return res.id, res.country, true
			}
		}
	}

	log := r.log.WithContext(ctx)
	addr, err := r.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		log.Debug("reverse geocoding unavailable", logger.Error(err))
		return ID{}, "", false
	}

	countryID, err := NewCountry(addr.CountryCode)
	if err != nil {
		log.Debug("geocoder returned no usable country",
			logger.String("country_code", addr.CountryCode))
		return ID{}, "", false
	}
	res := resolved{id: countryID, country: countryID.CountryCode()}

	if addr.Subdivision != "" && r.table != nil {
		if suffix, found := r.table.Lookup(res.country, addr.Subdivision); found {
			if sub, err := NewSubdivision(res.country, suffix); err == nil {
				res.id = sub
			}
		} else {
			log.Debug("subdivision not in table, using country",
				logger.String("country_code", res.country),
				logger.String("subdivision", addr.Subdivision))
		}
	}

	if r.memo != nil {
		r.memo.Set(key, res, cache.DefaultExpiration)
	}
	return res.id, res.country, true
}

func cellKey(lat, lon float64) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(memoCellLevel).ToToken()
}
