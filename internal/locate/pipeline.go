// Package locate turns a photo location into one species list by trying, in
// order, the point cache, recent nearby observations, the regional checklist
// and the offline country list.
package locate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/checklist/cache"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/observability/metrics"
	"github.com/tphakala/birdid/internal/region"
)

// Tier labels used in logs and metrics.
const (
	tierGPSPoint = "gps_point"
	tierRegion   = "region"
	tierOffline  = "offline"

	provenanceNone = "NONE"

	// DefaultResolveTimeout bounds one shared resolution: a point call, a
	// geocode and a regional call at their client timeouts.
	DefaultResolveTimeout = 75 * time.Second
)

// Fetcher is the remote checklist service. *ebird.Client satisfies it.
type Fetcher interface {
	RecentNearby(ctx context.Context, lat, lon float64, radiusKm int) (ebird.NearbyResult, error)
	SpeciesList(ctx context.Context, id region.ID) ([]checklist.SpeciesCode, error)
}

// RegionResolver maps coordinates to a region. *region.Resolver satisfies it.
type RegionResolver interface {
	Resolve(ctx context.Context, lat, lon float64) (id region.ID, country string, ok bool)
}

// OfflineStore is the pre-downloaded country dataset. *offline.Store satisfies it.
type OfflineStore interface {
	Lookup(ctx context.Context, id region.ID) (checklist.Entry, error)
}

// Dependencies are the handles a Pipeline works with. Any of Fetcher, Regions
// and Offline may be nil; the tiers that need them are then skipped.
type Dependencies struct {
	Cache   cache.Store
	Fetcher Fetcher
	Regions RegionResolver
	Offline OfflineStore
	Metrics *metrics.LocateMetrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMinSpecies overrides MinSpeciesThreshold.
func WithMinSpecies(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.minSpecies = n
		}
	}
}

// WithResolveTimeout bounds a shared resolution independently of the callers
// waiting on it.
func WithResolveTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.resolveTimeout = d
		}
	}
}

// WithClock overrides the timestamp source for new entries.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline resolves locations to species lists. Build one at startup and
// share it; it is safe for concurrent use.
type Pipeline struct {
	cache      cache.Store
	fetcher    Fetcher
	regions    RegionResolver
	offline    OfflineStore
	metrics    *metrics.LocateMetrics
	minSpecies int
	now        func() time.Time
	group      singleflight.Group
	log        logger.Logger

	resolveTimeout time.Duration
}

// New creates a pipeline. A nil cache gets an in-memory store.
func New(deps Dependencies, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:      deps.Cache,
		fetcher:    deps.Fetcher,
		regions:    deps.Regions,
		offline:    deps.Offline,
		metrics:    deps.Metrics,
		minSpecies: MinSpeciesThreshold,
		now:        time.Now,
		log:        GetLogger(),

		resolveTimeout: DefaultResolveTimeout,
	}
	if p.cache == nil {
		p.cache = cache.NewMemoryStore(cache.Options{})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MinSpecies returns the point-result acceptance threshold.
func (p *Pipeline) MinSpecies() int { return p.minSpecies }

// Resolve returns the species list for q, or nil with a nil error when no tier
// produced one; callers then operate without geographic filtering. Only a
// malformed query is an error. Identical concurrent queries share one
// resolution; it runs detached from every caller, bounded by the resolve
// timeout, and each caller stops waiting at its own deadline.
func (p *Pipeline) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cache.PointKey(q.Lat, q.Lon, q.RadiusKm)
	ch := p.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.resolveTimeout)
		defer cancel()
		return p.resolve(shared, q, key), nil
	})

	select {
	case res := <-ch:
		shared, _ := res.Val.(*Resolution)
		if shared == nil {
			return nil, nil
		}
		out := *shared
		return &out, nil
	case <-ctx.Done():
		// The shared resolution keeps running and fills the cache.
		return nil, nil
	}
}

func (p *Pipeline) resolve(ctx context.Context, q Query, pointKey string) *Resolution {
	start := time.Now()
	traceID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, traceID)
	log := p.log.WithContext(ctx)

	res := p.runTiers(ctx, q, pointKey)
	provenance := provenanceNone
	if res != nil {
		res.TraceID = traceID
		provenance = string(res.Source())
	}
	p.metrics.RecordResolution(provenance, time.Since(start).Seconds())

	if res == nil {
		log.Info("no species list for location, filtering disabled",
			logger.Float64("lat", q.Lat),
			logger.Float64("lon", q.Lon),
			logger.Int("radius_km", q.RadiusKm))
		return nil
	}
	log.Info("species list resolved",
		logger.String("provenance", provenance),
		logger.Int("species_count", res.Entry.SpeciesCount),
		logger.Bool("from_cache", res.FromCache),
		logger.Duration("elapsed", time.Since(start)))
	return res
}

func (p *Pipeline) runTiers(ctx context.Context, q Query, pointKey string) *Resolution {
	log := p.log.WithContext(ctx)

	if entry, ok := p.cache.Get(ctx, pointKey); ok {
		p.metrics.RecordCacheLookup("point", true)
		res := &Resolution{Entry: entry, Country: entry.Country, Query: &q, FromCache: true}
		if id, err := region.Parse(entry.Region); err == nil && entry.Region != "" {
			res.Region = id
		}
		return res
	}
	p.metrics.RecordCacheLookup("point", false)

	var res *Resolution
	if entry, ok := p.pointTier(ctx, q); ok {
		res = &Resolution{Entry: entry, Query: &q}
	} else {
		res = p.broader(ctx, q)
	}
	if res == nil {
		return nil
	}
	res.Query = &q

	if err := p.cache.Put(ctx, pointKey, res.Entry); err != nil {
		log.Warn("failed to cache species list",
			logger.String("cache_key", pointKey),
			logger.Error(err))
	}
	return res
}

// pointTier queries recent observations around q.
func (p *Pipeline) pointTier(ctx context.Context, q Query) (checklist.Entry, bool) {
	if p.fetcher == nil {
		return checklist.Entry{}, false
	}
	log := p.log.WithContext(ctx)

	nearby, err := p.fetcher.RecentNearby(ctx, q.Lat, q.Lon, q.RadiusKm)
	if err != nil {
		p.metrics.RecordTier(tierGPSPoint, metrics.StatusError)
		log.Debug("point tier failed",
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
		return checklist.Entry{}, false
	}
	if nearby.Species.Len() < p.minSpecies {
		p.metrics.RecordTier(tierGPSPoint, metrics.StatusRejected)
		log.Debug("point tier too sparse",
			logger.Int("species_count", nearby.Species.Len()),
			logger.Int("threshold", p.minSpecies))
		return checklist.Entry{}, false
	}

	p.metrics.RecordTier(tierGPSPoint, metrics.StatusSuccess)
	entry := checklist.NewEntry(nearby.Species, checklist.SourceGPSPoint, p.now()).
		WithObservations(nearby.ObservationCount)
	return entry, true
}

// broader resolves the region for q and runs the regional and offline tiers.
func (p *Pipeline) broader(ctx context.Context, q Query) *Resolution {
	id, country, ok := p.resolveRegion(ctx, q)
	if !ok {
		return nil
	}
	return p.fromRegion(ctx, id, country)
}

func (p *Pipeline) resolveRegion(ctx context.Context, q Query) (region.ID, string, bool) {
	if p.regions == nil {
		p.metrics.RecordRegionLookup("not_found")
		return region.ID{}, "", false
	}
	id, country, ok := p.regions.Resolve(ctx, q.Lat, q.Lon)
	switch {
	case !ok || id.IsZero():
		p.metrics.RecordRegionLookup("not_found")
		return region.ID{}, "", false
	case id.IsSubdivision():
		p.metrics.RecordRegionLookup("subdivision")
	default:
		p.metrics.RecordRegionLookup("country")
	}
	if country == "" {
		country = id.CountryCode()
	}
	return id, country, true
}

// fromRegion runs the regional tier for id, then the offline tier for country.
func (p *Pipeline) fromRegion(ctx context.Context, id region.ID, country string) *Resolution {
	if entry, ok := p.regionTier(ctx, id, country); ok {
		return &Resolution{Entry: entry, Region: id, Country: country}
	}
	if entry, ok := p.offlineTier(ctx, country); ok {
		return &Resolution{Entry: entry, Region: id, Country: country}
	}
	return nil
}

// regionTier answers from the region cache or the remote checklist, writing
// successful fetches through under the region key.
func (p *Pipeline) regionTier(ctx context.Context, id region.ID, country string) (checklist.Entry, bool) {
	log := p.log.WithContext(ctx)
	key := cache.RegionKey(id)

	if entry, ok := p.cache.Get(ctx, key); ok && entry.SpeciesCount > 0 {
		p.metrics.RecordCacheLookup("region", true)
		p.metrics.RecordTier(tierRegion, metrics.StatusSuccess)
		return entry, true
	}
	p.metrics.RecordCacheLookup("region", false)

	if p.fetcher == nil {
		return checklist.Entry{}, false
	}
	codes, err := p.fetcher.SpeciesList(ctx, id)
	if err != nil {
		p.metrics.RecordTier(tierRegion, metrics.StatusError)
		log.Debug("regional tier failed",
			logger.String("region", id.String()),
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
		return checklist.Entry{}, false
	}
	if len(codes) == 0 {
		p.metrics.RecordTier(tierRegion, metrics.StatusEmpty)
		log.Debug("regional checklist empty", logger.String("region", id.String()))
		return checklist.Entry{}, false
	}

	source := checklist.SourceCountryAPI
	if id.IsSubdivision() {
		source = checklist.SourceSubdivisionAnnual
	}
	entry := checklist.NewEntry(checklist.NewSet(codes...), source, p.now()).
		WithRegion(id.String(), country)
	p.metrics.RecordTier(tierRegion, metrics.StatusSuccess)

	if err := p.cache.Put(ctx, key, entry); err != nil {
		log.Warn("failed to cache regional checklist",
			logger.String("cache_key", key),
			logger.Error(err))
	}
	return entry, true
}

// offlineTier reads the offline country list. It needs no network, so it runs
// even when ctx is already done.
func (p *Pipeline) offlineTier(ctx context.Context, country string) (checklist.Entry, bool) {
	if p.offline == nil || country == "" {
		return checklist.Entry{}, false
	}
	log := p.log.WithContext(ctx)

	id, err := region.NewCountry(country)
	if err != nil {
		return checklist.Entry{}, false
	}
	entry, err := p.offline.Lookup(context.WithoutCancel(ctx), id)
	if err != nil {
		outcome := metrics.StatusError
		if errors.IsNotFound(err) {
			outcome = metrics.StatusEmpty
		}
		p.metrics.RecordTier(tierOffline, outcome)
		if errors.IsCategory(err, errors.CategoryConfiguration) {
			log.Warn("offline store unavailable", logger.Error(err))
		} else {
			log.Debug("offline tier failed",
				logger.String("country", country),
				logger.Error(err))
		}
		return checklist.Entry{}, false
	}
	if entry.SpeciesCount == 0 {
		p.metrics.RecordTier(tierOffline, metrics.StatusEmpty)
		return checklist.Entry{}, false
	}

	p.metrics.RecordTier(tierOffline, metrics.StatusSuccess)
	return entry, true
}

// Broaden runs the regional and offline tiers for the area around res,
// resolving the region from the original query when res does not carry one.
// It does not touch the point cache. It returns nil when nothing broader exists.
func (p *Pipeline) Broaden(ctx context.Context, res *Resolution) (*Resolution, error) {
	if res == nil {
		return nil, errors.ValidationError("nothing to broaden")
	}

	id, country := res.Region, res.Country
	if id.IsZero() {
		if res.Query == nil {
			return nil, nil
		}
		var ok bool
		if id, country, ok = p.resolveRegion(ctx, *res.Query); !ok {
			return nil, nil
		}
	}
	if country == "" {
		country = id.CountryCode()
	}

	broader := p.fromRegion(ctx, id, country)
	if broader == nil {
		return nil, nil
	}
	broader.Query = res.Query
	broader.TraceID = res.TraceID
	return broader, nil
}

// ResolveRegion resolves a user-selected region: region cache, remote
// checklist, then the offline list for its country.
func (p *Pipeline) ResolveRegion(ctx context.Context, id region.ID) (*Resolution, error) {
	if id.IsZero() {
		return nil, errors.ValidationError("region is required")
	}
	start := time.Now()
	res := p.fromRegion(ctx, id, id.CountryCode())

	provenance := provenanceNone
	if res != nil {
		provenance = string(res.Source())
	}
	p.metrics.RecordResolution(provenance, time.Since(start).Seconds())
	return res, nil
}
