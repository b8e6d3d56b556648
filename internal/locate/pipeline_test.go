package locate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/checklist/cache"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/observability/metrics"
	"github.com/tphakala/birdid/internal/region"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var helsinki = Query{Lat: 60.1699, Lon: 24.9384, RadiusKm: 25}

func speciesCodes(prefix string, n int) []checklist.SpeciesCode {
	out := make([]checklist.SpeciesCode, n)
	for i := range out {
		out[i] = checklist.SpeciesCode(fmt.Sprintf("%s%03d", prefix, i))
	}
	return out
}

type fakeFetcher struct {
	nearby     []checklist.SpeciesCode
	nearbyErr  error
	lists      map[string][]checklist.SpeciesCode
	listErr    error
	block      chan struct{} // when set, RecentNearby waits for it to close
	delay      time.Duration
	nearbyHits atomic.Int32
	listHits   atomic.Int32
}

func (f *fakeFetcher) RecentNearby(ctx context.Context, _, _ float64, _ int) (ebird.NearbyResult, error) {
	f.nearbyHits.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ebird.NearbyResult{}, ctx.Err()
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ebird.NearbyResult{}, ctx.Err()
		}
	}
	if f.nearbyErr != nil {
		return ebird.NearbyResult{}, f.nearbyErr
	}
	return ebird.NearbyResult{Species: checklist.NewSet(f.nearby...), ObservationCount: len(f.nearby) * 2}, nil
}

func (f *fakeFetcher) SpeciesList(_ context.Context, id region.ID) ([]checklist.SpeciesCode, error) {
	f.listHits.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	codes, ok := f.lists[id.String()]
	if !ok {
		return nil, errors.Newf("no list").Category(errors.CategoryNotFound).Build()
	}
	return codes, nil
}

func (f *fakeFetcher) calls() int32 { return f.nearbyHits.Load() + f.listHits.Load() }

type fakeRegions struct {
	id      region.ID
	country string
	ok      bool
	hits    atomic.Int32
}

func (f *fakeRegions) Resolve(_ context.Context, _, _ float64) (region.ID, string, bool) {
	f.hits.Add(1)
	return f.id, f.country, f.ok
}

type fakeOffline struct {
	lists map[string][]checklist.SpeciesCode
	err   error
	hits  atomic.Int32
}

func (f *fakeOffline) Lookup(_ context.Context, id region.ID) (checklist.Entry, error) {
	f.hits.Add(1)
	if f.err != nil {
		return checklist.Entry{}, f.err
	}
	codes, ok := f.lists[id.CountryCode()]
	if !ok {
		return checklist.Entry{}, errors.Newf("not indexed").Category(errors.CategoryNotFound).Build()
	}
	return checklist.NewEntry(checklist.NewSet(codes...), checklist.SourceCountryOffline, time.Now()).
		WithRegion(id.CountryCode(), id.CountryCode()), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func uusimaa() *fakeRegions {
	return &fakeRegions{id: region.MustParse("FI-18"), country: "FI", ok: true}
}

func TestQueryValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query Query
		valid bool
	}{
		{"valid", helsinki, true},
		{"poles and antimeridian", Query{Lat: -90, Lon: 180, RadiusKm: 50}, true},
		{"latitude", Query{Lat: 90.5, Lon: 0, RadiusKm: 10}, false},
		{"longitude", Query{Lat: 0, Lon: -180.1, RadiusKm: 10}, false},
		{"radius zero", Query{RadiusKm: 0}, false},
		{"radius too large", Query{RadiusKm: 51}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.query.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestResolveRejectsInvalidQuery(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	p := New(Dependencies{Fetcher: fetcher})
	_, err := p.Resolve(t.Context(), Query{Lat: 100, Lon: 0, RadiusKm: 25})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, fetcher.calls())
}

func TestPointTierThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		nearby  int
		want    checklist.DataSource
		wantLen int
	}{
		{"49 species falls through", 49, checklist.SourceSubdivisionAnnual, 120},
		{"50 species accepted", 50, checklist.SourceGPSPoint, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fetcher := &fakeFetcher{
				nearby: speciesCodes("gps", tt.nearby),
				lists:  map[string][]checklist.SpeciesCode{"FI-18": speciesCodes("reg", 120)},
			}
			p := New(Dependencies{Fetcher: fetcher, Regions: uusimaa()})

			res, err := p.Resolve(t.Context(), helsinki)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tt.want, res.Source())
			assert.Equal(t, tt.wantLen, res.Species().Len())
			assert.Equal(t, res.Entry.SpeciesCount, res.Species().Len())
		})
	}
}

func TestPointResultCarriesObservations(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 60)}
	p := New(Dependencies{Fetcher: fetcher})

	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 120, res.Entry.ObservationCount)
	assert.NotEmpty(t, res.TraceID)
	require.NotNil(t, res.Query)
	assert.Equal(t, helsinki, *res.Query)
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 80)}
	regions := uusimaa()
	p := New(Dependencies{Cache: cache.NewMemoryStore(cache.Options{}), Fetcher: fetcher, Regions: regions})

	first, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, first)
	callsAfterFirst := fetcher.calls()

	second, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, callsAfterFirst, fetcher.calls(), "second call must not touch the network")
	assert.Zero(t, regions.hits.Load())
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Source(), second.Source())
	assert.True(t, first.Species().Equal(second.Species()))
}

func TestQuantizedQueriesShareCacheEntry(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 80)}
	p := New(Dependencies{Fetcher: fetcher})

	_, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	res, err := p.Resolve(t.Context(), Query{Lat: helsinki.Lat + 0.0001, Lon: helsinki.Lon, RadiusKm: 25})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), fetcher.nearbyHits.Load())
}

func TestStaleEntryIsRefetched(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore(cache.Options{TTL: 30 * 24 * time.Hour, Now: clock.Now})
	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 80)}
	p := New(Dependencies{Cache: store, Fetcher: fetcher}, WithClock(clock.Now))

	_, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)

	clock.Advance(29 * 24 * time.Hour)
	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), fetcher.nearbyHits.Load())

	clock.Advance(2 * 24 * time.Hour)
	res, err = p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.FromCache, "stale entries are treated as absent")
	assert.Equal(t, int32(2), fetcher.nearbyHits.Load())
	assert.Equal(t, clock.Now(), res.Entry.CachedAt, "refetch overwrites the stale entry")
}

func TestMonotonicDegradationToOffline(t *testing.T) {
	t.Parallel()

	offlineSet := speciesCodes("fi", 250)
	fetcher := &fakeFetcher{
		nearbyErr: errors.Newf("timeout").Category(errors.CategoryTimeout).Build(),
		listErr:   errors.Newf("rate limited").Category(errors.CategoryLimit).Build(),
	}
	store := cache.NewMemoryStore(cache.Options{})
	p := New(Dependencies{
		Cache:   store,
		Fetcher: fetcher,
		Regions: uusimaa(),
		Offline: &fakeOffline{lists: map[string][]checklist.SpeciesCode{"FI": offlineSet}},
	})

	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, checklist.SourceCountryOffline, res.Source())
	assert.True(t, res.Species().Equal(checklist.NewSet(offlineSet...)))
	assert.Equal(t, region.MustParse("FI-18"), res.Region)

	_, cached := store.Get(t.Context(), cache.RegionKey(region.MustParse("FI-18")))
	assert.False(t, cached, "offline lists are not written under the region key")
	_, cached = store.Get(t.Context(), cache.PointKey(helsinki.Lat, helsinki.Lon, helsinki.RadiusKm))
	assert.True(t, cached, "accepted results are written under the point key")
}

func TestCountryOnlyRegionUsesCountryProvenance(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		nearby: speciesCodes("gps", 3),
		lists:  map[string][]checklist.SpeciesCode{"IS": speciesCodes("is", 90)},
	}
	regions := &fakeRegions{id: region.MustParse("IS"), country: "IS", ok: true}
	store := cache.NewMemoryStore(cache.Options{})
	p := New(Dependencies{Cache: store, Fetcher: fetcher, Regions: regions})

	res, err := p.Resolve(t.Context(), Query{Lat: 64.1, Lon: -21.9, RadiusKm: 25})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceCountryAPI, res.Source())

	entry, ok := store.Get(t.Context(), cache.RegionKey(region.MustParse("IS")))
	require.True(t, ok, "regional fetches are written through")
	assert.Equal(t, 90, entry.SpeciesCount)
}

func TestRegionCacheAvoidsRemoteCall(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore(cache.Options{})
	require.NoError(t, store.Put(t.Context(), "FI-18",
		checklist.NewEntry(checklist.NewSet(speciesCodes("reg", 70)...), checklist.SourceSubdivisionAnnual, time.Now()).
			WithRegion("FI-18", "FI")))

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 10)}
	p := New(Dependencies{Cache: store, Fetcher: fetcher, Regions: uusimaa()})

	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceSubdivisionAnnual, res.Source())
	assert.Zero(t, fetcher.listHits.Load())
}

func TestEmptyRegionalListFallsThrough(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{lists: map[string][]checklist.SpeciesCode{"FI-18": {}}}
	offline := &fakeOffline{lists: map[string][]checklist.SpeciesCode{"FI": speciesCodes("fi", 5)}}
	p := New(Dependencies{Fetcher: fetcher, Regions: uusimaa(), Offline: offline})

	res, err := p.Resolve(t.Context(), Query{Lat: 60.2, Lon: 24.9, RadiusKm: 10})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceCountryOffline, res.Source())
}

func TestAllTiersFailReturnsAbsence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps func() Dependencies
	}{
		{"no collaborators", func() Dependencies { return Dependencies{} }},
		{"region unresolved", func() Dependencies {
			return Dependencies{
				Fetcher: &fakeFetcher{nearby: speciesCodes("gps", 10)},
				Regions: &fakeRegions{},
				Offline: &fakeOffline{lists: map[string][]checklist.SpeciesCode{"FI": speciesCodes("fi", 5)}},
			}
		}},
		{"offline index missing", func() Dependencies {
			return Dependencies{
				Fetcher: &fakeFetcher{listErr: errors.Newf("down").Category(errors.CategoryNetwork).Build()},
				Regions: uusimaa(),
				Offline: &fakeOffline{err: errors.Newf("no index").Category(errors.CategoryConfiguration).Build()},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := cache.NewMemoryStore(cache.Options{})
			deps := tt.deps()
			deps.Cache = store

			res, err := New(deps).Resolve(t.Context(), helsinki)
			require.NoError(t, err)
			assert.Nil(t, res)
			assert.Zero(t, store.Len(), "absence is not cached")
		})
	}
}

func TestResolveTimeoutOnlyRejectsNetworkTiers(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{block: make(chan struct{})}
	offline := &fakeOffline{lists: map[string][]checklist.SpeciesCode{"FI": speciesCodes("fi", 5)}}
	regions := uusimaa()
	p := New(Dependencies{Fetcher: fetcher, Regions: regions, Offline: offline},
		WithResolveTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	// The waiting caller gives up at its deadline; the shared resolution still
	// completes in the background and fills the cache from the offline tier.
	res, err := p.Resolve(ctx, helsinki)
	require.NoError(t, err)
	assert.Nil(t, res)

	require.Eventually(t, func() bool { return offline.hits.Load() == 1 }, time.Second, 10*time.Millisecond)
	close(fetcher.block)
	require.Eventually(t, func() bool {
		res, err := p.Resolve(t.Context(), helsinki)
		return err == nil && res != nil && res.FromCache && res.Source() == checklist.SourceCountryOffline
	}, time.Second, 10*time.Millisecond)
}

func TestShortCallerDeadlineDoesNotDegradeSharedResolution(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 80), delay: 100 * time.Millisecond}
	offline := &fakeOffline{lists: map[string][]checklist.SpeciesCode{"FI": speciesCodes("fi", 5)}}
	p := New(Dependencies{Fetcher: fetcher, Regions: uusimaa(), Offline: offline})

	hurried := make(chan *Resolution, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		res, err := p.Resolve(ctx, helsinki)
		assert.NoError(t, err)
		hurried <- res
	}()
	require.Eventually(t, func() bool { return fetcher.nearbyHits.Load() == 1 }, time.Second, time.Millisecond)

	res, err := p.Resolve(context.Background(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceGPSPoint, res.Source())
	assert.Nil(t, <-hurried, "the hurried caller stops waiting at its own deadline")
	assert.Equal(t, int32(1), fetcher.nearbyHits.Load())
	assert.Zero(t, offline.hits.Load())

	cached, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.FromCache)
	assert.Equal(t, checklist.SourceGPSPoint, cached.Source())
}

func TestConcurrentIdenticalQueriesShareOneResolution(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{nearby: speciesCodes("gps", 80), block: make(chan struct{})}
	p := New(Dependencies{Fetcher: fetcher})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Resolution, callers)
	for i := range callers {
		wg.Go(func() {
			res, err := p.Resolve(t.Context(), helsinki)
			assert.NoError(t, err)
			results[i] = res
		})
	}

	require.Eventually(t, func() bool { return fetcher.nearbyHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.nearbyHits.Load())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, checklist.SourceGPSPoint, res.Source())
	}
}

func TestBroaden(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		nearby: speciesCodes("gps", 60),
		lists:  map[string][]checklist.SpeciesCode{"FI-18": speciesCodes("reg", 300)},
	}
	regions := uusimaa()
	p := New(Dependencies{Fetcher: fetcher, Regions: regions})

	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	require.Equal(t, checklist.SourceGPSPoint, res.Source())
	assert.True(t, res.Region.IsZero(), "Tier 1 does not resolve the region")

	broader, err := p.Broaden(t.Context(), res)
	require.NoError(t, err)
	require.NotNil(t, broader)
	assert.Equal(t, checklist.SourceSubdivisionAnnual, broader.Source())
	assert.Equal(t, 300, broader.Species().Len())
	assert.Equal(t, int32(1), regions.hits.Load())

	again, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	assert.Equal(t, checklist.SourceGPSPoint, again.Source(), "broadening leaves the point cache alone")

	_, err = p.Broaden(t.Context(), nil)
	assert.True(t, errors.IsValidation(err))
}

func TestBroadenWithoutRegion(t *testing.T) {
	t.Parallel()

	p := New(Dependencies{Fetcher: &fakeFetcher{nearby: speciesCodes("gps", 60)}})
	res, err := p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)

	broader, err := p.Broaden(t.Context(), res)
	require.NoError(t, err)
	assert.Nil(t, broader)
}

func TestResolveRegion(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{lists: map[string][]checklist.SpeciesCode{"SE": speciesCodes("se", 40)}}
	offline := &fakeOffline{lists: map[string][]checklist.SpeciesCode{"NO": speciesCodes("no", 30)}}
	p := New(Dependencies{Fetcher: fetcher, Offline: offline})

	res, err := p.ResolveRegion(t.Context(), region.MustParse("SE"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceCountryAPI, res.Source())
	assert.Nil(t, res.Query)

	res, err = p.ResolveRegion(t.Context(), region.MustParse("NO-03"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, checklist.SourceCountryOffline, res.Source())
	assert.Equal(t, "NO", res.Country)

	res, err = p.ResolveRegion(t.Context(), region.MustParse("DK"))
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = p.ResolveRegion(t.Context(), region.ID{})
	assert.True(t, errors.IsValidation(err))
}

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewLocateMetrics(reg)
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		nearby: speciesCodes("gps", 10),
		lists:  map[string][]checklist.SpeciesCode{"FI-18": speciesCodes("reg", 100)},
	}
	p := New(Dependencies{Fetcher: fetcher, Regions: uusimaa(), Metrics: m})

	_, err = p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)
	_, err = p.Resolve(t.Context(), helsinki)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "birdid_locate_tier_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "gps_point rejected and region success")

	count, err = testutil.GatherAndCount(reg, "birdid_locate_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "point miss, point hit and region miss")
}
