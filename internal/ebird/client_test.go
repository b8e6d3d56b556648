package ebird

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/httpclient"
	"github.com/tphakala/birdid/internal/observability/metrics"
	"github.com/tphakala/birdid/internal/region"
)

const nearbyQuery = "?back=30&dist=25&lat=60.1699&lng=24.9384&maxResults=10000"

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestSpeciesList(t *testing.T) {
	t.Parallel()

	server, _ := setupMockServer(t, map[string]mockResponse{
		"/product/spplist/FI-18": {status: http.StatusOK, body: `["eurrob1","grtit1","eurbla"]`},
		"/product/spplist/AQ":    {status: http.StatusOK, body: `[]`},
	})
	client := setupTestClient(t, server)

	codes, err := client.SpeciesList(t.Context(), region.MustParse("FI-18"))
	require.NoError(t, err)
	assert.Equal(t, []checklist.SpeciesCode{"eurrob1", "grtit1", "eurbla"}, codes)

	empty, err := client.SpeciesList(t.Context(), region.MustParse("AQ"))
	require.NoError(t, err, "an empty list is a successful answer")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSpeciesListZeroRegion(t *testing.T) {
	t.Parallel()

	server, hits := setupMockServer(t, nil)
	client := setupTestClient(t, server)

	_, err := client.SpeciesList(t.Context(), region.ID{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, hits.Load())
}

func TestRecentNearby(t *testing.T) {
	t.Parallel()

	body := `[
		{"speciesCode":"eurrob1","comName":"European Robin","howMany":2},
		{"speciesCode":"grtit1","comName":"Great Tit","howMany":1},
		{"speciesCode":"eurrob1","comName":"European Robin","howMany":1}
	]`
	server, _ := setupMockServer(t, map[string]mockResponse{
		"/data/obs/geo/recent" + nearbyQuery: {status: http.StatusOK, body: body},
	})
	client := setupTestClient(t, server)

	result, err := client.RecentNearby(t.Context(), 60.1699, 24.9384, 25)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ObservationCount)
	assert.Equal(t, 2, result.Species.Len())
	assert.True(t, result.Species.Contains("eurrob1"))
	assert.True(t, result.Species.Contains("grtit1"))
}

func TestRecentNearbyValidation(t *testing.T) {
	t.Parallel()

	server, hits := setupMockServer(t, nil)
	client := setupTestClient(t, server)

	tests := []struct {
		name     string
		lat, lon float64
		radius   int
	}{
		{"latitude too high", 91, 0, 10},
		{"longitude too low", 0, -181, 10},
		{"zero radius", 0, 0, 0},
		{"radius too large", 0, 0, 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.RecentNearby(t.Context(), tt.lat, tt.lon, tt.radius)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
	assert.Zero(t, hits.Load())
}

func TestErrorCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
		attempts int32
	}{
		{"unauthorized", http.StatusUnauthorized, `{"title":"Unauthorized","detail":"bad key"}`, errors.CategoryConfiguration, 1},
		{"forbidden", http.StatusForbidden, `{}`, errors.CategoryConfiguration, 1},
		{"not found", http.StatusNotFound, `{"errors":[{"title":"Not Found","status":404,"detail":"No region"}]}`, errors.CategoryNotFound, 1},
		{"bad request", http.StatusBadRequest, `{}`, errors.CategoryNetwork, 1},
		{"rate limited", http.StatusTooManyRequests, `{}`, errors.CategoryLimit, 3},
		{"server error", http.StatusBadGateway, `bad gateway`, errors.CategoryNetwork, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, hits := setupMockServer(t, map[string]mockResponse{
				"/product/spplist/SE": {status: tt.status, body: tt.body},
			})
			client := setupTestClient(t, server)

			_, err := client.SpeciesList(t.Context(), region.MustParse("SE"))
			require.Error(t, err)
			assert.Equal(t, tt.category, errors.CategoryOf(err))
			assert.Equal(t, tt.attempts, hits.Load())
		})
	}
}

func TestNonJSONResponse(t *testing.T) {
	t.Parallel()

	server, _ := setupMockServer(t, map[string]mockResponse{
		"/product/spplist/SE": {status: http.StatusOK, body: "<html>maintenance</html>", contentType: "text/html"},
	})
	client := setupTestClient(t, server)

	_, err := client.SpeciesList(t.Context(), region.MustParse("SE"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestMalformedJSONIsNotRetried(t *testing.T) {
	t.Parallel()

	server, hits := setupMockServer(t, map[string]mockResponse{
		"/product/spplist/SE": {status: http.StatusOK, body: `{"not":"a list"}`},
	})
	client := setupTestClient(t, server)

	_, err := client.SpeciesList(t.Context(), region.MustParse("SE"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	assert.Equal(t, int32(1), hits.Load())
}

func TestReferenceListsAreMemoised(t *testing.T) {
	t.Parallel()

	server, hits := setupMockServer(t, map[string]mockResponse{
		"/ref/region/list/country/world":   {status: http.StatusOK, body: `[{"code":"FI","name":"Finland"},{"code":"SE","name":"Sweden"}]`},
		"/ref/region/list/subnational1/FI": {status: http.StatusOK, body: `[{"code":"FI-18","name":"Uusimaa"}]`},
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.NewEBirdMetrics(reg)
	require.NoError(t, err)
	client := setupTestClient(t, server, WithMetrics(m))

	for range 3 {
		countries, err := client.Countries(t.Context())
		require.NoError(t, err)
		require.Len(t, countries, 2)
		assert.Equal(t, "Finland", countries[0].Name)
	}
	subs, err := client.Subdivisions(t.Context(), "fi")
	require.NoError(t, err)
	assert.Equal(t, []RegionInfo{{Code: "FI-18", Name: "Uusimaa"}}, subs)

	assert.Equal(t, int32(2), hits.Load())

	count, err := testutil.GatherAndCount(reg, "birdid_ebird_reference_memo_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "countries hit, countries miss, subdivisions miss")

	client.ClearCache()
	_, err = client.Countries(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestSubdivisionsRejectsBadCountry(t *testing.T) {
	t.Parallel()

	server, _ := setupMockServer(t, nil)
	client := setupTestClient(t, server)

	_, err := client.Subdivisions(t.Context(), "Finland")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestTaxonomyWithHTTPMock(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.test/v2/ref/taxonomy/ebird?fmt=json&locale=fi",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-key", req.Header.Get("X-eBirdApiToken"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			return httpmock.NewJsonResponse(http.StatusOK, []TaxonomyEntry{
				{SpeciesCode: "eurrob1", CommonName: "punarinta", ScientificName: "Erithacus rubecula", Category: "species"},
			})
		})

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: "https://api.example.test/v2/",
		Locale:  "fi",
	}, WithHTTPClient(httpclient.New(&httpclient.Config{Transport: transport})))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	for range 2 {
		taxonomy, err := client.Taxonomy(t.Context(), "")
		require.NoError(t, err)
		require.Len(t, taxonomy, 1)
		assert.Equal(t, checklist.SpeciesCode("eurrob1"), taxonomy[0].SpeciesCode)
	}
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestTransportErrorIsRetried(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.test/v2/product/spplist/SE",
		httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	client, err := NewClient(Config{APIKey: "k", BaseURL: "https://api.example.test/v2", RateLimitMS: 1},
		WithHTTPClient(httpclient.New(&httpclient.Config{Transport: transport})))
	require.NoError(t, err)
	client.retryDelay = time.Millisecond
	t.Cleanup(client.Close)

	_, err = client.SpeciesList(t.Context(), region.MustParse("SE"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	server, _ := setupMockServer(t, map[string]mockResponse{
		"/product/spplist/SE": {status: http.StatusOK, body: `[]`},
	})
	client := setupTestClient(t, server)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := client.SpeciesList(ctx, region.MustParse("SE"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestRequestMetrics(t *testing.T) {
	t.Parallel()

	server, _ := setupMockServer(t, map[string]mockResponse{
		"/product/spplist/SE": {status: http.StatusOK, body: `["a"]`},
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.NewEBirdMetrics(reg)
	require.NoError(t, err)
	client := setupTestClient(t, server, WithMetrics(m))

	_, err = client.SpeciesList(t.Context(), region.MustParse("SE"))
	require.NoError(t, err)
	_, err = client.SpeciesList(t.Context(), region.MustParse("NO"))
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "birdid_ebird_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one success series and one not-found series")
}
