package region

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdid/internal/errors"
)

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	args := m.Called(ctx, lat, lon)
	return args.Get(0).(Address), args.Error(1)
}

func newTestResolver(t *testing.T, g Geocoder, opts ...ResolverOption) *Resolver {
	t.Helper()
	table, err := DefaultTable()
	require.NoError(t, err)
	return NewResolver(g, table, opts...)
}

func TestResolveSubdivision(t *testing.T) {
	t.Parallel()

	g := &mockGeocoder{}
	g.On("Reverse", mock.Anything, 37.77, -122.42).
		Return(Address{CountryCode: "US", Subdivision: "California"}, nil).Once()

	r := newTestResolver(t, g)
	id, country, ok := r.Resolve(t.Context(), 37.77, -122.42)
	require.True(t, ok)
	assert.Equal(t, "US-CA", id.String())
	assert.Equal(t, "US", country)
	assert.Equal(t, country, id.CountryCode())

	// Same S2 cell is answered from the memo.
	id2, _, ok := r.Resolve(t.Context(), 37.77, -122.42)
	require.True(t, ok)
	assert.Equal(t, id, id2)
	g.AssertExpectations(t)
}

func TestResolveDegradesToCountry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr Address
	}{
		{name: "no subdivision name", addr: Address{CountryCode: "pe"}},
		{name: "name not in table", addr: Address{CountryCode: "US", Subdivision: "Atlantis"}},
		{name: "country not covered", addr: Address{CountryCode: "PE", Subdivision: "Lima"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := &mockGeocoder{}
			g.On("Reverse", mock.Anything, mock.Anything, mock.Anything).Return(tt.addr, nil)

			id, country, ok := newTestResolver(t, g, WithMemoTTL(0)).Resolve(t.Context(), 1, 2)
			require.True(t, ok)
			assert.False(t, id.IsSubdivision())
			assert.Equal(t, country, id.String())
		})
	}
}

func TestResolveSoftFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr Address
		err  error
	}{
		{name: "network error", err: errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()},
		{name: "timeout", err: context.DeadlineExceeded},
		{name: "missing country", addr: Address{Subdivision: "California"}},
		{name: "malformed country", addr: Address{CountryCode: "USA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := &mockGeocoder{}
			g.On("Reverse", mock.Anything, mock.Anything, mock.Anything).Return(tt.addr, tt.err).Twice()

			r := newTestResolver(t, g, WithMemoTTL(time.Hour))
			_, _, ok := r.Resolve(t.Context(), 10, 20)
			assert.False(t, ok)

			// Failures are not memoised.
			_, _, ok = r.Resolve(t.Context(), 10, 20)
			assert.False(t, ok)
			g.AssertNumberOfCalls(t, "Reverse", 2)
		})
	}
}

func TestResolveNilGeocoder(t *testing.T) {
	t.Parallel()

	_, _, ok := newTestResolver(t, nil).Resolve(t.Context(), 1, 1)
	assert.False(t, ok)
}

func TestCellKeyGroupsNearbyPoints(t *testing.T) {
	t.Parallel()

	assert.Equal(t, cellKey(60.17001, 24.93001), cellKey(60.17002, 24.93002))
	assert.NotEqual(t, cellKey(60.17, 24.93), cellKey(61.5, 23.8))
}
