package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEBirdMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewEBirdMetrics(reg)
	require.NoError(t, err)

	m.RecordRequest("spplist", StatusSuccess, 0.2)
	m.RecordRequest("spplist", "limit", 0.1)
	m.RecordRetry("spplist")
	m.RecordMemo("countries", true)
	m.RecordMemo("countries", false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("spplist", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("spplist", "limit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.retriesTotal.WithLabelValues("spplist")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.memoTotal.WithLabelValues("countries", StatusHit)), 0)

	_, err = NewEBirdMetrics(reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestLocateMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewLocateMetrics(reg)
	require.NoError(t, err)

	m.RecordTier("gps_point", StatusRejected)
	m.RecordCacheLookup("point", false)
	m.RecordResolution("COUNTRY_OFFLINE", 0.05)
	m.RecordReconcile("fallback")
	m.RecordRegionLookup("subdivision")

	assert.InDelta(t, 1, testutil.ToFloat64(m.tierOutcomesTotal.WithLabelValues("gps_point", StatusRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("point", StatusMiss)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("COUNTRY_OFFLINE")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reconcileOutcomes.WithLabelValues("fallback")), 0)

	count, err := testutil.GatherAndCount(reg, "birdid_locate_resolve_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var e *EBirdMetrics
	var l *LocateMetrics
	assert.NotPanics(t, func() {
		e.RecordRequest("x", StatusSuccess, 1)
		e.RecordRetry("x")
		e.RecordMemo("x", true)
		l.RecordTier("x", StatusSuccess)
		l.RecordCacheLookup("x", true)
		l.RecordResolution("x", 1)
		l.RecordReconcile("x")
		l.RecordRegionLookup("x")
	})
}
