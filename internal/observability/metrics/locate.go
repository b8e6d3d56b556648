package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LocateMetrics tracks location resolution and reconciliation. A nil *LocateMetrics records nothing.
type LocateMetrics struct {
	tierOutcomesTotal   *prometheus.CounterVec
	cacheLookupsTotal   *prometheus.CounterVec
	resolutionsTotal    *prometheus.CounterVec
	resolveDuration     *prometheus.HistogramVec
	reconcileOutcomes   *prometheus.CounterVec
	geocodeLookupsTotal *prometheus.CounterVec
}

// NewLocateMetrics creates and registers location pipeline metrics.
func NewLocateMetrics(registry prometheus.Registerer) (*LocateMetrics, error) {
	m := &LocateMetrics{
		tierOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_locate_tier_outcomes_total",
				Help: "Tier attempts by tier and outcome",
			},
			[]string{"tier", "outcome"}, // outcome: success, rejected, empty, error
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_locate_cache_lookups_total",
				Help: "Species cache lookups by key kind and result",
			},
			[]string{"kind", "result"}, // kind: point, region
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_locate_resolutions_total",
				Help: "Completed resolutions by provenance",
			},
			[]string{"provenance"}, // NONE when every tier failed
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "birdid_locate_resolve_duration_seconds",
				Help:    "End-to-end resolution latency",
				Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
			},
			[]string{"provenance"},
		),
		reconcileOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_reconcile_outcomes_total",
				Help: "Reconciliation outcomes",
			},
			[]string{"outcome"}, // matched, fallback, no_regional_match, unfiltered
		),
		geocodeLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_locate_region_lookups_total",
				Help: "Region resolution attempts by result",
			},
			[]string{"result"}, // subdivision, country, not_found
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *LocateMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.tierOutcomesTotal.Describe(ch)
	m.cacheLookupsTotal.Describe(ch)
	m.resolutionsTotal.Describe(ch)
	m.resolveDuration.Describe(ch)
	m.reconcileOutcomes.Describe(ch)
	m.geocodeLookupsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *LocateMetrics) Collect(ch chan<- prometheus.Metric) {
	m.tierOutcomesTotal.Collect(ch)
	m.cacheLookupsTotal.Collect(ch)
	m.resolutionsTotal.Collect(ch)
	m.resolveDuration.Collect(ch)
	m.reconcileOutcomes.Collect(ch)
	m.geocodeLookupsTotal.Collect(ch)
}

// RecordTier records the outcome of one tier attempt.
func (m *LocateMetrics) RecordTier(tier, outcome string) {
	if m == nil {
		return
	}
	m.tierOutcomesTotal.WithLabelValues(tier, outcome).Inc()
}

// RecordCacheLookup records a species cache lookup.
func (m *LocateMetrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := StatusMiss
	if hit {
		result = StatusHit
	}
	m.cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordResolution records a finished resolution and its latency.
func (m *LocateMetrics) RecordResolution(provenance string, seconds float64) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(provenance).Inc()
	m.resolveDuration.WithLabelValues(provenance).Observe(seconds)
}

// RecordReconcile records a reconciliation outcome.
func (m *LocateMetrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRegionLookup records a region resolution result.
func (m *LocateMetrics) RecordRegionLookup(result string) {
	if m == nil {
		return
	}
	m.geocodeLookupsTotal.WithLabelValues(result).Inc()
}
