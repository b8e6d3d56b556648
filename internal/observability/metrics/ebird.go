package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EBirdMetrics tracks requests made to the eBird API. A nil *EBirdMetrics records nothing.
type EBirdMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	memoTotal       *prometheus.CounterVec
}

// NewEBirdMetrics creates and registers eBird metrics.
func NewEBirdMetrics(registry prometheus.Registerer) (*EBirdMetrics, error) {
	m := &EBirdMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_ebird_requests_total",
				Help: "Total eBird API requests by endpoint and outcome",
			},
			[]string{"endpoint", "status"}, // status: success or the error category
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "birdid_ebird_request_duration_seconds",
				Help: "eBird API request latency",
				// 100ms to ~51s, covering the 30s request timeout
				Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
			},
			[]string{"endpoint"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_ebird_retries_total",
				Help: "Total eBird request retries",
			},
			[]string{"endpoint"},
		),
		memoTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdid_ebird_reference_memo_total",
				Help: "In-process reference data memo lookups",
			},
			[]string{"kind", "result"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *EBirdMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.memoTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *EBirdMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.memoTotal.Collect(ch)
}

// RecordRequest records one completed request attempt.
func (m *EBirdMetrics) RecordRequest(endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordRetry records a retried request.
func (m *EBirdMetrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordMemo records a reference-data memo lookup.
func (m *EBirdMetrics) RecordMemo(kind string, hit bool) {
	if m == nil {
		return
	}
	result := StatusMiss
	if hit {
		result = StatusHit
	}
	m.memoTotal.WithLabelValues(kind, result).Inc()
}
