// Package observability wires the Prometheus registry and the /metrics handler.
// Error telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/birdid/internal/observability/metrics"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	EBird    *metrics.EBirdMetrics
	Locate   *metrics.LocateMetrics
}

// NewMetrics creates a registry with every collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ebirdMetrics, err := metrics.NewEBirdMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create eBird metrics: %w", err)
	}
	locateMetrics, err := metrics.NewLocateMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create locate metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		EBird:    ebirdMetrics,
		Locate:   locateMetrics,
	}, nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
