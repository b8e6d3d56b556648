// Package metrics provides Prometheus collectors for birdid components.
package metrics

// Histogram bucket parameters.
const (
	BucketStart10ms  = 0.01
	BucketStart100ms = 0.1
	BucketFactor2    = 2
	BucketCount10    = 10
	BucketCount12    = 12
)

// Outcome labels shared across collectors.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusEmpty    = "empty"
	StatusRejected = "rejected"
	StatusHit      = "hit"
	StatusMiss     = "miss"
)
