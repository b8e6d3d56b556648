// Package cache persists species lists keyed by query point or region.
//
// Staleness is decided at read time: an entry older than the validity window
// is reported as absent but left in place until the next Put overwrites it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/region"
)

// DefaultTTL is the validity window applied when none is configured.
const DefaultTTL = 30 * 24 * time.Hour

// Store is a durable key to species-list mapping. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the entry under key if present and within the validity window.
	Get(ctx context.Context, key string) (checklist.Entry, bool)
	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry checklist.Entry) error
	// Close releases backend resources.
	Close() error
}

// PointKey derives the cache key for a point query. Coordinates are quantized
// to three decimals (about 110 m) before hashing, so nearby queries share a key.
func PointKey(lat, lon float64, radiusKm int) string {
	raw := fmt.Sprintf("%.3f,%.3f,%d", quantize(lat), quantize(lon), radiusKm)
	sum := sha256.Sum256([]byte(raw))
	return "point-" + hex.EncodeToString(sum[:8])
}

// RegionKey is the region identifier rendered verbatim.
func RegionKey(id region.ID) string {
	return id.String()
}

func quantize(v float64) float64 {
	q := math.Round(v*1000) / 1000
	if q == 0 {
		return 0 // fold -0 so "-0.000" and "0.000" share a key
	}
	return q
}

// validity applies the read-time staleness rule shared by every backend.
type validity struct {
	window time.Duration
	now    func() time.Time
}

func newValidity(o Options) validity {
	v := validity{window: o.TTL, now: o.Now}
	if v.window <= 0 {
		v.window = DefaultTTL
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

func (v validity) fresh(e checklist.Entry) bool {
	return e.Fresh(v.now(), v.window)
}

// Options are shared by all backends.
type Options struct {
	TTL time.Duration
	// Now overrides the clock; tests use it to age entries.
	Now func() time.Time
}
