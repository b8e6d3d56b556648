// Package reconcile merges classifier candidates with a geographic species
// filter into the final ranked list shown to the user.
//
// Filtering only removes candidates; matched candidates keep their confidence.
package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/observability/metrics"
)

const (
	// DefaultRejectedCap bounds the rejected candidates kept for the fallback.
	DefaultRejectedCap = 5
	// DefaultBroadenBelow is the point-list size under which an empty match
	// is retried against the broader regional list.
	DefaultBroadenBelow = 200

	MaxConfidence = 99.0

	// ProvenanceUnfiltered labels results produced without a filter.
	ProvenanceUnfiltered = "UNFILTERED"
)

// Suggestions offered when no candidate matches the regional list.
var noMatchSuggestions = []string{
	"Disable geographic filtering to see every candidate",
	"Switch to global mode",
}

// Outcome labels for metrics.
const (
	outcomeMatched    = "matched"
	outcomeFallback   = "fallback"
	outcomeNoMatch    = "no_regional_match"
	outcomeUnfiltered = "unfiltered"
	outcomeEmpty      = "empty"
)

// Candidate is one classifier guess.
type Candidate struct {
	SpeciesID     string  `json:"speciesId"`
	RawConfidence float64 `json:"rawConfidence"` // [0, 100]
}

// Result is one row of the reconciled list.
type Result struct {
	Rank                int                   `json:"rank"`
	SpeciesID           string                `json:"speciesId"`
	SpeciesCode         checklist.SpeciesCode `json:"speciesCode,omitempty"`
	Confidence          float64               `json:"confidence"` // [0, 99]
	MatchedRegionFilter bool                  `json:"matchedRegionFilter"`
	Provenance          string                `json:"provenance"`
}

// Outcome is the reconciled list plus how it was produced.
type Outcome struct {
	Results    []Result `json:"results"`
	Provenance string   `json:"provenance"`
	// FallbackUsed is set when results matched the broader list, not the original filter
	FallbackUsed bool `json:"fallbackUsed"`
	// NoRegionalMatch is set when nothing matched and the best rejected candidate is shown
	NoRegionalMatch bool     `json:"noRegionalMatch"`
	Suggestions     []string `json:"suggestions,omitempty"`
	// Filter is the resolution actually applied, nil when unfiltered
	Filter *locate.Resolution `json:"-"`
}

// Lookup maps a candidate's species id to a species code.
// *taxonomy.Index satisfies it.
type Lookup interface {
	Code(speciesID string) (checklist.SpeciesCode, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(speciesID string) (checklist.SpeciesCode, bool)

// Code implements Lookup.
func (f LookupFunc) Code(speciesID string) (checklist.SpeciesCode, bool) { return f(speciesID) }

// Broadener re-resolves a filter at a coarser granularity.
// *locate.Pipeline satisfies it.
type Broadener interface {
	Broaden(ctx context.Context, res *locate.Resolution) (*locate.Resolution, error)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRejectedCap overrides DefaultRejectedCap.
func WithRejectedCap(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.rejectedCap = n
		}
	}
}

// WithBroadenBelow overrides DefaultBroadenBelow.
func WithBroadenBelow(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.broadenBelow = n
		}
	}
}

// WithMetrics records outcomes into m.
func WithMetrics(m *metrics.LocateMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler applies the filter policy. The zero value is not usable; call New.
type Reconciler struct {
	broadener    Broadener
	rejectedCap  int
	broadenBelow int
	metrics      *metrics.LocateMetrics
	log          logger.Logger
}

// New creates a reconciler. broadener may be nil, which disables the
// broader-list fallback.
func New(broadener Broadener, opts ...Option) *Reconciler {
	r := &Reconciler{
		broadener:    broadener,
		rejectedCap:  DefaultRejectedCap,
		broadenBelow: DefaultBroadenBelow,
		log:          GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type scored struct {
	candidate Candidate
	code      checklist.SpeciesCode
	order     int
}

// Reconcile ranks candidates against filter. A nil filter passes every
// candidate through unfiltered. It never returns an empty list for a
// non-empty input while a filter is active.
func (r *Reconciler) Reconcile(ctx context.Context, candidates []Candidate, filter *locate.Resolution, lookup Lookup) Outcome {
	log := r.log.WithContext(ctx)

	if filter == nil {
		all := make([]scored, len(candidates))
		for i, c := range candidates {
			all[i] = scored{candidate: c, order: i}
		}
		if lookup != nil {
			for i := range all {
				all[i].code, _ = lookup.Code(all[i].candidate.SpeciesID)
			}
		}
		r.metrics.RecordReconcile(outcomeUnfiltered)
		return Outcome{
			Results:    rank(all, false, ProvenanceUnfiltered),
			Provenance: ProvenanceUnfiltered,
		}
	}

	provenance := string(filter.Source())
	kept, rejected := r.partition(candidates, filter.Species(), lookup)
	if len(kept) > 0 {
		r.metrics.RecordReconcile(outcomeMatched)
		return Outcome{
			Results:    rank(kept, true, provenance),
			Provenance: provenance,
			Filter:     filter,
		}
	}
	if len(rejected) == 0 {
		r.metrics.RecordReconcile(outcomeEmpty)
		return Outcome{Results: []Result{}, Provenance: provenance, Filter: filter}
	}

	if broader := r.broaden(ctx, filter); broader != nil {
		retained := make([]Candidate, len(rejected))
		for i, s := range rejected {
			retained[i] = s.candidate
		}
		matched, _ := r.partition(retained, broader.Species(), lookup)
		if len(matched) > 0 {
			fallback := fmt.Sprintf("%s (fallback from %s)", broader.Source(), filter.Source())
			log.Info("matched candidates against broader species list",
				logger.String("provenance", fallback),
				logger.Int("matched", len(matched)))
			r.metrics.RecordReconcile(outcomeFallback)
			return Outcome{
				Results:      rank(matched, true, fallback),
				Provenance:   fallback,
				FallbackUsed: true,
				Filter:       broader,
			}
		}
	}

	log.Info("no candidate in regional species list",
		logger.String("provenance", provenance),
		logger.String("best_candidate", rejected[0].candidate.SpeciesID))
	r.metrics.RecordReconcile(outcomeNoMatch)
	return Outcome{
		Results:         rank(rejected[:1], false, provenance),
		Provenance:      provenance,
		NoRegionalMatch: true,
		Suggestions:     slices.Clone(noMatchSuggestions),
		Filter:          filter,
	}
}

// partition splits candidates into kept (code in filter) and rejected, the
// latter sorted by confidence and capped.
func (r *Reconciler) partition(candidates []Candidate, filter checklist.Set, lookup Lookup) (kept, rejected []scored) {
	for i, c := range candidates {
		s := scored{candidate: c, order: i}
		if lookup != nil {
			if code, ok := lookup.Code(c.SpeciesID); ok {
				s.code = code
			}
		}
		if s.code != "" && filter.Contains(s.code) {
			kept = append(kept, s)
		} else {
			rejected = append(rejected, s)
		}
	}
	sortByConfidence(rejected)
	if len(rejected) > r.rejectedCap {
		rejected = rejected[:r.rejectedCap]
	}
	return kept, rejected
}

// broaden returns the broader filter when the original is a sparse point list.
func (r *Reconciler) broaden(ctx context.Context, filter *locate.Resolution) *locate.Resolution {
	if r.broadener == nil ||
		filter.Source() != checklist.SourceGPSPoint ||
		filter.Species().Len() >= r.broadenBelow {
		return nil
	}
	broader, err := r.broadener.Broaden(ctx, filter)
	if err != nil {
		r.log.WithContext(ctx).Debug("broadening failed",
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
		return nil
	}
	return broader
}

func sortByConfidence(s []scored) {
	slices.SortStableFunc(s, func(a, b scored) int {
		if c := cmp.Compare(b.candidate.RawConfidence, a.candidate.RawConfidence); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
}

func rank(s []scored, matched bool, provenance string) []Result {
	sortByConfidence(s)
	out := make([]Result, len(s))
	for i, c := range s {
		out[i] = Result{
			Rank:                i + 1,
			SpeciesID:           c.candidate.SpeciesID,
			SpeciesCode:         c.code,
			Confidence:          clampConfidence(c.candidate.RawConfidence),
			MatchedRegionFilter: matched,
			Provenance:          provenance,
		}
	}
	return out
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, MaxConfidence)
}
