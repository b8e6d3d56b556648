package offline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/fsutil"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/region"
)

const (
	lockFile           = ".sync.lock"
	lockRetryDelay     = 250 * time.Millisecond
	defaultConcurrency = 4
	filePerm           = 0o644
	dirPerm            = 0o755
)

// Source supplies country species lists. *ebird.Client satisfies it.
type Source interface {
	SpeciesList(ctx context.Context, id region.ID) ([]checklist.SpeciesCode, error)
	Countries(ctx context.Context) ([]ebird.RegionInfo, error)
}

// Builder downloads country lists into an offline directory.
type Builder struct {
	dir         string
	source      Source
	concurrency int
	now         func() time.Time
	log         logger.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithConcurrency bounds parallel downloads.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder returns a builder writing into dir.
func NewBuilder(dir string, source Source, opts ...BuilderOption) *Builder {
	b := &Builder{
		dir:         dir,
		source:      source,
		concurrency: defaultConcurrency,
		now:         time.Now,
		log:         GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Report describes the outcome of a build.
type Report struct {
	Index   *Index
	Written []string
	Skipped []string         // countries whose list came back empty
	Failed  map[string]error // countries whose download failed
}

// Build refreshes the given countries, or every country the source knows when
// codes is empty. Countries already in the index but not requested are kept.
// Download failures are reported per country; only local I/O errors fail the build.
func (b *Builder) Build(ctx context.Context, codes []string) (*Report, error) {
	if err := os.MkdirAll(b.dir, dirPerm); err != nil {
		return nil, errors.New(err).
			Component("offline").
			Category(errors.CategoryFileIO).
			Context("dir", b.dir).
			Build()
	}

	lock := flock.New(filepath.Join(b.dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		if err == nil {
			err = errors.NewStd("lock not acquired")
		}
		return nil, errors.Newf("failed to lock offline directory: %w", err).
			Component("offline").
			Category(errors.CategoryFileIO).
			Context("dir", b.dir).
			Build()
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			b.log.Warn("failed to release offline directory lock", logger.Error(err))
		}
	}()

	names := b.countryNames(ctx)
	countries, err := b.targets(codes, names)
	if err != nil {
		return nil, err
	}

	index := &Index{Countries: map[string]CountryInfo{}}
	if existing, err := readIndex(filepath.Join(b.dir, IndexFile)); err == nil {
		index = existing
	}

	report := &Report{Index: index, Failed: map[string]error{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, country := range countries {
		g.Go(func() error {
			cc := country.CountryCode()
			species, err := b.source.SpeciesList(gctx, country)
			if err != nil {
				b.log.Warn("offline download failed",
					logger.String("country", cc),
					logger.String("category", string(errors.CategoryOf(err))),
					logger.Error(err))
				mu.Lock()
				report.Failed[cc] = err
				mu.Unlock()
				return nil
			}
			if len(species) == 0 {
				mu.Lock()
				report.Skipped = append(report.Skipped, cc)
				mu.Unlock()
				return nil
			}

			now := b.now().UTC()
			entry := checklist.NewEntry(checklist.NewSet(species...), checklist.SourceCountryOffline, now).
				WithRegion(cc, cc)
			if err := b.writeEntry(cc, entry); err != nil {
				return err
			}

			mu.Lock()
			index.Countries[cc] = CountryInfo{
				SpeciesCount: entry.SpeciesCount,
				Name:         names[cc],
				UpdatedAt:    now,
			}
			report.Written = append(report.Written, cc)
			mu.Unlock()

			b.log.Info("offline country list written",
				logger.String("country", cc),
				logger.Int("species_count", entry.SpeciesCount))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(report.Written)
	slices.Sort(report.Skipped)

	index.GeneratedAt = b.now().UTC()
	if err := b.writeJSON(IndexFile, index); err != nil {
		return nil, err
	}

	b.log.Info("offline store updated",
		logger.Int("written", len(report.Written)),
		logger.Int("skipped", len(report.Skipped)),
		logger.Int("failed", len(report.Failed)),
		logger.Int("total_countries", len(index.Countries)))
	return report, nil
}

// countryNames is best effort; a failure only leaves names blank.
func (b *Builder) countryNames(ctx context.Context) map[string]string {
	names := map[string]string{}
	list, err := b.source.Countries(ctx)
	if err != nil {
		b.log.Warn("failed to fetch country names", logger.Error(err))
		return names
	}
	for _, c := range list {
		names[c.Code] = c.Name
	}
	return names
}

func (b *Builder) targets(codes []string, names map[string]string) ([]region.ID, error) {
	if len(codes) == 0 {
		if len(names) == 0 {
			return nil, errors.Newf("no countries requested and the country list is unavailable").
				Component("offline").
				Category(errors.CategoryValidation).
				Build()
		}
		for cc := range names {
			codes = append(codes, cc)
		}
		slices.Sort(codes)
	}

	seen := map[string]bool{}
	out := make([]region.ID, 0, len(codes))
	for _, code := range codes {
		id, err := region.NewCountry(code)
		if err != nil {
			return nil, err
		}
		if cc := id.CountryCode(); !seen[cc] {
			seen[cc] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (b *Builder) writeEntry(cc string, entry checklist.Entry) error {
	return b.writeJSON(cc+".json", entry)
}

func (b *Builder) writeJSON(name string, v any) error {
	path := filepath.Join(b.dir, name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("offline").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	if err := fsutil.WriteFileAtomic(path, data, filePerm); err != nil {
		return errors.New(err).
			Component("offline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}
