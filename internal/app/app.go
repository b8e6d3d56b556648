// Package app builds the long-lived handles shared by every command: the
// species cache, the eBird client, the region resolver, the offline store, the
// location pipeline and the reconciler.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/birdid/internal/buildinfo"
	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/checklist/cache"
	"github.com/tphakala/birdid/internal/checklist/offline"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/observability"
	"github.com/tphakala/birdid/internal/reconcile"
	"github.com/tphakala/birdid/internal/region"
	"github.com/tphakala/birdid/internal/taxonomy"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("app")
	})
	return pkgLogger
}

// App holds the wired components. EBird and Regions are nil when their
// service is not configured; the pipeline then skips the tiers needing them.
type App struct {
	Settings   *conf.Settings
	Metrics    *observability.Metrics
	Cache      cache.Store
	EBird      *ebird.Client
	Regions    *region.Resolver
	Offline    *offline.Store
	Pipeline   *locate.Pipeline
	Reconciler *reconcile.Reconciler

	taxonomyMu      sync.Mutex
	taxonomy        *taxonomy.Index
	taxonomyErr     error
	taxonomyAttempt time.Time
	taxonomyRetry   time.Duration
}

// taxonomyRetryInterval spaces out reload attempts after a failed taxonomy load.
const taxonomyRetryInterval = time.Minute

// New wires every component from settings.
func New(ctx context.Context, settings *conf.Settings) (*App, error) {
	log := GetLogger()
	a := &App{Settings: settings, taxonomyRetry: taxonomyRetryInterval}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryGeneric).
			Build()
	}
	a.Metrics = m

	a.Cache, err = cache.Open(ctx, cache.Config{
		Backend:     settings.Cache.Backend,
		Dir:         settings.Cache.Dir,
		TTL:         settings.Cache.TTL,
		SQLitePath:  settings.Cache.SQLite.Path,
		RedisURL:    settings.Cache.Redis.URL,
		RedisPrefix: settings.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}

	if settings.EBird.APIKey != "" {
		a.EBird, err = ebird.NewClient(ebird.Config{
			APIKey:       settings.EBird.APIKey,
			BaseURL:      settings.EBird.BaseURL,
			Timeout:      settings.EBird.Timeout,
			RateLimitMS:  settings.EBird.RateLimitMs,
			MaxRetries:   settings.EBird.MaxRetries,
			ReferenceTTL: settings.EBird.ReferenceTTL,
			Locale:       settings.EBird.Locale,
		}, ebird.WithMetrics(m.EBird))
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn("eBird API key not configured, only offline species lists are available")
	}

	if settings.Geocoder.Enabled {
		table, err := region.DefaultTable()
		if err != nil {
			a.Close()
			return nil, err
		}
		geocoder := region.NewNominatim(region.NominatimConfig{
			Endpoint:  settings.Geocoder.Endpoint,
			UserAgent: settings.UserAgent(buildinfo.Current().UserAgent()),
			Timeout:   settings.Geocoder.Timeout,
			RateLimit: settings.Geocoder.RateLimit,
		}, nil)
		a.Regions = region.NewResolver(geocoder, table, region.WithMemoTTL(settings.Geocoder.MemoTTL))
	}

	a.Offline = offline.NewStore(settings.Offline.Dir)

	// Interfaces stay nil rather than holding typed nil pointers.
	deps := locate.Dependencies{
		Cache:   a.Cache,
		Offline: a.Offline,
		Metrics: m.Locate,
	}
	if a.EBird != nil {
		deps.Fetcher = a.EBird
	}
	if a.Regions != nil {
		deps.Regions = a.Regions
	}
	a.Pipeline = locate.New(deps,
		locate.WithMinSpecies(settings.Filter.MinSpecies),
		locate.WithResolveTimeout(2*settings.EBird.Timeout+settings.Geocoder.Timeout))

	a.Reconciler = reconcile.New(a.Pipeline,
		reconcile.WithBroadenBelow(settings.Filter.BroadenBelow),
		reconcile.WithRejectedCap(settings.Filter.RejectedCap),
		reconcile.WithMetrics(m.Locate))

	log.Debug("components initialised",
		logger.String("cache_backend", settings.Cache.Backend),
		logger.Bool("ebird", a.EBird != nil),
		logger.Bool("geocoder", a.Regions != nil),
		logger.String("offline_dir", settings.Offline.Dir))
	return a, nil
}

// Taxonomy loads the eBird taxonomy and keeps the first successful load. A
// failed load is retried on a later call once the retry interval has passed.
// Without an API key it returns an empty index; explicit class mappings can
// still be added to it.
func (a *App) Taxonomy(ctx context.Context) (*taxonomy.Index, error) {
	a.taxonomyMu.Lock()
	defer a.taxonomyMu.Unlock()

	if a.taxonomy != nil {
		return a.taxonomy, nil
	}
	if a.EBird == nil {
		a.taxonomy = taxonomy.NewIndex()
		return a.taxonomy, nil
	}
	if a.taxonomyErr != nil && time.Since(a.taxonomyAttempt) < a.taxonomyRetry {
		return nil, a.taxonomyErr
	}

	a.taxonomyAttempt = time.Now()
	ix, err := taxonomy.Load(ctx, a.EBird, a.Settings.EBird.Locale)
	if err != nil {
		a.taxonomyErr = err
		return nil, err
	}
	a.taxonomy, a.taxonomyErr = ix, nil
	return ix, nil
}

// Lookup resolves candidate ids through the taxonomy, loading it on demand so
// a taxonomy that was unavailable at startup is picked up once eBird answers.
// Until then ids are matched as raw species codes.
func (a *App) Lookup() reconcile.Lookup {
	return reconcile.LookupFunc(func(speciesID string) (checklist.SpeciesCode, bool) {
		timeout := a.Settings.EBird.Timeout
		if timeout <= 0 {
			timeout = ebird.DefaultConfig().Timeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ix, _ := a.Taxonomy(ctx)
		return SpeciesLookup(ix).Code(speciesID)
	})
}

// SpeciesLookup resolves candidate ids through ix and falls back to treating
// the id as a species code.
func SpeciesLookup(ix *taxonomy.Index) reconcile.Lookup {
	return reconcile.LookupFunc(func(speciesID string) (checklist.SpeciesCode, bool) {
		if code, ok := ix.Code(speciesID); ok {
			return code, true
		}
		id := strings.TrimSpace(speciesID)
		return checklist.SpeciesCode(id), id != ""
	})
}

// Close releases the cache and the eBird client.
func (a *App) Close() {
	if a.EBird != nil {
		a.EBird.Close()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			GetLogger().Warn("failed to close species cache", logger.Error(err))
		}
	}
}
