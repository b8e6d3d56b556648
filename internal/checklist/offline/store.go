// Package offline reads and builds the pre-downloaded per-country species
// lists used when the remote checklist service cannot answer.
//
// Layout:
//
//	<dir>/index.json   {"generatedAt": ..., "countries": {"FI": {"speciesCount": 430, ...}}}
//	<dir>/<CC>.json    one checklist.Entry per country
package offline

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/region"
)

// IndexFile is the summary file enumerating the countries in the store.
const IndexFile = "index.json"

// CountryInfo summarises one country file.
type CountryInfo struct {
	SpeciesCount int       `json:"speciesCount"`
	Name         string    `json:"name,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Index enumerates what the offline store contains.
type Index struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	Countries   map[string]CountryInfo `json:"countries"`
}

// Has reports whether the index lists a non-empty file for cc.
func (ix *Index) Has(cc string) bool {
	if ix == nil {
		return false
	}
	info, ok := ix.Countries[cc]
	return ok && info.SpeciesCount > 0
}

// Store reads the offline dataset. The index is re-read when its file changes,
// so a store held by a long-running process sees a completed `offline sync`.
type Store struct {
	dir string
	log logger.Logger

	mu       sync.RWMutex
	index    *Index
	modTime  time.Time
	size     int64
	indexErr error
}

// NewStore returns a store rooted at dir. A missing directory is not an
// error here; lookups report it as a configuration problem.
func NewStore(dir string) *Store {
	return &Store{dir: dir, log: GetLogger()}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Index returns the current index.
func (s *Store) Index() (*Index, error) {
	path := filepath.Join(s.dir, IndexFile)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf("offline index not found at %s", path).
				Component("offline").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
		return nil, errors.New(err).
			Component("offline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	s.mu.RLock()
	cached, cachedErr := s.index, s.indexErr
	unchanged := s.modTime.Equal(info.ModTime()) && s.size == info.Size()
	s.mu.RUnlock()
	if (cached != nil || cachedErr != nil) && unchanged {
		return cached, cachedErr
	}

	index, err := readIndex(path)

	s.mu.Lock()
	s.index, s.indexErr = index, err
	s.modTime, s.size = info.ModTime(), info.Size()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("offline index unreadable",
			logger.String("path", path),
			logger.Error(err))
	} else {
		s.log.Debug("offline index loaded",
			logger.Int("countries", len(index.Countries)))
	}
	return index, err
}

// Lookup returns the species list for the country part of id. Errors are
// categorized: configuration when the index is missing, not-found when the
// index does not list the country, file-io or file-parsing for a bad file.
func (s *Store) Lookup(_ context.Context, id region.ID) (checklist.Entry, error) {
	if id.IsZero() {
		return checklist.Entry{}, errors.ValidationError("country code is required")
	}
	cc := id.CountryCode()

	index, err := s.Index()
	if err != nil {
		return checklist.Entry{}, err
	}
	if !index.Has(cc) {
		return checklist.Entry{}, errors.Newf("country %s not in offline index", cc).
			Component("offline").
			Category(errors.CategoryNotFound).
			Context("country", cc).
			Build()
	}

	path := filepath.Join(s.dir, cc+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: cc is a validated country code
	if err != nil {
		category := errors.CategoryFileIO
		if errors.Is(err, fs.ErrNotExist) {
			category = errors.CategoryNotFound
		}
		return checklist.Entry{}, errors.New(err).
			Component("offline").
			Category(category).
			Context("path", path).
			Build()
	}

	entry, err := checklist.DecodeEntry(data)
	if err != nil {
		return checklist.Entry{}, err
	}
	if entry.SpeciesCount == 0 {
		return checklist.Entry{}, errors.Newf("offline list for %s is empty", cc).
			Component("offline").
			Category(errors.CategoryNotFound).
			Context("country", cc).
			Build()
	}
	if listed := index.Countries[cc].SpeciesCount; listed != entry.SpeciesCount {
		s.log.Warn("offline index out of date",
			logger.String("country", cc),
			logger.Int("index_count", listed),
			logger.Int("file_count", entry.SpeciesCount))
	}

	entry.DataSource = checklist.SourceCountryOffline
	return entry.WithRegion(cc, cc), nil
}

func readIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the configured directory
	if err != nil {
		return nil, errors.New(err).
			Component("offline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.New(err).
			Component("offline").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	if index.Countries == nil {
		index.Countries = map[string]CountryInfo{}
	}
	return &index, nil
}
