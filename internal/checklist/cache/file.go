package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/fsutil"
	"github.com/tphakala/birdid/internal/logger"
)

// keyPattern restricts keys to safe file names ("point-…", "US-CA").
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileStore keeps one JSON document per key under a directory.
// Writes go to a temp file that is renamed into place.
type FileStore struct {
	dir      string
	validity validity
	log      logger.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts Options) (*FileStore, error) {
	if dir == "" {
		return nil, errors.Newf("cache directory is empty").
			Component("cache").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &FileStore{
		dir:      dir,
		validity: newValidity(opts),
		log:      GetLogger().Module("file"),
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get implements Store. Unreadable or corrupt documents count as misses.
func (s *FileStore) Get(ctx context.Context, key string) (checklist.Entry, bool) {
	if !keyPattern.MatchString(key) {
		return checklist.Entry{}, false
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithContext(ctx).Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
		return checklist.Entry{}, false
	}
	entry, err := checklist.DecodeEntry(data)
	if err != nil {
		s.log.WithContext(ctx).Warn("ignoring corrupt cache entry", logger.String("key", key), logger.Error(err))
		return checklist.Entry{}, false
	}
	if !s.validity.fresh(entry) {
		s.log.WithContext(ctx).Debug("cache entry stale",
			logger.String("key", key),
			logger.Time("cached_at", entry.CachedAt))
		return checklist.Entry{}, false
	}
	return entry, true
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, key string, entry checklist.Entry) error {
	if !keyPattern.MatchString(key) {
		return errors.Newf("invalid cache key %q", key).
			Component("cache").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.New(err).Component("cache").Category(errors.CategoryFileParsing).Build()
	}
	if err := fsutil.WriteFileAtomic(s.path(key), data, 0o644); err != nil {
		return errors.New(err).
			Component("cache").
			Category(errors.CategoryFileIO).
			Context("key", key).
			Build()
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
