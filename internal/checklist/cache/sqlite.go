package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// speciesListRecord is one cached entry. The full entry is kept as JSON;
// the remaining columns exist for inspection with the sqlite shell.
type speciesListRecord struct {
	CacheKey     string `gorm:"column:cache_key;primaryKey;size:128"`
	DataSource   string `gorm:"size:32;index"`
	SpeciesCount int
	CachedAt     time.Time `gorm:"index"`
	Payload      []byte
	UpdatedAt    time.Time
}

func (speciesListRecord) TableName() string { return "species_lists" }

// SQLiteStore keeps entries in a single SQLite table, upserting on Put.
type SQLiteStore struct {
	db       *gorm.DB
	validity validity
	log      logger.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.Newf("sqlite cache path is empty").
			Component("cache").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.New(err).Component("cache").Category(errors.CategoryFileIO).Context("path", path).Build()
		}
	}

	log := GetLogger().Module("sqlite")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "pool")
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&speciesListRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, dbError(err, "migrate")
	}

	return &SQLiteStore{db: db, validity: newValidity(opts), log: log}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (checklist.Entry, bool) {
	var rec speciesListRecord
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithContext(ctx).Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
		}
		return checklist.Entry{}, false
	}
	entry, err := checklist.DecodeEntry(rec.Payload)
	if err != nil {
		s.log.WithContext(ctx).Warn("ignoring corrupt cache row", logger.String("key", key), logger.Error(err))
		return checklist.Entry{}, false
	}
	if !s.validity.fresh(entry) {
		return checklist.Entry{}, false
	}
	return entry, true
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, key string, entry checklist.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.New(err).Component("cache").Category(errors.CategoryFileParsing).Build()
	}
	rec := speciesListRecord{
		CacheKey:     key,
		DataSource:   string(entry.DataSource),
		SpeciesCount: entry.SpeciesCount,
		CachedAt:     entry.CachedAt,
		Payload:      payload,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return dbError(err, "upsert")
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("cache").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
