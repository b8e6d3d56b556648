package cache

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/birdid/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Dir         string
	TTL         time.Duration
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
}

// Open creates the configured backend. An empty backend means file.
func Open(ctx context.Context, cfg Config) (Store, error) {
	opts := Options{TTL: cfg.TTL}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileStore(cfg.Dir, opts)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath, opts)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, opts)
	case BackendMemory:
		return NewMemoryStore(opts), nil
	default:
		return nil, errors.Newf("unsupported cache backend %q", cfg.Backend).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
