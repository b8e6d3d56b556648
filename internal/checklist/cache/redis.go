package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
)

const DefaultRedisPrefix = "birdid:species:"

// RedisStore keeps entries as JSON strings. Keys carry a retention TTL of twice
// the validity window so stale entries stay readable for stale-then-overwrite
// until Redis reclaims them.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	validity validity
	log      logger.Logger
}

// OpenRedis connects to url (redis://host:port/db) and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_redis_url").
			Build()
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryNetwork).
			Context("operation", "redis_ping").
			Build()
	}
	return NewRedisStore(client, prefix, opts), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		validity: newValidity(opts),
		log:      GetLogger().Module("redis"),
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (checklist.Entry, bool) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WithContext(ctx).Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
		}
		return checklist.Entry{}, false
	}
	entry, err := checklist.DecodeEntry(data)
	if err != nil {
		s.log.WithContext(ctx).Warn("ignoring corrupt cache value", logger.String("key", key), logger.Error(err))
		return checklist.Entry{}, false
	}
	if !s.validity.fresh(entry) {
		return checklist.Entry{}, false
	}
	return entry, true
}

// Put implements Store with a single SET.
func (s *RedisStore) Put(ctx context.Context, key string, entry checklist.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.New(err).Component("cache").Category(errors.CategoryFileParsing).Build()
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.retention()).Err(); err != nil {
		return errors.New(err).
			Component("cache").
			Category(errors.CategoryNetwork).
			Context("key", key).
			Build()
	}
	return nil
}

func (s *RedisStore) retention() time.Duration {
	return 2 * s.validity.window
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
