package cache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tphakala/birdid/internal/checklist"
)

// MemoryStore is a process-local Store. Entries never expire from the map;
// the validity window is applied on read like every other backend.
type MemoryStore struct {
	items    *gocache.Cache
	validity validity
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		items:    gocache.New(gocache.NoExpiration, 0),
		validity: newValidity(opts),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (checklist.Entry, bool) {
	v, ok := s.items.Get(key)
	if !ok {
		return checklist.Entry{}, false
	}
	entry, ok := v.(checklist.Entry)
	if !ok || !s.validity.fresh(entry) {
		return checklist.Entry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Put(_ context.Context, key string, entry checklist.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.items.Set(key, entry, gocache.NoExpiration)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored entries, stale ones included.
func (s *MemoryStore) Len() int { return s.items.ItemCount() }
