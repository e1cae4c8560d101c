package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const cleanupInterval = 10 * time.Minute

// MemoryStore is the single-instance default. TTLs are honored; expired
// entries are purged in the background.
type MemoryStore struct {
	data *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	value, found := s.data.Get(key)
	if !found {
		return nil, ErrCacheNotFound
	}

	return value.([]byte), nil
}

func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.data.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Del(keys ...string) error {
	for _, key := range keys {
		s.data.Delete(key)
	}
	return nil
}
