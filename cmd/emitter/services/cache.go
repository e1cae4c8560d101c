package cmd

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/ord-network/emitter/config"
	"github.com/ord-network/emitter/internal/cache"
)

var ErrCacheUnknownType = errors.New("unknown cache type")

// NewCacheStore creates a cache.Store based on the provided configuration.
func NewCacheStore(cacheConfig *config.CacheConfig) (cache.Store, error) {
	switch cacheConfig.Engine {
	case "in-memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		c := redis.NewClient(&redis.Options{
			Addr:     cacheConfig.Redis.Addr,
			Password: cacheConfig.Redis.Password,
			DB:       cacheConfig.Redis.DB,
		})
		return cache.NewRedisStore(context.Background(), c), nil
	default:
		return nil, ErrCacheUnknownType
	}
}
