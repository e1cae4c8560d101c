// Package cache memoizes slow ledger lookups (chain info, block authors) so
// the status API does not hammer the RPC endpoint. Values are byte slices;
// callers own serialization.
package cache

import (
	"errors"
	"time"
)

var (
	ErrCacheNotFound    = errors.New("key not found in cache")
	ErrCacheFailedToSet = errors.New("failed to set value in cache")
	ErrCacheFailedToDel = errors.New("failed to delete value from cache")
	ErrCacheFailedToGet = errors.New("failed to get value from cache")
)

type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Del(keys ...string) error
}
