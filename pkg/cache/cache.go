// Package cache holds the pluggable stores for fetched payloads.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores payloads keyed by source URI. Get returns errors.ErrCacheMiss
// when the key is absent or expired. Implementations are safe for concurrent
// use; concurrent writes to one key resolve last-write-wins.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}
