// Package hot implements the hot tier: an expiring key-value store
// keyed by entry id, fronting the warm tier. Two implementations are
// provided — Local (in-process LRU, adapted from the teacher's
// internal/infrastructure/cache.MemoryCache) and Redis (production,
// grounded on the pack's Redis usage in evalgo-org-eve and
// wisbric-nightowl) — selected by configuration at startup.
package hot

import (
	"context"
	"time"
)

// Store is the hot tier's uniform contract: put/get/invalidate by entry
// id, with a TTL derived from the entry's expiry instant or a
// configured default.
type Store interface {
	Put(ctx context.Context, id string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Invalidate(ctx context.Context, id string) error
}
