package hot

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Local is an in-process LRU+TTL hot tier, adapted directly from the
// teacher's internal/infrastructure/cache.MemoryCache: same eviction and
// expiry bookkeeping, generalized to this package's Store interface and
// its invalidate-by-id operation (the teacher's pattern-based Clear is
// dropped — no caller in this module's write paths needs wildcard
// invalidation, every invalidation here is by entry id).
type Local struct {
	mu          sync.RWMutex
	items       map[string]*item
	lruList     *list.List
	maxItems    int
	maxBytes    int64
	currentSize int64

	hits, misses, evictions int64

	logger *zap.Logger
}

type item struct {
	key     string
	value   []byte
	size    int64
	expiry  time.Time
	element *list.Element
}

// NewLocal builds a Local hot tier bounded by maxItems entries and
// maxBytes of value storage.
func NewLocal(maxItems int, maxBytes int64, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		items:    make(map[string]*item),
		lruList:  list.New(),
		maxItems: maxItems,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (c *Local) Get(ctx context.Context, id string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[id]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	if time.Now().After(it.expiry) {
		c.remove(it)
		c.misses++
		return nil, false, nil
	}

	c.lruList.MoveToFront(it.element)
	c.hits++

	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, true, nil
}

func (c *Local) Put(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(id) + len(value))
	if size > c.maxBytes {
		c.logger.Warn("hot tier item too large, skipping cache", zap.String("id", id), zap.Int64("size", size))
		return nil
	}

	if existing, ok := c.items[id]; ok {
		c.remove(existing)
	}

	for (c.currentSize+size > c.maxBytes || len(c.items) >= c.maxItems) && c.lruList.Len() > 0 {
		oldest := c.lruList.Back().Value.(*item)
		c.remove(oldest)
		c.evictions++
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	it := &item{key: id, value: stored, size: size, expiry: time.Now().Add(ttl)}
	it.element = c.lruList.PushFront(it)
	c.items[id] = it
	c.currentSize += size
	return nil
}

func (c *Local) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[id]; ok {
		c.remove(it)
	}
	return nil
}

func (c *Local) remove(it *item) {
	if it.element != nil {
		c.lruList.Remove(it.element)
	}
	delete(c.items, it.key)
	c.currentSize -= it.size
}

// Stats reports cache hit/miss/eviction counters for observability.
func (c *Local) Stats() (hits, misses, evictions int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.evictions
}
