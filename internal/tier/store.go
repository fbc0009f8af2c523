// Package tier implements the write-through / read-with-promotion
// orchestration across the hot, warm, and cold tiers, plus the archive
// and expiry sweepers that run as independent long-lived tasks.
package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	"memcore/internal/events"
	"memcore/internal/observability"
	"memcore/internal/tier/cold"
	"memcore/internal/tier/hot"
	"memcore/internal/tier/warm"
)

// Store is the uniform tier interface used by the memory engine :
// writes go to the warm tier synchronously and to the hot tier
// best-effort ; reads
// promote warm-tier hits into the hot tier.
type Store struct {
	hot hot.Store
	warm *warm.MemoryStore
	rels *warm.RelationshipStore
	cold *cold.Archive
	bus *events.Bus
	clock func() time.Time

	defaultTTL time.Duration
	metrics *observability.Collector
	logger *zap.Logger
}

// Config collects the tier store's dependencies and tuning knobs.
type Config struct {
	Hot hot.Store
	Warm *warm.MemoryStore
	Relationships *warm.RelationshipStore
	Cold *cold.Archive
	Bus *events.Bus
	DefaultHotTTL time.Duration
	Metrics *observability.Collector
	Logger *zap.Logger
}

// New builds a Store from Config.
func New(cfg Config) *Store {
	ttl := cfg.DefaultHotTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		hot: cfg.Hot,
		warm: cfg.Warm,
		rels: cfg.Relationships,
		cold: cfg.Cold,
		bus: cfg.Bus,
		clock: time.Now,
		defaultTTL: ttl,
		metrics: cfg.Metrics,
		logger: cfg.Logger,
	}
}

func (s *Store) hotKey(e *memory.Entry) string { return e.ID }

func (s *Store) hotTTL(e *memory.Entry) time.Duration {
	if e.Metadata.ExpiresAt != nil {
		if d := e.Metadata.ExpiresAt.Sub(s.clock()); d > 0 {
			return d
		}
		return time.Second
	}
	return s.defaultTTL
}

// Put persists e to the warm tier synchronously and refreshes the hot
// tier best-effort.
func (s *Store) Put(ctx context.Context, e *memory.Entry, createOnly bool) error {
	start := s.clock()
	if err := s.warm.Put(ctx, e, createOnly); err != nil {
		s.recordTierOp("warm", "put", "error", start)
		return err
	}
	s.recordTierOp("warm", "put", "ok", start)

	go s.refreshHot(e)
	return nil
}

// TouchAccess records an access-count bump against an entry's warm row
// without rewriting its payload, used by the memory engine after a read
// of an archived entry: a full Put there would resurrect the payload
// the archive stub deliberately dropped, corrupting the data model's
// archived invariant.
func (s *Store) TouchAccess(ctx context.Context, e *memory.Entry) error {
	start := s.clock()
	if err := s.warm.TouchAccess(ctx, e.ServiceID, e.AgentID, e.Domain, e.ID, e.Metadata.AccessCount, e.Metadata.LastAccessedAt); err != nil {
		s.recordTierOp("warm", "touch_access", "error", start)
		return err
	}
	s.recordTierOp("warm", "touch_access", "ok", start)

	go s.refreshHot(e)
	return nil
}

func (s *Store) refreshHot(e *memory.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.hot.Put(ctx, s.hotKey(e), data, s.hotTTL(e)); err != nil && s.logger != nil {
		s.logger.Warn("hot tier refresh failed", zap.String("id", e.ID), zap.Error(err))
	}
}

// Get reads by full scope+id, trying the hot tier first and promoting a
// warm-tier hit into it on miss.
func (s *Store) Get(ctx context.Context, serviceID, agentID, domain, id string) (*memory.Entry, error) {
	start := s.clock()
	if data, ok, err := s.hot.Get(ctx, id); err == nil && ok {
		var e memory.Entry
		if json.Unmarshal(data, &e) == nil {
			s.recordCacheHit()
			s.recordTierOp("hot", "get", "ok", start)
			return &e, nil
		}
	}
	s.recordCacheMiss()

	e, err := s.warm.GetByScope(ctx, serviceID, agentID, domain, id)
	if err != nil {
		s.recordTierOp("warm", "get", "error", start)
		return nil, err
	}
	s.recordTierOp("warm", "get", "ok", start)
	go s.refreshHot(e)
	return e, nil
}

// GetByID looks an entry up by id alone, used by the sync fabric's
// inbound idempotency check.
func (s *Store) GetByID(ctx context.Context, id string) (*memory.Entry, error) {
	return s.warm.GetByID(ctx, id)
}

// Resolve is the memory engine's id-only read path: hot tier by id, then
// warm tier by id (GSI1), then — if the warm row is an archived stub —
// a cold-tier rehydration, so an archived entry's payload round-trips
// exactly as written before archival.
func (s *Store) Resolve(ctx context.Context, id string) (*memory.Entry, error) {
	start := s.clock()
	if data, ok, err := s.hot.Get(ctx, id); err == nil && ok {
		var e memory.Entry
		if json.Unmarshal(data, &e) == nil {
			s.recordCacheHit()
			s.recordTierOp("hot", "get", "ok", start)
			return &e, nil
		}
	}
	s.recordCacheMiss()

	e, err := s.warm.GetByID(ctx, id)
	if err != nil {
		s.recordTierOp("warm", "get", "error", start)
		return nil, err
	}
	s.recordTierOp("warm", "get", "ok", start)

	if e.Archived {
		full, err := s.cold.Get(ctx, e.ServiceID, e.Domain, e.ID)
		if err != nil {
			return nil, err
		}
		full.Archived = true
		full.Metadata.AccessCount = e.Metadata.AccessCount
		full.Metadata.LastAccessedAt = e.Metadata.LastAccessedAt
		go s.refreshHot(full)
		return full, nil
	}

	go s.refreshHot(e)
	return e, nil
}

// Query lists entries in scope via the warm tier (the hot tier never
// serves list queries — it is keyed by entry id only, per ).
func (s *Store) Query(ctx context.Context, serviceID, agentID, domain string, filter warm.QueryFilter) ([]*memory.Entry, error) {
	return s.warm.Query(ctx, serviceID, agentID, domain, filter)
}

// ListByDomain returns every entry in domain, across every agent scope,
// with or without an embedding, feeding the memory engine's similarity
// search and aggregations.
func (s *Store) ListByDomain(ctx context.Context, domain string) ([]*memory.Entry, error) {
	return s.warm.ListByDomain(ctx, domain)
}

// Relate records a directed edge between two entries.
func (s *Store) Relate(ctx context.Context, sourceID, targetID, kind string) error {
	return s.rels.Put(ctx, sourceID, targetID, kind)
}

// Related performs the BFS traversal described in ("the BFS
// traversal in related uses a visited set keyed by entry id"), returning
// up to maxDepth hops of related ids from start. An empty kind traverses
// edges of any relationship kind; a non-empty kind restricts every hop
// to that single edge label.
func (s *Store) Related(ctx context.Context, startID, kind string, maxDepth int) ([]string, error) {
	visited := map[string]struct{}{startID: {}}
	frontier := []string{startID}
	var out []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			var neighbors []string
			var err error
			if kind == "" {
				neighbors, err = s.rels.Neighbors(ctx, id)
			} else {
				neighbors, err = s.rels.NeighborsByKind(ctx, id, kind)
			}
			if err != nil {
				return nil, fmt.Errorf("tier: traversing neighbors of %s: %w", id, err)
			}
			for _, n := range neighbors {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				out = append(out, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out, nil
}

// Archive demotes an entry to the cold tier, replaces its warm row with
// a stub (id, scope, and archived flag only, kept for lookup), evicts
// the hot tier entry, and publishes the archived event.
func (s *Store) Archive(ctx context.Context, e *memory.Entry) error {
	if err := s.cold.Put(ctx, e); err != nil {
		return err
	}

	stub := *e
	stub.Archived = true
	stub.Payload = nil
	// Embedding is retained deliberately so the domain-wide similarity
	// index (GSI2) keeps serving an archived entry's vector.
	if err := s.warm.Put(ctx, &stub, false); err != nil {
		return err
	}
	_ = s.hot.Invalidate(ctx, e.ID)

	if s.metrics != nil {
		s.metrics.MemoriesArchived.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Topic: events.TopicMemoryArchived, Payload: e})
	}
	return nil
}

// GetArchived reads an entry back from the cold tier directly, bypassing
// the warm-tier stub.
func (s *Store) GetArchived(ctx context.Context, serviceID, domain, id string) (*memory.Entry, error) {
	return s.cold.Get(ctx, serviceID, domain, id)
}

// Expire hard-deletes an entry from the warm and hot tiers and publishes
// the expired event.
func (s *Store) Expire(ctx context.Context, e *memory.Entry) error {
	if err := s.warm.Delete(ctx, e.ServiceID, e.AgentID, e.Domain, e.ID); err != nil {
		return err
	}
	_ = s.hot.Invalidate(ctx, e.ID)

	if s.metrics != nil {
		s.metrics.MemoriesExpired.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Topic: events.TopicMemoryExpired, Payload: e})
	}
	return nil
}

func (s *Store) recordTierOp(tierName, op, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.TierOperations.WithLabelValues(tierName, op, outcome).Inc()
	s.metrics.TierDuration.WithLabelValues(tierName, op).Observe(time.Since(start).Seconds())
}

func (s *Store) recordCacheHit() {
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
}

func (s *Store) recordCacheMiss() {
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}
}
