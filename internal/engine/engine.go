// Package engine implements the memory engine: entity lifecycle for
// memory entries, routing across tiers via internal/tier, the
// relationship graph, and brute-force similarity search. Grounded on the
// teacher's service-layer pattern (internal/application/services —
// thin orchestration over a repository plus domain-entity validation,
// publishing a domain event per write) generalized from node CRUD to
// memory-entry CRUD plus the similarity/aggregate operations this
// module's design requires that the teacher's graph service never had.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	coreerrors "memcore/internal/errors"
	"memcore/internal/events"
	"memcore/internal/observability"
	"memcore/internal/tier/warm"
)

// TierStore is the slice of its *tier.Store surface the memory engine
// needs. Declaring it as an interface here (rather than depending on
// *tier.Store directly) follows the teacher's repository-port-plus-mock
// testing style (application/commands/handlers's *_test.go against
// tests/mocks): *tier.Store satisfies this in production, a hand-written
// fake satisfies it in tests.
type TierStore interface {
	Put(ctx context.Context, e *memory.Entry, createOnly bool) error
	TouchAccess(ctx context.Context, e *memory.Entry) error
	Resolve(ctx context.Context, id string) (*memory.Entry, error)
	Query(ctx context.Context, serviceID, agentID, domain string, filter warm.QueryFilter) ([]*memory.Entry, error)
	ListByDomain(ctx context.Context, domain string) ([]*memory.Entry, error)
	Relate(ctx context.Context, sourceID, targetID, kind string) error
	Related(ctx context.Context, startID, kind string, maxDepth int) ([]string, error)
}

// Engine is the memory engine's public surface: store/get/query/
// search_similarity/relate/related/aggregate, all implemented over the
// tier store.
type Engine struct {
	tiers TierStore
	bus *events.Bus
	metrics *observability.Collector
	logger *zap.Logger
}

// New builds an Engine bound to a tier store, event bus, metrics
// collector, and logger.
func New(tiers TierStore, bus *events.Bus, metrics *observability.Collector, logger *zap.Logger) *Engine {
	return &Engine{tiers: tiers, bus: bus, metrics: metrics, logger: logger}
}

// Store assigns identity and writes entry via the tier store, publishing
// memory.stored on the event bus, implementing store() contract.
func (e *Engine) Store(ctx context.Context, draft memory.Draft) (*memory.Entry, error) {
	entry, err := memory.New(draft)
	if err != nil {
		return nil, err
	}
	if err := e.tiers.Put(ctx, entry, true); err != nil {
		return nil, fmt.Errorf("engine: storing memory %s: %w", entry.ID, err)
	}

	if e.metrics != nil {
		e.metrics.MemoriesStored.Inc()
	}
	if e.bus != nil {
		e.bus.Publish(ctx, events.Event{Topic: events.TopicMemoryStored, Payload: entry})
	}
	return entry, nil
}

// ApplyRemote upserts an entry received from a peer over the sync
// fabric, implementing inbound idempotency rule for
// memory payloads: "idempotent by id — if id exists with ≥ version,
// this is a no-op." Unlike Store, the entry arrives with its identity
// and version already assigned by the originating service, so this
// writes through as-is rather than calling memory.New.
func (e *Engine) ApplyRemote(ctx context.Context, remote *memory.Entry) error {
	existing, err := e.tiers.Resolve(ctx, remote.ID)
	if err != nil && !coreerrors.IsKind(err, coreerrors.KindNotFound) {
		return fmt.Errorf("engine: resolving %s for remote apply: %w", remote.ID, err)
	}
	if existing != nil && existing.Metadata.Version >= remote.Metadata.Version {
		return nil
	}
	if err := e.tiers.Put(ctx, remote, false); err != nil {
		return fmt.Errorf("engine: applying remote entry %s: %w", remote.ID, err)
	}
	if e.bus != nil {
		e.bus.Publish(ctx, events.Event{Topic: events.TopicMemoryStored, Payload: remote})
	}
	return nil
}

// Get reads an entry by id via its read-with-promotion path, bumping
// the access counter best-effort on a hit — the bump may be deferred or
// batched, but must land at least once. Returns (nil, nil) on a
// NotFound miss so callers can render "null" without inspecting error
// kinds, matching the contract's "entry | null" return shape.
func (e *Engine) Get(ctx context.Context, id string) (*memory.Entry, error) {
	entry, err := e.tiers.Resolve(ctx, id)
	if err != nil {
		if coreerrors.IsKind(err, coreerrors.KindNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("engine: getting memory %s: %w", id, err)
	}
	if entry.IsExpired(time.Now().UTC()) {
		return nil, nil
	}

	go e.bumpAccess(entry)
	return entry, nil
}

func (e *Engine) bumpAccess(entry *memory.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entry.Touch(time.Now().UTC())

	if entry.Archived {
		// entry carries the cold-rehydrated payload here; a full Put would
		// overwrite the warm-tier stub with it, so only AccessCount and
		// LastAccessedAt are updated.
		if err := e.tiers.TouchAccess(ctx, entry); err != nil && e.logger != nil {
			e.logger.Warn("engine: archived access-count bump failed", zap.String("id", entry.ID), zap.Error(err))
		}
		return
	}
	if err := e.tiers.Put(ctx, entry, false); err != nil && e.logger != nil {
		e.logger.Warn("engine: access-count bump failed", zap.String("id", entry.ID), zap.Error(err))
	}
}

// Query lists entries in a scope narrowed by filter, excluding expired
// entries and ordering by creation instant descending. Archived entries
// are returned as stubs (payload nil), left for the caller to rehydrate
// via Get if the body is needed.
func (e *Engine) Query(ctx context.Context, serviceID, agentID, domain string, filter warm.QueryFilter) ([]*memory.Entry, error) {
	entries, err := e.tiers.Query(ctx, serviceID, agentID, domain, filter)
	if err != nil {
		return nil, fmt.Errorf("engine: querying scope %s/%s/%s: %w", serviceID, agentID, domain, err)
	}

	now := time.Now().UTC()
	out := make([]*memory.Entry, 0, len(entries))
	for _, ent := range entries {
		if ent.IsExpired(now) {
			continue
		}
		out = append(out, ent)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.CreatedAt.After(out[j].Metadata.CreatedAt)
	})
	return out, nil
}

// Match pairs an entry with its cosine similarity to the query vector.
type Match struct {
	Entry *memory.Entry
	Similarity float64
}

// SearchSimilarity scans every embedding-bearing entry in domain (across
// every agent scope, via its ListByDomain/GSI2) and returns the k
// entries whose cosine similarity to vector exceeds threshold, sorted
// descending — search_similarity contract. No vector
// index exists anywhere in this module's retrieval pack, so this is a
// brute-force in-process scan; acceptable at this module's scale and
// recorded in DESIGN.md.
func (e *Engine) SearchSimilarity(ctx context.Context, vector []float64, domain string, k int, threshold float64) ([]Match, error) {
	if len(vector) == 0 {
		return nil, coreerrors.InvalidInput("SIMILARITY_VECTOR_REQUIRED", "vector must not be empty").Build()
	}
	if k <= 0 {
		k = 10
	}

	candidates, err := e.tiers.ListByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("engine: listing domain %s for similarity search: %w", domain, err)
	}

	now := time.Now().UTC()
	matches := make([]Match, 0, len(candidates))
	for _, ent := range candidates {
		if ent.IsExpired(now) || len(ent.Embedding) == 0 {
			continue
		}
		sim, ok := cosineSimilarity(vector, ent.Embedding)
		if !ok || sim <= threshold {
			continue
		}
		matches = append(matches, Match{Entry: ent, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), true
}

// Relate inserts a directed relationship edge; idempotent.
func (e *Engine) Relate(ctx context.Context, sourceID, targetID, kind string) error {
	if err := e.tiers.Relate(ctx, sourceID, targetID, kind); err != nil {
		return fmt.Errorf("engine: relating %s->%s: %w", sourceID, targetID, err)
	}
	return nil
}

// Related performs a breadth-first traversal over relationship edges up
// to maxDepth hops from id, optionally restricted to a single
// relationship kind, deduplicating and resolving each visited id back to
// its entry. Dangling edges (target id no longer resolvable) are
// tolerated and skipped.
func (e *Engine) Related(ctx context.Context, id, kind string, maxDepth int) ([]*memory.Entry, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	ids, err := e.tiers.Related(ctx, id, kind, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("engine: traversing relationships from %s: %w", id, err)
	}

	out := make([]*memory.Entry, 0, len(ids))
	for _, rid := range ids {
		ent, err := e.tiers.Resolve(ctx, rid)
		if err != nil {
			if coreerrors.IsKind(err, coreerrors.KindNotFound) {
				continue
			}
			return nil, fmt.Errorf("engine: resolving related entry %s: %w", rid, err)
		}
		out = append(out, ent)
	}
	return out, nil
}

// Aggregation is the shape returned by Aggregate: entry counts for a
// (service_id, domain) scope over a trailing window, broken down by
// kind, plus average importance and archived count — the closest
// analogue to a "metrics rollup" the memory (as opposed to learning)
// side of the core produces, feeding the /memory/aggregations edge
// route.
type Aggregation struct {
	ServiceID string
	Domain string
	Window time.Duration
	TotalCount int
	ByKind map[memory.Kind]int
	ArchivedCount int
	AvgImportance float64
}

// Aggregate computes the aggregation shape over entries in (serviceID,
// domain) created within the trailing window. Built over ListByDomain
// (GSI2) since aggregation spans every agent in the domain, the same
// simplification SearchSimilarity relies on.
func (e *Engine) Aggregate(ctx context.Context, serviceID, domain string, window time.Duration) (*Aggregation, error) {
	entries, err := e.tiers.ListByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("engine: aggregating domain %s: %w", domain, err)
	}

	since := time.Now().UTC().Add(-window)
	agg := &Aggregation{ServiceID: serviceID, Domain: domain, Window: window, ByKind: map[memory.Kind]int{}}

	var importanceSum float64
	for _, ent := range entries {
		if ent.ServiceID != serviceID || ent.Metadata.CreatedAt.Before(since) {
			continue
		}
		agg.TotalCount++
		agg.ByKind[ent.Kind]++
		importanceSum += ent.Metadata.Importance
		if ent.Archived {
			agg.ArchivedCount++
		}
	}
	if agg.TotalCount > 0 {
		agg.AvgImportance = importanceSum / float64(agg.TotalCount)
	}
	return agg, nil
}
