package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	coreerrors "memcore/internal/errors"
	"memcore/internal/events"
	"memcore/internal/tier/warm"
)

// fakeTierStore is an in-memory stand-in for *tier.Store, following the
// teacher's hand-written in-memory mock pattern
// (internal/repository/mocks.MockRepository: maps guarded by a mutex,
// no DB dependency) rather than a generated mock, since TierStore's
// surface is narrow enough to hand-roll.
type fakeTierStore struct {
	mu         sync.Mutex
	byID       map[string]*memory.Entry
	edges      map[string][]edge
	putCalls   int
	touchCalls int
}

type edge struct {
	target string
	kind   string
}

func newFakeTierStore() *fakeTierStore {
	return &fakeTierStore{byID: map[string]*memory.Entry{}, edges: map[string][]edge{}}
}

func (f *fakeTierStore) Put(_ context.Context, e *memory.Entry, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	cp := *e
	f.byID[e.ID] = &cp
	return nil
}

func (f *fakeTierStore) TouchAccess(_ context.Context, e *memory.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchCalls++
	existing, ok := f.byID[e.ID]
	if !ok {
		return coreerrors.NotFound("MEMORY_NOT_FOUND", "not found").Build()
	}
	existing.Metadata.AccessCount = e.Metadata.AccessCount
	existing.Metadata.LastAccessedAt = e.Metadata.LastAccessedAt
	return nil
}

func (f *fakeTierStore) Resolve(_ context.Context, id string) (*memory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, coreerrors.NotFound("MEMORY_NOT_FOUND", "not found").Build()
	}
	cp := *e
	return &cp, nil
}

func (f *fakeTierStore) Query(_ context.Context, serviceID, agentID, domain string, filter warm.QueryFilter) ([]*memory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memory.Entry
	for _, e := range f.byID {
		if e.ServiceID != serviceID || e.AgentID != agentID || e.Domain != domain {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTierStore) ListByDomain(_ context.Context, domain string) ([]*memory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memory.Entry
	for _, e := range f.byID {
		if e.Domain != domain {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTierStore) Relate(_ context.Context, sourceID, targetID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.edges[sourceID] {
		if ex.target == targetID && ex.kind == kind {
			return nil
		}
	}
	f.edges[sourceID] = append(f.edges[sourceID], edge{target: targetID, kind: kind})
	return nil
}

func (f *fakeTierStore) Related(_ context.Context, startID, kind string, maxDepth int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	visited := map[string]struct{}{startID: {}}
	frontier := []string{startID}
	var out []string
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, ex := range f.edges[id] {
				if kind != "" && ex.kind != kind {
					continue
				}
				if _, seen := visited[ex.target]; seen {
					continue
				}
				visited[ex.target] = struct{}{}
				out = append(out, ex.target)
				next = append(next, ex.target)
			}
		}
		frontier = next
	}
	return out, nil
}

func mustEntry(t *testing.T, domain string, embedding []float64) *memory.Entry {
	t.Helper()
	e, err := memory.New(memory.Draft{
		ServiceID: "svc", AgentID: "agent", Domain: domain,
		Kind: memory.KindSemantic, Payload: memory.Value{"k": "v"}, Embedding: embedding,
	})
	require.NoError(t, err)
	return e
}

func newTestEngine() (*Engine, *fakeTierStore) {
	tiers := newFakeTierStore()
	bus := events.New(zap.NewNop())
	return New(tiers, bus, nil, zap.NewNop()), tiers
}

func TestStoreAssignsIdentityAndPersists(t *testing.T) {
	eng, tiers := newTestEngine()
	stored, err := eng.Store(context.Background(), memory.Draft{
		ServiceID: "svc", AgentID: "agent", Domain: "dom", Kind: memory.KindWorking,
		Payload: memory.Value{"x": 1},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, 1, stored.Metadata.Version)

	got, err := tiers.Resolve(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
}

func TestStoreRejectsInvalidDraft(t *testing.T) {
	eng, _ := newTestEngine()
	_, err := eng.Store(context.Background(), memory.Draft{Kind: memory.KindWorking})
	require.Error(t, err)
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindInvalidInput))
}

func TestGetReturnsNilOnMiss(t *testing.T) {
	eng, _ := newTestEngine()
	got, err := eng.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetReturnsNilForExpiredEntry(t *testing.T) {
	eng, tiers := newTestEngine()
	past := time.Now().UTC().Add(-time.Hour)
	e := mustEntry(t, "dom", nil)
	e.Metadata.ExpiresAt = &past
	require.NoError(t, tiers.Put(context.Background(), e, true))

	got, err := eng.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchSimilarityRanksAndFilters(t *testing.T) {
	eng, tiers := newTestEngine()
	a := mustEntry(t, "marketing", []float64{1, 0, 0})
	b := mustEntry(t, "marketing", []float64{0.9, 0.1, 0})
	c := mustEntry(t, "marketing", []float64{0, 1, 0})
	for _, e := range []*memory.Entry{a, b, c} {
		require.NoError(t, tiers.Put(context.Background(), e, true))
	}

	matches, err := eng.SearchSimilarity(context.Background(), []float64{1, 0, 0}, "marketing", 2, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, a.ID, matches[0].Entry.ID)
	assert.Equal(t, b.ID, matches[1].Entry.ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestSearchSimilarityTopRankedIsSelf(t *testing.T) {
	eng, tiers := newTestEngine()
	e := mustEntry(t, "dom", []float64{1, 2, 3})
	require.NoError(t, tiers.Put(context.Background(), e, true))

	matches, err := eng.SearchSimilarity(context.Background(), []float64{1, 2, 3}, "dom", 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, e.ID, matches[0].Entry.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestSearchSimilarityRejectsEmptyVector(t *testing.T) {
	eng, _ := newTestEngine()
	_, err := eng.SearchSimilarity(context.Background(), nil, "dom", 1, 0)
	require.Error(t, err)
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindInvalidInput))
}

func TestRelatedTraversesTwoHops(t *testing.T) {
	eng, tiers := newTestEngine()
	a := mustEntry(t, "dom", nil)
	b := mustEntry(t, "dom", nil)
	c := mustEntry(t, "dom", nil)
	for _, e := range []*memory.Entry{a, b, c} {
		require.NoError(t, tiers.Put(context.Background(), e, true))
	}
	require.NoError(t, eng.Relate(context.Background(), a.ID, b.ID, "related"))
	require.NoError(t, eng.Relate(context.Background(), b.ID, c.ID, "related"))

	depth1, err := eng.Related(context.Background(), a.ID, "", 1)
	require.NoError(t, err)
	require.Len(t, depth1, 1)
	assert.Equal(t, b.ID, depth1[0].ID)

	depth2, err := eng.Related(context.Background(), a.ID, "", 2)
	require.NoError(t, err)
	ids := []string{depth2[0].ID, depth2[1].ID}
	assert.ElementsMatch(t, []string{b.ID, c.ID}, ids)
}

func TestRelateIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine()
	require.NoError(t, eng.Relate(context.Background(), "a", "b", "related"))
	require.NoError(t, eng.Relate(context.Background(), "a", "b", "related"))
}

func TestApplyRemoteSkipsStaleVersion(t *testing.T) {
	eng, tiers := newTestEngine()
	e := mustEntry(t, "dom", nil)
	e.Metadata.Version = 5
	require.NoError(t, tiers.Put(context.Background(), e, true))

	stale := *e
	stale.Metadata.Version = 3
	stale.Payload = memory.Value{"changed": true}
	require.NoError(t, eng.ApplyRemote(context.Background(), &stale))

	got, err := tiers.Resolve(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Metadata.Version)
}

func TestApplyRemoteAppliesNewerVersion(t *testing.T) {
	eng, tiers := newTestEngine()
	e := mustEntry(t, "dom", nil)
	e.Metadata.Version = 1
	require.NoError(t, tiers.Put(context.Background(), e, true))

	newer := *e
	newer.Metadata.Version = 2
	newer.Payload = memory.Value{"changed": true}
	require.NoError(t, eng.ApplyRemote(context.Background(), &newer))

	got, err := tiers.Resolve(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.Version)
}

func TestApplyRemoteOnUnseenIDCreates(t *testing.T) {
	eng, tiers := newTestEngine()
	e := mustEntry(t, "dom", nil)
	require.NoError(t, eng.ApplyRemote(context.Background(), e))

	got, err := tiers.Resolve(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestGetOnArchivedEntryTouchesAccessWithoutFullPut(t *testing.T) {
	eng, tiers := newTestEngine()
	e := mustEntry(t, "dom", nil)
	e.Archived = true
	require.NoError(t, tiers.Put(context.Background(), e, true))
	tiers.mu.Lock()
	tiers.putCalls = 0
	tiers.mu.Unlock()

	got, err := eng.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Archived)

	require.Eventually(t, func() bool {
		tiers.mu.Lock()
		defer tiers.mu.Unlock()
		return tiers.touchCalls == 1
	}, time.Second, 10*time.Millisecond)

	tiers.mu.Lock()
	defer tiers.mu.Unlock()
	assert.Equal(t, 0, tiers.putCalls, "archived entry read must not trigger a full warm-tier rewrite")
	assert.Equal(t, int64(1), tiers.byID[e.ID].Metadata.AccessCount)
}

func TestAggregateCountsByKindWithinWindow(t *testing.T) {
	eng, tiers := newTestEngine()
	recent := mustEntry(t, "dom", nil)
	recent.Metadata.Importance = 4
	stale := mustEntry(t, "dom", nil)
	stale.Metadata.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	stale.Metadata.Importance = 8
	for _, e := range []*memory.Entry{recent, stale} {
		require.NoError(t, tiers.Put(context.Background(), e, true))
	}

	agg, err := eng.Aggregate(context.Background(), "svc", "dom", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalCount)
	assert.Equal(t, 1, agg.ByKind[memory.KindSemantic])
	assert.InDelta(t, 4, agg.AvgImportance, 1e-9)
}
