package syncfabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	"memcore/internal/domain/memory"
	syncdomain "memcore/internal/domain/sync"
	"memcore/internal/events"
)

// fakeQueue is a hand-written in-memory stand-in for OutboundQueue,
// matching the teacher's mock style (maps guarded by a mutex).
type fakeQueue struct {
	mu   sync.Mutex
	rows map[string][]Queued
	seq  int
}

func newFakeQueue() *fakeQueue { return &fakeQueue{rows: map[string][]Queued{}} }

func (q *fakeQueue) Enqueue(_ context.Context, peerID string, env *syncdomain.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.rows[peerID] = append(q.rows[peerID], Queued{Envelope: env, EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano) + "-" + itoa(q.seq)})
	return nil
}

func (q *fakeQueue) Peek(_ context.Context, peerID string, limit int32) ([]Queued, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rows := q.rows[peerID]
	if int32(len(rows)) > limit {
		rows = rows[:limit]
	}
	out := make([]Queued, len(rows))
	copy(out, rows)
	return out, nil
}

func (q *fakeQueue) Remove(_ context.Context, peerID, enqueuedAt, envelopeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rows := q.rows[peerID]
	for i, r := range rows {
		if r.EnqueuedAt == enqueuedAt && r.Envelope.ID == envelopeID {
			q.rows[peerID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *fakeQueue) Depth(_ context.Context, peerID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows[peerID]), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type fakeMemoryWriter struct {
	mu      sync.Mutex
	applied []*memory.Entry
}

func (w *fakeMemoryWriter) ApplyRemote(_ context.Context, e *memory.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applied = append(w.applied, e)
	return nil
}

type fakeLearningWriter struct {
	mu      sync.Mutex
	applied []*learning.Event
}

func (w *fakeLearningWriter) ApplyRemote(_ context.Context, e *learning.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applied = append(w.applied, e)
	return nil
}

type fakeMemorySource struct{ entries []*memory.Entry }

func (s *fakeMemorySource) ListByDomain(_ context.Context, domain string) ([]*memory.Entry, error) {
	var out []*memory.Entry
	for _, e := range s.entries {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeLearningSource struct{ events []*learning.Event }

func (s *fakeLearningSource) ListSince(_ context.Context, domain string, since time.Time, limit int32) ([]*learning.Event, error) {
	var out []*learning.Event
	for _, e := range s.events {
		if e.Domain == domain && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestFabric(t *testing.T, peerConfigs []PeerConfig) (*Fabric, *fakeQueue, *fakeMemoryWriter, *fakeLearningWriter) {
	t.Helper()
	q := newFakeQueue()
	mw := &fakeMemoryWriter{}
	lw := &fakeLearningWriter{}
	f := New(Config{ServiceID: "svc-a", QueueHighWater: 5}, peerConfigs, q, nil, mw, lw, nil, nil, events.New(zap.NewNop()), nil, zap.NewNop())
	return f, q, mw, lw
}

func mustMemoryEntry(t *testing.T, domain string) *memory.Entry {
	t.Helper()
	e, err := memory.New(memory.Draft{ServiceID: "svc", AgentID: "agent", Domain: domain, Kind: memory.KindSemantic, Payload: memory.Value{"k": "v"}})
	require.NoError(t, err)
	return e
}

func mustLearningEvent(t *testing.T, domain string) *learning.Event {
	t.Helper()
	ev, err := learning.NewEvent(learning.Draft{ServiceID: "svc", AgentID: "agent", Domain: domain, Kind: learning.KindTraining, Output: learning.Output{Confidence: 0.5}})
	require.NoError(t, err)
	return ev
}

func TestDispatchIgnoresSelfSourceEnvelope(t *testing.T) {
	f, _, mw, _ := newTestFabric(t, nil)
	entry := mustMemoryEntry(t, "dom")
	payload, err := encodeMemory(entry)
	require.NoError(t, err)
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "svc-a", Payload: payload})
	require.NoError(t, err)

	f.Dispatch(context.Background(), env)
	assert.Empty(t, mw.applied)
}

func TestDispatchAppliesMemoryEnvelope(t *testing.T) {
	f, q, mw, _ := newTestFabric(t, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}}})
	entry := mustMemoryEntry(t, "dom")
	payload, err := encodeMemory(entry)
	require.NoError(t, err)
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "peer-b", Payload: payload})
	require.NoError(t, err)

	f.Dispatch(context.Background(), env)
	require.Len(t, mw.applied, 1)
	assert.Equal(t, entry.ID, mw.applied[0].ID)

	acked, err := q.Peek(context.Background(), "peer-b", 10)
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.Equal(t, syncdomain.ActionAck, acked[0].Envelope.Action)
	assert.Equal(t, env.ID, acked[0].Envelope.ID)
}

func TestDispatchAppliesLearningEnvelope(t *testing.T) {
	f, _, _, lw := newTestFabric(t, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadLearning}}})
	ev := mustLearningEvent(t, "dom")
	payload, err := encodeLearning(ev)
	require.NoError(t, err)
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadLearning, Action: syncdomain.ActionCreate, Source: "peer-b", Payload: payload})
	require.NoError(t, err)

	f.Dispatch(context.Background(), env)
	require.Len(t, lw.applied, 1)
	assert.Equal(t, ev.ID, lw.applied[0].ID)
}

func TestDispatchPublishesConfigurationEnvelopeOnSyncInboundTopic(t *testing.T) {
	bus := events.New(zap.NewNop())
	received := make(chan events.Event, 1)
	bus.Subscribe(events.TopicSyncInbound, func(_ context.Context, e events.Event) error {
		received <- e
		return nil
	})
	insightFired := make(chan events.Event, 1)
	bus.Subscribe(events.TopicInsightFired, func(_ context.Context, e events.Event) error {
		insightFired <- e
		return nil
	})

	q := newFakeQueue()
	f := New(Config{ServiceID: "svc-a", QueueHighWater: 5}, nil, q, nil, &fakeMemoryWriter{}, &fakeLearningWriter{}, nil, nil, bus, nil, zap.NewNop())
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadConfiguration, Action: syncdomain.ActionUpdate, Source: "peer-b", Payload: []byte(`{"k":"v"}`)})
	require.NoError(t, err)

	f.Dispatch(context.Background(), env)

	select {
	case e := <-received:
		assert.Equal(t, env, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected configuration envelope on TopicSyncInbound")
	}
	select {
	case <-insightFired:
		t.Fatal("configuration envelope must not be published on TopicInsightFired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchSendsErrorEnvelopeOnDecodeFailure(t *testing.T) {
	f, q, _, _ := newTestFabric(t, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}}})
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "peer-b", Payload: []byte("not json")})
	require.NoError(t, err)

	f.Dispatch(context.Background(), env)

	replies, err := q.Peek(context.Background(), "peer-b", 10)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, syncdomain.ActionError, replies[0].Envelope.Action)
	assert.NotEmpty(t, replies[0].Envelope.ErrorReason)
}

func TestEnqueueForPeersFiltersByDomainAndKind(t *testing.T) {
	f, q, _, _ := newTestFabric(t, []PeerConfig{
		{ID: "peer-mem", Endpoint: "ws://peer-mem", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}},
		{ID: "peer-other-domain", Endpoint: "ws://x", AcceptedDomains: []string{"other"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}},
		{ID: "peer-wrong-kind", Endpoint: "ws://y", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadLearning}},
	})
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "svc-a", Payload: []byte("{}")})
	require.NoError(t, err)

	f.enqueueForPeers(context.Background(), "dom", env)

	d1, _ := q.Depth(context.Background(), "peer-mem")
	d2, _ := q.Depth(context.Background(), "peer-other-domain")
	d3, _ := q.Depth(context.Background(), "peer-wrong-kind")
	assert.Equal(t, 1, d1)
	assert.Equal(t, 0, d2)
	assert.Equal(t, 0, d3)
}

func TestEnqueueForPeersDropsAtHighWaterMark(t *testing.T) {
	f, q, _, _ := newTestFabric(t, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}}})
	for i := 0; i < f.cfg.QueueHighWater; i++ {
		env, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "svc-a", Payload: []byte("{}")})
		require.NoError(t, err)
		f.enqueueForPeers(context.Background(), "dom", env)
	}
	depthBefore, _ := q.Depth(context.Background(), "peer-b")
	require.Equal(t, f.cfg.QueueHighWater, depthBefore)

	overflow, err := syncdomain.NewEnvelope(syncdomain.Draft{Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate, Source: "svc-a", Payload: []byte("{}")})
	require.NoError(t, err)
	f.enqueueForPeers(context.Background(), "dom", overflow)

	depthAfter, _ := q.Depth(context.Background(), "peer-b")
	assert.Equal(t, depthBefore, depthAfter)
}

func TestOnMemoryStoredEnqueuesForInterestedPeers(t *testing.T) {
	f, q, _, _ := newTestFabric(t, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}}})
	entry := mustMemoryEntry(t, "dom")

	err := f.onMemoryStored(context.Background(), events.Event{Topic: events.TopicMemoryStored, Payload: entry})
	require.NoError(t, err)

	depth, _ := q.Depth(context.Background(), "peer-b")
	assert.Equal(t, 1, depth)
}

func TestRunBackfillPagesMemoryHistorySinceInstant(t *testing.T) {
	q := newFakeQueue()
	mw := &fakeMemoryWriter{}
	lw := &fakeLearningWriter{}
	old := mustMemoryEntry(t, "dom")
	old.Metadata.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	recent := mustMemoryEntry(t, "dom")
	src := &fakeMemorySource{entries: []*memory.Entry{old, recent}}

	f := New(Config{ServiceID: "svc-a"}, []PeerConfig{{ID: "peer-b", Endpoint: "ws://peer-b", AcceptedDomains: []string{"dom"}, AcceptedKinds: []syncdomain.PayloadKind{syncdomain.PayloadMemory}}},
		q, nil, mw, lw, src, nil, events.New(zap.NewNop()), nil, zap.NewNop())

	req := SyncRequest{Domain: "dom", Kind: syncdomain.PayloadMemory, Since: time.Now().UTC().Add(-time.Hour)}
	reqEnv, err := NewSyncRequestEnvelope("peer-b", req)
	require.NoError(t, err)

	f.runBackfill(context.Background(), reqEnv)

	rows, err := q.Peek(context.Background(), "peer-b", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	decoded, err := decodeMemory(rows[0].Envelope.Payload)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, decoded.ID)
}
