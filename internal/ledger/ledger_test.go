package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	"memcore/internal/events"
	"memcore/internal/tier/hot"
)

// fakeEventStore and fakePatternStore are hand-written in-memory fakes,
// matching the style of internal/engine's fakeTierStore and ultimately
// the teacher's internal/repository/mocks.MockRepository.
type fakeEventStore struct {
	mu   sync.Mutex
	rows []*learning.Event
}

func newFakeEventStore() *fakeEventStore { return &fakeEventStore{} }

func (f *fakeEventStore) Append(_ context.Context, e *learning.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, e)
	return nil
}

func (f *fakeEventStore) Since(_ context.Context, serviceID, agentID, domain string, since time.Time, limit int32) ([]*learning.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*learning.Event
	for _, e := range f.rows {
		if e.ServiceID == serviceID && e.AgentID == agentID && e.Domain == domain && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ListSince(_ context.Context, domain string, since time.Time, limit int32) ([]*learning.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*learning.Event
	for _, e := range f.rows {
		if e.Domain == domain && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePatternStore struct {
	mu    sync.Mutex
	byKey map[string]*learning.Pattern
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{byKey: map[string]*learning.Pattern{}}
}

func (f *fakePatternStore) Get(_ context.Context, domain, signature string) (*learning.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[domain+"|"+signature], nil
}

func (f *fakePatternStore) Put(_ context.Context, p *learning.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKey[p.Domain+"|"+p.Signature] = p
	return nil
}

func (f *fakePatternStore) ListByDomain(_ context.Context, domain string, minFrequency int64) ([]*learning.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*learning.Pattern
	for _, p := range f.byKey {
		if p.Domain == domain && p.Frequency >= minFrequency {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestLedger() (*Ledger, *fakeEventStore, *fakePatternStore) {
	es := newFakeEventStore()
	ps := newFakePatternStore()
	h := hot.NewLocal(1000, 1<<20, zap.NewNop())
	bus := events.New(zap.NewNop())
	return New(es, ps, h, bus, nil, zap.NewNop()), es, ps
}

func draft(domain string, kind learning.Kind, confidence float64, correct bool) learning.Draft {
	return learning.Draft{
		ServiceID: "svc", AgentID: "agent", Domain: domain, Kind: kind,
		Input:  map[string]interface{}{"feature": "x"},
		Output: learning.Output{Prediction: "p", Confidence: confidence},
		Feedback: &learning.Feedback{Rating: confidence, Correct: correct},
	}
}

func TestRecordAppendsAndFoldsPattern(t *testing.T) {
	l, es, _ := newTestLedger()
	ev, err := l.Record(context.Background(), draft("dom", learning.KindTraining, 0.8, true))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	got, err := es.Since(context.Background(), "svc", "agent", "dom", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestRecordRejectsInvalidKind(t *testing.T) {
	l, _, _ := newTestLedger()
	_, err := l.Record(context.Background(), learning.Draft{ServiceID: "svc", AgentID: "agent", Domain: "dom", Kind: "bogus"})
	require.Error(t, err)
}

func TestPatternSweeperPersistsHotPattern(t *testing.T) {
	l, _, ps := newTestLedger()
	for i := 0; i < 3; i++ {
		_, err := l.Record(context.Background(), draft("dom", learning.KindTraining, 0.8, true))
		require.NoError(t, err)
	}

	l.sweepPatterns(context.Background())

	patterns, err := l.Patterns(context.Background(), "dom", 1)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, int64(3), patterns[0].Frequency)
	_ = ps
}

func TestHistoryFiltersByKind(t *testing.T) {
	l, _, _ := newTestLedger()
	_, err := l.Record(context.Background(), draft("dom", learning.KindTraining, 0.8, true))
	require.NoError(t, err)
	_, err = l.Record(context.Background(), draft("dom", learning.KindFeedback, 0.6, false))
	require.NoError(t, err)

	evs, err := l.History(context.Background(), "svc", "agent", "dom", HistoryFilter{Kind: learning.KindFeedback})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, learning.KindFeedback, evs[0].Kind)
}

func TestMetricsComputesRatesAndCost(t *testing.T) {
	l, _, _ := newTestLedger()
	d1 := draft("dom", learning.KindTraining, 0.9, true)
	d1.Impact = learning.Impact{ModelUpdated: true}
	d1.Cost = &learning.Cost{AmountUSD: 1.5, LatencyMS: 100}
	_, err := l.Record(context.Background(), d1)
	require.NoError(t, err)

	d2 := draft("dom", learning.KindFeedback, 0.4, false)
	_, err = l.Record(context.Background(), d2)
	require.NoError(t, err)

	roll, err := l.Metrics(context.Background(), "dom", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, roll.TotalCount)
	assert.InDelta(t, 0.5, roll.AdaptationRate, 1e-9)
	assert.InDelta(t, 1.0, roll.FeedbackRate, 1e-9)
	assert.InDelta(t, 1.5, roll.Cost.TotalUSD, 1e-9)
}

func TestApplyRemoteDropsDuplicateEventID(t *testing.T) {
	l, es, _ := newTestLedger()
	ev, err := learning.NewEvent(draft("dom", learning.KindTraining, 0.7, true))
	require.NoError(t, err)

	require.NoError(t, l.ApplyRemote(context.Background(), ev))
	require.NoError(t, l.ApplyRemote(context.Background(), ev))

	got, err := es.Since(context.Background(), "svc", "agent", "dom", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPerformanceImprovementZeroWhenFirstHalfEmpty(t *testing.T) {
	got := performanceImprovement(nil)
	assert.Equal(t, 0.0, got)
}

func TestTrendsClassifiesImprovingSeries(t *testing.T) {
	l, _, _ := newTestLedger()
	now := time.Now().UTC()
	periodLength := time.Hour

	mkEvent := func(occurredAt time.Time, confidence float64) *learning.Event {
		ev, err := learning.NewEvent(draft("dom", learning.KindTraining, confidence, true))
		require.NoError(t, err)
		ev.OccurredAt = occurredAt
		return ev
	}

	es := l.events.(*fakeEventStore)
	// Period 0 (older): within-period confidence rises 0.1 -> 0.2 (a
	// +100% split-half improvement). Period 1 (newer): 0.1 -> 0.6 (a
	// +500% split-half improvement) — a rising series classifies as
	// improving regardless of either period's absolute confidence.
	p0 := now.Add(-2 * periodLength)
	p1 := now.Add(-periodLength)
	es.rows = append(es.rows,
		mkEvent(p0.Add(10*time.Minute), 0.1),
		mkEvent(p0.Add(20*time.Minute), 0.1),
		mkEvent(p0.Add(30*time.Minute), 0.2),
		mkEvent(p0.Add(40*time.Minute), 0.2),
		mkEvent(p1.Add(10*time.Minute), 0.1),
		mkEvent(p1.Add(20*time.Minute), 0.1),
		mkEvent(p1.Add(30*time.Minute), 0.6),
		mkEvent(p1.Add(40*time.Minute), 0.6),
	)

	report, err := l.Trends(context.Background(), "dom", 2, periodLength)
	require.NoError(t, err)
	assert.Equal(t, TrendImproving, report.Trend)
	require.Len(t, report.Series, 2)
	require.Len(t, report.Forecast, 2)
	assert.InDelta(t, 100, report.Series[0], 1e-6)
	assert.InDelta(t, 500, report.Series[1], 1e-6)
}
