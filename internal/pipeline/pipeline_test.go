package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain/insight"
	"memcore/internal/domain/learning"
	"memcore/internal/events"
	"memcore/internal/tier/warm"
)

type fakeRollupStore struct {
	mu      sync.Mutex
	samples []warm.Sample
}

func newFakeRollupStore() *fakeRollupStore { return &fakeRollupStore{} }

func (f *fakeRollupStore) Put(_ context.Context, sample warm.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeRollupStore) Window(_ context.Context, domain, metric string, since time.Time, limit int32) ([]warm.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []warm.Sample
	for _, s := range f.samples {
		if s.Domain == domain && s.Metric == metric && !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeInsightStore struct {
	mu   sync.Mutex
	rows []*insight.Insight
}

func newFakeInsightStore() *fakeInsightStore { return &fakeInsightStore{} }

func (f *fakeInsightStore) Put(_ context.Context, in *insight.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, in)
	return nil
}

func (f *fakeInsightStore) Recent(_ context.Context, domain string, limit int32) ([]*insight.Insight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*insight.Insight
	for _, in := range f.rows {
		if in.Domain == domain {
			out = append(out, in)
		}
	}
	return out, nil
}

func newTestPipeline() (*Pipeline, *fakeRollupStore, *fakeInsightStore) {
	rollups := newFakeRollupStore()
	insights := newFakeInsightStore()
	bus := events.New(zap.NewNop())
	return New(rollups, insights, bus, nil, zap.NewNop()), rollups, insights
}

func mkEvent(t *testing.T, domain string, confidence float64, correct bool, latencyMS float64) *learning.Event {
	t.Helper()
	var feedback *learning.Feedback
	if true {
		feedback = &learning.Feedback{Rating: confidence, Correct: correct}
	}
	ev, err := learning.NewEvent(learning.Draft{
		ServiceID: "svc", AgentID: "agent", Domain: domain, Kind: learning.KindTraining,
		Input:    map[string]interface{}{"k": "v"},
		Output:   learning.Output{Prediction: "p", Confidence: confidence},
		Feedback: feedback,
		Cost:     &learning.Cost{LatencyMS: latencyMS},
	})
	require.NoError(t, err)
	return ev
}

func TestObserveAccumulatesCounters(t *testing.T) {
	p, _, _ := newTestPipeline()
	p.Observe(mkEvent(t, "dom", 0.9, true, 100))
	p.Observe(mkEvent(t, "dom", 0.9, true, 100))

	assert.ElementsMatch(t, []string{"dom"}, p.Domains())
	assert.EqualValues(t, 2, p.counterFor("dom").snapshot().totalEvents)
}

func TestPersistRollupsWritesFourMetrics(t *testing.T) {
	p, rollups, _ := newTestPipeline()
	p.Observe(mkEvent(t, "dom", 0.9, true, 100))

	p.persistRollups(context.Background())

	rollups.mu.Lock()
	defer rollups.mu.Unlock()
	assert.Len(t, rollups.samples, 4)
}

func TestGenerateInsightsFiresHighErrorRate(t *testing.T) {
	p, _, insights := newTestPipeline()
	for i := 0; i < 9; i++ {
		p.Observe(mkEvent(t, "support", 0.8, true, 50))
	}
	for i := 0; i < 1; i++ {
		p.Observe(mkEvent(t, "support", 0.8, false, 50))
	}
	// 1/10 = 10%, not yet over threshold; push one more error to exceed it.
	p.Observe(mkEvent(t, "support", 0.8, false, 50))

	fired, err := p.GenerateInsights(context.Background(), "support")
	require.NoError(t, err)
	require.NotEmpty(t, fired)

	var sawHighErrorRate bool
	for _, in := range fired {
		if in.Title == "High error rate" {
			sawHighErrorRate = true
			assert.Equal(t, insight.TypeAnomaly, in.Type)
			assert.Equal(t, insight.SeverityHigh, in.Severity)
		}
	}
	assert.True(t, sawHighErrorRate)

	recent, err := insights.Recent(context.Background(), "support", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)
}

func TestGenerateInsightsFiresLatencyDegradation(t *testing.T) {
	p, _, _ := newTestPipeline()
	p.Observe(mkEvent(t, "dom", 0.9, true, 900))

	fired, err := p.GenerateInsights(context.Background(), "dom")
	require.NoError(t, err)

	var sawLatency bool
	for _, in := range fired {
		if in.Title == "Latency degradation" {
			sawLatency = true
		}
	}
	assert.True(t, sawLatency)
}

func TestGenerateInsightsFiresLowFeedbackOnlyWithEvents(t *testing.T) {
	p, _, _ := newTestPipeline()
	fired, err := p.GenerateInsights(context.Background(), "empty-domain")
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestGenerateInsightsNoFiringWithinBounds(t *testing.T) {
	p, _, _ := newTestPipeline()
	for i := 0; i < 10; i++ {
		p.Observe(mkEvent(t, "healthy", 0.9, true, 100))
	}

	fired, err := p.GenerateInsights(context.Background(), "healthy")
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestLearningEventBusTriggersObserve(t *testing.T) {
	p, _, _ := newTestPipeline()
	bus := events.New(zap.NewNop())
	p2 := New(newFakeRollupStore(), newFakeInsightStore(), bus, nil, zap.NewNop())
	_ = p

	ev := mkEvent(t, "dom", 0.9, true, 100)
	bus.PublishSync(context.Background(), events.Event{Topic: events.TopicLearningRecorded, Payload: ev})

	assert.ElementsMatch(t, []string{"dom"}, p2.Domains())
}
