package learning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, kind Kind, confidence float64, fb *Feedback) *Event {
	t.Helper()
	e, err := NewEvent(Draft{
		ServiceID: "svc-a",
		AgentID:   "agent-1",
		Domain:    "support",
		Kind:      kind,
		Input:     map[string]interface{}{"channel": "chat"},
		Output:    Output{Confidence: confidence},
		Feedback:  fb,
	})
	require.NoError(t, err)
	return e
}

func TestSignatureStableAcrossInputKeyOrder(t *testing.T) {
	e1, err := NewEvent(Draft{
		ServiceID: "svc-a", AgentID: "agent-1", Domain: "support",
		Kind:  KindTraining,
		Input: map[string]interface{}{"a": 1, "b": 2},
	})
	require.NoError(t, err)
	e2, err := NewEvent(Draft{
		ServiceID: "svc-a", AgentID: "agent-1", Domain: "support",
		Kind:  KindTraining,
		Input: map[string]interface{}{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	require.Equal(t, e1.Signature(), e2.Signature())
}

func TestSignatureDiffersByKind(t *testing.T) {
	e1 := mustEvent(t, KindTraining, 0.5, nil)
	e2 := mustEvent(t, KindFeedback, 0.5, nil)
	require.NotEqual(t, e1.Signature(), e2.Signature())
}

func TestCompositeScoreFormula(t *testing.T) {
	p := NewPattern(mustEvent(t, KindTraining, 0.8, &Feedback{Correct: true, Rating: 0.9}))
	p.Fold(mustEvent(t, KindTraining, 0.8, &Feedback{Correct: true, Rating: 0.9}))
	p.Fold(mustEvent(t, KindTraining, 0.4, &Feedback{Correct: false, Rating: 0.9}))
	p.Fold(mustEvent(t, KindFeedback, 0.9, nil))

	want := 0.5*p.SuccessRate() + 0.3*p.AvgConfidence + 0.2*p.FeedbackScore()
	require.InDelta(t, want, p.CompositeScore(), 1e-9)
	require.InDelta(t, 2.0/3.0, p.SuccessRate(), 1e-9)
}

func TestCompositeScoreInUnitRange(t *testing.T) {
	p := NewPattern(mustEvent(t, KindTraining, 0.8, &Feedback{Correct: true, Rating: 1.5}))
	require.GreaterOrEqual(t, p.CompositeScore(), 0.0)
	require.LessOrEqual(t, p.CompositeScore(), 1.0)
}

func TestEmptyPatternCompositeScoreZero(t *testing.T) {
	p := &Pattern{}
	require.Zero(t, p.CompositeScore())
}

func TestSampleEventIDsBounded(t *testing.T) {
	p := NewPattern(mustEvent(t, KindTraining, 0.5, nil))
	for i := 0; i < sampleWindow+10; i++ {
		p.Fold(mustEvent(t, KindTraining, 0.5, nil))
	}
	require.LessOrEqual(t, len(p.SampleEventIDs), sampleWindow)
}
