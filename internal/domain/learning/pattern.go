package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sampleWindow bounds how many representative event ids a Pattern keeps.
const sampleWindow = 20

// Pattern is the aggregated record distilled from events sharing a
// (domain, signature) key. Unlike Event
// and Entry it has no external constructor validation step: it is only
// ever built by the ledger's fold operation, never accepted directly
// from a caller.
type Pattern struct {
	ID string
	Domain string
	Signature string

	Frequency int64
	SuccessCount int64
	JudgedCount int64 // events carrying feedback, the success-rate denominator
	FeedbackSum float64
	FeedbackCount int64
	AvgConfidence float64

	FirstSeenAt time.Time
	LastSeenAt time.Time

	SampleEventIDs []string
	RecommendationHints []string
}

// NewPattern seeds a pattern from its first event and folds that event
// into it, so NewPattern followed by Fold on every subsequent event is
// sufficient to keep counts consistent.
func NewPattern(e *Event) *Pattern {
	p := &Pattern{
		ID: uuid.NewString(),
		Domain: e.Domain,
		Signature: e.Signature(),
		FirstSeenAt: e.OccurredAt,
		LastSeenAt: e.OccurredAt,
	}
	p.Fold(e)
	return p
}

// SuccessRate is the fraction of feedback-judged events marked correct.
// Events carrying no feedback do not participate in the denominator.
func (p *Pattern) SuccessRate() float64 {
	if p.JudgedCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.JudgedCount)
}

// FeedbackScore is the rolling average of feedback ratings.
func (p *Pattern) FeedbackScore() float64 {
	if p.FeedbackCount == 0 {
		return 0
	}
	return p.FeedbackSum / float64(p.FeedbackCount)
}

// CompositeScore blends success rate, average confidence, and feedback
// into a single ranking score:
// 0.5*success_rate + 0.3*avg_confidence + 0.2*feedback_score. Guaranteed
// to lie in [0,1] since every term is itself in [0,1] and the weights
// sum to 1.
func (p *Pattern) CompositeScore() float64 {
	return 0.5*p.SuccessRate() + 0.3*p.AvgConfidence + 0.2*p.FeedbackScore()
}

// Fold applies a new event sharing this pattern's signature, updating
// the running counts, rolling average confidence, sample window, and
// recommendation hints.
func (p *Pattern) Fold(e *Event) {
	p.Frequency++

	if p.Frequency > 0 {
		p.AvgConfidence = ((p.AvgConfidence * float64(p.Frequency-1)) + e.Output.Confidence) / float64(p.Frequency)
	}

	if e.Feedback != nil {
		p.JudgedCount++
		if e.Feedback.Correct {
			p.SuccessCount++
		}
		p.FeedbackSum += clamp01(e.Feedback.Rating)
		p.FeedbackCount++
	}

	if e.OccurredAt.Before(p.FirstSeenAt) || p.FirstSeenAt.IsZero() {
		p.FirstSeenAt = e.OccurredAt
	}
	if e.OccurredAt.After(p.LastSeenAt) {
		p.LastSeenAt = e.OccurredAt
	}

	p.SampleEventIDs = append(p.SampleEventIDs, e.ID)
	if len(p.SampleEventIDs) > sampleWindow {
		p.SampleEventIDs = p.SampleEventIDs[len(p.SampleEventIDs)-sampleWindow:]
	}

	p.RecommendationHints = recommendationHints(p)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recommendationHints derives the pattern's stored hints from its current
// rolling stats, recomputed on every fold rather than accumulated so a
// pattern that recovers doesn't keep stale warnings around.
func recommendationHints(p *Pattern) []string {
	var hints []string
	if p.JudgedCount >= 3 && p.SuccessRate() < 0.5 {
		hints = append(hints, fmt.Sprintf("success rate %.0f%% across %d judged events — review this pattern", p.SuccessRate()*100, p.JudgedCount))
	}
	if p.Frequency >= 3 && p.AvgConfidence < 0.5 {
		hints = append(hints, "low average confidence — consider additional training data")
	}
	if p.FeedbackCount >= 3 && p.FeedbackScore() < 0.4 {
		hints = append(hints, "low feedback score — prompt for more explicit feedback")
	}
	return hints
}
