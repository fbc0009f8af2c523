// Package pipeline implements the aggregation/insight pipeline: a
// real-time counter fold, a periodic rollup persist, and an hourly
// insight generator evaluating a fixed rule set, all driven off
// learning.recorded events from the event bus. Grounded on the
// teacher's Hub.Run() select-loop shape (internal/websocket/hub.go):
// one lifecycle object, several independently ticking goroutines under
// a shared cancellation context, not ad hoc timers in handlers.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain/insight"
	"memcore/internal/domain/learning"
	"memcore/internal/events"
	"memcore/internal/observability"
	"memcore/internal/tier/warm"
)

// emaAlpha is the smoothing factor for the real-time latency fold's
// exponential moving average.
const emaAlpha = 0.1

const (
	metricErrorRate = "error_rate"
	metricAvgLatency = "avg_response_time"
	metricLearningRate = "learning_rate"
	metricFeedbackRate = "feedback_rate"
)

// RollupStore is the slice of warm.RollupStore the pipeline depends on,
// declared as an interface for the same reason engine.TierStore and
// ledger.EventStore are: production passes *warm.RollupStore, tests
// pass a hand-written fake.
type RollupStore interface {
	Put(ctx context.Context, sample warm.Sample) error
	Window(ctx context.Context, domain, metric string, since time.Time, limit int32) ([]warm.Sample, error)
}

// InsightStore is the slice of warm.InsightStore the pipeline depends on.
type InsightStore interface {
	Put(ctx context.Context, in *insight.Insight) error
	Recent(ctx context.Context, domain string, limit int32) ([]*insight.Insight, error)
}

// domainCounters holds one domain's running totals, updated
// incrementally as learning events arrive so the real-time fold never
// has to rescan event history.
type domainCounters struct {
	mu sync.Mutex

	totalEvents int64
	errorEvents int64
	feedbackEvents int64
	latencyEMA float64

	firstEventAt time.Time
	lastFoldTotal int64
}

// snapshot is the derived aggregate set for one domain, the four named
// metrics rule table evaluates plus the raw count guard
// against divide-by-zero.
type snapshot struct {
	errorRate float64
	avgLatency float64
	learningRate float64 // events/day
	feedbackRate float64
	totalEvents int64
}

func (c *domainCounters) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := snapshot{totalEvents: c.totalEvents, avgLatency: c.latencyEMA}
	if c.totalEvents > 0 {
		s.errorRate = float64(c.errorEvents) / float64(c.totalEvents)
		s.feedbackRate = float64(c.feedbackEvents) / float64(c.totalEvents)
	}
	if elapsed := time.Since(c.firstEventAt); !c.firstEventAt.IsZero() && elapsed >= time.Hour {
		s.learningRate = float64(c.totalEvents) / (elapsed.Hours() / 24)
	}
	// Below one hour of observed history, learning_rate is left at zero
	// rather than extrapolated from a short burst — extrapolating a
	// five-event burst over one minute into "7200 events/day" would fire
	// AcceleratedLearning on almost every domain's first events.
	return s
}

// rule is one row of fixed rule table.
type rule struct {
	name string
	typ insight.Type
	severity insight.Severity
	title string
	description string
	recommendation string
	metricName string
	fires func(s snapshot) bool
	metricValue func(s snapshot) float64
}

// rules implements the fixed insight rule set. Type classification
// (anomaly/risk/opportunity) isn't named by the rule table itself, only
// by the Insight aggregate's own enum; this module assigns
// HighErrorRate/LatencyDegradation as anomaly/risk-leaning findings,
// AcceleratedLearning as an opportunity, and LowFeedback as a risk — a
// resolution recorded in DESIGN.md.
var rules = []rule{
	{
		name: "HighErrorRate", typ: insight.TypeAnomaly, severity: insight.SeverityHigh,
		title: "High error rate",
		description: "error rate exceeds the 10% threshold over the observation window",
		recommendation: "review recent model changes",
		metricName: metricErrorRate,
		fires: func(s snapshot) bool { return s.errorRate > 0.10 },
		metricValue: func(s snapshot) float64 { return s.errorRate },
	},
	{
		name: "LatencyDegradation", typ: insight.TypeRisk, severity: insight.SeverityMedium,
		title: "Latency degradation",
		description: "average response time exceeds 500ms",
		recommendation: "scale / optimize",
		metricName: metricAvgLatency,
		fires: func(s snapshot) bool { return s.avgLatency > 500 },
		metricValue: func(s snapshot) float64 { return s.avgLatency },
	},
	{
		name: "AcceleratedLearning", typ: insight.TypeOpportunity, severity: insight.SeverityLow,
		title: "Accelerated learning",
		description: "learning rate exceeds 10 events/day",
		recommendation: "continue strategy",
		metricName: metricLearningRate,
		fires: func(s snapshot) bool { return s.learningRate > 10 },
		metricValue: func(s snapshot) float64 { return s.learningRate },
	},
	{
		name: "LowFeedback", typ: insight.TypeRisk, severity: insight.SeverityMedium,
		title: "Low feedback rate",
		description: "feedback rate is below 20%",
		recommendation: "add feedback prompts",
		metricName: metricFeedbackRate,
		fires: func(s snapshot) bool { return s.totalEvents > 0 && s.feedbackRate < 0.20 },
		metricValue: func(s snapshot) float64 { return s.feedbackRate },
	},
}

// Pipeline is the aggregation/insight component: it subscribes to the
// learning.recorded topic to keep per-domain counters current, and
// exposes three schedules — real-time fold, rollup persist, and insight
// generation — meant to run as independent goroutines under one shared
// context.
type Pipeline struct {
	rollups RollupStore
	insights InsightStore
	bus *events.Bus
	metrics *observability.Collector
	logger *zap.Logger

	mu sync.Mutex
	counters map[string]*domainCounters
}

// New builds a Pipeline bound to its stores and subscribes it to its
// learning.recorded topic.
func New(rollups RollupStore, insights InsightStore, bus *events.Bus, metrics *observability.Collector, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		rollups: rollups,
		insights: insights,
		bus: bus,
		metrics: metrics,
		logger: logger,
		counters: map[string]*domainCounters{},
	}
	if bus != nil {
		bus.Subscribe(events.TopicLearningRecorded, p.handleLearningEvent)
	}
	return p
}

func (p *Pipeline) handleLearningEvent(_ context.Context, e events.Event) error {
	ev, ok := e.Payload.(*learning.Event)
	if !ok {
		return nil
	}
	p.Observe(ev)
	return nil
}

// Observe folds one learning event into its domain's running counters.
// Exposed directly (not just via the bus subscription) so tests and any
// caller with its own event source can drive the pipeline without a
// live Bus.
func (p *Pipeline) Observe(ev *learning.Event) {
	c := p.counterFor(ev.Domain)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalEvents == 0 {
		c.firstEventAt = ev.OccurredAt
	}
	c.totalEvents++
	if ev.Feedback != nil {
		c.feedbackEvents++
		if !ev.Feedback.Correct {
			c.errorEvents++
		}
	}
	if ev.Cost != nil {
		if c.latencyEMA == 0 {
			c.latencyEMA = ev.Cost.LatencyMS
		} else {
			c.latencyEMA = emaAlpha*ev.Cost.LatencyMS + (1-emaAlpha)*c.latencyEMA
		}
	}
}

func (p *Pipeline) counterFor(domain string) *domainCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[domain]
	if !ok {
		c = &domainCounters{}
		p.counters[domain] = c
	}
	return c
}

// RecentInsights returns the most recently persisted insights for domain,
// feeding the edge API's /analytics/insights listing without
// re-running the rule set.
func (p *Pipeline) RecentInsights(ctx context.Context, domain string, limit int32) ([]*insight.Insight, error) {
	return p.insights.Recent(ctx, domain, limit)
}

// Domains lists every domain the pipeline has observed at least one
// learning event for.
func (p *Pipeline) Domains() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.counters))
	for d := range p.counters {
		out = append(out, d)
	}
	return out
}

// RunRealTimeFold re-derives each active domain's rate-per-second from
// its running totals every interval (nominally 1s, point 1).
// The counters themselves are already current via Observe; the fold's
// job is exposing the delta, not recomputing raw sums.
func (p *Pipeline) RunRealTimeFold(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.foldOnce(interval)
		}
	}
}

func (p *Pipeline) foldOnce(interval time.Duration) {
	for _, domain := range p.Domains() {
		c := p.counterFor(domain)
		c.mu.Lock()
		delta := c.totalEvents - c.lastFoldTotal
		c.lastFoldTotal = c.totalEvents
		c.mu.Unlock()
		if delta > 0 && p.logger != nil {
			rate := float64(delta) / interval.Seconds()
			p.logger.Debug("pipeline: real-time fold", zap.String("domain", domain), zap.Float64("events_per_second", rate))
		}
	}
}

// RunRollupPersist copies each active domain's current derived metrics
// into the warm rollup time series every interval (nominally 5m).
func (p *Pipeline) RunRollupPersist(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.persistRollups(ctx)
		}
	}
}

func (p *Pipeline) persistRollups(ctx context.Context) {
	now := time.Now().UTC()
	for _, domain := range p.Domains() {
		s := p.counterFor(domain).snapshot()
		samples := []warm.Sample{
			{Domain: domain, Metric: metricErrorRate, Value: s.errorRate, Timestamp: now},
			{Domain: domain, Metric: metricAvgLatency, Value: s.avgLatency, Timestamp: now},
			{Domain: domain, Metric: metricLearningRate, Value: s.learningRate, Timestamp: now},
			{Domain: domain, Metric: metricFeedbackRate, Value: s.feedbackRate, Timestamp: now},
		}
		for _, sample := range samples {
			if err := p.rollups.Put(ctx, sample); err != nil && p.logger != nil {
				p.logger.Warn("pipeline: rollup persist failed", zap.String("domain", domain), zap.String("metric", sample.Metric), zap.Error(err))
			}
		}
	}
}

// RunInsightGeneration evaluates the fixed rule set against every
// active domain's current aggregates every interval (nominally 1h,
// point 3).
func (p *Pipeline) RunInsightGeneration(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, domain := range p.Domains() {
				if _, err := p.GenerateInsights(ctx, domain); err != nil && p.logger != nil {
					p.logger.Warn("pipeline: insight generation failed", zap.String("domain", domain), zap.Error(err))
				}
			}
		}
	}
}

// GenerateInsights evaluates the fixed rule set against domain's
// current aggregates, persisting and publishing one Insight per fired
// rule.
func (p *Pipeline) GenerateInsights(ctx context.Context, domain string) ([]*insight.Insight, error) {
	s := p.counterFor(domain).snapshot()

	var fired []*insight.Insight
	for _, r := range rules {
		if !r.fires(s) {
			continue
		}
		in := insight.New(domain, r.typ, r.severity, r.title, r.description,
			[]insight.Metric{{Name: r.metricName, Value: r.metricValue(s)}},
			[]string{r.recommendation},
		)
		if err := p.insights.Put(ctx, in); err != nil {
			return fired, fmt.Errorf("pipeline: persisting insight %s for domain %s: %w", r.name, domain, err)
		}
		if p.metrics != nil {
			p.metrics.InsightsFired.WithLabelValues(r.name, string(r.severity)).Inc()
		}
		if p.bus != nil {
			p.bus.Publish(ctx, events.Event{Topic: events.TopicInsightFired, Payload: in})
		}
		fired = append(fired, in)
	}
	return fired, nil
}
