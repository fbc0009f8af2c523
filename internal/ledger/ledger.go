// Package ledger implements the learning ledger: the append-only
// learning-event log, the derived pattern index, and the rollup/trend
// queries built over it. Grounded the way internal/engine is — the
// teacher's thin application-service layer over a repository port —
// generalized from node mutation/event-sourcing to this module's own
// record/history/patterns/metrics/trends contract, which has no
// analogue in the teacher's own domain.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	"memcore/internal/events"
	"memcore/internal/observability"
	"memcore/internal/tier/hot"
)

// EventStore is the slice of warm.EventStore the ledger depends on,
// declared as an interface for the same reason engine.TierStore is:
// production passes *warm.EventStore, tests pass a hand-written fake.
type EventStore interface {
	Append(ctx context.Context, e *learning.Event) error
	Since(ctx context.Context, serviceID, agentID, domain string, since time.Time, limit int32) ([]*learning.Event, error)
	ListSince(ctx context.Context, domain string, since time.Time, limit int32) ([]*learning.Event, error)
}

// PatternStore is the slice of warm.PatternStore the ledger depends on.
type PatternStore interface {
	Get(ctx context.Context, domain, signature string) (*learning.Pattern, error)
	Put(ctx context.Context, p *learning.Pattern) error
	ListByDomain(ctx context.Context, domain string, minFrequency int64) ([]*learning.Pattern, error)
}

// Ledger is the learning ledger's public surface.
type Ledger struct {
	events EventStore
	patterns PatternStore
	hot hot.Store
	bus *events.Bus
	metrics *observability.Collector
	logger *zap.Logger

	patternHotTTL time.Duration

	// seen tracks which (domain, signature) hot-pattern keys have been
	// folded since process start, so the pattern sweeper knows what to
	// flush without the hot tier supporting key enumeration (the hot
	// tier is put/get/invalidate by id only). A single-process
	// in-memory set, consistent with this module's single-process event
	// bus (see internal/events's "Global state" grounding note).
	seenMu sync.Mutex
	seen map[string]domainSignature

	// appliedMu/applied track event ids received over the sync fabric
	// so ApplyRemote can drop duplicates — learning applies are
	// idempotent by id, dropped on duplicate. The EventStore port has no
	// id-lookup method (events are appended, never fetched singly
	// elsewhere in this module), so — same tradeoff as the pattern
	// sweeper's `seen` set — this is a single-process in-memory index,
	// not a durable one.
	appliedMu sync.Mutex
	applied map[string]struct{}
}

type domainSignature struct {
	domain string
	signature string
}

// New builds a Ledger bound to its stores, event bus, metrics
// collector, and logger.
func New(eventStore EventStore, patternStore PatternStore, hotStore hot.Store, bus *events.Bus, metrics *observability.Collector, logger *zap.Logger) *Ledger {
	return &Ledger{
		events: eventStore,
		patterns: patternStore,
		hot: hotStore,
		bus: bus,
		metrics: metrics,
		logger: logger,
		patternHotTTL: 24 * time.Hour,
		seen: map[string]domainSignature{},
		applied: map[string]struct{}{},
	}
}

func patternHotKey(domain, signature string) string {
	return fmt.Sprintf("pattern:%s:%s", domain, signature)
}

// Record validates and appends a learning event, folds it into the
// signature's rolling pattern counters (kept in the hot tier under
// pattern:<domain>:<signature> so the per-record write stays on the fast
// path), and publishes learning.recorded on the event bus. No
// per-(domain,kind) counter is kept in the hot tier. The
// persisted learning_patterns row itself is written by the periodic
// pattern sweep, not here.
func (l *Ledger) Record(ctx context.Context, draft learning.Draft) (*learning.Event, error) {
	ev, err := learning.NewEvent(draft)
	if err != nil {
		return nil, err
	}
	if err := l.events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("ledger: appending event %s: %w", ev.ID, err)
	}

	if err := l.foldHotPattern(ctx, ev); err != nil && l.logger != nil {
		l.logger.Warn("ledger: hot-tier pattern fold failed", zap.String("event_id", ev.ID), zap.Error(err))
	}

	if l.metrics != nil {
		l.metrics.LearningEvents.WithLabelValues(ev.Domain, string(ev.Kind)).Inc()
	}
	if l.bus != nil {
		l.bus.Publish(ctx, events.Event{Topic: events.TopicLearningRecorded, Payload: ev})
	}
	return ev, nil
}

// ApplyRemote appends an event received from a peer over the sync
// fabric, implementing inbound idempotency rule for
// learning payloads. Unlike Record, the event arrives with its
// identity already assigned by the originating service, so this skips
// learning.NewEvent's validation/assignment step and writes through
// as-is once past the duplicate check.
func (l *Ledger) ApplyRemote(ctx context.Context, ev *learning.Event) error {
	l.appliedMu.Lock()
	if _, dup := l.applied[ev.ID]; dup {
		l.appliedMu.Unlock()
		return nil
	}
	l.applied[ev.ID] = struct{}{}
	l.appliedMu.Unlock()

	if err := l.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("ledger: applying remote event %s: %w", ev.ID, err)
	}
	if err := l.foldHotPattern(ctx, ev); err != nil && l.logger != nil {
		l.logger.Warn("ledger: hot-tier pattern fold failed for remote event", zap.String("event_id", ev.ID), zap.Error(err))
	}
	if l.bus != nil {
		l.bus.Publish(ctx, events.Event{Topic: events.TopicLearningRecorded, Payload: ev})
	}
	return nil
}

func (l *Ledger) foldHotPattern(ctx context.Context, ev *learning.Event) error {
	signature := ev.Signature()
	key := patternHotKey(ev.Domain, signature)
	p, err := l.loadHotPattern(ctx, key)
	if err != nil {
		return err
	}
	if p == nil {
		p = learning.NewPattern(ev)
	} else {
		p.Fold(ev)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ledger: marshaling hot pattern %s: %w", key, err)
	}
	if err := l.hot.Put(ctx, key, data, l.patternHotTTL); err != nil {
		return err
	}

	l.seenMu.Lock()
	l.seen[key] = domainSignature{domain: ev.Domain, signature: signature}
	l.seenMu.Unlock()
	return nil
}

// RunPatternSweeper persists every hot-tier pattern this ledger instance
// has folded since start into the warm patterns table on interval,
// implementing "periodic pattern sweep (every few
// minutes) persists the derived learning_patterns row" until ctx is
// canceled.
func (l *Ledger) RunPatternSweeper(ctx context.Context, interval time.Duration) {
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
			l.sweepPatterns(ctx)
		}
	}
}

func (l *Ledger) sweepPatterns(ctx context.Context) {
	l.seenMu.Lock()
	keys := make([]domainSignature, 0, len(l.seen))
	for k, ds := range l.seen {
		_ = k
		keys = append(keys, ds)
	}
	l.seenMu.Unlock()

	for _, ds := range keys {
		key := patternHotKey(ds.domain, ds.signature)
		p, err := l.loadHotPattern(ctx, key)
		if err != nil {
			if l.logger != nil {
				l.logger.Warn("pattern sweep: hot-tier read failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if p == nil {
			continue
		}
		if err := l.patterns.Put(ctx, p); err != nil {
			if l.logger != nil {
				l.logger.Warn("pattern sweep: persist failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if l.bus != nil {
			l.bus.Publish(ctx, events.Event{Topic: events.TopicPatternUpdated, Payload: p})
		}
	}
}

func (l *Ledger) loadHotPattern(ctx context.Context, key string) (*learning.Pattern, error) {
	data, ok, err := l.hot.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var p learning.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ledger: unmarshaling hot pattern %s: %w", key, err)
	}
	return &p, nil
}

// HistoryFilter narrows History's result set; mirrors the memory
// engine's query filter plus an event-kind field.
type HistoryFilter struct {
	Kind learning.Kind
	Since *time.Time
	Until *time.Time
	Limit int32
}

// History lists events in a scope, newest-first, narrowed by filter.
func (l *Ledger) History(ctx context.Context, serviceID, agentID, domain string, filter HistoryFilter) ([]*learning.Event, error) {
	since := time.Time{}
	if filter.Since != nil {
		since = *filter.Since
	}
	evs, err := l.events.Since(ctx, serviceID, agentID, domain, since, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing history for %s/%s/%s: %w", serviceID, agentID, domain, err)
	}

	out := make([]*learning.Event, 0, len(evs))
	for _, ev := range evs {
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if filter.Until != nil && !ev.OccurredAt.Before(*filter.Until) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

// Patterns lists the patterns for domain with frequency >= minFrequency,
// ordered by composite score descending.
func (l *Ledger) Patterns(ctx context.Context, domain string, minFrequency int64) ([]*learning.Pattern, error) {
	patterns, err := l.patterns.ListByDomain(ctx, domain, minFrequency)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing patterns for domain %s: %w", domain, err)
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].CompositeScore() > patterns[j].CompositeScore() })
	return patterns, nil
}

// CostRollup sums the cost/latency metrics carried by a window's events.
type CostRollup struct {
	TotalUSD float64
	AvgLatencyMS float64
	SampleCount int
}

// Rollup is the shape metrics(domain, window) returns.
type Rollup struct {
	Domain string
	Window time.Duration
	TotalCount int
	ByKind map[learning.Kind]int
	EventsPerDay float64
	AdaptationRate float64
	FeedbackRate float64
	PerformanceImprovement float64
	TopPatterns []*learning.Pattern
	Cost CostRollup
}

const topPatternCount = 5

// Metrics computes the domain-wide rollup over the trailing window,
// implementing metrics() contract.
func (l *Ledger) Metrics(ctx context.Context, domain string, window time.Duration) (*Rollup, error) {
	since := time.Now().UTC().Add(-window)
	evs, err := l.events.ListSince(ctx, domain, since, 0)
	if err != nil {
		return nil, fmt.Errorf("ledger: computing metrics for domain %s: %w", domain, err)
	}

	roll := &Rollup{Domain: domain, Window: window, ByKind: map[learning.Kind]int{}}
	var adaptations, feedbacks int
	var costUSDSum, latencySum float64
	var latencyCount int

	for _, ev := range evs {
		roll.TotalCount++
		roll.ByKind[ev.Kind]++
		if ev.Impact.ModelUpdated {
			adaptations++
		}
		if ev.Feedback != nil {
			feedbacks++
		}
		if ev.Cost != nil {
			costUSDSum += ev.Cost.AmountUSD
			latencySum += ev.Cost.LatencyMS
			latencyCount++
		}
	}

	if roll.TotalCount > 0 {
		roll.AdaptationRate = float64(adaptations) / float64(roll.TotalCount)
		roll.FeedbackRate = float64(feedbacks) / float64(roll.TotalCount)
	}
	if days := window.Hours() / 24; days > 0 {
		roll.EventsPerDay = float64(roll.TotalCount) / days
	}
	roll.PerformanceImprovement = performanceImprovement(evs)
	roll.Cost.TotalUSD = costUSDSum
	roll.Cost.SampleCount = latencyCount
	if latencyCount > 0 {
		roll.Cost.AvgLatencyMS = latencySum / float64(latencyCount)
	}

	top, err := l.Patterns(ctx, domain, 1)
	if err != nil {
		return nil, err
	}
	if len(top) > topPatternCount {
		top = top[:topPatternCount]
	}
	roll.TopPatterns = top

	return roll, nil
}

// performanceImprovement implements definition exactly:
// split the (chronologically ordered) window at its midpoint, compute
// the mean confidence of correctly-feedback'd events in each half, and
// return (second-first)/first*100, or 0 if first is ~0. This operates
// over a plain event slice rather than Pattern state — the prior draft
// of the learning domain model carried this as per-pattern state, which
// misattributed a window-level metric; see DESIGN.md.
func performanceImprovement(evs []*learning.Event) float64 {
	sorted := make([]*learning.Event, len(evs))
	copy(sorted, evs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	mid := len(sorted) / 2
	first := meanCorrectConfidence(sorted[:mid])
	second := meanCorrectConfidence(sorted[mid:])

	if first < 1e-6 {
		return 0
	}
	return (second - first) / first * 100
}

func meanCorrectConfidence(evs []*learning.Event) float64 {
	var sum float64
	var n int
	for _, ev := range evs {
		if !ev.IsCorrectFeedback() {
			continue
		}
		sum += ev.Output.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Trend classifies the direction of performance_improvement across
// successive periods.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable Trend = "stable"
	TrendDeclining Trend = "declining"
)

const stableSlopeThreshold = 0.05

// TrendReport is the shape trends(domain, periods) returns: the
// classified trend, the per-period performance_improvement series the
// classification was computed from, a linear-extrapolation forecast for
// the next `periods` values. It carries no insights; the ledger only
// computes the statistical series.
type TrendReport struct {
	Trend Trend
	Series []float64
	Forecast []float64
}

// Trends buckets the domain's events since now-periods*periodLength
// into `periods` equal-length windows, computes performance_improvement
// per window, classifies the slope of a linear regression over the
// series, and forecasts the next `periods` values by linear
// extrapolation. periodLength isn't otherwise pinned down, so callers
// that don't care default to 24h (see the zero-value handling below),
// recorded as an open-question resolution in DESIGN.md.
func (l *Ledger) Trends(ctx context.Context, domain string, periods int, periodLength time.Duration) (*TrendReport, error) {
	if periods <= 0 {
		return nil, fmt.Errorf("ledger: trends requires periods > 0")
	}
	if periodLength <= 0 {
		periodLength = 24 * time.Hour
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(periods) * periodLength)
	evs, err := l.events.ListSince(ctx, domain, since, 0)
	if err != nil {
		return nil, fmt.Errorf("ledger: computing trends for domain %s: %w", domain, err)
	}

	series := make([]float64, periods)
	for i := 0; i < periods; i++ {
		winStart := since.Add(time.Duration(i) * periodLength)
		winEnd := winStart.Add(periodLength)
		var windowEvents []*learning.Event
		for _, ev := range evs {
			if !ev.OccurredAt.Before(winStart) && ev.OccurredAt.Before(winEnd) {
				windowEvents = append(windowEvents, ev)
			}
		}
		series[i] = performanceImprovement(windowEvents)
	}

	slope, intercept := linearRegression(series)
	trend := TrendStable
	switch {
	case slope > stableSlopeThreshold:
		trend = TrendImproving
	case slope < -stableSlopeThreshold:
		trend = TrendDeclining
	}

	forecast := make([]float64, periods)
	for i := 0; i < periods; i++ {
		x := float64(periods + i)
		forecast[i] = intercept + slope*x
	}

	return &TrendReport{Trend: trend, Series: series, Forecast: forecast}, nil
}

// linearRegression fits y = intercept + slope*x over series indexed
// 0..len(series)-1 via ordinary least squares.
func linearRegression(series []float64) (slope, intercept float64) {
	n := float64(len(series))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-9 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
