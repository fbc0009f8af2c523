// Package observability carries the Prometheus metrics and OpenTelemetry
// tracing used across every component, adapted from the teacher's
// internal/infrastructure/observability package and generalized from "nodes
// and edges" counters to memories, learning events, insights, and sync
// envelopes.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the core exposes. A single
// instance is threaded through the container and handed to each component.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	MemoriesStored   prometheus.Counter
	MemoriesArchived prometheus.Counter
	MemoriesExpired  prometheus.Counter
	LearningEvents   *prometheus.CounterVec // by domain, kind
	InsightsFired    *prometheus.CounterVec // by rule, severity

	TierOperations *prometheus.CounterVec // by tier, op, outcome
	TierDuration   *prometheus.HistogramVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	SyncEnqueued   *prometheus.CounterVec // by peer
	SyncSent       *prometheus.CounterVec // by peer
	SyncDropped    *prometheus.CounterVec // by peer, reason
	SyncQueueDepth *prometheus.GaugeVec   // by peer
	PeerState      *prometheus.GaugeVec   // by peer, state (1 = current state)
}

var (
	once      sync.Once
	singleton *Collector
)

// NewCollector builds (once) the process-wide metric set under namespace.
// Subsequent calls return the same instance to avoid duplicate
// registration, matching the teacher's singleton-collector pattern.
func NewCollector(namespace string) *Collector {
	once.Do(func() {
		registry := prometheus.NewRegistry()
		c := &Collector{
			registry: registry,
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests.",
			}, []string{"method", "route", "status"}),
			HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "route"}),
			MemoriesStored: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "memories_stored_total", Help: "Memory entries stored.",
			}),
			MemoriesArchived: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "memories_archived_total", Help: "Memory entries demoted to cold tier.",
			}),
			MemoriesExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "memories_expired_total", Help: "Memory entries hard-deleted on expiry sweep.",
			}),
			LearningEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "learning_events_total", Help: "Learning events recorded.",
			}, []string{"domain", "kind"}),
			InsightsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "insights_fired_total", Help: "Insight rules fired.",
			}, []string{"rule", "severity"}),
			TierOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "tier_operations_total", Help: "Tier store operations.",
			}, []string{"tier", "op", "outcome"}),
			TierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace, Name: "tier_operation_duration_seconds", Help: "Tier store operation duration.",
				Buckets: prometheus.DefBuckets,
			}, []string{"tier", "op"}),
			CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "hot_tier_hits_total", Help: "Hot tier cache hits.",
			}),
			CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "hot_tier_misses_total", Help: "Hot tier cache misses.",
			}),
			SyncEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "sync_envelopes_enqueued_total", Help: "Envelopes enqueued per peer.",
			}, []string{"peer"}),
			SyncSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "sync_envelopes_sent_total", Help: "Envelopes sent per peer.",
			}, []string{"peer"}),
			SyncDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "sync_envelopes_dropped_total", Help: "Envelopes dropped per peer.",
			}, []string{"peer", "reason"}),
			SyncQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace, Name: "sync_queue_depth", Help: "Current outbound queue depth per peer.",
			}, []string{"peer"}),
			PeerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace, Name: "sync_peer_state", Help: "Peer connection state (1=current).",
			}, []string{"peer", "state"}),
		}
		registry.MustRegister(
			c.HTTPRequests, c.HTTPDuration,
			c.MemoriesStored, c.MemoriesArchived, c.MemoriesExpired,
			c.LearningEvents, c.InsightsFired,
			c.TierOperations, c.TierDuration,
			c.CacheHits, c.CacheMisses,
			c.SyncEnqueued, c.SyncSent, c.SyncDropped, c.SyncQueueDepth, c.PeerState,
		)
		singleton = c
	})
	return singleton
}

// Registry exposes the underlying Prometheus registry, e.g. for mounting
// promhttp.HandlerFor at a /metrics route.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
