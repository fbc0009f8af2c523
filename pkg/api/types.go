// Package api defines the contracts for the edge query API's
// requests and responses, decoupling the HTTP surface from the internal
// domain aggregates the way the teacher's pkg/api decouples its REST
// contracts from backend/domain/core. Every request DTO carries
// validator/v10 struct tags. The success response types here carry no
// timestamp field; only error bodies rendered by internal/errors.WriteJSON
// include one.
package api

import "time"

// StoreMemoryRequest is the body for POST /memory.
type StoreMemoryRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=working episodic semantic procedural business"`
	Payload map[string]interface{} `json:"payload"`
	Tags []string `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	CorrelationID string `json:"correlation_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Importance float64 `json:"importance" validate:"min=0,max=10"`
	Embedding []float64 `json:"embedding,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// MemoryResponse is the API representation of a stored memory entry.
type MemoryResponse struct {
	ID string `json:"id"`
	ServiceID string `json:"service_id"`
	AgentID string `json:"agent_id"`
	Domain string `json:"domain"`
	Kind string `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
	Tags []string `json:"tags,omitempty"`
	Importance float64 `json:"importance"`
	Version int `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Archived bool `json:"archived"`
	Related []string `json:"related,omitempty"`
}

// QueryMemoryRequest is the body for POST /memory/query.
type QueryMemoryRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=working episodic semantic procedural business"`
	Tags []string `json:"tags,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
	MinImportance float64 `json:"min_importance,omitempty" validate:"min=0,max=10"`
	TextSubstr string `json:"text_substr,omitempty"`
	Limit int32 `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

// SimilaritySearchRequest is the body for POST /memory/search/similarity.
type SimilaritySearchRequest struct {
	Domain string `json:"domain" validate:"required"`
	Vector []float64 `json:"vector" validate:"required,min=1"`
	K int `json:"k" validate:"required,min=1,max=100"`
	Threshold float64 `json:"threshold" validate:"min=0,max=1"`
}

// SimilarityMatch pairs a memory with its cosine similarity to the query
// vector, the JSON shape for a SimilaritySearchRequest's results.
type SimilarityMatch struct {
	Memory MemoryResponse `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// RelateRequest is the body for POST /memory/relationships.
type RelateRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Kind string `json:"kind" validate:"required"`
}

// AggregationResponse is the body for GET /memory/aggregations.
type AggregationResponse struct {
	ServiceID string `json:"service_id"`
	Domain string `json:"domain"`
	WindowSeconds float64 `json:"window_seconds"`
	TotalCount int `json:"total_count"`
	ByKind map[string]int `json:"by_kind"`
	ArchivedCount int `json:"archived_count"`
	AvgImportance float64 `json:"avg_importance"`
}

// ArchiveTriggerRequest is the body for POST /memory/archive: the scope
// the admin wants swept immediately rather than waiting for the next
// scheduled archive-sweep tick.
type ArchiveTriggerRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
}

// ArchiveTriggerResponse is the body for POST /memory/archive.
type ArchiveTriggerResponse struct {
	ArchivedCount int `json:"archived_count"`
}

// RecordEventRequest is the body for POST /learning/events.
type RecordEventRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=training feedback correction reinforcement adaptation"`
	Input map[string]interface{} `json:"input,omitempty"`
	Output *OutputDTO `json:"output,omitempty"`
	Feedback *FeedbackDTO `json:"feedback,omitempty"`
	Impact *ImpactDTO `json:"impact,omitempty"`
	Cost *CostDTO `json:"cost,omitempty"`
	Importance float64 `json:"importance" validate:"min=0,max=10"`
	ParentEventID string `json:"parent_event_id,omitempty"`
}

// OutputDTO mirrors learning.Output.
type OutputDTO struct {
	Prediction interface{} `json:"prediction,omitempty"`
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
	Alternatives []interface{} `json:"alternatives,omitempty"`
}

// FeedbackDTO mirrors learning.Feedback.
type FeedbackDTO struct {
	Rating float64 `json:"rating"`
	Correct bool `json:"correct"`
	CorrectedValue interface{} `json:"corrected_value,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// ImpactDTO mirrors learning.Impact.
type ImpactDTO struct {
	ModelUpdated bool `json:"model_updated"`
	PerformanceDelta float64 `json:"performance_delta"`
	AffectedModelIDs []string `json:"affected_model_ids,omitempty"`
}

// CostDTO mirrors learning.Cost.
type CostDTO struct {
	AmountUSD float64 `json:"amount_usd"`
	LatencyMS float64 `json:"latency_ms"`
}

// EventResponse is the API representation of a recorded learning event.
type EventResponse struct {
	ID string `json:"id"`
	ServiceID string `json:"service_id"`
	AgentID string `json:"agent_id"`
	Domain string `json:"domain"`
	Kind string `json:"kind"`
	Output OutputDTO `json:"output"`
	Feedback *FeedbackDTO `json:"feedback,omitempty"`
	Impact ImpactDTO `json:"impact"`
	Importance float64 `json:"importance"`
	OccurredAt time.Time `json:"occurred_at"`
	ParentEventID string `json:"parent_event_id,omitempty"`
}

// QueryEventsRequest is the body for POST /learning/events/query.
type QueryEventsRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=training feedback correction reinforcement adaptation"`
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
	Limit int32 `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

// PatternResponse is the API representation of a learning pattern.
type PatternResponse struct {
	ID string `json:"id"`
	Domain string `json:"domain"`
	Signature string `json:"signature"`
	Frequency int64 `json:"frequency"`
	Score float64 `json:"score"`
}

// RollupResponse is the body for GET /learning/metrics.
type RollupResponse struct {
	Domain string `json:"domain"`
	WindowSeconds float64 `json:"window_seconds"`
	TotalCount int `json:"total_count"`
	ByKind map[string]int `json:"by_kind"`
	EventsPerDay float64 `json:"events_per_day"`
	AdaptationRate float64 `json:"adaptation_rate"`
	FeedbackRate float64 `json:"feedback_rate"`
	PerformanceImprovement float64 `json:"performance_improvement"`
	CostTotalUSD float64 `json:"cost_total_usd"`
	CostAvgLatencyMS float64 `json:"cost_avg_latency_ms"`
}

// TrendResponse is the body for GET /learning/trends.
type TrendResponse struct {
	Domain string `json:"domain"`
	Trend string `json:"trend"`
	Series []float64 `json:"series"`
	Forecast []float64 `json:"forecast"`
}

// AnalyticsQueryRequest is the body for POST /analytics/query.
type AnalyticsQueryRequest struct {
	Domain string `json:"domain" validate:"required"`
	Mode string `json:"mode" validate:"required,oneof=realtime historical predictive"`
	WindowSeconds int `json:"window_seconds,omitempty" validate:"omitempty,min=1"`
	Periods int `json:"periods,omitempty" validate:"omitempty,min=1,max=365"`
}

// TrackEventRequest is the body for POST /analytics/events: a lightweight
// custom business event, folded into the learning ledger under
// learning.KindTraining the same way the teacher's analytics pipeline
// folds an arbitrary "custom event" into its generic event stream.
type TrackEventRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	AgentID string `json:"agent_id" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Name string `json:"name" validate:"required"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// AnalyticsQueryResponse is the body for POST /analytics/query: a pure
// function over whichever of the core's existing aggregates the
// requested mode calls for.
type AnalyticsQueryResponse struct {
	Domain string `json:"domain"`
	Mode string `json:"mode"`
	Rollup *RollupResponse `json:"rollup,omitempty"`
	Aggregation *AggregationResponse `json:"aggregation,omitempty"`
	Trend *TrendResponse `json:"trend,omitempty"`
}

// BusinessMetricsResponse is the body for GET /analytics/metrics/{domain}.
type BusinessMetricsResponse struct {
	Domain string `json:"domain"`
	Rollup RollupResponse `json:"rollup"`
	Aggregation AggregationResponse `json:"aggregation"`
	Patterns []PatternResponse `json:"top_patterns"`
}

// DashboardDomainSummary is one domain's row on the dashboard bundle.
type DashboardDomainSummary struct {
	Domain string `json:"domain"`
	TotalEvents int `json:"total_events"`
	FeedbackRate float64 `json:"feedback_rate"`
	InsightCount int `json:"insight_count"`
}

// DashboardResponse is the body for GET /analytics/dashboard.
type DashboardResponse struct {
	Domains []DashboardDomainSummary `json:"domains"`
	Insights []InsightResponse `json:"recent_insights"`
}

// ReportResponse is the body for GET /analytics/reports/{kind}/{domain}.
// kind selects which pure-function view over the core's aggregates to
// render; unrecognized kinds fail validation rather than silently
// defaulting.
type ReportResponse struct {
	Kind string `json:"kind"`
	Domain string `json:"domain"`
	Rollup RollupResponse `json:"rollup"`
	Trend TrendResponse `json:"trend"`
}

// ExportResponse is the body for GET /analytics/export: a bounded dump of
// a domain's recent memories and learning events, for operators pulling
// data out of the core rather than a long-term archival search surface
//.
type ExportResponse struct {
	Domain string `json:"domain"`
	Memories []MemoryResponse `json:"memories"`
	Events []EventResponse `json:"events"`
}

// InsightResponse is the API representation of an Insight.
type InsightResponse struct {
	ID string `json:"id"`
	Domain string `json:"domain"`
	Type string `json:"type"`
	Severity string `json:"severity"`
	Title string `json:"title"`
	Description string `json:"description"`
	MetricSnapshot []MetricDTO `json:"metric_snapshot"`
	Recommendations []string `json:"recommendations"`
	CreatedAt time.Time `json:"created_at"`
}

// MetricDTO mirrors insight.Metric.
type MetricDTO struct {
	Name string `json:"name"`
	Value float64 `json:"value"`
}

// PeerStatusResponse is one row of GET /health's per-peer connection detail.
type PeerStatusResponse struct {
	ID string `json:"id"`
	Endpoint string `json:"endpoint"`
	State string `json:"state"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Environment string `json:"environment"`
	EventBus map[string]int `json:"event_bus_subscribers"`
	Peers []PeerStatusResponse `json:"peers"`
}
