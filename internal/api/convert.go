// Package api wires the query API: request validation, dispatch to
// the engine/ledger/pipeline/syncfabric components, and uniform response
// rendering, following the teacher's interfaces/http/rest/handlers layer
// (backend/interfaces/http/rest/handlers/node_handler.go) generalized
// from node/edge/graph CRUD to memory/learning/analytics operations.
package api

import (
	"memcore/internal/domain/insight"
	"memcore/internal/domain/learning"
	"memcore/internal/domain/memory"
	"memcore/internal/engine"
	"memcore/internal/ledger"
	"memcore/pkg/api"
)

func memoryResponse(e *memory.Entry) api.MemoryResponse {
	tags := make([]string, 0, len(e.Metadata.Tags))
	for t := range e.Metadata.Tags {
		tags = append(tags, t)
	}
	related := make([]string, 0, len(e.Relationships.Related))
	for r := range e.Relationships.Related {
		related = append(related, r)
	}
	return api.MemoryResponse{
		ID:             e.ID,
		ServiceID:      e.ServiceID,
		AgentID:        e.AgentID,
		Domain:         e.Domain,
		Kind:           string(e.Kind),
		Payload:        e.Payload,
		Tags:           tags,
		Importance:     e.Metadata.Importance,
		Version:        e.Metadata.Version,
		CreatedAt:      e.Metadata.CreatedAt,
		LastAccessedAt: e.Metadata.LastAccessedAt,
		ExpiresAt:      e.Metadata.ExpiresAt,
		Archived:       e.Archived,
		Related:        related,
	}
}

func memoryDraft(req api.StoreMemoryRequest) memory.Draft {
	return memory.Draft{
		ServiceID:     req.ServiceID,
		AgentID:       req.AgentID,
		Domain:        req.Domain,
		Kind:          memory.Kind(req.Kind),
		Payload:       req.Payload,
		Tags:          req.Tags,
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		Importance:    req.Importance,
		Embedding:     req.Embedding,
		ExpiresAt:     req.ExpiresAt,
	}
}

func matchResponse(m engine.Match) api.SimilarityMatch {
	return api.SimilarityMatch{Memory: memoryResponse(m.Entry), Similarity: m.Similarity}
}

func aggregationResponse(a *engine.Aggregation) api.AggregationResponse {
	byKind := make(map[string]int, len(a.ByKind))
	for k, v := range a.ByKind {
		byKind[string(k)] = v
	}
	return api.AggregationResponse{
		ServiceID:     a.ServiceID,
		Domain:        a.Domain,
		WindowSeconds: a.Window.Seconds(),
		TotalCount:    a.TotalCount,
		ByKind:        byKind,
		ArchivedCount: a.ArchivedCount,
		AvgImportance: a.AvgImportance,
	}
}

func eventDraft(req api.RecordEventRequest) learning.Draft {
	d := learning.Draft{
		ServiceID:     req.ServiceID,
		AgentID:       req.AgentID,
		Domain:        req.Domain,
		Kind:          learning.Kind(req.Kind),
		Input:         req.Input,
		Importance:    req.Importance,
		ParentEventID: req.ParentEventID,
	}
	if req.Output != nil {
		d.Output = learning.Output{
			Prediction:   req.Output.Prediction,
			Confidence:   req.Output.Confidence,
			Alternatives: req.Output.Alternatives,
		}
	}
	if req.Feedback != nil {
		d.Feedback = &learning.Feedback{
			Rating:         req.Feedback.Rating,
			Correct:        req.Feedback.Correct,
			CorrectedValue: req.Feedback.CorrectedValue,
			Explanation:    req.Feedback.Explanation,
		}
	}
	if req.Impact != nil {
		d.Impact = learning.Impact{
			ModelUpdated:     req.Impact.ModelUpdated,
			PerformanceDelta: req.Impact.PerformanceDelta,
			AffectedModelIDs: req.Impact.AffectedModelIDs,
		}
	}
	if req.Cost != nil {
		d.Cost = &learning.Cost{AmountUSD: req.Cost.AmountUSD, LatencyMS: req.Cost.LatencyMS}
	}
	return d
}

func eventResponse(ev *learning.Event) api.EventResponse {
	resp := api.EventResponse{
		ID:            ev.ID,
		ServiceID:     ev.ServiceID,
		AgentID:       ev.AgentID,
		Domain:        ev.Domain,
		Kind:          string(ev.Kind),
		Output:        api.OutputDTO{Prediction: ev.Output.Prediction, Confidence: ev.Output.Confidence, Alternatives: ev.Output.Alternatives},
		Impact:        api.ImpactDTO{ModelUpdated: ev.Impact.ModelUpdated, PerformanceDelta: ev.Impact.PerformanceDelta, AffectedModelIDs: ev.Impact.AffectedModelIDs},
		Importance:    ev.Importance,
		OccurredAt:    ev.OccurredAt,
		ParentEventID: ev.ParentEventID,
	}
	if ev.Feedback != nil {
		resp.Feedback = &api.FeedbackDTO{
			Rating:         ev.Feedback.Rating,
			Correct:        ev.Feedback.Correct,
			CorrectedValue: ev.Feedback.CorrectedValue,
			Explanation:    ev.Feedback.Explanation,
		}
	}
	return resp
}

func rollupResponse(domain string, r *ledger.Rollup) api.RollupResponse {
	byKind := make(map[string]int, len(r.ByKind))
	for k, v := range r.ByKind {
		byKind[string(k)] = v
	}
	return api.RollupResponse{
		Domain:                 domain,
		WindowSeconds:          r.Window.Seconds(),
		TotalCount:             r.TotalCount,
		ByKind:                 byKind,
		EventsPerDay:           r.EventsPerDay,
		AdaptationRate:         r.AdaptationRate,
		FeedbackRate:           r.FeedbackRate,
		PerformanceImprovement: r.PerformanceImprovement,
		CostTotalUSD:           r.Cost.TotalUSD,
		CostAvgLatencyMS:       r.Cost.AvgLatencyMS,
	}
}

func trendResponse(domain string, t *ledger.TrendReport) api.TrendResponse {
	return api.TrendResponse{Domain: domain, Trend: string(t.Trend), Series: t.Series, Forecast: t.Forecast}
}

func patternResponse(p *learning.Pattern) api.PatternResponse {
	return api.PatternResponse{ID: p.ID, Domain: p.Domain, Signature: p.Signature, Frequency: p.Frequency, Score: p.CompositeScore()}
}

func insightResponse(in *insight.Insight) api.InsightResponse {
	metrics := make([]api.MetricDTO, len(in.MetricSnapshot))
	for i, m := range in.MetricSnapshot {
		metrics[i] = api.MetricDTO{Name: m.Name, Value: m.Value}
	}
	return api.InsightResponse{
		ID:              in.ID,
		Domain:          in.Domain,
		Type:            string(in.Type),
		Severity:        string(in.Severity),
		Title:           in.Title,
		Description:     in.Description,
		MetricSnapshot:  metrics,
		Recommendations: in.Recommendations,
		CreatedAt:       in.CreatedAt,
	}
}
