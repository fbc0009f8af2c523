package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	"memcore/internal/engine"
	coreerrors "memcore/internal/errors"
	"memcore/internal/ledger"
	"memcore/internal/pipeline"
	"memcore/internal/tier/warm"
	"memcore/pkg/api"
)

// AnalyticsHandler handles the /analytics/* routes. Every operation
// here is a pure function over the aggregates the engine, ledger, and
// pipeline already produce.
type AnalyticsHandler struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	pipeline *pipeline.Pipeline
	logger *zap.Logger
}

// NewAnalyticsHandler builds an AnalyticsHandler over the engine, ledger,
// and pipeline.
func NewAnalyticsHandler(eng *engine.Engine, l *ledger.Ledger, p *pipeline.Pipeline, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{engine: eng, ledger: l, pipeline: p, logger: logger}
}

// Query handles POST /analytics/query.
func (h *AnalyticsHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyticsQueryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp := api.AnalyticsQueryResponse{Domain: req.Domain, Mode: req.Mode}
	switch req.Mode {
	case "realtime", "historical":
		window := time.Duration(req.WindowSeconds) * time.Second
		if window <= 0 {
			window = defaultWindow
		}
		roll, err := h.ledger.Metrics(r.Context(), req.Domain, window)
		if err != nil {
			coreerrors.WriteJSON(w, err)
			return
		}
		rr := rollupResponse(req.Domain, roll)
		resp.Rollup = &rr
	case "predictive":
		periods := req.Periods
		if periods <= 0 {
			periods = 7
		}
		report, err := h.ledger.Trends(r.Context(), req.Domain, periods, 0)
		if err != nil {
			coreerrors.WriteJSON(w, err)
			return
		}
		tr := trendResponse(req.Domain, report)
		resp.Trend = &tr
	}
	api.Success(w, http.StatusOK, resp)
}

// BusinessMetrics handles GET /analytics/metrics/{domain}.
func (h *AnalyticsHandler) BusinessMetrics(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	serviceID := r.URL.Query().Get("service_id")
	window := parseWindow(r.URL.Query().Get("window_seconds"))

	roll, err := h.ledger.Metrics(r.Context(), domain, window)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	agg, err := h.engine.Aggregate(r.Context(), serviceID, domain, window)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	patterns, err := h.ledger.Patterns(r.Context(), domain, 1)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	if len(patterns) > 5 {
		patterns = patterns[:5]
	}
	patternResponses := make([]api.PatternResponse, 0, len(patterns))
	for _, p := range patterns {
		patternResponses = append(patternResponses, patternResponse(p))
	}

	api.Success(w, http.StatusOK, api.BusinessMetricsResponse{
		Domain: domain,
		Rollup: rollupResponse(domain, roll),
		Aggregation: aggregationResponse(agg),
		Patterns: patternResponses,
	})
}

// Dashboard handles GET /analytics/dashboard: a bundle across every
// domain the pipeline has observed activity for, plus the most recent
// insights, composed purely from ledger and pipeline outputs.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	window := parseWindow(r.URL.Query().Get("window_seconds"))
	domains := h.pipeline.Domains()

	summaries := make([]api.DashboardDomainSummary, 0, len(domains))
	var allInsights []api.InsightResponse
	for _, domain := range domains {
		roll, err := h.ledger.Metrics(r.Context(), domain, window)
		if err != nil {
			continue
		}
		insights, err := h.pipeline.RecentInsights(r.Context(), domain, 10)
		if err == nil {
			for _, in := range insights {
				allInsights = append(allInsights, insightResponse(in))
			}
		}
		summaries = append(summaries, api.DashboardDomainSummary{
			Domain: domain,
			TotalEvents: roll.TotalCount,
			FeedbackRate: roll.FeedbackRate,
			InsightCount: len(insights),
		})
	}

	api.Success(w, http.StatusOK, api.DashboardResponse{Domains: summaries, Insights: allInsights})
}

// Report handles GET /analytics/reports/{kind}/{domain}.
func (h *AnalyticsHandler) Report(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	domain := chi.URLParam(r, "domain")
	switch kind {
	case "summary", "trend":
	default:
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("REPORT_KIND_INVALID", "kind must be one of summary, trend").Build())
		return
	}
	window := parseWindow(r.URL.Query().Get("window_seconds"))

	roll, err := h.ledger.Metrics(r.Context(), domain, window)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	report, err := h.ledger.Trends(r.Context(), domain, 7, 0)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.ReportResponse{
		Kind: kind,
		Domain: domain,
		Rollup: rollupResponse(domain, roll),
		Trend: trendResponse(domain, report),
	})
}

// TrackEvent handles POST /analytics/events: a lightweight custom
// business event, folded into the learning ledger under
// learning.KindTraining per pkg/api.TrackEventRequest's doc comment.
func (h *AnalyticsHandler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var req api.TrackEventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	draft := learning.Draft{
		ServiceID: req.ServiceID,
		AgentID: req.AgentID,
		Domain: req.Domain,
		Kind: learning.KindTraining,
		Input: req.Payload,
		Importance: 0,
	}
	ev, err := h.ledger.Record(r.Context(), draft)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusCreated, eventResponse(ev))
}

// Insights handles GET /analytics/insights.
func (h *AnalyticsHandler) Insights(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("INSIGHTS_DOMAIN_REQUIRED", "domain query parameter is required").Build())
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 200)

	insights, err := h.pipeline.RecentInsights(r.Context(), domain, limit)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	out := make([]api.InsightResponse, 0, len(insights))
	for _, in := range insights {
		out = append(out, insightResponse(in))
	}
	api.Success(w, http.StatusOK, out)
}

// Export handles GET /analytics/export, requiring the admin or analyst
// role. Bounded to a window's worth of memories and
// learning events for a domain — not a long-term archival search
// surface.
func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, "admin", "analyst") {
		return
	}
	q := r.URL.Query()
	serviceID := q.Get("service_id")
	agentID := q.Get("agent_id")
	domain := q.Get("domain")
	if serviceID == "" || agentID == "" || domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("EXPORT_SCOPE_REQUIRED", "service_id, agent_id, and domain query parameters are required").Build())
		return
	}
	window := parseWindow(q.Get("window_seconds"))
	since := time.Now().Add(-window)

	entries, err := h.engine.Query(r.Context(), serviceID, agentID, domain, warm.QueryFilter{Since: &since, Limit: 1000})
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	evs, err := h.ledger.History(r.Context(), serviceID, agentID, domain, ledger.HistoryFilter{Since: &since, Limit: 1000})
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}

	memories := make([]api.MemoryResponse, 0, len(entries))
	for _, e := range entries {
		memories = append(memories, memoryResponse(e))
	}
	events := make([]api.EventResponse, 0, len(evs))
	for _, ev := range evs {
		events = append(events, eventResponse(ev))
	}
	api.Success(w, http.StatusOK, api.ExportResponse{Domain: domain, Memories: memories, Events: events})
}
