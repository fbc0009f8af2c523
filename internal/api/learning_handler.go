package api

import (
	"net/http"

	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	coreerrors "memcore/internal/errors"
	"memcore/internal/ledger"
	"memcore/pkg/api"
)

// LearningHandler handles the /learning/* routes, dispatching
// to the learning ledger.
type LearningHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewLearningHandler builds a LearningHandler bound to its ledger.
func NewLearningHandler(l *ledger.Ledger, logger *zap.Logger) *LearningHandler {
	return &LearningHandler{ledger: l, logger: logger}
}

// Record handles POST /learning/events.
func (h *LearningHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req api.RecordEventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ev, err := h.ledger.Record(r.Context(), eventDraft(req))
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusCreated, eventResponse(ev))
}

// History handles POST /learning/events/query.
func (h *LearningHandler) History(w http.ResponseWriter, r *http.Request) {
	var req api.QueryEventsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	filter := ledger.HistoryFilter{
		Kind: learning.Kind(req.Kind),
		Since: req.Since,
		Until: req.Until,
		Limit: limit,
	}
	evs, err := h.ledger.History(r.Context(), req.ServiceID, req.AgentID, req.Domain, filter)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	items := make([]api.EventResponse, 0, len(evs))
	for _, ev := range evs {
		items = append(items, eventResponse(ev))
	}
	hasMore := int32(len(items)) >= limit
	api.Success(w, http.StatusOK, api.EventPageResponse{
		Items: items,
		PageInfo: api.PageInfo{ItemsInPage: len(items), Limit: int(limit), HasMore: hasMore},
	})
}

// Patterns handles GET /learning/patterns.
func (h *LearningHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := q.Get("domain")
	if domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("PATTERNS_DOMAIN_REQUIRED", "domain query parameter is required").Build())
		return
	}
	minFreq := int64(parseLimit(q.Get("min_frequency"), 1, 1<<30))

	patterns, err := h.ledger.Patterns(r.Context(), domain, minFreq)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	out := make([]api.PatternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternResponse(p))
	}
	api.Success(w, http.StatusOK, out)
}

// Metrics handles GET /learning/metrics.
func (h *LearningHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := q.Get("domain")
	if domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("METRICS_DOMAIN_REQUIRED", "domain query parameter is required").Build())
		return
	}
	window := parseWindow(q.Get("window_seconds"))

	roll, err := h.ledger.Metrics(r.Context(), domain, window)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusOK, rollupResponse(domain, roll))
}

// Trends handles GET /learning/trends.
func (h *LearningHandler) Trends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := q.Get("domain")
	if domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("TRENDS_DOMAIN_REQUIRED", "domain query parameter is required").Build())
		return
	}
	periods := int(parseLimit(q.Get("periods"), 7, 365))

	report, err := h.ledger.Trends(r.Context(), domain, periods, 0)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusOK, trendResponse(domain, report))
}
