package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	"memcore/internal/engine"
	coreerrors "memcore/internal/errors"
	"memcore/internal/tier"
	"memcore/internal/tier/warm"
	"memcore/pkg/api"
	"memcore/pkg/auth"
)

// MemoryHandler handles the /memory* routes, dispatching to
// the memory engine the way the teacher's NodeHandler dispatches to
// its command/query buses.
type MemoryHandler struct {
	engine *engine.Engine
	sweepers *tier.Sweepers
	logger *zap.Logger
}

// NewMemoryHandler builds a MemoryHandler bound to its engine and
// sweepers.
func NewMemoryHandler(eng *engine.Engine, sweepers *tier.Sweepers, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{engine: eng, sweepers: sweepers, logger: logger}
}

// Store handles POST /memory.
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req api.StoreMemoryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.engine.Store(r.Context(), memoryDraft(req))
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusCreated, memoryResponse(entry))
}

// Get handles GET /memory/{id}.
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.engine.Get(r.Context(), id)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	if entry == nil {
		coreerrors.WriteJSON(w, coreerrors.NotFound("MEMORY_NOT_FOUND", "no memory entry with that id").Build())
		return
	}
	api.Success(w, http.StatusOK, memoryResponse(entry))
}

// Query handles POST /memory/query.
func (h *MemoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req api.QueryMemoryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	filter := warm.QueryFilter{
		Kind: memory.Kind(req.Kind),
		Tags: req.Tags,
		Since: req.Since,
		Until: req.Until,
		MinImportance: req.MinImportance,
		TextSubstr: req.TextSubstr,
		Limit: limit,
	}
	entries, err := h.engine.Query(r.Context(), req.ServiceID, req.AgentID, req.Domain, filter)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}

	items := make([]api.MemoryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, memoryResponse(e))
	}
	hasMore := int32(len(items)) >= limit
	api.Success(w, http.StatusOK, api.MemoryPageResponse{
		Items: items,
		PageInfo: api.PageInfo{ItemsInPage: len(items), Limit: int(limit), HasMore: hasMore},
	})
}

// SearchSimilarity handles POST /memory/search/similarity.
func (h *MemoryHandler) SearchSimilarity(w http.ResponseWriter, r *http.Request) {
	var req api.SimilaritySearchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	matches, err := h.engine.SearchSimilarity(r.Context(), req.Vector, req.Domain, req.K, req.Threshold)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	out := make([]api.SimilarityMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse(m))
	}
	api.Success(w, http.StatusOK, out)
}

// Aggregations handles GET /memory/aggregations.
func (h *MemoryHandler) Aggregations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID := q.Get("service_id")
	domain := q.Get("domain")
	if serviceID == "" || domain == "" {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("AGGREGATION_SCOPE_REQUIRED", "service_id and domain query parameters are required").Build())
		return
	}
	window := parseWindow(q.Get("window_seconds"))

	agg, err := h.engine.Aggregate(r.Context(), serviceID, domain, window)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusOK, aggregationResponse(agg))
}

// Relate handles POST /memory/relationships.
func (h *MemoryHandler) Relate(w http.ResponseWriter, r *http.Request) {
	var req api.RelateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.engine.Relate(r.Context(), req.SourceID, req.TargetID, req.Kind); err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	api.Success(w, http.StatusCreated, nil)
}

// Related handles GET /memory/{id}/related.
func (h *MemoryHandler) Related(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	kind := q.Get("kind")
	maxDepth := 1
	if v := q.Get("max_depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxDepth = n
		}
	}

	entries, err := h.engine.Related(r.Context(), id, kind, maxDepth)
	if err != nil {
		coreerrors.WriteJSON(w, err)
		return
	}
	out := make([]api.MemoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, memoryResponse(e))
	}
	api.Success(w, http.StatusOK, out)
}

// Archive handles POST /memory/archive, requiring the admin role:
// operations with elevated rights (archive trigger, export) are
// restricted to privileged callers.
func (h *MemoryHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, "admin") {
		return
	}
	var req api.ArchiveTriggerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	count := h.sweepers.TriggerArchive(r.Context(), []tier.Scope{{ServiceID: req.ServiceID, AgentID: req.AgentID, Domain: req.Domain}})
	api.Success(w, http.StatusOK, api.ArchiveTriggerResponse{ArchivedCount: count})
}

// decodeAndValidate decodes r's JSON body into dst, rejecting unknown
// fields per ("unknown fields on input are rejected"), and
// runs struct-tag validation, writing the uniform error response and
// returning false on any failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("REQUEST_BODY_INVALID", "invalid request body: "+err.Error()).Build())
		return false
	}
	if err := api.ValidateStruct(dst); err != nil {
		coreerrors.WriteJSON(w, coreerrors.InvalidInput("REQUEST_VALIDATION_FAILED", err.Error()).Build())
		return false
	}
	return true
}

// requireRole checks the authenticated principal carries role, writing a
// Forbidden response and returning false otherwise.
func requireRole(w http.ResponseWriter, r *http.Request, roles...string) bool {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		coreerrors.WriteJSON(w, coreerrors.Unauthorized("AUTH_REQUIRED", "authentication required").Build())
		return false
	}
	for _, role := range roles {
		if user.HasRole(role) {
			return true
		}
	}
	coreerrors.WriteJSON(w, coreerrors.Forbidden("ROLE_REQUIRED", "requires one of: "+joinRoles(roles)).Build())
	return false
}

func joinRoles(roles []string) string {
	out := ""
	for i, r := range roles {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}
