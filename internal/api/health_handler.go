package api

import (
	"net/http"

	"memcore/internal/config"
	"memcore/internal/events"
	"memcore/internal/syncfabric"
	"memcore/pkg/api"
)

// HealthHandler handles GET /health, reporting liveness plus per-component
// detail (event bus subscriber counts, sync fabric peer connection state)
// rather than a bare 200 OK.
type HealthHandler struct {
	bus *events.Bus
	fabric *syncfabric.Fabric
	environment config.Environment
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(bus *events.Bus, fabric *syncfabric.Fabric, environment config.Environment) *HealthHandler {
	return &HealthHandler{bus: bus, fabric: fabric, environment: environment}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	subscribers := make(map[string]int)
	for topic, count := range h.bus.HandlerCount() {
		subscribers[string(topic)] = count
	}

	var peers []api.PeerStatusResponse
	if h.fabric != nil {
		statuses := h.fabric.PeerStatuses()
		peers = make([]api.PeerStatusResponse, 0, len(statuses))
		for _, p := range statuses {
			peers = append(peers, api.PeerStatusResponse{
				ID: p.ID,
				Endpoint: p.Endpoint,
				State: string(p.State),
				LastSeenAt: p.LastSeenAt,
			})
		}
	}

	api.Success(w, http.StatusOK, api.HealthResponse{
		Status: "ok",
		Environment: string(h.environment),
		EventBus: subscribers,
		Peers: peers,
	})
}
