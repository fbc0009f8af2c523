package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"memcore/internal/config"
	"memcore/internal/engine"
	"memcore/internal/events"
	"memcore/internal/ledger"
	"memcore/internal/pipeline"
	"memcore/internal/syncfabric"
	"memcore/internal/tier"
	"memcore/pkg/api"
	"memcore/pkg/auth"
)

// Router builds the Query API's HTTP surface, generalized
// from the teacher's interfaces/http/rest/Router (router.go) — chi mux,
// the same middleware stack, one handler set per resource instead of
// node/graph/edge.
type Router struct {
	cfg *config.Config
	validator *auth.JWTValidator
	logger *zap.Logger

	memory *MemoryHandler
	learning *LearningHandler
	analytics *AnalyticsHandler
	health *HealthHandler
	fabric *syncfabric.Fabric
}

// NewRouter wires every handler onto the engine/ledger/pipeline/syncfabric
// components built by the lifecycle container.
func NewRouter(
	cfg *config.Config,
	validator *auth.JWTValidator,
	eng *engine.Engine,
	led *ledger.Ledger,
	pipe *pipeline.Pipeline,
	sweepers *tier.Sweepers,
	bus *events.Bus,
	fabric *syncfabric.Fabric,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg: cfg,
		validator: validator,
		logger: logger,
		memory: NewMemoryHandler(eng, sweepers, logger),
		learning: NewLearningHandler(led, logger),
		analytics: NewAnalyticsHandler(eng, led, pipe, logger),
		health: NewHealthHandler(bus, fabric, cfg.Environment),
		fabric: fabric,
	}
}

// Setup configures all routes and middleware and returns the handler to
// serve.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(rt.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge: 300,
	}))

	router.Get("/health", rt.health.Check)
	router.Get("/api/swagger", api.SwaggerHandler())
	router.Get("/docs", api.SwaggerUIHandler())

	// Inbound sync fabric transport : peers dial this to
	// open a bidirectional session with this core.
	if rt.fabric != nil {
		router.Get("/sync/ws", rt.fabric.ServeWS)
	}

	router.Group(func(r chi.Router) {
		r.Use(Authenticate(rt.validator, rt.logger))

		r.Route("/memory", func(r chi.Router) {
			r.Post("/", rt.memory.Store)
			r.Get("/{id}", rt.memory.Get)
			r.Post("/query", rt.memory.Query)
			r.Post("/search/similarity", rt.memory.SearchSimilarity)
			r.Get("/aggregations", rt.memory.Aggregations)
			r.Post("/relationships", rt.memory.Relate)
			r.Get("/{id}/related", rt.memory.Related)
			r.Post("/archive", rt.memory.Archive)
		})

		r.Route("/learning", func(r chi.Router) {
			r.Post("/events", rt.learning.Record)
			r.Post("/events/query", rt.learning.History)
			r.Get("/patterns", rt.learning.Patterns)
			r.Get("/metrics", rt.learning.Metrics)
			r.Get("/trends", rt.learning.Trends)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Post("/query", rt.analytics.Query)
			r.Get("/metrics/{domain}", rt.analytics.BusinessMetrics)
			r.Get("/dashboard", rt.analytics.Dashboard)
			r.Get("/reports/{kind}/{domain}", rt.analytics.Report)
			r.Post("/events", rt.analytics.TrackEvent)
			r.Get("/insights", rt.analytics.Insights)
			r.Get("/export", rt.analytics.Export)
		})
	})

	return router
}
