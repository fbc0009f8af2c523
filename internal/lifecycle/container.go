// Package lifecycle wires every component built elsewhere in this module
// into one running process: load config, construct the tier stores, the
// memory engine, learning ledger, insight pipeline, and sync fabric,
// start their background tasks, and serve the edge API — the
// hand-assembled equivalent of the teacher's infrastructure/di.Container
// (infrastructure/di/wire.go), generalized from wire's struct-tag
// injection to explicit construction.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"memcore/internal/api"
	"memcore/internal/config"
	syncdomain "memcore/internal/domain/sync"
	"memcore/internal/engine"
	"memcore/internal/events"
	"memcore/internal/ledger"
	"memcore/internal/observability"
	"memcore/internal/pipeline"
	"memcore/internal/syncfabric"
	"memcore/internal/tier"
	"memcore/internal/tier/cold"
	"memcore/internal/tier/hot"
	"memcore/internal/tier/warm"
	pkgauth "memcore/pkg/auth"
)

// Container holds every long-lived component the process needs, built
// once at startup and threaded through the HTTP router and background
// tasks without ever being reached through a global.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	Metrics *observability.Collector
	Tracer *observability.TracerProvider

	Bus *events.Bus
	ScopeRegistry *ScopeRegistry

	TierStore *tier.Store
	Sweepers *tier.Sweepers
	Engine *engine.Engine
	Ledger *ledger.Ledger
	Pipeline *pipeline.Pipeline
	Fabric *syncfabric.Fabric

	Server *http.Server
	MetricsServer *http.Server

	cancelBackground context.CancelFunc
}

// Build constructs every component from cfg, following the teacher's
// provider order (logger -> AWS clients -> repositories -> application
// services -> HTTP server) but as a single function instead of
// google/wire-generated code, since this module has no wire_gen.go to
// hand-maintain (see DESIGN.md).
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: building logger: %w", err)
	}

	metrics := observability.NewCollector("memcore")
	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "memcore",
		Environment: string(cfg.Environment),
		Endpoint: "",
		SampleRate: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: initializing tracing: %w", err)
	}

	bus := events.New(logger)
	scopeRegistry := NewScopeRegistry(bus)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Warm.Region))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: loading AWS config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Warm.Endpoint != "" {
			o.BaseEndpoint = &cfg.Warm.Endpoint
		}
	})
	s3Client := s3.NewFromConfig(awsCfg)

	hotStore, err := buildHotStore(cfg.Hot, logger)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: building hot tier: %w", err)
	}

	memoryStore := warm.NewMemoryStore(dynamoClient, cfg.Warm.TableName, cfg.Warm.IDIndex, cfg.Warm.DomainIndex, logger)
	relationshipStore := warm.NewRelationshipStore(dynamoClient, cfg.Warm.TableName)
	eventStore := warm.NewEventStore(dynamoClient, cfg.Warm.TableName)
	patternStore := warm.NewPatternStore(dynamoClient, cfg.Warm.TableName)
	insightStore := warm.NewInsightStore(dynamoClient, cfg.Warm.TableName)
	rollupStore := warm.NewRollupStore(dynamoClient, cfg.Warm.TableName)
	envelopeQueue := warm.NewEnvelopeQueueStore(dynamoClient, cfg.Warm.TableName)
	archive := cold.NewArchive(s3Client, cfg.Cold.Bucket)

	tierStore := tier.New(tier.Config{
		Hot: hotStore,
		Warm: memoryStore,
		Relationships: relationshipStore,
		Cold: archive,
		Bus: bus,
		DefaultHotTTL: cfg.Hot.DefaultTTL,
		Metrics: metrics,
		Logger: logger,
	})
	sweepers := tier.NewSweepers(tierStore, cfg.Tiers.ExpirySweepEvery, cfg.Tiers.ArchiveThreshold, logger)

	eng := engine.New(tierStore, bus, metrics, logger)
	led := ledger.New(eventStore, patternStore, hotStore, bus, metrics, logger)
	pipe := pipeline.New(rollupStore, insightStore, bus, metrics, logger)

	fabric := syncfabric.New(
		syncfabric.Config{
			ServiceID: cfg.Sync.ServiceID,
			DrainInterval: cfg.Sync.DrainInterval,
			RetryDelay: cfg.Sync.RetryDelay,
			RetryMaxDelay: cfg.Sync.RetryMaxDelay,
			MaxSendBatch: cfg.Sync.MaxSendBatch,
			QueueHighWater: cfg.Sync.QueueHighWater,
		},
		peerConfigs(cfg.Peers),
		syncfabric.NewDurableQueue(envelopeQueue),
		syncfabric.NewWSTransport(logger),
		eng,
		led,
		tierStore,
		eventStore,
		bus,
		metrics,
		logger,
	)

	validator, err := pkgauth.NewJWTValidator(pkgauth.JWTConfig{
		SigningMethod: cfg.Auth.SigningMethod,
		SecretKey: cfg.Auth.SecretKey,
		PublicKey: cfg.Auth.PublicKey,
		Issuer: cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: building JWT validator: %w", err)
	}

	router := api.NewRouter(cfg, validator, eng, led, pipe, sweepers, bus, fabric, logger)

	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Edge.Host, cfg.Edge.Port),
		Handler: router.Setup(),
		ReadTimeout: cfg.Edge.ReadTimeout,
		WriteTimeout: cfg.Edge.WriteTimeout,
	}

	metricsSrv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Edge.Host, cfg.Edge.Port+1),
		Handler: promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
	}

	return &Container{
		Config: cfg,
		Logger: logger,
		Metrics: metrics,
		Tracer: tracer,
		Bus: bus,
		ScopeRegistry: scopeRegistry,
		TierStore: tierStore,
		Sweepers: sweepers,
		Engine: eng,
		Ledger: led,
		Pipeline: pipe,
		Fabric: fabric,
		Server: srv,
		MetricsServer: metricsSrv,
	}, nil
}

// Start launches every long-lived background task and the HTTP servers. It
// returns immediately; call Shutdown to stop everything.
func (c *Container) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	c.cancelBackground = cancel

	go c.Sweepers.RunExpirySweeper(bgCtx, c.ScopeRegistry.Scopes)
	go c.Sweepers.RunArchiveSweeper(bgCtx, c.ScopeRegistry.Scopes)
	go c.Ledger.RunPatternSweeper(bgCtx, c.Config.Tiers.PatternSweepEvery)
	go c.Pipeline.RunRealTimeFold(bgCtx, c.Config.Tiers.RealtimeFoldEvery)
	go c.Pipeline.RunRollupPersist(bgCtx, c.Config.Tiers.RollupPersistEvery)
	go c.Pipeline.RunInsightGeneration(bgCtx, c.Config.Tiers.InsightEvery)
	go c.Fabric.Start(bgCtx)

	go func() {
		if err := c.MetricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.Logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := c.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.Logger.Error("edge server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops every background task and drains the HTTP servers
// within the configured grace period.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.cancelBackground != nil {
		c.cancelBackground()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, c.Config.Edge.ShutdownGrace)
	defer cancel()

	var firstErr error
	if err := c.Server.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.MetricsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Tracer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func newLogger(env config.Environment) (*zap.Logger, error) {
	if env == config.Production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildHotStore(cfg config.Hot, logger *zap.Logger) (hot.Store, error) {
	if cfg.RedisAddr == "" {
		return hot.NewLocal(100000, 256<<20, logger), nil
	}
	return hot.NewRedis(cfg.RedisAddr, "memcore")
}

func peerConfigs(peers map[string]config.Peer) []syncfabric.PeerConfig {
	out := make([]syncfabric.PeerConfig, 0, len(peers))
	for id, p := range peers {
		kinds := make([]syncdomain.PayloadKind, 0, len(p.AcceptedKinds))
		for _, k := range p.AcceptedKinds {
			kinds = append(kinds, syncdomain.PayloadKind(k))
		}
		out = append(out, syncfabric.PeerConfig{
			ID: id,
			Endpoint: p.Endpoint,
			AcceptedDomains: p.AcceptedDomains,
			AcceptedKinds: kinds,
		})
	}
	return out
}
