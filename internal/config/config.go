// Package config provides environment-driven configuration for the core,
// following the teacher's struct-tag + validator approach rather than a
// bespoke flag parser.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete, validated configuration for one process: edge
// bind address, tier endpoints, sweep cadences, peer table, and
// sync/retry/backpressure knobs.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Edge   Edge   `yaml:"edge" validate:"required"`
	Hot    Hot    `yaml:"hot" validate:"required"`
	Warm   Warm   `yaml:"warm" validate:"required"`
	Cold   Cold   `yaml:"cold" validate:"required"`
	Tiers  Tiers  `yaml:"tiers" validate:"required"`
	Sync   Sync   `yaml:"sync" validate:"required"`
	Auth   Auth   `yaml:"auth" validate:"required"`
	Peers  map[string]Peer `yaml:"peers"`
}

// Auth configures the edge bearer-token validator that authenticates
// the principal on every request; the token issuer itself is out of
// scope.
type Auth struct {
	SigningMethod string   `yaml:"signing_method" validate:"required,oneof=HS256 RS256"`
	SecretKey     string   `yaml:"secret_key"`
	PublicKey     string   `yaml:"public_key"`
	Issuer        string   `yaml:"issuer"`
	Audience      []string `yaml:"audience"`
}

// Edge is the bind address for the HTTP query API.
type Edge struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"required"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"required"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace" validate:"required"`
}

// Hot is the expiring KV endpoint backing the hot tier.
type Hot struct {
	RedisAddr  string        `yaml:"redis_addr"` // empty => use in-process hot.Local
	DefaultTTL time.Duration `yaml:"default_ttl" validate:"required"`
}

// Warm is the relational (DynamoDB) endpoint backing the warm tier.
type Warm struct {
	TableName string `yaml:"table_name" validate:"required"`
	Region    string `yaml:"region" validate:"required"`
	Endpoint  string `yaml:"endpoint"` // optional, for local DynamoDB
	IDIndex   string `yaml:"id_index" validate:"required"`     // GSI1: id-only lookup
	DomainIndex string `yaml:"domain_index" validate:"required"` // GSI2: domain-wide lookup
}

// Cold is the object-store bucket backing the cold tier.
type Cold struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Region string `yaml:"region" validate:"required"`
}

// Tiers holds the sweeper cadences and thresholds shared by the tier
// store, learning ledger, and insight pipeline.
type Tiers struct {
	ArchiveThreshold    time.Duration `yaml:"archive_threshold" validate:"required"`
	ArchiveSweepEvery   time.Duration `yaml:"archive_sweep_interval" validate:"required"`
	ExpirySweepEvery    time.Duration `yaml:"expiry_sweep_interval" validate:"required"`
	ArchiveBatchSize    int           `yaml:"archive_batch_size" validate:"required,min=1"`
	PatternSweepEvery   time.Duration `yaml:"pattern_sweep_interval" validate:"required"`
	InsightEvery        time.Duration `yaml:"insight_interval" validate:"required"`
	RollupPersistEvery  time.Duration `yaml:"rollup_persist_interval" validate:"required"`
	RealtimeFoldEvery   time.Duration `yaml:"realtime_fold_interval" validate:"required"`
}

// Sync holds the sync fabric's per-peer cadence and backpressure policy.
type Sync struct {
	DrainInterval   time.Duration `yaml:"drain_interval" validate:"required"`
	RetryDelay      time.Duration `yaml:"retry_delay" validate:"required"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" validate:"required"`
	MaxSendBatch    int           `yaml:"max_send_batch" validate:"required,min=1"`
	QueueHighWater  int           `yaml:"queue_high_water" validate:"required,min=1"`
	ServiceID       string        `yaml:"service_id" validate:"required"`
}

// Peer describes one entry in the peer table: endpoint plus the domains
// and payload kinds it has declared it will accept.
type Peer struct {
	Endpoint        string   `yaml:"endpoint" validate:"required"`
	AcceptedDomains []string `yaml:"accepted_domains" validate:"required,min=1"`
	AcceptedKinds   []string `yaml:"accepted_kinds" validate:"required,min=1"`
}

// Load builds a Config from environment variables, applying defaults for
// anything unset, then validates it. This mirrors the teacher's
// env-var-first approach (internal/config/config.go) rather than requiring
// a config file.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: Environment(getEnv("MEMCORE_ENV", string(Development))),
		Edge: Edge{
			Host:          getEnv("MEMCORE_EDGE_HOST", "0.0.0.0"),
			Port:          getEnvInt("MEMCORE_EDGE_PORT", 8080),
			ReadTimeout:   getEnvDuration("MEMCORE_EDGE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:  getEnvDuration("MEMCORE_EDGE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownGrace: getEnvDuration("MEMCORE_SHUTDOWN_GRACE", 20*time.Second),
		},
		Hot: Hot{
			RedisAddr:  getEnv("MEMCORE_HOT_REDIS_ADDR", ""),
			DefaultTTL: getEnvDuration("MEMCORE_HOT_DEFAULT_TTL", 30*time.Minute),
		},
		Warm: Warm{
			TableName:   getEnv("MEMCORE_WARM_TABLE", "memcore"),
			Region:      getEnv("MEMCORE_WARM_REGION", "us-east-1"),
			Endpoint:    getEnv("MEMCORE_WARM_ENDPOINT", ""),
			IDIndex:     getEnv("MEMCORE_WARM_ID_INDEX", "GSI1"),
			DomainIndex: getEnv("MEMCORE_WARM_DOMAIN_INDEX", "GSI2"),
		},
		Cold: Cold{
			Bucket: getEnv("MEMCORE_COLD_BUCKET", "memcore-archive"),
			Region: getEnv("MEMCORE_COLD_REGION", "us-east-1"),
		},
		Tiers: Tiers{
			ArchiveThreshold:   getEnvDuration("MEMCORE_ARCHIVE_THRESHOLD", 90*24*time.Hour),
			ArchiveSweepEvery:  getEnvDuration("MEMCORE_ARCHIVE_SWEEP_INTERVAL", 1*time.Hour),
			ExpirySweepEvery:   getEnvDuration("MEMCORE_EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
			ArchiveBatchSize:   getEnvInt("MEMCORE_ARCHIVE_BATCH_SIZE", 200),
			PatternSweepEvery:  getEnvDuration("MEMCORE_PATTERN_SWEEP_INTERVAL", 5*time.Minute),
			InsightEvery:       getEnvDuration("MEMCORE_INSIGHT_INTERVAL", 1*time.Hour),
			RollupPersistEvery: getEnvDuration("MEMCORE_ROLLUP_PERSIST_INTERVAL", 5*time.Minute),
			RealtimeFoldEvery:  getEnvDuration("MEMCORE_REALTIME_FOLD_INTERVAL", 1*time.Second),
		},
		Sync: Sync{
			DrainInterval:  getEnvDuration("MEMCORE_SYNC_DRAIN_INTERVAL", 2*time.Second),
			RetryDelay:     getEnvDuration("MEMCORE_SYNC_RETRY_DELAY", 2*time.Second),
			RetryMaxDelay:  getEnvDuration("MEMCORE_SYNC_RETRY_MAX_DELAY", 2*time.Minute),
			MaxSendBatch:   getEnvInt("MEMCORE_SYNC_MAX_BATCH", 10),
			QueueHighWater: getEnvInt("MEMCORE_SYNC_QUEUE_HIGH_WATER", 10000),
			ServiceID:      getEnv("MEMCORE_SERVICE_ID", "memcore"),
		},
		Auth: Auth{
			SigningMethod: getEnv("MEMCORE_AUTH_SIGNING_METHOD", "HS256"),
			SecretKey:     getEnv("MEMCORE_AUTH_SECRET", "dev-secret-change-me"),
			PublicKey:     getEnv("MEMCORE_AUTH_PUBLIC_KEY", ""),
			Issuer:        getEnv("MEMCORE_AUTH_ISSUER", ""),
			Audience:      getEnvList("MEMCORE_AUTH_AUDIENCE"),
		},
		Peers: map[string]Peer{},
	}

	if overlay := os.Getenv("MEMCORE_PEERS_FILE"); overlay != "" {
		peers, err := loadPeersFile(overlay)
		if err != nil {
			return nil, fmt.Errorf("config: loading peers file: %w", err)
		}
		cfg.Peers = peers
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg, returning a single
// aggregated error on failure.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	for id, p := range cfg.Peers {
		if err := v.Struct(p); err != nil {
			return fmt.Errorf("config: invalid peer %q: %w", id, err)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvList splits a comma-separated environment variable.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
