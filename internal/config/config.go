// Package config defines all configuration structures for the visibility
// engine.  No I/O or parsing logic lives here — only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the cluster-wide cache
// store (tiers L2-L4).
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka producer/consumer parameters for batch queues.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	ProducerRetries int           `mapstructure:"producer_retries"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig holds the tiered cache manager parameters.  TTLs must be
// strictly increasing from L1 to L4.
type CacheConfig struct {
	L1TTL time.Duration `mapstructure:"l1_ttl"`
	L2TTL time.Duration `mapstructure:"l2_ttl"`
	L3TTL time.Duration `mapstructure:"l3_ttl"`
	L4TTL time.Duration `mapstructure:"l4_ttl"`

	// L1MaxEntries bounds the in-process hot store; oldest-expiry entries are
	// evicted past the bound.
	L1MaxEntries int `mapstructure:"l1_max_entries"`

	// VariancePct is the maximum per-metric deviation applied when a pooled
	// entry is served for an entity without its own cache entry.
	VariancePct float64 `mapstructure:"variance_pct"`

	// SweepInterval controls the background expired-entry sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// StatsInterval controls how often aggregate cache stats are recomputed.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// QueueConfig holds per-job-type queue and worker pool tunables.
type QueueConfig struct {
	Workers          int           `mapstructure:"workers"`
	ConcurrentTasks  int           `mapstructure:"concurrent_tasks"`
	BatchSize        int           `mapstructure:"batch_size"`
	InterEntityDelay time.Duration `mapstructure:"inter_entity_delay"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

// PipelineConfig holds bulk analysis pipeline parameters.
type PipelineConfig struct {
	FullAnalysis    QueueConfig `mapstructure:"full_analysis"`
	QuickRefresh    QueueConfig `mapstructure:"quick_refresh"`
	CompetitiveScan QueueConfig `mapstructure:"competitive_scan"`
	MarketAnalysis  QueueConfig `mapstructure:"market_analysis"`

	// SubmitStagger is the delay applied between successive batch
	// submissions, multiplied by the batch index.
	SubmitStagger time.Duration `mapstructure:"submit_stagger"`

	// StaleAfter marks a dealership stale for priority scoring when its last
	// analysis is older than this.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// BasePriority is the starting priority score before urgency discounts.
	BasePriority float64 `mapstructure:"base_priority"`

	// ErrorLogLimit bounds the per-job error log length.
	ErrorLogLimit int `mapstructure:"error_log_limit"`
}

// PoolConfig describes one geographic pool in the reference table.
type PoolConfig struct {
	Name        string   `mapstructure:"name"`
	RegionCodes []string `mapstructure:"region_codes"`
	CacheWeight float64  `mapstructure:"cache_weight"`
}

// GeoConfig holds pool index and cluster builder parameters.
type GeoConfig struct {
	Pools                  []PoolConfig  `mapstructure:"pools"`
	DefaultPool            string        `mapstructure:"default_pool"`
	MaxClusterSize         int           `mapstructure:"max_cluster_size"`
	SingleClusterThreshold int           `mapstructure:"single_cluster_threshold"`
	ClusterRefreshInterval time.Duration `mapstructure:"cluster_refresh_interval"`
}

// CompetitiveConfig holds competitive intelligence generator parameters.
// Confidence values are heuristic constants, configurable pending a
// statistically derived replacement.
type CompetitiveConfig struct {
	OpportunityGapThreshold  float64 `mapstructure:"opportunity_gap_threshold"`
	ThreatGapThreshold       float64 `mapstructure:"threat_gap_threshold"`
	OpportunityConfidence    float64 `mapstructure:"opportunity_confidence"`
	ThreatConfidence         float64 `mapstructure:"threat_confidence"`
	BulkConcurrency          int     `mapstructure:"bulk_concurrency"`
	RecommendationScoreFloor float64 `mapstructure:"recommendation_score_floor"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// Config is the root configuration structure for the engine.  Every
// infrastructure component and application service reads its settings from
// the relevant sub-struct.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Geo         GeoConfig         `mapstructure:"geo"`
	Competitive CompetitiveConfig `mapstructure:"competitive"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

// LogConfig mirrors logging.LogConfig so the config package does not import
// infrastructure.  The composition root converts between the two.
type LogConfig struct {
	Level            string   `mapstructure:"level"`
	Format           string   `mapstructure:"format"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}

	// Tier TTLs must be strictly increasing; a violation would let a colder
	// tier expire before a hotter one and break promotion semantics.
	if !(c.Cache.L1TTL < c.Cache.L2TTL && c.Cache.L2TTL < c.Cache.L3TTL && c.Cache.L3TTL < c.Cache.L4TTL) {
		return fmt.Errorf("config: cache tier TTLs must satisfy L1 < L2 < L3 < L4 (got %v, %v, %v, %v)",
			c.Cache.L1TTL, c.Cache.L2TTL, c.Cache.L3TTL, c.Cache.L4TTL)
	}
	if c.Cache.VariancePct <= 0 || c.Cache.VariancePct > 0.5 {
		return fmt.Errorf("config: cache.variance_pct %v is out of range (0, 0.5]", c.Cache.VariancePct)
	}

	for _, q := range []struct {
		name string
		cfg  QueueConfig
	}{
		{"full_analysis", c.Pipeline.FullAnalysis},
		{"quick_refresh", c.Pipeline.QuickRefresh},
		{"competitive_scan", c.Pipeline.CompetitiveScan},
		{"market_analysis", c.Pipeline.MarketAnalysis},
	} {
		if q.cfg.Workers < 1 {
			return fmt.Errorf("config: pipeline.%s.workers must be ≥ 1, got %d", q.name, q.cfg.Workers)
		}
		if q.cfg.ConcurrentTasks < 1 {
			return fmt.Errorf("config: pipeline.%s.concurrent_tasks must be ≥ 1, got %d", q.name, q.cfg.ConcurrentTasks)
		}
		if q.cfg.BatchSize < 1 {
			return fmt.Errorf("config: pipeline.%s.batch_size must be ≥ 1, got %d", q.name, q.cfg.BatchSize)
		}
	}

	if c.Geo.MaxClusterSize < 1 {
		return fmt.Errorf("config: geo.max_cluster_size must be ≥ 1, got %d", c.Geo.MaxClusterSize)
	}
	if c.Geo.SingleClusterThreshold < 1 {
		return fmt.Errorf("config: geo.single_cluster_threshold must be ≥ 1, got %d", c.Geo.SingleClusterThreshold)
	}
	if c.Geo.DefaultPool == "" {
		return fmt.Errorf("config: geo.default_pool is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

// QueueFor returns the QueueConfig for a job type string.  Unknown types get
// the full_analysis settings; callers validate the type before reaching here.
func (c *PipelineConfig) QueueFor(jobType string) QueueConfig {
	switch jobType {
	case "quick_refresh":
		return c.QuickRefresh
	case "competitive_scan":
		return c.CompetitiveScan
	case "market_analysis":
		return c.MarketAnalysis
	default:
		return c.FullAnalysis
	}
}
