package config

import "time"

const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "visibility"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "visibility:"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "visibility-workers"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsNamespace = "visibility"

	// Tier TTLs: hotter tiers expire sooner.
	DefaultL1TTL = 15 * time.Minute
	DefaultL2TTL = 6 * time.Hour
	DefaultL3TTL = 24 * time.Hour
	DefaultL4TTL = 7 * 24 * time.Hour

	DefaultL1MaxEntries = 10000
	DefaultVariancePct  = 0.05
	DefaultSweep        = 10 * time.Minute
	DefaultStats        = 1 * time.Minute

	DefaultSubmitStagger = 1 * time.Second
	DefaultStaleAfter    = 7 * 24 * time.Hour
	DefaultBasePriority  = 100.0
	DefaultErrorLogLimit = 100

	DefaultMaxClusterSize         = 25
	DefaultSingleClusterThreshold = 10
	DefaultClusterRefresh         = 6 * time.Hour
	DefaultPoolName               = "national"
)

// defaultQueues carries the per-job-type defaults: smaller batches and lower
// concurrency for more expensive job types.
var defaultQueues = map[string]QueueConfig{
	"full_analysis":    {Workers: 10, ConcurrentTasks: 5, BatchSize: 50, InterEntityDelay: 1000 * time.Millisecond, RetryBackoffBase: 2 * time.Second, MaxRetries: 3},
	"quick_refresh":    {Workers: 10, ConcurrentTasks: 5, BatchSize: 200, InterEntityDelay: 100 * time.Millisecond, RetryBackoffBase: 2 * time.Second, MaxRetries: 3},
	"competitive_scan": {Workers: 5, ConcurrentTasks: 3, BatchSize: 100, InterEntityDelay: 500 * time.Millisecond, RetryBackoffBase: 2 * time.Second, MaxRetries: 3},
	"market_analysis":  {Workers: 2, ConcurrentTasks: 1, BatchSize: 25, InterEntityDelay: 2000 * time.Millisecond, RetryBackoffBase: 10 * time.Second, MaxRetries: 3},
}

// defaultPools is the standing five-region reference table.  It can be
// overridden (and hot-reloaded) from the config file.
var defaultPools = []PoolConfig{
	{Name: "northeast", RegionCodes: []string{"CT", "DE", "MA", "MD", "ME", "NH", "NJ", "NY", "PA", "RI", "VT"}, CacheWeight: 1.0},
	{Name: "southeast", RegionCodes: []string{"AL", "AR", "FL", "GA", "KY", "LA", "MS", "NC", "SC", "TN", "VA", "WV"}, CacheWeight: 1.0},
	{Name: "midwest", RegionCodes: []string{"IA", "IL", "IN", "KS", "MI", "MN", "MO", "ND", "NE", "OH", "SD", "WI"}, CacheWeight: 1.0},
	{Name: "southwest", RegionCodes: []string{"AZ", "NM", "OK", "TX"}, CacheWeight: 1.2},
	{Name: "west", RegionCodes: []string{"AK", "CA", "CO", "HI", "ID", "MT", "NV", "OR", "UT", "WA", "WY"}, CacheWeight: 1.2},
}

// ApplyDefaults fills every zero-value field in cfg with the engine default.
// Fields already set by the caller are left unchanged so explicit
// configuration always wins.  Must run after unmarshalling and before
// Validate so optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "visibility"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.ProducerRetries == 0 {
		cfg.Kafka.ProducerRetries = 3
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 1 * time.Second
	}

	if cfg.Cache.L1TTL == 0 {
		cfg.Cache.L1TTL = DefaultL1TTL
	}
	if cfg.Cache.L2TTL == 0 {
		cfg.Cache.L2TTL = DefaultL2TTL
	}
	if cfg.Cache.L3TTL == 0 {
		cfg.Cache.L3TTL = DefaultL3TTL
	}
	if cfg.Cache.L4TTL == 0 {
		cfg.Cache.L4TTL = DefaultL4TTL
	}
	if cfg.Cache.L1MaxEntries == 0 {
		cfg.Cache.L1MaxEntries = DefaultL1MaxEntries
	}
	if cfg.Cache.VariancePct == 0 {
		cfg.Cache.VariancePct = DefaultVariancePct
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = DefaultSweep
	}
	if cfg.Cache.StatsInterval == 0 {
		cfg.Cache.StatsInterval = DefaultStats
	}

	applyQueueDefaults(&cfg.Pipeline.FullAnalysis, defaultQueues["full_analysis"])
	applyQueueDefaults(&cfg.Pipeline.QuickRefresh, defaultQueues["quick_refresh"])
	applyQueueDefaults(&cfg.Pipeline.CompetitiveScan, defaultQueues["competitive_scan"])
	applyQueueDefaults(&cfg.Pipeline.MarketAnalysis, defaultQueues["market_analysis"])
	if cfg.Pipeline.SubmitStagger == 0 {
		cfg.Pipeline.SubmitStagger = DefaultSubmitStagger
	}
	if cfg.Pipeline.StaleAfter == 0 {
		cfg.Pipeline.StaleAfter = DefaultStaleAfter
	}
	if cfg.Pipeline.BasePriority == 0 {
		cfg.Pipeline.BasePriority = DefaultBasePriority
	}
	if cfg.Pipeline.ErrorLogLimit == 0 {
		cfg.Pipeline.ErrorLogLimit = DefaultErrorLogLimit
	}

	if len(cfg.Geo.Pools) == 0 {
		cfg.Geo.Pools = defaultPools
	}
	if cfg.Geo.DefaultPool == "" {
		cfg.Geo.DefaultPool = DefaultPoolName
	}
	if cfg.Geo.MaxClusterSize == 0 {
		cfg.Geo.MaxClusterSize = DefaultMaxClusterSize
	}
	if cfg.Geo.SingleClusterThreshold == 0 {
		cfg.Geo.SingleClusterThreshold = DefaultSingleClusterThreshold
	}
	if cfg.Geo.ClusterRefreshInterval == 0 {
		cfg.Geo.ClusterRefreshInterval = DefaultClusterRefresh
	}

	if cfg.Competitive.OpportunityGapThreshold == 0 {
		cfg.Competitive.OpportunityGapThreshold = 10
	}
	if cfg.Competitive.ThreatGapThreshold == 0 {
		cfg.Competitive.ThreatGapThreshold = 10
	}
	if cfg.Competitive.OpportunityConfidence == 0 {
		cfg.Competitive.OpportunityConfidence = 0.7
	}
	if cfg.Competitive.ThreatConfidence == 0 {
		cfg.Competitive.ThreatConfidence = 0.6
	}
	if cfg.Competitive.BulkConcurrency == 0 {
		cfg.Competitive.BulkConcurrency = 5
	}
	if cfg.Competitive.RecommendationScoreFloor == 0 {
		cfg.Competitive.RecommendationScoreFloor = 40
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}
	if len(cfg.Log.ErrorOutputPaths) == 0 {
		cfg.Log.ErrorOutputPaths = []string{"stderr"}
	}
}

func applyQueueDefaults(q *QueueConfig, d QueueConfig) {
	if q.Workers == 0 {
		q.Workers = d.Workers
	}
	if q.ConcurrentTasks == 0 {
		q.ConcurrentTasks = d.ConcurrentTasks
	}
	if q.BatchSize == 0 {
		q.BatchSize = d.BatchSize
	}
	if q.InterEntityDelay == 0 {
		q.InterEntityDelay = d.InterEntityDelay
	}
	if q.RetryBackoffBase == 0 {
		q.RetryBackoffBase = d.RetryBackoffBase
	}
	if q.MaxRetries == 0 {
		q.MaxRetries = d.MaxRetries
	}
}
