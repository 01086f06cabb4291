package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every application metric, registered once at startup and
// shared by reference.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Pipeline layer
	JobsSubmittedTotal    CounterVec
	JobsFinishedTotal     CounterVec
	JobDuration           HistogramVec
	BatchesPublishedTotal CounterVec
	BatchDuration         HistogramVec
	BatchRetriesTotal     CounterVec
	QueueDepth            GaugeVec
	ActiveWorkers         GaugeVec
	DealershipsProcessed  CounterVec

	// Cache layer
	CacheHitsTotal      CounterVec
	CacheMissesTotal    CounterVec
	CacheSetsTotal      CounterVec
	CacheSweepDeleted   CounterVec
	CacheHitRate        GaugeVec
	CacheL1Entries      GaugeVec
	VarianceServedTotal CounterVec

	// Geo layer
	PoolMembers          GaugeVec
	ClustersBuilt        GaugeVec
	ClusterBuildDuration HistogramVec

	// Infrastructure
	DBPoolSize   GaugeVec
	DBPoolActive GaugeVec
	ErrorsTotal  CounterVec
}

var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultBatchDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}
	DefaultBuildDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 15, 60}
)

// NewAppMetrics registers the full metric set against the collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method")

	m.JobsSubmittedTotal = collector.RegisterCounter("jobs_submitted_total", "Bulk analysis jobs submitted", "job_type")
	m.JobsFinishedTotal = collector.RegisterCounter("jobs_finished_total", "Bulk analysis jobs finished", "job_type", "status")
	m.JobDuration = collector.RegisterHistogram("job_duration_seconds", "Job wall-clock duration", DefaultBatchDurationBuckets, "job_type")
	m.BatchesPublishedTotal = collector.RegisterCounter("batches_published_total", "Batches published to queues", "queue")
	m.BatchDuration = collector.RegisterHistogram("batch_duration_seconds", "Batch execution duration", DefaultBatchDurationBuckets, "job_type")
	m.BatchRetriesTotal = collector.RegisterCounter("batch_retries_total", "Batch delivery retries", "queue")
	m.QueueDepth = collector.RegisterGauge("queue_depth", "Approximate unconsumed batches per queue", "queue")
	m.ActiveWorkers = collector.RegisterGauge("active_workers", "Workers currently executing batches", "job_type")
	m.DealershipsProcessed = collector.RegisterCounter("dealerships_processed_total", "Per-dealership analysis outcomes", "job_type", "outcome")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits by serving source", "source")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses")
	m.CacheSetsTotal = collector.RegisterCounter("cache_sets_total", "Cache writes by tier", "tier")
	m.CacheSweepDeleted = collector.RegisterCounter("cache_sweep_deleted_total", "Expired entries reclaimed by the sweeper")
	m.CacheHitRate = collector.RegisterGauge("cache_hit_rate", "Rolling cache hit rate")
	m.CacheL1Entries = collector.RegisterGauge("cache_l1_entries", "Entries resident in the in-process hot tier")
	m.VarianceServedTotal = collector.RegisterCounter("variance_served_total", "Pooled entries served with variance applied", "pool")

	m.PoolMembers = collector.RegisterGauge("pool_members", "Dealerships assigned per geographic pool", "pool")
	m.ClustersBuilt = collector.RegisterGauge("clusters_built", "Competitive clusters in the current build")
	m.ClusterBuildDuration = collector.RegisterHistogram("cluster_build_duration_seconds", "Cluster rebuild duration", DefaultBuildDurationBuckets)

	m.DBPoolSize = collector.RegisterGauge("db_pool_size", "Database connection pool size", "db")
	m.DBPoolActive = collector.RegisterGauge("db_pool_active", "Database connections in use", "db")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors by component", "component", "code")

	return m
}

// RecordHTTPRequest observes one completed request.
func (m *AppMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBatchOutcome observes one executed batch and its per-entity results.
func (m *AppMetrics) RecordBatchOutcome(jobType string, duration time.Duration, completed, failed int) {
	m.BatchDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	m.DealershipsProcessed.WithLabelValues(jobType, "completed").Add(float64(completed))
	m.DealershipsProcessed.WithLabelValues(jobType, "failed").Add(float64(failed))
}

// RecordError counts an error by component and code.
func (m *AppMetrics) RecordError(component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

// PipelineMeter adapts AppMetrics to the pipeline's event hooks.
type PipelineMeter struct {
	metrics *AppMetrics
}

func NewPipelineMeter(metrics *AppMetrics) *PipelineMeter {
	return &PipelineMeter{metrics: metrics}
}

func (p *PipelineMeter) JobSubmitted(jobType string) {
	p.metrics.JobsSubmittedTotal.WithLabelValues(jobType).Inc()
}

func (p *PipelineMeter) JobFinished(jobType, status string) {
	p.metrics.JobsFinishedTotal.WithLabelValues(jobType, status).Inc()
}

func (p *PipelineMeter) BatchPublished(queue string) {
	p.metrics.BatchesPublishedTotal.WithLabelValues(queue).Inc()
}

func (p *PipelineMeter) BatchExecuted(jobType string, duration time.Duration, completed, failed int) {
	p.metrics.RecordBatchOutcome(jobType, duration, completed, failed)
}

// CacheMeter adapts AppMetrics to the cache manager's event hooks.
type CacheMeter struct {
	metrics *AppMetrics
}

func NewCacheMeter(metrics *AppMetrics) *CacheMeter {
	return &CacheMeter{metrics: metrics}
}

func (c *CacheMeter) CacheHit(source string) {
	c.metrics.CacheHitsTotal.WithLabelValues(source).Inc()
}

func (c *CacheMeter) CacheMiss() {
	c.metrics.CacheMissesTotal.WithLabelValues().Inc()
}

func (c *CacheMeter) CacheSet(tier string) {
	c.metrics.CacheSetsTotal.WithLabelValues(tier).Inc()
}

func (c *CacheMeter) SweepDeleted(n int) {
	c.metrics.CacheSweepDeleted.WithLabelValues().Add(float64(n))
}
