package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/messaging/kafka"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// WorkerPool consumes one job type's queue with the type's configured worker
// count. Each worker is a consumer-group member, so batches spread across
// partitions; within a worker, entity generations overlap up to the type's
// concurrent-task limit (enforced by the executor).
type WorkerPool struct {
	jobType   common.AnalysisType
	consumers []*kafka.Consumer
	logger    logging.Logger
}

// NewWorkerPool builds the pool for a job type from its queue settings.
func NewWorkerPool(cfg config.KafkaConfig, jobType common.AnalysisType, q config.QueueConfig, executor *Executor, logger logging.Logger) (*WorkerPool, error) {
	topic := kafka.TopicForJobType(jobType)
	policy := kafka.RetryPolicy{
		MaxRetries: q.MaxRetries,
		Backoff:    q.RetryBackoffBase,
	}
	handler := BatchHandler(executor)
	onDeadLetter := BatchFailureHandler(executor)

	workers := q.Workers
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		jobType: jobType,
		logger:  logger.Named("pool").With(logging.String("job_type", string(jobType))),
	}
	for i := 0; i < workers; i++ {
		c, err := kafka.NewConsumer(cfg, topic, policy, handler, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		// A dead-lettered batch is failed work, not lost work: its members
		// count against the job so the counters still converge.
		c.OnDeadLetter(onDeadLetter)
		pool.consumers = append(pool.consumers, c)
	}
	return pool, nil
}

// Start launches every consumer.
func (p *WorkerPool) Start(ctx context.Context) error {
	for _, c := range p.consumers {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	p.logger.Info("worker pool started", logging.Int("workers", len(p.consumers)))
	return nil
}

// Close stops every consumer, waiting for in-flight batches.
func (p *WorkerPool) Close() error {
	var firstErr error
	for _, c := range p.consumers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PoolSet is the full per-type pool fleet for a worker process.
type PoolSet struct {
	pools []*WorkerPool
}

// NewPoolSet builds one pool per job type.
func NewPoolSet(kcfg config.KafkaConfig, pcfg config.PipelineConfig, executor *Executor, logger logging.Logger) (*PoolSet, error) {
	set := &PoolSet{}
	for _, jt := range []common.AnalysisType{
		common.AnalysisFull, common.AnalysisQuick, common.AnalysisCompetitive, common.AnalysisMarket,
	} {
		pool, err := NewWorkerPool(kcfg, jt, pcfg.QueueFor(string(jt)), executor, logger)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.pools = append(set.pools, pool)
	}
	return set, nil
}

func (s *PoolSet) Start(ctx context.Context) error {
	for _, p := range s.pools {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *PoolSet) Close() error {
	var firstErr error
	for _, p := range s.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JobProgress is the aggregator's rolled-up view of one job.
type JobProgress struct {
	JobID        uuid.UUID `json:"job_id"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	BatchesDone  int       `json:"batches_done"`
	LastEventAt  int64     `json:"last_event_at_unix"`
	LastBatchIdx int       `json:"last_batch_index"`
}

// Aggregator consumes progress events and keeps a per-job rollup for status
// endpoints and logging. Callers drop settled jobs with Forget.
type Aggregator struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*JobProgress
	logger logging.Logger

	events chan ProgressEvent
	done   chan struct{}
}

// NewAggregator builds an aggregator with the given event buffer size.
func NewAggregator(buffer int, logger logging.Logger) *Aggregator {
	if buffer < 1 {
		buffer = 1024
	}
	return &Aggregator{
		jobs:   make(map[uuid.UUID]*JobProgress),
		logger: logger.Named("progress"),
		events: make(chan ProgressEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel executors publish into.
func (a *Aggregator) Events() chan<- ProgressEvent { return a.events }

// Run consumes events until the context ends. Blocks; run in a goroutine.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.apply(ev)
		}
	}
}

// Wait blocks until Run has exited.
func (a *Aggregator) Wait() { <-a.done }

func (a *Aggregator) apply(ev ProgressEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.jobs[ev.JobID]
	if !ok {
		p = &JobProgress{JobID: ev.JobID}
		a.jobs[ev.JobID] = p
	}
	p.LastEventAt = ev.At.Unix()
	p.LastBatchIdx = ev.BatchIndex

	if ev.BatchDone {
		p.BatchesDone++
		// batch-done events carry authoritative post-increment counters
		p.Completed = ev.Completed
		p.Failed = ev.Failed
		a.logger.Debug("batch finished",
			logging.String("job_id", ev.JobID.String()),
			logging.Int("batch_index", ev.BatchIndex),
			logging.Int("completed", ev.Completed),
			logging.Int("failed", ev.Failed))
		return
	}
	if ev.Success {
		p.Completed++
	} else {
		p.Failed++
	}
}

// Snapshot returns the rollup for a job, or nil when no events arrived yet.
func (a *Aggregator) Snapshot(jobID uuid.UUID) *JobProgress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Forget drops a job's rollup, called after terminal status is observed.
func (a *Aggregator) Forget(jobID uuid.UUID) {
	a.mu.Lock()
	delete(a.jobs, jobID)
	a.mu.Unlock()
}
