package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/geo"
	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/messaging/kafka"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// Executor runs one batch end to end: cache-first lookup, rate-limited
// generation for misses, and atomic progress accounting against the job.
type Executor struct {
	jobs      job.Repository
	dealers   dealership.Repository
	cache     redis.Manager
	pools     *geo.Index
	generator AnalysisGenerator
	cfg       config.PipelineConfig
	logger    logging.Logger
	meter     Meter

	// progress receives per-entity and batch-done events; nil disables
	// emission. Sends never block: a full channel drops the event.
	progress chan<- ProgressEvent

	now func() time.Time
}

// NewExecutor wires a batch executor. meter and progress may be nil.
func NewExecutor(jobs job.Repository, dealers dealership.Repository, cache redis.Manager, pools *geo.Index, generator AnalysisGenerator, cfg config.PipelineConfig, logger logging.Logger, meter Meter, progress chan<- ProgressEvent) *Executor {
	if meter == nil {
		meter = NopMeter{}
	}
	return &Executor{
		jobs:      jobs,
		dealers:   dealers,
		cache:     cache,
		pools:     pools,
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("executor"),
		meter:     meter,
		progress:  progress,
		now:       time.Now,
	}
}

// ExecuteBatch processes every dealership in the batch. Entity-level failures
// are recorded and never abort the batch; only infrastructure errors (job
// lookup, member lookup, context cancellation) return an error, which sends
// the message back through the consumer's retry path.
func (e *Executor) ExecuteBatch(ctx context.Context, b *job.Batch) ([]AnalysisResult, error) {
	started := e.now()
	q := e.cfg.QueueFor(b.JobType)
	jobType := common.AnalysisType(b.JobType)

	j, err := e.jobs.GetByID(ctx, b.JobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		e.logger.Info("skipping batch of settled job",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index),
			logging.String("job_status", string(j.Status)))
		return nil, nil
	}

	members, err := e.dealers.GetByIDs(ctx, b.DealershipIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*dealership.Dealership, len(members))
	pools := make(map[uuid.UUID]string, len(members))
	for _, d := range members {
		byID[d.ID] = d
		pools[d.ID] = string(e.pools.Resolve(d))
	}

	hits, sources := e.bulkLookup(ctx, j, b, pools)

	results := make([]AnalysisResult, len(b.DealershipIDs))
	limiter := rate.NewLimiter(rate.Every(q.InterEntityDelay), 1)

	g, gctx := errgroup.WithContext(ctx)
	limit := q.ConcurrentTasks
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	var waitErr error
	for i, id := range b.DealershipIDs {
		if p, ok := hits[id]; ok {
			results[i] = AnalysisResult{
				DealershipID: id,
				Success:      true,
				Payload:      p,
				CacheHit:     true,
				CacheSource:  sources[id],
			}
			e.emit(b, id, true)
			continue
		}

		d, ok := byID[id]
		if !ok {
			results[i] = AnalysisResult{
				DealershipID: id,
				Error:        "dealership not found",
			}
			e.emit(b, id, false)
			continue
		}

		// Launches stay in batch order, spaced by the inter-entity delay;
		// up to ConcurrentTasks generations overlap.
		if err := limiter.Wait(gctx); err != nil {
			waitErr = err
			break
		}
		g.Go(func() error {
			results[i] = e.generate(gctx, d, jobType, pools[id])
			e.emit(b, id, results[i].Success)
			return nil
		})
	}
	if err := g.Wait(); err != nil && waitErr == nil {
		waitErr = err
	}
	if waitErr != nil {
		return results, waitErr
	}

	e.account(ctx, j, b, results)
	completed, failed := countOutcomes(results)
	e.meter.BatchExecuted(b.JobType, e.now().Sub(started), completed, failed)
	return results, nil
}

// bulkLookup runs the batch-wide cache read. Pooled fallbacks are allowed
// unless the job demands fresh data; lookup failures degrade to all-miss.
func (e *Executor) bulkLookup(ctx context.Context, j *job.BulkAnalysisJob, b *job.Batch, pools map[uuid.UUID]string) (map[uuid.UUID]*common.AnalysisPayload, map[uuid.UUID]redis.Source) {
	if j.Params.ForceFreshData || e.cache == nil {
		return nil, nil
	}
	opts := redis.GetOptions{
		AnalysisType: common.AnalysisType(b.JobType),
		AllowPooled:  true,
	}
	if j.Params.MaxAgeHours > 0 {
		opts.MaxAge = time.Duration(j.Params.MaxAgeHours) * time.Hour
	}
	bulk, err := e.cache.GetBulk(ctx, b.DealershipIDs, pools, opts)
	if err != nil {
		e.logger.Warn("bulk cache lookup failed, generating all",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index),
			logging.Err(err))
		return nil, nil
	}
	return bulk.Payloads, bulk.Sources
}

// generate produces one fresh payload and writes it through the cache.
func (e *Executor) generate(ctx context.Context, d *dealership.Dealership, jobType common.AnalysisType, pool string) AnalysisResult {
	t0 := e.now()
	payload, err := e.generator.Generate(ctx, d, jobType)
	elapsed := e.now().Sub(t0)
	if err != nil {
		e.logger.Warn("analysis generation failed",
			logging.String("dealership_id", d.ID.String()),
			logging.String("job_type", string(jobType)),
			logging.Err(err))
		return AnalysisResult{DealershipID: d.ID, Error: err.Error(), ExecutionTime: elapsed}
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, d.ID, pool, payload, redis.SetOptions{}); err != nil {
			e.logger.Warn("cache write failed",
				logging.String("dealership_id", d.ID.String()),
				logging.Err(err))
		}
	}
	return AnalysisResult{
		DealershipID:  d.ID,
		Success:       true,
		Payload:       payload,
		ExecutionTime: elapsed,
		CacheSource:   redis.SourceFresh,
	}
}

// account applies the batch outcome to the job: one SQL increment for the
// counters, the bounded error log, last_analyzed_at touches for fresh
// successes, and finalization when the counters converge. The batch is
// claimed first; a redelivered batch that was already accounted (a commit
// failure or a rebalance re-sent it) leaves the counters untouched.
func (e *Executor) account(ctx context.Context, j *job.BulkAnalysisJob, b *job.Batch, results []AnalysisResult) {
	if !e.claimBatch(ctx, b) {
		return
	}

	delta := job.ProgressDelta{}
	var touched []uuid.UUID
	for _, r := range results {
		if r.Success {
			delta.Completed++
			if !r.CacheHit {
				touched = append(touched, r.DealershipID)
			}
			continue
		}
		delta.Failed++
		delta.Errors = append(delta.Errors, job.ErrorEntry{
			DealershipID: r.DealershipID,
			BatchIndex:   b.Index,
			Message:      r.Error,
			OccurredAt:   e.now().UTC(),
		})
	}

	completed, failed, total, err := e.jobs.IncrementProgress(ctx, b.JobID, delta)
	if err != nil {
		e.logger.Error("progress increment failed",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index),
			logging.Err(err))
		return
	}

	if len(touched) > 0 {
		if err := e.dealers.TouchAnalyzed(ctx, touched, e.now().UTC()); err != nil {
			e.logger.Warn("last_analyzed_at update failed",
				logging.String("job_id", b.JobID.String()), logging.Err(err))
		}
	}

	e.emitBatchDone(b, completed, failed)
	finalizeJob(ctx, e.jobs, e.logger, e.meter, b.JobID, b.JobType, completed, failed, total)
}

// claimBatch takes the batch's one accounting slot. Claim errors read as
// already-claimed: skipping an increment keeps completed+failed <= total,
// double-applying would not.
func (e *Executor) claimBatch(ctx context.Context, b *job.Batch) bool {
	claimed, err := e.jobs.ClaimBatch(ctx, b.ID, e.now().UTC())
	if err != nil {
		e.logger.Error("batch claim failed",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index),
			logging.Err(err))
		return false
	}
	if !claimed {
		e.logger.Info("batch already accounted, skipping",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index))
	}
	return claimed
}

// FailBatch accounts a batch that will never execute: every member counts as
// failed with an error entry, and the job finalizes once the counters
// converge. The consumer calls this after parking a batch on the DLQ.
func (e *Executor) FailBatch(ctx context.Context, b *job.Batch, cause error) {
	if !e.claimBatch(ctx, b) {
		return
	}

	msg := "batch abandoned after delivery retries"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	delta := job.ProgressDelta{Failed: b.Size()}
	for _, id := range b.DealershipIDs {
		delta.Errors = append(delta.Errors, job.ErrorEntry{
			DealershipID: id,
			BatchIndex:   b.Index,
			Message:      msg,
			OccurredAt:   e.now().UTC(),
		})
	}

	completed, failed, total, err := e.jobs.IncrementProgress(ctx, b.JobID, delta)
	if err != nil {
		e.logger.Error("failed-batch accounting error",
			logging.String("job_id", b.JobID.String()),
			logging.Int("batch_index", b.Index),
			logging.Err(err))
		return
	}
	e.logger.Warn("batch marked failed",
		logging.String("job_id", b.JobID.String()),
		logging.Int("batch_index", b.Index),
		logging.Int("entities", b.Size()))

	e.emitBatchDone(b, completed, failed)
	finalizeJob(ctx, e.jobs, e.logger, e.meter, b.JobID, b.JobType, completed, failed, total)
}

func (e *Executor) emit(b *job.Batch, id uuid.UUID, success bool) {
	if e.progress == nil {
		return
	}
	ev := ProgressEvent{
		JobID:        b.JobID,
		BatchID:      b.ID,
		BatchIndex:   b.Index,
		DealershipID: id,
		Success:      success,
		At:           e.now().UTC(),
	}
	select {
	case e.progress <- ev:
	default:
	}
}

func (e *Executor) emitBatchDone(b *job.Batch, completed, failed int) {
	if e.progress == nil {
		return
	}
	ev := ProgressEvent{
		JobID:      b.JobID,
		BatchID:    b.ID,
		BatchIndex: b.Index,
		BatchDone:  true,
		Completed:  completed,
		Failed:     failed,
		At:         e.now().UTC(),
	}
	select {
	case e.progress <- ev:
	default:
	}
}

func countOutcomes(results []AnalysisResult) (completed, failed int) {
	for _, r := range results {
		if r.Success {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}

// BatchHandler adapts the executor to the queue consumer contract.
func BatchHandler(e *Executor) common.MessageHandler {
	return func(ctx context.Context, msg *common.Message) error {
		env, err := kafka.DecodeBatch(msg)
		if err != nil {
			return err
		}
		_, err = e.ExecuteBatch(ctx, env.Batch)
		return err
	}
}

// BatchFailureHandler adapts FailBatch to the consumer's dead-letter hook, so
// a parked batch still reaches the job's failed count.
func BatchFailureHandler(e *Executor) kafka.DeadLetterHandler {
	return func(ctx context.Context, msg *common.Message, cause error) {
		env, err := kafka.DecodeBatch(msg)
		if err != nil {
			e.logger.Error("undecodable batch parked without accounting",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Err(err))
			return
		}
		e.FailBatch(ctx, env.Batch, cause)
	}
}
