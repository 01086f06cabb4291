package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/messaging/kafka"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// quick_refresh jobs that do not bound cache age explicitly fall back to a
// one-day staleness window when filtering the dealership set.
const defaultQuickRefreshMaxAge = 24 * time.Hour

// Publisher is the outbound queue dependency; satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Meter receives pipeline events for metrics exposition. NopMeter for tests.
type Meter interface {
	JobSubmitted(jobType string)
	JobFinished(jobType, status string)
	BatchPublished(queue string)
	BatchExecuted(jobType string, duration time.Duration, completed, failed int)
}

// NopMeter discards all events.
type NopMeter struct{}

func (NopMeter) JobSubmitted(string)                           {}
func (NopMeter) JobFinished(string, string)                    {}
func (NopMeter) BatchPublished(string)                         {}
func (NopMeter) BatchExecuted(string, time.Duration, int, int) {}

// SubmitInput is the job submission request.
type SubmitInput struct {
	Name     string                `json:"name"`
	JobType  common.AnalysisType   `json:"job_type"`
	Criteria job.SelectionCriteria `json:"criteria"`
	Params   job.Params            `json:"params"`
}

// StatusView is the job status response.
type StatusView struct {
	Job *job.BulkAnalysisJob `json:"job"`

	// ProgressPct is completion percentage in [0, 100].
	ProgressPct float64 `json:"progress_pct"`

	// QueueDepth estimates undispatched-or-unfinished batches while the job
	// runs; zero once terminal.
	QueueDepth int `json:"queue_depth"`
}

// Service is the bulk analysis job API.
type Service interface {
	// Submit validates the request, resolves the dealership set, persists the
	// job and its batches, and dispatches the batches to the type's queue in
	// the background with a staggered delay. Returns the job id immediately.
	Submit(ctx context.Context, in SubmitInput) (uuid.UUID, error)

	GetStatus(ctx context.Context, jobID uuid.UUID) (*StatusView, error)

	// Cancel transitions a pending or running job to cancelled. Batches
	// already dispatched to queues drain; workers skip batches of cancelled
	// jobs before processing.
	Cancel(ctx context.Context, jobID uuid.UUID) error

	GetStatistics(ctx context.Context, window time.Duration) (*job.Statistics, error)
}

type serviceImpl struct {
	jobs      job.Repository
	dealers   dealership.Repository
	publisher Publisher
	batcher   *batcher
	cfg       config.PipelineConfig
	logger    logging.Logger
	meter     Meter

	// sleep is replaceable in tests so staggered dispatch runs instantly.
	sleep func(ctx context.Context, d time.Duration) error

	// dispatched is closed-over per Submit for tests to await background
	// dispatch; nil outside tests.
	dispatchDone chan struct{}
}

// NewService wires the pipeline service. meter may be nil.
func NewService(jobs job.Repository, dealers dealership.Repository, publisher Publisher, cfg config.PipelineConfig, logger logging.Logger, meter Meter) Service {
	if meter == nil {
		meter = NopMeter{}
	}
	return &serviceImpl{
		jobs:      jobs,
		dealers:   dealers,
		publisher: publisher,
		batcher:   newBatcher(cfg),
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
		meter:     meter,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *serviceImpl) Submit(ctx context.Context, in SubmitInput) (uuid.UUID, error) {
	j, err := job.NewJob(in.Name, in.JobType, in.Criteria, in.Params)
	if err != nil {
		return uuid.Nil, err
	}

	set, err := s.resolveSet(ctx, j)
	if err != nil {
		return uuid.Nil, err
	}
	if len(set) == 0 {
		return uuid.Nil, apperrors.New(apperrors.ErrCodeJobEmptySelection,
			"selection criteria resolved to no dealerships")
	}

	j.TotalCount = len(set)
	batches := s.batcher.build(j, set)
	j.BatchCount = len(batches)

	if err := s.jobs.Create(ctx, j); err != nil {
		return uuid.Nil, err
	}
	if err := s.jobs.CreateBatches(ctx, batches); err != nil {
		return uuid.Nil, err
	}

	s.meter.JobSubmitted(string(j.JobType))
	s.logger.Info("job submitted",
		logging.String("job_id", j.ID.String()),
		logging.String("job_type", string(j.JobType)),
		logging.Int("dealerships", j.TotalCount),
		logging.Int("batches", j.BatchCount))

	done := s.dispatchDone
	go func() {
		defer func() {
			if done != nil {
				close(done)
			}
		}()
		s.dispatch(context.WithoutCancel(ctx), j, batches)
	}()

	return j.ID, nil
}

// resolveSet expands the job's selection criteria into concrete dealerships.
// quick_refresh narrows to stale-or-never-analyzed per MaxAgeHours.
func (s *serviceImpl) resolveSet(ctx context.Context, j *job.BulkAnalysisJob) ([]*dealership.Dealership, error) {
	maxAge := defaultQuickRefreshMaxAge
	if j.Params.MaxAgeHours > 0 {
		maxAge = time.Duration(j.Params.MaxAgeHours) * time.Hour
	}

	if len(j.Criteria.DealershipIDs) > 0 {
		set, err := s.dealers.GetByIDs(ctx, j.Criteria.DealershipIDs)
		if err != nil {
			return nil, err
		}
		if j.JobType == common.AnalysisQuick {
			now := time.Now().UTC()
			fresh := set[:0]
			for _, d := range set {
				if d.StaleAt(now, maxAge) {
					fresh = append(fresh, d)
				}
			}
			set = fresh
		}
		return set, nil
	}

	filter := dealership.SelectionFilter{
		GroupID:  j.Criteria.GroupID,
		MarketID: j.Criteria.MarketID,
	}
	if j.JobType == common.AnalysisQuick {
		cutoff := time.Now().UTC().Add(-maxAge)
		filter.StaleBefore = &cutoff
	}
	return s.dealers.List(ctx, filter)
}

// dispatch publishes the job's batches to the type queue, pausing the
// configured stagger between sends, then marks the job running. A guarded
// transition failure means the job was cancelled mid-dispatch; remaining
// batches are not published.
func (s *serviceImpl) dispatch(ctx context.Context, j *job.BulkAnalysisJob, batches []*job.Batch) {
	topic := kafka.TopicForJobType(j.JobType)

	var unpublished []*job.Batch
	for i, b := range batches {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.SubmitStagger); err != nil {
				return
			}
		}
		if cancelled, err := s.jobCancelled(ctx, j.ID); err == nil && cancelled {
			s.logger.Info("dispatch stopped, job cancelled",
				logging.String("job_id", j.ID.String()),
				logging.Int("published", i))
			return
		}

		msg, err := kafka.NewBatchEnvelope(b).ToMessage()
		if err == nil {
			err = s.publisher.Publish(ctx, msg)
		}
		if err != nil {
			s.logger.Error("batch publish failed",
				logging.String("job_id", j.ID.String()),
				logging.Int("batch_index", b.Index),
				logging.Err(err))
			unpublished = append(unpublished, b)
			continue
		}
		s.meter.BatchPublished(topic)
	}

	if err := s.jobs.UpdateStatus(ctx, j.ID, job.StatusPending, job.StatusRunning); err != nil {
		// Lost the transition race, normally to a cancel.
		s.logger.Warn("job not marked running",
			logging.String("job_id", j.ID.String()), logging.Err(err))
		return
	}

	if len(unpublished) > 0 {
		s.failUnpublished(ctx, j, unpublished)
	}

	// Workers may have finished every batch while the job was still pending;
	// their running-guarded finalization matched nothing, so re-check now
	// that the job is running.
	cur, err := s.jobs.GetByID(ctx, j.ID)
	if err != nil {
		s.logger.Warn("post-dispatch status check failed",
			logging.String("job_id", j.ID.String()), logging.Err(err))
		return
	}
	finalizeJob(ctx, s.jobs, s.logger, s.meter, j.ID, string(j.JobType),
		cur.CompletedCount, cur.FailedCount, cur.TotalCount)
}

// failUnpublished accounts batches that never reached a queue as failed so the
// job's counters still converge to total. Each batch is claimed first: a
// publish that errored ambiguously may still have reached the broker, and the
// worker side must not account the same batch twice.
func (s *serviceImpl) failUnpublished(ctx context.Context, j *job.BulkAnalysisJob, batches []*job.Batch) {
	for _, b := range batches {
		claimed, err := s.jobs.ClaimBatch(ctx, b.ID, time.Now().UTC())
		if err != nil {
			s.logger.Error("failed-batch claim error",
				logging.String("job_id", j.ID.String()), logging.Err(err))
			continue
		}
		if !claimed {
			continue
		}

		delta := job.ProgressDelta{Failed: b.Size()}
		for _, id := range b.DealershipIDs {
			delta.Errors = append(delta.Errors, job.ErrorEntry{
				DealershipID: id,
				BatchIndex:   b.Index,
				Message:      "batch was not published to the analysis queue",
				OccurredAt:   time.Now().UTC(),
			})
		}
		completed, failed, total, err := s.jobs.IncrementProgress(ctx, j.ID, delta)
		if err != nil {
			s.logger.Error("failed-batch accounting error",
				logging.String("job_id", j.ID.String()), logging.Err(err))
			continue
		}
		finalizeJob(ctx, s.jobs, s.logger, s.meter, j.ID, string(j.JobType), completed, failed, total)
	}
}

func (s *serviceImpl) jobCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return j.Status == job.StatusCancelled, nil
}

func (s *serviceImpl) GetStatus(ctx context.Context, jobID uuid.UUID) (*StatusView, error) {
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Job: j, ProgressPct: j.Progress()}
	if !j.Status.Terminal() {
		q := s.cfg.QueueFor(string(j.JobType))
		remaining := j.TotalCount - j.CompletedCount - j.FailedCount
		if remaining > 0 && q.BatchSize > 0 {
			view.QueueDepth = (remaining + q.BatchSize - 1) / q.BatchSize
		}
	}
	return view, nil
}

func (s *serviceImpl) Cancel(ctx context.Context, jobID uuid.UUID) error {
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Cancellable() {
		return apperrors.Newf(apperrors.ErrCodeJobNotCancellable,
			"job %s is %s and can no longer be cancelled", jobID, j.Status)
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, j.Status, job.StatusCancelled); err != nil {
		return err
	}
	s.meter.JobFinished(string(j.JobType), string(job.StatusCancelled))
	s.logger.Info("job cancelled", logging.String("job_id", jobID.String()))
	return nil
}

func (s *serviceImpl) GetStatistics(ctx context.Context, window time.Duration) (*job.Statistics, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	stats, err := s.jobs.GetStatistics(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	stats.Window = window
	return stats, nil
}

// finalizeJob settles a finished job into its terminal status. The guarded
// transition means exactly one caller wins when batches finish concurrently;
// losers see an invalid-transition error, which is not reported.
func finalizeJob(ctx context.Context, jobs job.Repository, logger logging.Logger, meter Meter, jobID uuid.UUID, jobType string, completed, failed, total int) {
	if total == 0 || completed+failed < total {
		return
	}
	final := job.StatusCompleted
	if completed == 0 && failed > 0 {
		final = job.StatusFailed
	}
	if err := jobs.UpdateStatus(ctx, jobID, job.StatusRunning, final); err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeJobInvalidTransition) {
			return
		}
		logger.Error("job finalization failed",
			logging.String("job_id", jobID.String()), logging.Err(err))
		return
	}
	meter.JobFinished(jobType, string(final))
	logger.Info("job finished",
		logging.String("job_id", jobID.String()),
		logging.String("status", string(final)),
		logging.Int("completed", completed),
		logging.Int("failed", failed))
}
