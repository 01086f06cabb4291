package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

type jobRepo struct {
	db            queryExecutor
	log           logging.Logger
	errorLogLimit int
}

// NewJobRepo builds the PostgreSQL job repository. errorLogLimit bounds the
// per-job error log; inserts past the bound are silently dropped while the
// failure counters keep counting.
func NewJobRepo(db queryExecutor, log logging.Logger, errorLogLimit int) job.Repository {
	return &jobRepo{db: db, log: log, errorLogLimit: errorLogLimit}
}

func (r *jobRepo) Create(ctx context.Context, j *job.BulkAnalysisJob) error {
	criteria, err := json.Marshal(j.Criteria)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode job criteria")
	}
	params, err := json.Marshal(j.Params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode job params")
	}

	query := `
		INSERT INTO bulk_analysis_jobs (
			id, name, job_type, criteria, params, priority, status,
			total_count, batch_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := r.db.Exec(ctx, query,
		j.ID, j.Name, j.JobType, criteria, params, j.Priority, j.Status,
		j.TotalCount, j.BatchCount, j.CreatedAt,
	); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDBError, "failed to create job")
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id uuid.UUID) (*job.BulkAnalysisJob, error) {
	query := `
		SELECT id, name, job_type, criteria, params, priority, status,
		       total_count, completed_count, failed_count, batch_count,
		       created_at, started_at, completed_at
		FROM bulk_analysis_jobs WHERE id = $1`

	j := &job.BulkAnalysisJob{}
	var criteria, params []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Name, &j.JobType, &criteria, &params, &j.Priority, &j.Status,
		&j.TotalCount, &j.CompletedCount, &j.FailedCount, &j.BatchCount,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeJobNotFound, "job not found").WithDetail(id.String())
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to get job")
	}
	if err := json.Unmarshal(criteria, &j.Criteria); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to decode job criteria")
	}
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to decode job params")
	}

	if j.Errors, err = r.loadErrors(ctx, id); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *jobRepo) loadErrors(ctx context.Context, jobID uuid.UUID) ([]job.ErrorEntry, error) {
	query := `
		SELECT dealership_id, batch_index, message, occurred_at
		FROM job_errors WHERE job_id = $1 ORDER BY occurred_at`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to load job errors")
	}
	defer rows.Close()

	var out []job.ErrorEntry
	for rows.Next() {
		var e job.ErrorEntry
		if err := rows.Scan(&e.DealershipID, &e.BatchIndex, &e.Message, &e.OccurredAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to scan job error")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus performs a guarded transition: the row changes only when its
// current status matches. Lifecycle timestamps are stamped in the same
// statement so concurrent finalizers cannot regress a terminal state.
func (r *jobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to job.Status) error {
	query := `
		UPDATE bulk_analysis_jobs
		SET status = $3,
		    started_at = CASE WHEN $3 = 'running' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDBError, "failed to update job status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.ErrCodeJobInvalidTransition,
			"job %s is not in status %s", id, from)
	}
	return nil
}

// IncrementProgress applies the counter deltas with SQL increments, so
// concurrent batch completions never lose updates, and returns the resulting
// counters. Error entries are appended up to the configured bound.
func (r *jobRepo) IncrementProgress(ctx context.Context, id uuid.UUID, delta job.ProgressDelta) (completed, failed, total int, err error) {
	query := `
		UPDATE bulk_analysis_jobs
		SET completed_count = completed_count + $2,
		    failed_count = failed_count + $3
		WHERE id = $1
		RETURNING completed_count, failed_count, total_count`

	err = r.db.QueryRow(ctx, query, id, delta.Completed, delta.Failed).
		Scan(&completed, &failed, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, 0, apperrors.New(apperrors.ErrCodeJobNotFound, "job not found").WithDetail(id.String())
		}
		return 0, 0, 0, apperrors.Wrap(err, apperrors.CodeDBError, "failed to increment job progress")
	}

	for _, e := range delta.Errors {
		if err := r.appendError(ctx, id, e); err != nil {
			// Error-log writes never fail the progress update.
			r.log.Warn("failed to append job error entry", logging.Err(err))
		}
	}
	return completed, failed, total, nil
}

// appendError inserts one error entry unless the job's log is already at the
// bound.
func (r *jobRepo) appendError(ctx context.Context, jobID uuid.UUID, e job.ErrorEntry) error {
	query := `
		INSERT INTO job_errors (job_id, dealership_id, batch_index, message, occurred_at)
		SELECT $1, $2, $3, $4, $5
		WHERE (SELECT COUNT(*) FROM job_errors WHERE job_id = $1) < $6`

	_, err := r.db.Exec(ctx, query, jobID, e.DealershipID, e.BatchIndex, e.Message, e.OccurredAt, r.errorLogLimit)
	return err
}

func (r *jobRepo) CreateBatches(ctx context.Context, batches []*job.Batch) error {
	query := `
		INSERT INTO analysis_batches (
			id, job_id, batch_index, job_type, market_key, dealership_ids,
			priority, estimated_duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, b := range batches {
		if _, err := r.db.Exec(ctx, query,
			b.ID, b.JobID, b.Index, b.JobType, b.MarketKey, b.DealershipIDs,
			b.Priority, b.EstimatedDuration.Milliseconds(), b.CreatedAt,
		); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDBError, "failed to create batch")
		}
	}
	return nil
}

func (r *jobRepo) GetBatch(ctx context.Context, id uuid.UUID) (*job.Batch, error) {
	query := `
		SELECT id, job_id, batch_index, job_type, market_key, dealership_ids,
		       priority, estimated_duration_ms, created_at
		FROM analysis_batches WHERE id = $1`

	b, err := scanBatch(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *jobRepo) ListBatches(ctx context.Context, jobID uuid.UUID) ([]*job.Batch, error) {
	query := `
		SELECT id, job_id, batch_index, job_type, market_key, dealership_ids,
		       priority, estimated_duration_ms, created_at
		FROM analysis_batches WHERE job_id = $1 ORDER BY batch_index`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to list batches")
	}
	defer rows.Close()

	var out []*job.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row scanner) (*job.Batch, error) {
	b := &job.Batch{}
	var estimatedMs int64
	err := row.Scan(
		&b.ID, &b.JobID, &b.Index, &b.JobType, &b.MarketKey, &b.DealershipIDs,
		&b.Priority, &estimatedMs, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.CodeNotFound, "batch not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to scan batch")
	}
	b.EstimatedDuration = time.Duration(estimatedMs) * time.Millisecond
	return b, nil
}

// ClaimBatch stamps processed_at on an unclaimed batch. A redelivered batch
// matches zero rows, so the caller skips its accounting.
func (r *jobRepo) ClaimBatch(ctx context.Context, batchID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE analysis_batches
		SET processed_at = $2
		WHERE id = $1 AND processed_at IS NULL`

	tag, err := r.db.Exec(ctx, query, batchID, at)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeDBError, "failed to claim batch")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) GetStatistics(ctx context.Context, since time.Time) (*job.Statistics, error) {
	stats := &job.Statistics{
		JobsByStatus: make(map[job.Status]int),
		JobsByType:   make(map[string]int),
	}

	query := `
		SELECT status, job_type, COUNT(*),
		       COALESCE(SUM(completed_count), 0), COALESCE(SUM(failed_count), 0),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)
		FROM bulk_analysis_jobs
		WHERE created_at >= $1
		GROUP BY status, job_type`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to query job statistics")
	}
	defer rows.Close()

	var weightedDuration float64
	var durationJobs int
	for rows.Next() {
		var status job.Status
		var jobType string
		var count, done, failed int
		var avgSecs float64
		if err := rows.Scan(&status, &jobType, &count, &done, &failed, &avgSecs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to scan job statistics")
		}
		stats.TotalJobs += count
		stats.JobsByStatus[status] += count
		stats.JobsByType[jobType] += count
		stats.DealershipsDone += done
		stats.DealershipsFail += failed
		if status.Terminal() && avgSecs > 0 {
			weightedDuration += avgSecs * float64(count)
			durationJobs += count
		}
	}
	if durationJobs > 0 {
		stats.AvgDurationSecs = weightedDuration / float64(durationJobs)
	}
	return stats, rows.Err()
}
