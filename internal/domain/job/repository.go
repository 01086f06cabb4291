package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProgressDelta carries counter increments applied atomically by the store.
type ProgressDelta struct {
	Completed int
	Failed    int
	Errors    []ErrorEntry
}

// Statistics aggregates job outcomes over a window for the statistics API.
type Statistics struct {
	Window          time.Duration      `json:"window"`
	TotalJobs       int                `json:"total_jobs"`
	JobsByStatus    map[Status]int     `json:"jobs_by_status"`
	JobsByType      map[string]int     `json:"jobs_by_type"`
	DealershipsDone int                `json:"dealerships_done"`
	DealershipsFail int                `json:"dealerships_failed"`
	AvgDurationSecs float64            `json:"avg_duration_secs"`
}

// Repository is the persistence contract for jobs and their batches.
type Repository interface {
	Create(ctx context.Context, j *BulkAnalysisJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*BulkAnalysisJob, error)

	// UpdateStatus performs a guarded transition: the row is updated only if
	// its current status permits the move, so concurrent finalizers cannot
	// regress a terminal state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// IncrementProgress applies delta via SQL increments in one statement;
	// safe under concurrent batch completions. It returns the post-update
	// counters so the caller can decide whether to finalize.
	IncrementProgress(ctx context.Context, id uuid.UUID, delta ProgressDelta) (completed, failed, total int, err error)

	CreateBatches(ctx context.Context, batches []*Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListBatches(ctx context.Context, jobID uuid.UUID) ([]*Batch, error)

	// ClaimBatch marks a batch as accounted, returning false when another
	// delivery already claimed it. The queue redelivers batches at least
	// once; counters are applied only by the claim winner so
	// completed+failed never overshoots total.
	ClaimBatch(ctx context.Context, batchID uuid.UUID, at time.Time) (bool, error)

	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
}
