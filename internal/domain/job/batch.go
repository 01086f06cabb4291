package job

import (
	"time"

	"github.com/google/uuid"
)

// Batch is one dispatchable unit of work: an ordered slice of dealerships
// belonging to a single job. A batch is immutable once submitted to a queue;
// progress is tracked on the job, never by mutating the batch.
type Batch struct {
	ID    uuid.UUID `json:"id"`
	JobID uuid.UUID `json:"job_id"`

	// Index is the batch's position in the job's submission order; the
	// publisher staggers dispatch by this value.
	Index int `json:"index"`

	JobType string `json:"job_type"`

	// DealershipIDs preserves construction order; workers dispatch entities
	// in this order.
	DealershipIDs []uuid.UUID `json:"dealership_ids"`

	// MarketKey is the market the members were grouped under; batches never
	// span markets.
	MarketKey string `json:"market_key"`

	// Priority orders batches within a queue; lower values are more urgent.
	Priority float64 `json:"priority"`

	// EstimatedDuration is the expected wall-clock execution time, derived
	// from member count and the per-type inter-entity delay.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// Attempt counts delivery attempts; incremented by the consumer on retry.
	Attempt int `json:"attempt"`

	CreatedAt time.Time `json:"created_at"`
}

// NewBatch constructs a batch for the given job slice.
func NewBatch(jobID uuid.UUID, jobType string, index int, marketKey string, ids []uuid.UUID) *Batch {
	members := make([]uuid.UUID, len(ids))
	copy(members, ids)
	return &Batch{
		ID:            uuid.New(),
		JobID:         jobID,
		Index:         index,
		JobType:       jobType,
		DealershipIDs: members,
		MarketKey:     marketKey,
		CreatedAt:     time.Now().UTC(),
	}
}

// Size returns the member count.
func (b *Batch) Size() int { return len(b.DealershipIDs) }
