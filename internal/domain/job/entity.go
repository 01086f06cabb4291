// Package job defines the bulk analysis job aggregate: the job record with
// its status state machine and progress counters, and the immutable batch
// unit of work dispatched to the queues.
package job

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// Status is the lifecycle state of a bulk analysis job. Transitions are
// monotonic: pending → running → {completed | failed | cancelled}. Terminal
// states never transition again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the monotonic state machine.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether s → next is a legal move.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SelectionCriteria identifies the dealership set a job targets. Exactly one
// selector must be populated.
type SelectionCriteria struct {
	GroupID       *uuid.UUID  `json:"group_id,omitempty"`
	MarketID      *string     `json:"market_id,omitempty"`
	DealershipIDs []uuid.UUID `json:"dealership_ids,omitempty"`
}

// Empty reports whether no selector is populated.
func (c SelectionCriteria) Empty() bool {
	return c.GroupID == nil &&
		(c.MarketID == nil || *c.MarketID == "") &&
		len(c.DealershipIDs) == 0
}

// selectorCount returns how many selectors are populated.
func (c SelectionCriteria) selectorCount() int {
	n := 0
	if c.GroupID != nil {
		n++
	}
	if c.MarketID != nil && *c.MarketID != "" {
		n++
	}
	if len(c.DealershipIDs) > 0 {
		n++
	}
	return n
}

// Params carries per-job execution options.
type Params struct {
	// IncludeCompetitive requests a competitive report alongside each
	// analysis for job types that support it.
	IncludeCompetitive bool `json:"include_competitive"`

	// ForceFreshData bypasses all cache tiers, including pooled fallbacks.
	ForceFreshData bool `json:"force_fresh_data"`

	// MaxAgeHours bounds acceptable cache age; for quick_refresh it also
	// filters the dealership set to stale-or-never-analyzed.
	MaxAgeHours int `json:"max_age_hours"`
}

// ErrorEntry is one bounded error-log record on a job.
type ErrorEntry struct {
	DealershipID uuid.UUID `json:"dealership_id"`
	BatchIndex   int       `json:"batch_index"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// BulkAnalysisJob is the aggregate root for one bulk analysis submission.
type BulkAnalysisJob struct {
	ID       uuid.UUID           `json:"id"`
	Name     string              `json:"name"`
	JobType  common.AnalysisType `json:"job_type"`
	Criteria SelectionCriteria   `json:"criteria"`
	Params   Params              `json:"params"`

	// Priority orders jobs of the same type; lower values are more urgent.
	Priority float64 `json:"priority"`

	Status Status `json:"status"`

	// TotalCount is fixed at submission; CompletedCount and FailedCount only
	// increase and their sum never exceeds TotalCount.
	TotalCount     int `json:"total_count"`
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`

	BatchCount int `json:"batch_count"`

	// Errors holds at most ErrorLogLimit entries; older entries are retained,
	// later ones dropped.
	Errors []ErrorEntry `json:"errors,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob constructs a pending job after validating type and criteria.
func NewJob(name string, jobType common.AnalysisType, criteria SelectionCriteria, params Params) (*BulkAnalysisJob, error) {
	if !jobType.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeJobInvalidType, "unknown job type").
			WithDetail(string(jobType))
	}
	if criteria.Empty() {
		return nil, apperrors.New(apperrors.ErrCodeJobEmptySelection, "selection criteria must target at least one dealership")
	}
	if criteria.selectorCount() > 1 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "selection criteria must use exactly one selector")
	}
	if params.MaxAgeHours < 0 {
		return nil, apperrors.InvalidParam("max_age_hours must not be negative")
	}

	return &BulkAnalysisJob{
		ID:        uuid.New(),
		Name:      name,
		JobType:   jobType,
		Criteria:  criteria,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the job to next, stamping StartedAt / CompletedAt as
// appropriate. Illegal moves return JOB_004 and leave the job unchanged.
func (j *BulkAnalysisJob) Transition(next Status) error {
	if !j.Status.CanTransition(next) {
		return apperrors.Newf(apperrors.ErrCodeJobInvalidTransition,
			"illegal job status transition %s → %s", j.Status, next)
	}
	now := time.Now().UTC()
	switch next {
	case StatusRunning:
		j.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = &now
	}
	j.Status = next
	return nil
}

// Cancellable reports whether Cancel may still act on the job.
func (j *BulkAnalysisJob) Cancellable() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// Progress returns completion percentage in [0, 100].
func (j *BulkAnalysisJob) Progress() float64 {
	if j.TotalCount == 0 {
		return 0
	}
	return float64(j.CompletedCount+j.FailedCount) / float64(j.TotalCount) * 100
}

// Finished reports whether every dealership has been accounted for.
func (j *BulkAnalysisJob) Finished() bool {
	return j.TotalCount > 0 && j.CompletedCount+j.FailedCount >= j.TotalCount
}

// FinalStatus returns the terminal status the job should settle into once
// Finished: failed only when nothing succeeded, otherwise completed (partial
// failures stay visible through FailedCount and the error log).
func (j *BulkAnalysisJob) FinalStatus() Status {
	if j.CompletedCount == 0 && j.FailedCount > 0 {
		return StatusFailed
	}
	return StatusCompleted
}

// RecordError appends an entry to the bounded error log. Entries past the
// limit are dropped; FailedCount still reflects every failure.
func (j *BulkAnalysisJob) RecordError(entry ErrorEntry, limit int) {
	if limit > 0 && len(j.Errors) >= limit {
		return
	}
	j.Errors = append(j.Errors, entry)
}
