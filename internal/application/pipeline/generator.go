// Package pipeline implements the bulk analysis pipeline: job submission and
// batch construction on the API side, and batch execution with cache-first
// lookup, rate-limited generation, and atomic progress accounting on the
// worker side.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// AnalysisGenerator produces a fresh analysis payload for one dealership. It
// fronts the expensive external work (crawling, AI platform queries); the
// pipeline only calls it on a cache miss, spaced by the per-type inter-entity
// delay.
type AnalysisGenerator interface {
	Generate(ctx context.Context, d *dealership.Dealership, jobType common.AnalysisType) (*common.AnalysisPayload, error)
}

// GeneratorFunc adapts a function to AnalysisGenerator.
type GeneratorFunc func(ctx context.Context, d *dealership.Dealership, jobType common.AnalysisType) (*common.AnalysisPayload, error)

func (f GeneratorFunc) Generate(ctx context.Context, d *dealership.Dealership, jobType common.AnalysisType) (*common.AnalysisPayload, error) {
	return f(ctx, d, jobType)
}

// AnalysisResult is the per-dealership outcome of batch execution.
type AnalysisResult struct {
	DealershipID uuid.UUID               `json:"dealership_id"`
	Success      bool                    `json:"success"`
	Payload      *common.AnalysisPayload `json:"payload,omitempty"`
	Error        string                  `json:"error,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`

	// CacheHit is true when the payload was served from any cache tier;
	// CacheSource then names the tier (l1, l2, pooled_with_variance, frozen).
	// Freshly generated payloads carry SourceFresh.
	CacheHit    bool         `json:"cache_hit"`
	CacheSource redis.Source `json:"cache_source"`
}

// ProgressEvent is emitted after each processed dealership and after each
// finished batch, consumed by the status aggregator.
type ProgressEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	BatchID      uuid.UUID `json:"batch_id"`
	BatchIndex   int       `json:"batch_index"`
	DealershipID uuid.UUID `json:"dealership_id,omitempty"`
	Success      bool      `json:"success"`

	// BatchDone marks the terminal event for a batch; per-entity fields are
	// zero on it.
	BatchDone bool `json:"batch_done"`

	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}
