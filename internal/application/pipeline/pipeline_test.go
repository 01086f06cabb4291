package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// testPipelineConfig returns the engine defaults with millisecond delays so
// rate-limited paths run instantly.
func testPipelineConfig() config.PipelineConfig {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	p := cfg.Pipeline
	p.SubmitStagger = time.Millisecond
	p.FullAnalysis.InterEntityDelay = time.Millisecond
	p.QuickRefresh.InterEntityDelay = time.Millisecond
	p.CompetitiveScan.InterEntityDelay = time.Millisecond
	p.MarketAnalysis.InterEntityDelay = time.Millisecond
	return p
}

func testDealership(name, market string, category dealership.Category, lastAnalyzed *time.Time) *dealership.Dealership {
	m := market
	return &dealership.Dealership{
		ID:             uuid.New(),
		Name:           name,
		Domain:         name + ".example.com",
		RegionCode:     "TX",
		Category:       category,
		MarketID:       &m,
		LastAnalyzedAt: lastAnalyzed,
	}
}

// fakeJobRepo mirrors the guarded-update and atomic-increment semantics of
// the SQL repository in memory.
type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*job.BulkAnalysisJob
	batches map[uuid.UUID][]*job.Batch
	claimed map[uuid.UUID]bool

	createErr    error
	incrementErr error
	claimErr     error
	stats        *job.Statistics
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:    make(map[uuid.UUID]*job.BulkAnalysisJob),
		batches: make(map[uuid.UUID][]*job.Batch),
		claimed: make(map[uuid.UUID]bool),
	}
}

func (f *fakeJobRepo) Create(_ context.Context, j *job.BulkAnalysisJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*job.BulkAnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeJobNotFound, "job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to job.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeJobNotFound, "job %s not found", id)
	}
	if j.Status != from {
		return apperrors.Newf(apperrors.ErrCodeJobInvalidTransition, "job %s is not in status %s", id, from)
	}
	now := time.Now().UTC()
	switch to {
	case job.StatusRunning:
		j.StartedAt = &now
	case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		j.CompletedAt = &now
	}
	j.Status = to
	return nil
}

func (f *fakeJobRepo) IncrementProgress(_ context.Context, id uuid.UUID, delta job.ProgressDelta) (int, int, int, error) {
	if f.incrementErr != nil {
		return 0, 0, 0, f.incrementErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return 0, 0, 0, apperrors.Newf(apperrors.ErrCodeJobNotFound, "job %s not found", id)
	}
	j.CompletedCount += delta.Completed
	j.FailedCount += delta.Failed
	j.Errors = append(j.Errors, delta.Errors...)
	return j.CompletedCount, j.FailedCount, j.TotalCount, nil
}

func (f *fakeJobRepo) CreateBatches(_ context.Context, batches []*job.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range batches {
		f.batches[b.JobID] = append(f.batches[b.JobID], b)
	}
	return nil
}

func (f *fakeJobRepo) GetBatch(_ context.Context, id uuid.UUID) (*job.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.batches {
		for _, b := range list {
			if b.ID == id {
				return b, nil
			}
		}
	}
	return nil, apperrors.Newf(apperrors.CodeNotFound, "batch %s not found", id)
}

func (f *fakeJobRepo) ListBatches(_ context.Context, jobID uuid.UUID) ([]*job.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*job.Batch(nil), f.batches[jobID]...), nil
}

// ClaimBatch mirrors the guarded processed_at stamp: first caller wins.
func (f *fakeJobRepo) ClaimBatch(_ context.Context, batchID uuid.UUID, _ time.Time) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[batchID] {
		return false, nil
	}
	f.claimed[batchID] = true
	return true, nil
}

func (f *fakeJobRepo) GetStatistics(_ context.Context, _ time.Time) (*job.Statistics, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &job.Statistics{}, nil
}

func (f *fakeJobRepo) status(id uuid.UUID) job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

// onlyID returns the single stored job's id.
func (f *fakeJobRepo) onlyID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.jobs {
		return id
	}
	return uuid.Nil
}

// fakeDealerRepo serves a fixed dealership set and records filters and
// touches.
type fakeDealerRepo struct {
	mu       sync.Mutex
	set      []*dealership.Dealership
	listErr  error
	filters  []dealership.SelectionFilter
	touched  []uuid.UUID
	touchErr error
}

func (f *fakeDealerRepo) Create(context.Context, *dealership.Dealership) error { return nil }
func (f *fakeDealerRepo) Update(context.Context, *dealership.Dealership) error { return nil }

func (f *fakeDealerRepo) GetByID(_ context.Context, id uuid.UUID) (*dealership.Dealership, error) {
	for _, d := range f.set {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrCodeDealershipNotFound, "dealership %s not found", id)
}

func (f *fakeDealerRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*dealership.Dealership, error) {
	byID := make(map[uuid.UUID]*dealership.Dealership, len(f.set))
	for _, d := range f.set {
		byID[d.ID] = d
	}
	out := make([]*dealership.Dealership, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDealerRepo) List(_ context.Context, filter dealership.SelectionFilter) ([]*dealership.Dealership, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*dealership.Dealership, 0, len(f.set))
	for _, d := range f.set {
		if filter.MarketID != nil && (d.MarketID == nil || *d.MarketID != *filter.MarketID) {
			continue
		}
		if filter.GroupID != nil && (d.GroupID == nil || *d.GroupID != *filter.GroupID) {
			continue
		}
		if filter.StaleBefore != nil && d.LastAnalyzedAt != nil && !d.LastAnalyzedAt.Before(*filter.StaleBefore) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDealerRepo) TouchAnalyzed(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, ids...)
	return nil
}

func (f *fakeDealerRepo) CountByCategory(context.Context, string) (map[dealership.Category]int, error) {
	return nil, nil
}

// fakePublisher records published messages; err fails every publish and
// onPublish runs after each accepted message.
type fakePublisher struct {
	mu        sync.Mutex
	messages  []*common.ProducerMessage
	err       error
	onPublish func(*common.ProducerMessage)
}

func (f *fakePublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.messages = append(f.messages, msg)
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakePublisher) published() []*common.ProducerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*common.ProducerMessage(nil), f.messages...)
}

// fakeCache is a canned redis.Manager: GetBulk serves the configured hits,
// Set records writes.
type fakeCache struct {
	mu       sync.Mutex
	hits     map[uuid.UUID]*common.AnalysisPayload
	sources  map[uuid.UUID]redis.Source
	bulkErr  error
	getCalls int
	sets     []uuid.UUID
}

func (f *fakeCache) Get(_ context.Context, id uuid.UUID, _ string, _ redis.GetOptions) (*common.AnalysisPayload, redis.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.hits[id]; ok {
		return p, f.sources[id], nil
	}
	return nil, "", redis.ErrCacheMiss
}

func (f *fakeCache) Set(_ context.Context, id uuid.UUID, _ string, _ *common.AnalysisPayload, _ redis.SetOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, id)
	return nil
}

func (f *fakeCache) GetBulk(_ context.Context, ids []uuid.UUID, _ map[uuid.UUID]string, _ redis.GetOptions) (*redis.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	res := &redis.BulkResult{
		Payloads: make(map[uuid.UUID]*common.AnalysisPayload),
		Sources:  make(map[uuid.UUID]redis.Source),
	}
	for _, id := range ids {
		if p, ok := f.hits[id]; ok {
			res.Payloads[id] = p
			res.Sources[id] = f.sources[id]
		} else {
			res.Misses = append(res.Misses, id)
		}
	}
	return res, nil
}

func (f *fakeCache) SetBulk(context.Context, map[uuid.UUID]*common.AnalysisPayload, map[uuid.UUID]string, redis.SetOptions) error {
	return nil
}

func (f *fakeCache) Invalidate(context.Context, redis.InvalidateOptions) (int64, error) {
	return 0, nil
}

func (f *fakeCache) Stats(context.Context) redis.Stats { return redis.Stats{} }
func (f *fakeCache) FlushStats(context.Context)        {}
func (f *fakeCache) Sweep(context.Context) (int, error) {
	return 0, nil
}

func payloadFor(id uuid.UUID, jobType common.AnalysisType) *common.AnalysisPayload {
	return &common.AnalysisPayload{
		DealershipID: common.ID(id.String()),
		AnalysisType: jobType,
		Metrics:      map[string]float64{"ai_visibility_score": 62.5},
		GeneratedAt:  time.Now().UTC(),
	}
}
