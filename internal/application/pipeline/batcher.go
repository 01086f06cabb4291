package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/job"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// Priority weighting. Priorities are ascending (lower dispatches first): a
// batch dense in premium or long-unanalyzed rooftops scores below the base,
// and the heavier job types are nudged ahead of their queue peers.
const (
	premiumConcentrationWeight = 20.0
	staleConcentrationWeight   = 25.0

	offsetCompetitiveScan = 10.0
	offsetMarketAnalysis  = 25.0
)

// batcher turns a resolved dealership set into the job's ordered batch list.
type batcher struct {
	cfg config.PipelineConfig
	now func() time.Time
}

func newBatcher(cfg config.PipelineConfig) *batcher {
	return &batcher{cfg: cfg, now: time.Now}
}

type batchDraft struct {
	marketKey string
	ids       []*dealership.Dealership
	priority  float64
}

// build partitions dealerships into market-pure batches, scores each, and
// returns them sorted by ascending priority with Index assigned in dispatch
// order. Every input dealership lands in exactly one batch.
func (b *batcher) build(j *job.BulkAnalysisJob, dealerships []*dealership.Dealership) []*job.Batch {
	if len(dealerships) == 0 {
		return nil
	}
	q := b.cfg.QueueFor(string(j.JobType))

	byMarket := make(map[string][]*dealership.Dealership)
	keys := make([]string, 0)
	for _, d := range dealerships {
		k := d.MarketKey()
		if _, seen := byMarket[k]; !seen {
			keys = append(keys, k)
		}
		byMarket[k] = append(byMarket[k], d)
	}
	sort.Strings(keys)

	drafts := make([]batchDraft, 0, len(dealerships)/q.BatchSize+len(keys))
	for _, k := range keys {
		members := byMarket[k]
		for start := 0; start < len(members); start += q.BatchSize {
			end := start + q.BatchSize
			if end > len(members) {
				end = len(members)
			}
			chunk := members[start:end]
			drafts = append(drafts, batchDraft{
				marketKey: k,
				ids:       chunk,
				priority:  b.score(j.JobType, chunk),
			})
		}
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		if drafts[i].priority != drafts[j].priority {
			return drafts[i].priority < drafts[j].priority
		}
		return drafts[i].marketKey < drafts[j].marketKey
	})

	batches := make([]*job.Batch, 0, len(drafts))
	for i, d := range drafts {
		batch := job.NewBatch(j.ID, string(j.JobType), i, d.marketKey, dealershipIDs(d.ids))
		batch.Priority = d.priority
		batch.EstimatedDuration = time.Duration(len(d.ids)) * q.InterEntityDelay
		batches = append(batches, batch)
	}
	return batches
}

func dealershipIDs(members []*dealership.Dealership) []uuid.UUID {
	ids := make([]uuid.UUID, len(members))
	for i, d := range members {
		ids[i] = d.ID
	}
	return ids
}

// score computes a batch's priority from its member mix.
func (b *batcher) score(jobType common.AnalysisType, members []*dealership.Dealership) float64 {
	now := b.now().UTC()

	premium, stale := 0, 0
	for _, d := range members {
		if d.Category == dealership.CategoryPremium {
			premium++
		}
		if d.StaleAt(now, b.cfg.StaleAfter) {
			stale++
		}
	}
	n := float64(len(members))
	p := b.cfg.BasePriority
	p -= float64(premium) / n * premiumConcentrationWeight
	p -= float64(stale) / n * staleConcentrationWeight

	switch jobType {
	case common.AnalysisCompetitive:
		p -= offsetCompetitiveScan
	case common.AnalysisMarket:
		p -= offsetMarketAnalysis
	}
	return p
}
