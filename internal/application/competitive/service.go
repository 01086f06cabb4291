// Package competitive builds per-dealership competitive intelligence reports
// from cluster peers. All peer data flows through the cache manager; the
// generator never reaches out to external analysis sources itself.
package competitive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/geo"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// headlineMetric ranks the market; gap analysis runs over every shared metric.
const headlineMetric = "ai_visibility_score"

// MarketPosition summarizes the subject's standing within its cluster.
type MarketPosition struct {
	// Rank is 1-based among cluster members with available data.
	Rank  int `json:"rank"`
	OutOf int `json:"out_of"`

	// Percentile is the share of ranked members at or below the subject.
	Percentile float64 `json:"percentile"`

	// ShareOfVoice is the subject's headline score over the cluster total.
	ShareOfVoice float64 `json:"share_of_voice"`
}

// PeerComparison is one competitor line item.
type PeerComparison struct {
	DealershipID uuid.UUID `json:"dealership_id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`

	// Direct marks same-category or brand-overlapping competitors.
	Direct bool `json:"direct"`

	VisibilityScore float64 `json:"visibility_score"`

	// Gap is peer score minus subject score; positive means the peer leads.
	Gap float64 `json:"gap"`
}

// Opportunity is a metric where the subject trails the direct-peer average by
// at least the configured gap threshold.
type Opportunity struct {
	Metric      string  `json:"metric"`
	Gap         float64 `json:"gap"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// Threat is a direct competitor leading the subject's headline score by at
// least the configured gap threshold.
type Threat struct {
	DealershipID uuid.UUID `json:"dealership_id"`
	Name         string    `json:"name"`
	Gap          float64   `json:"gap"`
	Confidence   float64   `json:"confidence"`
	Description  string    `json:"description"`
}

// Recommendation is a prioritized action derived from an opportunity.
type Recommendation struct {
	Metric string  `json:"metric"`
	Action string  `json:"action"`
	Score  float64 `json:"score"`
}

// Report is the full competitive intelligence output for one dealership.
type Report struct {
	DealershipID uuid.UUID `json:"dealership_id"`
	ClusterID    uuid.UUID `json:"cluster_id"`
	ClusterName  string    `json:"cluster_name"`
	MarketKey    string    `json:"market_key"`

	Position            MarketPosition   `json:"position"`
	DirectCompetitors   []PeerComparison `json:"direct_competitors"`
	IndirectCompetitors []PeerComparison `json:"indirect_competitors"`
	Opportunities       []Opportunity    `json:"opportunities"`
	Threats             []Threat         `json:"threats"`
	Recommendations     []Recommendation `json:"recommendations"`

	// PeersSkipped counts cluster members dropped for missing cached data.
	PeersSkipped int `json:"peers_skipped"`

	GeneratedAt time.Time `json:"generated_at"`
}

// BulkResult carries per-entity outcomes of a bulk generation.
type BulkResult struct {
	Reports map[uuid.UUID]*Report `json:"reports"`
	Errors  map[uuid.UUID]error   `json:"-"`
}

// Service generates competitive reports.
type Service interface {
	Generate(ctx context.Context, dealershipID uuid.UUID) (*Report, error)

	// GenerateBulk fans out Generate with bounded concurrency; one entity's
	// failure never aborts the rest.
	GenerateBulk(ctx context.Context, ids []uuid.UUID) (*BulkResult, error)
}

type serviceImpl struct {
	dealers  dealership.Repository
	cache    redis.Manager
	clusters *geo.Builder
	pools    *geo.Index
	cfg      config.CompetitiveConfig
	logger   logging.Logger

	now func() time.Time
}

// NewService wires the competitive generator.
func NewService(dealers dealership.Repository, cache redis.Manager, clusters *geo.Builder, pools *geo.Index, cfg config.CompetitiveConfig, logger logging.Logger) Service {
	return &serviceImpl{
		dealers:  dealers,
		cache:    cache,
		clusters: clusters,
		pools:    pools,
		cfg:      cfg,
		logger:   logger.Named("competitive"),
		now:      time.Now,
	}
}

func (s *serviceImpl) Generate(ctx context.Context, dealershipID uuid.UUID) (*Report, error) {
	subject, err := s.dealers.GetByID(ctx, dealershipID)
	if err != nil {
		return nil, err
	}
	cluster, err := s.clusters.ClusterFor(dealershipID)
	if err != nil {
		return nil, err
	}

	members, err := s.dealers.GetByIDs(ctx, cluster.MemberIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*dealership.Dealership, len(members))
	poolsOf := make(map[uuid.UUID]string, len(members))
	for _, d := range members {
		byID[d.ID] = d
		poolsOf[d.ID] = string(s.pools.Resolve(d))
	}

	payloads, skipped, err := s.loadPayloads(ctx, cluster.MemberIDs, poolsOf)
	if err != nil {
		return nil, err
	}
	subjectPayload, ok := payloads[dealershipID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeCacheMiss,
			"no cached analysis for dealership; run an analysis job first").
			WithDetail(dealershipID.String())
	}

	report := &Report{
		DealershipID: dealershipID,
		ClusterID:    cluster.ID,
		ClusterName:  cluster.Name,
		MarketKey:    cluster.MarketKey,
		PeersSkipped: skipped,
		GeneratedAt:  s.now().UTC(),
	}

	subjectScore := subjectPayload.Metrics[headlineMetric]
	var direct, indirect []PeerComparison
	for _, id := range cluster.MemberIDs {
		if id == dealershipID {
			continue
		}
		peer, okPeer := byID[id]
		payload, okPayload := payloads[id]
		if !okPeer || !okPayload {
			continue
		}
		cmp := PeerComparison{
			DealershipID:    id,
			Name:            peer.Name,
			Category:        string(peer.Category),
			Direct:          peer.Category == subject.Category || subject.SharesBrand(peer),
			VisibilityScore: payload.Metrics[headlineMetric],
			Gap:             payload.Metrics[headlineMetric] - subjectScore,
		}
		if cmp.Direct {
			direct = append(direct, cmp)
		} else {
			indirect = append(indirect, cmp)
		}
	}
	sortPeers(direct)
	sortPeers(indirect)
	report.DirectCompetitors = direct
	report.IndirectCompetitors = indirect

	report.Position = position(subjectScore, direct, indirect)
	report.Opportunities = s.opportunities(subjectPayload, direct, payloads)
	report.Threats = s.threats(direct)
	report.Recommendations = s.recommendations(report.Opportunities)
	return report, nil
}

// loadPayloads bulk-reads the cluster's cached payloads. Missing entries are
// skipped; the cache is never bypassed for peer data.
func (s *serviceImpl) loadPayloads(ctx context.Context, ids []uuid.UUID, poolsOf map[uuid.UUID]string) (map[uuid.UUID]*common.AnalysisPayload, int, error) {
	bulk, err := s.cache.GetBulk(ctx, ids, poolsOf, redis.GetOptions{
		AnalysisType: common.AnalysisFull,
		AllowPooled:  true,
	})
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeCacheError, "cluster payload lookup failed")
	}
	return bulk.Payloads, len(bulk.Misses), nil
}

// position ranks the subject among every cluster member with data.
func position(subjectScore float64, direct, indirect []PeerComparison) MarketPosition {
	scores := []float64{subjectScore}
	total := subjectScore
	for _, p := range append(append([]PeerComparison(nil), direct...), indirect...) {
		scores = append(scores, p.VisibilityScore)
		total += p.VisibilityScore
	}

	rank := 1
	atOrBelow := 0
	for _, sc := range scores {
		if sc > subjectScore {
			rank++
		} else {
			atOrBelow++
		}
	}

	pos := MarketPosition{Rank: rank, OutOf: len(scores)}
	pos.Percentile = float64(atOrBelow) / float64(len(scores)) * 100
	if total > 0 {
		pos.ShareOfVoice = subjectScore / total
	}
	return pos
}

// opportunities flags metrics where the subject trails the direct-peer
// average by at least the gap threshold.
func (s *serviceImpl) opportunities(subject *common.AnalysisPayload, direct []PeerComparison, payloads map[uuid.UUID]*common.AnalysisPayload) []Opportunity {
	if len(direct) == 0 {
		return nil
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range direct {
		payload := payloads[p.DealershipID]
		for metric, v := range payload.Metrics {
			sums[metric] += v
			counts[metric]++
		}
	}

	metrics := make([]string, 0, len(sums))
	for m := range sums {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var out []Opportunity
	for _, metric := range metrics {
		own, ok := subject.Metrics[metric]
		if !ok {
			continue
		}
		avg := sums[metric] / float64(counts[metric])
		gap := avg - own
		if gap < s.cfg.OpportunityGapThreshold {
			continue
		}
		out = append(out, Opportunity{
			Metric:     metric,
			Gap:        gap,
			Confidence: s.cfg.OpportunityConfidence,
			Description: fmt.Sprintf("trails direct competitor average on %s by %.1f points",
				metric, gap),
		})
	}
	return out
}

// threats flags direct competitors leading the headline score by at least the
// threat threshold.
func (s *serviceImpl) threats(direct []PeerComparison) []Threat {
	var out []Threat
	for _, p := range direct {
		if p.Gap < s.cfg.ThreatGapThreshold {
			continue
		}
		out = append(out, Threat{
			DealershipID: p.DealershipID,
			Name:         p.Name,
			Gap:          p.Gap,
			Confidence:   s.cfg.ThreatConfidence,
			Description:  fmt.Sprintf("%s leads on %s by %.1f points", p.Name, headlineMetric, p.Gap),
		})
	}
	return out
}

// recommendations converts opportunities into prioritized actions, keeping
// those whose score clears the configured floor.
func (s *serviceImpl) recommendations(opportunities []Opportunity) []Recommendation {
	var out []Recommendation
	for _, o := range opportunities {
		score := o.Gap * o.Confidence * 10
		if score > 100 {
			score = 100
		}
		if score < s.cfg.RecommendationScoreFloor {
			continue
		}
		out = append(out, Recommendation{
			Metric: o.Metric,
			Action: fmt.Sprintf("close the %s gap to the direct competitor average", o.Metric),
			Score:  score,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func sortPeers(peers []PeerComparison) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].VisibilityScore != peers[j].VisibilityScore {
			return peers[i].VisibilityScore > peers[j].VisibilityScore
		}
		return peers[i].Name < peers[j].Name
	})
}

func (s *serviceImpl) GenerateBulk(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	if len(ids) == 0 {
		return &BulkResult{Reports: map[uuid.UUID]*Report{}, Errors: map[uuid.UUID]error{}}, nil
	}

	type outcome struct {
		id     uuid.UUID
		report *Report
		err    error
	}
	results := make([]outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.BulkConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			r, err := s.Generate(gctx, id)
			results[i] = outcome{id: id, report: r, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &BulkResult{
		Reports: make(map[uuid.UUID]*Report, len(ids)),
		Errors:  make(map[uuid.UUID]error),
	}
	for _, r := range results {
		if r.err != nil {
			out.Errors[r.id] = r.err
			continue
		}
		out.Reports[r.id] = r.report
	}
	if len(out.Errors) > 0 {
		s.logger.Warn("bulk competitive generation had failures",
			logging.Int("requested", len(ids)),
			logging.Int("failed", len(out.Errors)))
	}
	return out, nil
}
