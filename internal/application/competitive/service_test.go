package competitive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/domain/geo"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

type fakeDealerRepo struct {
	set []*dealership.Dealership
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
	byID := make(map[uuid.UUID]*dealership.Dealership)
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

func (f *fakeDealerRepo) List(context.Context, dealership.SelectionFilter) ([]*dealership.Dealership, error) {
	return f.set, nil
}

func (f *fakeDealerRepo) TouchAnalyzed(context.Context, []uuid.UUID, time.Time) error { return nil }

func (f *fakeDealerRepo) CountByCategory(context.Context, string) (map[dealership.Category]int, error) {
	return nil, nil
}

type fakeCache struct {
	payloads map[uuid.UUID]*common.AnalysisPayload
}

func (f *fakeCache) Get(_ context.Context, id uuid.UUID, _ string, _ redis.GetOptions) (*common.AnalysisPayload, redis.Source, error) {
	if p, ok := f.payloads[id]; ok {
		return p, redis.SourceL2, nil
	}
	return nil, "", redis.ErrCacheMiss
}

func (f *fakeCache) Set(context.Context, uuid.UUID, string, *common.AnalysisPayload, redis.SetOptions) error {
	return nil
}

func (f *fakeCache) GetBulk(_ context.Context, ids []uuid.UUID, _ map[uuid.UUID]string, _ redis.GetOptions) (*redis.BulkResult, error) {
	res := &redis.BulkResult{
		Payloads: make(map[uuid.UUID]*common.AnalysisPayload),
		Sources:  make(map[uuid.UUID]redis.Source),
	}
	for _, id := range ids {
		if p, ok := f.payloads[id]; ok {
			res.Payloads[id] = p
			res.Sources[id] = redis.SourceL2
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

func (f *fakeCache) Stats(context.Context) redis.Stats  { return redis.Stats{} }
func (f *fakeCache) FlushStats(context.Context)         {}
func (f *fakeCache) Sweep(context.Context) (int, error) { return 0, nil }

type fixture struct {
	svc     Service
	dealers *fakeDealerRepo
	cache   *fakeCache
}

func dealer(name, market string, category dealership.Category, brands ...string) *dealership.Dealership {
	m := market
	return &dealership.Dealership{
		ID:         uuid.New(),
		Name:       name,
		Category:   category,
		Brands:     brands,
		RegionCode: "TX",
		MarketID:   &m,
	}
}

func payloadWith(id uuid.UUID, metrics map[string]float64) *common.AnalysisPayload {
	return &common.AnalysisPayload{
		DealershipID: common.ID(id.String()),
		AnalysisType: common.AnalysisFull,
		Metrics:      metrics,
		GeneratedAt:  time.Now().UTC(),
	}
}

func newFixture(t *testing.T, set []*dealership.Dealership) *fixture {
	t.Helper()
	var cfg config.Config
	config.ApplyDefaults(&cfg)

	clusters := geo.NewBuilder(cfg.Geo, nil)
	require.NoError(t, clusters.Rebuild(context.Background(), set))

	dealers := &fakeDealerRepo{set: set}
	cache := &fakeCache{payloads: map[uuid.UUID]*common.AnalysisPayload{}}
	svc := NewService(dealers, cache, clusters, geo.NewIndex(cfg.Geo), cfg.Competitive, logging.NewNopLogger())
	return &fixture{svc: svc, dealers: dealers, cache: cache}
}

func TestGenerate_RanksAndPartitionsPeers(t *testing.T) {
	subject := dealer("Subject Toyota", "dallas_tx", dealership.CategoryStandard, "Toyota")
	sameCat := dealer("Rival Ford", "dallas_tx", dealership.CategoryStandard, "Ford")
	brandOverlap := dealer("Premium Toyota", "dallas_tx", dealership.CategoryPremium, "Toyota", "Lexus")
	unrelated := dealer("Indie Motors", "dallas_tx", dealership.CategoryIndependent, "Kia")
	set := []*dealership.Dealership{subject, sameCat, brandOverlap, unrelated}
	f := newFixture(t, set)

	f.cache.payloads[subject.ID] = payloadWith(subject.ID, map[string]float64{
		"ai_visibility_score": 60, "seo_score": 40,
	})
	f.cache.payloads[sameCat.ID] = payloadWith(sameCat.ID, map[string]float64{
		"ai_visibility_score": 80, "seo_score": 60,
	})
	f.cache.payloads[brandOverlap.ID] = payloadWith(brandOverlap.ID, map[string]float64{
		"ai_visibility_score": 50, "seo_score": 50,
	})
	f.cache.payloads[unrelated.ID] = payloadWith(unrelated.ID, map[string]float64{
		"ai_visibility_score": 70,
	})

	report, err := f.svc.Generate(context.Background(), subject.ID)
	require.NoError(t, err)

	require.Len(t, report.DirectCompetitors, 2, "same category and brand overlap are direct")
	require.Len(t, report.IndirectCompetitors, 1)
	assert.Equal(t, unrelated.ID, report.IndirectCompetitors[0].DealershipID)

	// scores 80, 70, 60, 50: subject ranks third of four
	assert.Equal(t, 3, report.Position.Rank)
	assert.Equal(t, 4, report.Position.OutOf)
	assert.InDelta(t, 50.0, report.Position.Percentile, 0.01)
	assert.InDelta(t, 60.0/260.0, report.Position.ShareOfVoice, 0.0001)

	// direct peer average on seo_score is 55 → gap 15 clears the threshold;
	// headline gap is only 5 and stays off the list
	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, "seo_score", report.Opportunities[0].Metric)
	assert.InDelta(t, 15.0, report.Opportunities[0].Gap, 0.01)
	assert.InDelta(t, 0.7, report.Opportunities[0].Confidence, 0.0001)

	// only the Ford store leads the headline score by 10+
	require.Len(t, report.Threats, 1)
	assert.Equal(t, sameCat.ID, report.Threats[0].DealershipID)
	assert.InDelta(t, 20.0, report.Threats[0].Gap, 0.01)
	assert.InDelta(t, 0.6, report.Threats[0].Confidence, 0.0001)

	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, "seo_score", report.Recommendations[0].Metric)
	assert.GreaterOrEqual(t, report.Recommendations[0].Score, 40.0)
}

func TestGenerate_MissingPeerDataSkipped(t *testing.T) {
	subject := dealer("Subject", "dallas_tx", dealership.CategoryStandard, "Toyota")
	withData := dealer("Peer A", "dallas_tx", dealership.CategoryStandard, "Ford")
	noData := dealer("Peer B", "dallas_tx", dealership.CategoryStandard, "Honda")
	f := newFixture(t, []*dealership.Dealership{subject, withData, noData})

	f.cache.payloads[subject.ID] = payloadWith(subject.ID, map[string]float64{"ai_visibility_score": 60})
	f.cache.payloads[withData.ID] = payloadWith(withData.ID, map[string]float64{"ai_visibility_score": 65})

	report, err := f.svc.Generate(context.Background(), subject.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, report.PeersSkipped)
	assert.Len(t, report.DirectCompetitors, 1)
	assert.Equal(t, 2, report.Position.OutOf)
}

func TestGenerate_SubjectWithoutCachedAnalysis(t *testing.T) {
	subject := dealer("Subject", "dallas_tx", dealership.CategoryStandard)
	peer := dealer("Peer", "dallas_tx", dealership.CategoryStandard)
	f := newFixture(t, []*dealership.Dealership{subject, peer})
	f.cache.payloads[peer.ID] = payloadWith(peer.ID, map[string]float64{"ai_visibility_score": 65})

	_, err := f.svc.Generate(context.Background(), subject.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCacheMiss))
}

func TestGenerate_UnclusteredDealership(t *testing.T) {
	subject := dealer("Subject", "dallas_tx", dealership.CategoryStandard)
	f := newFixture(t, []*dealership.Dealership{subject})

	// known dealership that joined after the last cluster build
	stray := dealer("Stray", "austin_tx", dealership.CategoryStandard)
	f.dealers.set = append(f.dealers.set, stray)

	_, err := f.svc.Generate(context.Background(), stray.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeClusterNotFound))
}

func TestGenerateBulk_PartialFailures(t *testing.T) {
	a := dealer("A", "dallas_tx", dealership.CategoryStandard, "Toyota")
	b := dealer("B", "dallas_tx", dealership.CategoryStandard, "Ford")
	f := newFixture(t, []*dealership.Dealership{a, b})

	f.cache.payloads[a.ID] = payloadWith(a.ID, map[string]float64{"ai_visibility_score": 60})
	f.cache.payloads[b.ID] = payloadWith(b.ID, map[string]float64{"ai_visibility_score": 70})

	orphan := uuid.New()
	res, err := f.svc.GenerateBulk(context.Background(), []uuid.UUID{a.ID, b.ID, orphan})
	require.NoError(t, err)

	assert.Len(t, res.Reports, 2)
	require.Len(t, res.Errors, 1)
	assert.Error(t, res.Errors[orphan])
}

func TestGenerateBulk_Empty(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.GenerateBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Reports)
	assert.Empty(t, res.Errors)
}
