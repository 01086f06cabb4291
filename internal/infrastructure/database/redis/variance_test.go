package redis

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

func pooledPayload() *common.AnalysisPayload {
	return &common.AnalysisPayload{
		DealershipID: "pool-representative",
		AnalysisType: common.AnalysisFull,
		Metrics: map[string]float64{
			"ai_visibility_score": 72.5,
			"seo_score":           61.0,
			"share_of_voice":      0.18,
		},
		Extra:       map[string]interface{}{"top_competitor": "Main St Motors"},
		GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyVariance_Deterministic(t *testing.T) {
	id := uuid.New()
	src := pooledPayload()

	first := applyVariance(src, id, 0.05)
	for i := 0; i < 20; i++ {
		again := applyVariance(src, id, 0.05)
		assert.Equal(t, first.Metrics, again.Metrics)
	}
}

func TestApplyVariance_WithinBounds(t *testing.T) {
	src := pooledPayload()
	for i := 0; i < 100; i++ {
		out := applyVariance(src, uuid.New(), 0.05)
		for name, v := range out.Metrics {
			base := src.Metrics[name]
			assert.LessOrEqualf(t, math.Abs(v-base), base*0.05+1e-9,
				"metric %s deviated more than 5%%", name)
		}
	}
}

func TestApplyVariance_DistinctPerEntity(t *testing.T) {
	src := pooledPayload()
	a := applyVariance(src, uuid.New(), 0.05)
	b := applyVariance(src, uuid.New(), 0.05)

	assert.NotEqual(t, a.Metrics["ai_visibility_score"], b.Metrics["ai_visibility_score"])
}

func TestApplyVariance_ClampsToRange(t *testing.T) {
	src := pooledPayload()
	src.Metrics["ai_visibility_score"] = 99.9
	src.Metrics["share_of_voice"] = 0.999

	for i := 0; i < 50; i++ {
		out := applyVariance(src, uuid.New(), 0.05)
		assert.LessOrEqual(t, out.Metrics["ai_visibility_score"], 100.0)
		assert.LessOrEqual(t, out.Metrics["share_of_voice"], 1.0)
	}
}

func TestApplyVariance_SourceUntouched(t *testing.T) {
	src := pooledPayload()
	before := src.Metrics["seo_score"]

	out := applyVariance(src, uuid.New(), 0.05)

	assert.Equal(t, before, src.Metrics["seo_score"], "pooled entry must never be mutated")
	require.NotNil(t, out.Extra)
	assert.Equal(t, "Main St Motors", out.Extra["top_competitor"], "non-metric fields pass through")
	assert.Equal(t, src.GeneratedAt, out.GeneratedAt)
}

func TestApplyVariance_RewritesDealershipID(t *testing.T) {
	id := uuid.New()
	out := applyVariance(pooledPayload(), id, 0.05)
	assert.Equal(t, common.ID(id.String()), out.DealershipID)
}

func TestVarianceOffset_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		off := varianceOffset(uuid.New(), "ai_visibility_score")
		assert.GreaterOrEqual(t, off, -1.0)
		assert.LessOrEqual(t, off, 1.0)
	}
}
