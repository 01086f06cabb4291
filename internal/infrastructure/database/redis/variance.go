package redis

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// applyVariance derives a per-entity copy of a pooled payload: every numeric
// metric is shifted by a deterministic offset in [-pct, +pct] and clamped to
// the metric's valid range. Non-metric fields pass through untouched.
//
// The offset is a pure function of (dealership id, metric name), so repeated
// pooled reads for the same entity always produce identical values while two
// entities sharing a pool see distinct ones.
func applyVariance(pooled *common.AnalysisPayload, dealershipID uuid.UUID, pct float64) *common.AnalysisPayload {
	out := pooled.Clone()
	out.DealershipID = common.ID(dealershipID.String())

	for name, value := range out.Metrics {
		factor := 1 + varianceOffset(dealershipID, name)*pct
		r := common.RangeFor(name)
		out.Metrics[name] = r.Clamp(value * factor)
	}
	return out
}

// varianceOffset maps (id, metric) to a stable value in [-1, 1] using FNV-1a.
func varianceOffset(id uuid.UUID, metric string) float64 {
	h := fnv.New64a()
	h.Write(id[:])
	h.Write([]byte(metric))
	// Scale the 64-bit sum into [-1, 1].
	return float64(h.Sum64())/float64(^uint64(0))*2 - 1
}
