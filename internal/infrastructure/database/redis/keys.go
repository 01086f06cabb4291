// Package redis implements the tiered analysis cache: an in-process L1 hot
// store backed by Redis warm (L2), pooled cold (L3), and frozen archive (L4)
// tiers, with deterministic variance injection for pooled reads.
package redis

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// Tier identifies one cache layer. TTLs grow strictly from L1 to L4.
type Tier string

const (
	TierL1 Tier = "l1" // in-process hot
	TierL2 Tier = "l2" // redis warm, per-entity
	TierL3 Tier = "l3" // redis cold, pooled per region
	TierL4 Tier = "l4" // redis frozen archive, per-entity
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierL1, TierL2, TierL3, TierL4:
		return true
	}
	return false
}

// Source labels where a served payload came from; consumers use it to mark
// results and meter hit rates.
type Source string

const (
	SourceL1     Source = "l1"
	SourceL2     Source = "l2"
	SourcePooled Source = "pooled_with_variance"
	SourceFrozen Source = "frozen"
	SourceFresh  Source = "fresh"
)

// entityKey builds the per-dealership key for L2/L4 entries.
func entityKey(tier Tier, analysisType common.AnalysisType, id uuid.UUID) string {
	return fmt.Sprintf("cache:%s:%s:%s", tier, analysisType, id)
}

// pooledKey builds the shared key for an L3 pooled entry: one representative
// payload per (pool, analysis type).
func pooledKey(pool string, analysisType common.AnalysisType) string {
	return fmt.Sprintf("cache:l3:pool:%s:%s", pool, analysisType)
}

// statsKey builds the key for a cluster-wide stats counter.
func statsKey(name string) string {
	return "cache:stats:" + name
}
