package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MarketSnapshot carries demographic context attached to a cluster at build
// time. Values come from the MarketDataProvider; zero when none is wired.
type MarketSnapshot struct {
	Population        int     `json:"population"`
	MedianIncome      float64 `json:"median_income"`
	DigitalEngagement float64 `json:"digital_engagement"`
}

// Cluster is a bounded group of dealerships competing in one market.
// Clusters are rebuilt wholesale on refresh; they are never mutated in place.
type Cluster struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	MarketKey string    `json:"market_key"`

	// Centroid is the mean of geocoded member coordinates; (0,0) when no
	// member is geocoded.
	Centroid Point `json:"centroid"`

	// RadiusKm is the distance from the centroid to the farthest member with
	// a 10% margin; 0 when no member is geocoded.
	RadiusKm float64 `json:"radius_km"`

	// MemberIDs preserves the grouping order used at build time.
	MemberIDs []uuid.UUID `json:"member_ids"`

	Snapshot MarketSnapshot `json:"snapshot"`

	// Landscape counts members by dealership category.
	Landscape map[dealership.Category]int `json:"landscape"`

	BuiltAt time.Time `json:"built_at"`
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.MemberIDs) }

// MarketDataProvider supplies demographic snapshots for market keys.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, marketKey string) (MarketSnapshot, error)
}

// Builder groups dealerships into clusters and caches the result in process
// memory. Lookups are served from the last successful build; Rebuild swaps
// the whole result atomically.
//
// Chunking within a market is sequential by grouping order, not spatial:
// members land in chunks by position, so two neighbors can end up in
// different clusters when a market exceeds the size bound.
type Builder struct {
	maxSize         int
	singleThreshold int
	markets         MarketDataProvider

	mu           sync.RWMutex
	clusters     map[uuid.UUID]*Cluster
	byDealership map[uuid.UUID]uuid.UUID
	builtAt      time.Time
}

// NewBuilder constructs a Builder. markets may be nil; snapshots are then
// left zero.
func NewBuilder(cfg config.GeoConfig, markets MarketDataProvider) *Builder {
	return &Builder{
		maxSize:         cfg.MaxClusterSize,
		singleThreshold: cfg.SingleClusterThreshold,
		markets:         markets,
		clusters:        make(map[uuid.UUID]*Cluster),
		byDealership:    make(map[uuid.UUID]uuid.UUID),
	}
}

// Build partitions dealerships into clusters: every dealership appears in
// exactly one cluster. Markets at or under the single-cluster threshold form
// one cluster; larger markets are chunked sequentially at the size bound.
func (b *Builder) Build(ctx context.Context, dealerships []*dealership.Dealership) ([]*Cluster, error) {
	groups := make(map[string][]*dealership.Dealership)
	for _, d := range dealerships {
		key := d.MarketKey()
		groups[key] = append(groups[key], d)
	}

	// Deterministic output order across builds.
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UTC()
	var out []*Cluster
	for _, key := range keys {
		members := groups[key]

		var snapshot MarketSnapshot
		if b.markets != nil {
			snap, err := b.markets.Snapshot(ctx, key)
			if err == nil {
				snapshot = snap
			}
		}

		chunks := chunkMembers(members, b.singleThreshold, b.maxSize)
		for i, chunk := range chunks {
			name := key
			if len(chunks) > 1 {
				name = fmt.Sprintf("%s_%d", key, i+1)
			}
			out = append(out, buildCluster(name, key, chunk, snapshot, now))
		}
	}
	return out, nil
}

// Rebuild runs Build and atomically replaces the cached lookup tables.
func (b *Builder) Rebuild(ctx context.Context, dealerships []*dealership.Dealership) error {
	clusters, err := b.Build(ctx, dealerships)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeClusterBuildFail, "cluster rebuild failed")
	}

	byID := make(map[uuid.UUID]*Cluster, len(clusters))
	byDealer := make(map[uuid.UUID]uuid.UUID)
	for _, c := range clusters {
		byID[c.ID] = c
		for _, m := range c.MemberIDs {
			byDealer[m] = c.ID
		}
	}

	b.mu.Lock()
	b.clusters = byID
	b.byDealership = byDealer
	b.builtAt = time.Now().UTC()
	b.mu.Unlock()
	return nil
}

// ClusterFor returns the cached cluster containing the dealership.
func (b *Builder) ClusterFor(dealershipID uuid.UUID) (*Cluster, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cid, ok := b.byDealership[dealershipID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeClusterNotFound, "dealership is not in any cluster").
			WithDetail(dealershipID.String())
	}
	return b.clusters[cid], nil
}

// BuiltAt returns the time of the last successful Rebuild.
func (b *Builder) BuiltAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.builtAt
}

// chunkMembers splits members into cluster-sized chunks. A market at or under
// singleThreshold is never split; larger markets chunk at maxSize with a
// smaller final chunk.
func chunkMembers(members []*dealership.Dealership, singleThreshold, maxSize int) [][]*dealership.Dealership {
	if len(members) <= singleThreshold {
		return [][]*dealership.Dealership{members}
	}
	var chunks [][]*dealership.Dealership
	for start := 0; start < len(members); start += maxSize {
		end := start + maxSize
		if end > len(members) {
			end = len(members)
		}
		chunks = append(chunks, members[start:end])
	}
	return chunks
}

func buildCluster(name, marketKey string, members []*dealership.Dealership, snapshot MarketSnapshot, now time.Time) *Cluster {
	c := &Cluster{
		ID:        uuid.New(),
		Name:      name,
		MarketKey: marketKey,
		MemberIDs: make([]uuid.UUID, 0, len(members)),
		Snapshot:  snapshot,
		Landscape: make(map[dealership.Category]int),
		BuiltAt:   now,
	}

	var sumLat, sumLng float64
	geocoded := 0
	for _, d := range members {
		c.MemberIDs = append(c.MemberIDs, d.ID)
		c.Landscape[d.Category]++
		if d.Geocoded() {
			sumLat += *d.Latitude
			sumLng += *d.Longitude
			geocoded++
		}
	}

	if geocoded == 0 {
		return c
	}

	c.Centroid = Point{Lat: sumLat / float64(geocoded), Lng: sumLng / float64(geocoded)}

	var maxDist float64
	for _, d := range members {
		if !d.Geocoded() {
			continue
		}
		dist := haversineKm(c.Centroid, Point{Lat: *d.Latitude, Lng: *d.Longitude})
		if dist > maxDist {
			maxDist = dist
		}
	}
	c.RadiusKm = maxDist * 1.1
	return c
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
