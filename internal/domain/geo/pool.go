// Package geo provides geographic pooling and clustering: the pool index that
// assigns every dealership to a cache pool, and the cluster builder that
// groups dealerships into bounded market clusters for competitive analysis.
package geo

import (
	"strings"
	"sync"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
)

// PoolName identifies a geographic cache pool.
type PoolName string

// PoolNational is the catch-all pool for dealerships that resolve to no
// regional pool. Resolution never fails; it falls through to this.
const PoolNational PoolName = "national"

// Pool is one entry of the pool reference table.
type Pool struct {
	Name        PoolName `json:"name"`
	RegionCodes []string `json:"region_codes"`

	// CacheWeight scales pooled-entry TTLs for high-churn regions.
	CacheWeight float64 `json:"cache_weight"`

	// MemberCount is a point-in-time gauge maintained by the index, not a
	// persisted value.
	MemberCount int `json:"member_count"`
}

// Index resolves dealerships to pools using a region-code lookup table built
// from configuration. The table is replaceable at runtime via Reload (wired
// to config hot reload); Resolve is safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	pools       map[PoolName]*Pool
	byRegion    map[string]PoolName
	defaultPool PoolName
}

// NewIndex builds an Index from the configured pool table.
func NewIndex(cfg config.GeoConfig) *Index {
	idx := &Index{}
	idx.Reload(cfg)
	return idx
}

// Reload atomically replaces the reference table. Counts reset to zero.
func (idx *Index) Reload(cfg config.GeoConfig) {
	pools := make(map[PoolName]*Pool, len(cfg.Pools)+1)
	byRegion := make(map[string]PoolName)

	for _, p := range cfg.Pools {
		name := PoolName(p.Name)
		pools[name] = &Pool{
			Name:        name,
			RegionCodes: append([]string(nil), p.RegionCodes...),
			CacheWeight: p.CacheWeight,
		}
		for _, rc := range p.RegionCodes {
			byRegion[strings.ToUpper(rc)] = name
		}
	}

	def := PoolName(cfg.DefaultPool)
	if def == "" {
		def = PoolNational
	}
	if _, ok := pools[def]; !ok {
		pools[def] = &Pool{Name: def, CacheWeight: 1.0}
	}

	idx.mu.Lock()
	idx.pools = pools
	idx.byRegion = byRegion
	idx.defaultPool = def
	idx.mu.Unlock()
}

// Resolve returns the pool for a dealership. Resolution is deterministic:
// an explicit region code wins; otherwise the website domain is scanned for
// state tokens (e.g. "toyotaoftexas.com"); otherwise the default pool.
// Resolve has no side effects and never returns an error.
func (idx *Index) Resolve(d *dealership.Dealership) PoolName {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if d == nil {
		return idx.defaultPool
	}

	if rc := strings.ToUpper(strings.TrimSpace(d.RegionCode)); rc != "" {
		if name, ok := idx.byRegion[rc]; ok {
			return name
		}
	}

	if name, ok := idx.resolveFromDomain(d.Domain); ok {
		return name
	}

	return idx.defaultPool
}

// stateTokens maps lowercase state-name substrings to region codes for the
// domain heuristic. Short ambiguous names (e.g. "ohio" inside "ohioan") are
// acceptable false positives; the heuristic is a fallback only.
var stateTokens = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"newhampshire": "NH", "newjersey": "NJ", "newmexico": "NM", "newyork": "NY",
	"northcarolina": "NC", "northdakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhodeisland": "RI", "southcarolina": "SC",
	"southdakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "westvirginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

// tokenOrder fixes the iteration order so resolution stays deterministic when
// a domain matches several state names. Longer names first so "westvirginia"
// beats "virginia".
var tokenOrder = func() []string {
	keys := make([]string, 0, len(stateTokens))
	for k := range stateTokens {
		keys = append(keys, k)
	}
	// insertion sort by (length desc, lexical asc); the table is small
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			a, b := keys[j-1], keys[j]
			if len(b) > len(a) || (len(b) == len(a) && b < a) {
				keys[j-1], keys[j] = b, a
			} else {
				break
			}
		}
	}
	return keys
}()

func (idx *Index) resolveFromDomain(domain string) (PoolName, bool) {
	if domain == "" {
		return "", false
	}
	d := strings.ToLower(strings.ReplaceAll(domain, "-", ""))
	for _, token := range tokenOrder {
		if strings.Contains(d, token) {
			if name, ok := idx.byRegion[stateTokens[token]]; ok {
				return name, true
			}
		}
	}
	return "", false
}

// Pools returns a snapshot of the reference table.
func (idx *Index) Pools() []*Pool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*Pool, 0, len(idx.pools))
	for _, p := range idx.pools {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// DefaultPool returns the configured fallback pool name.
func (idx *Index) DefaultPool() PoolName {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.defaultPool
}

// Assign resolves each dealership and updates the member count gauges,
// returning the per-dealership assignment.
func (idx *Index) Assign(dealerships []*dealership.Dealership) map[PoolName]int {
	counts := make(map[PoolName]int)
	for _, d := range dealerships {
		counts[idx.Resolve(d)]++
	}

	idx.mu.Lock()
	for name, p := range idx.pools {
		p.MemberCount = counts[name]
	}
	idx.mu.Unlock()

	return counts
}
