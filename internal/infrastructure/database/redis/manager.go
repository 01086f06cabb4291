package redis

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

var ErrCacheMiss = apperrors.New(apperrors.ErrCodeCacheMiss, "cache miss")

// GetOptions controls a cache lookup.
type GetOptions struct {
	AnalysisType common.AnalysisType

	// AllowPooled permits the L3 pooled fallback with variance injection.
	AllowPooled bool

	// AllowFrozen permits the L4 archive as a last resort before a miss.
	AllowFrozen bool

	// MaxAge bounds acceptable entry age; zero accepts any unexpired entry.
	// Tiers holding only stale entries are skipped, not treated as terminal.
	MaxAge time.Duration
}

// SetOptions controls a cache write.
type SetOptions struct {
	// Tier selects the target tier; zero value defaults to L2.
	Tier Tier

	// Pooled writes the payload as the pool's shared L3 entry instead of a
	// per-entity entry.
	Pooled bool

	// PoolWeight scales the pooled TTL for the entity's pool; zero means 1.
	PoolWeight float64
}

// InvalidateOptions selects what to drop. Dealership-scoped calls clear every
// listed entity's entries across tiers in one round-trip; Pool clears a
// pooled entry; All clears the entire cache keyspace.
type InvalidateOptions struct {
	DealershipIDs []uuid.UUID
	AnalysisType  common.AnalysisType
	Pool          string
	All           bool
}

// Stats is a point-in-time aggregate of cache activity on this process.
type Stats struct {
	Hits        int64            `json:"hits"`
	Misses      int64            `json:"misses"`
	Sets        int64            `json:"sets"`
	HitRate     float64          `json:"hit_rate"`
	BySource    map[Source]int64 `json:"by_source"`
	L1Entries   int              `json:"l1_entries"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

// BulkResult aggregates a GetBulk call.
type BulkResult struct {
	Payloads map[uuid.UUID]*common.AnalysisPayload
	Sources  map[uuid.UUID]Source
	Misses   []uuid.UUID
	HitRate  float64
}

// Meter receives cache events for metrics exposition. Implemented by the
// prometheus collector; NopMeter for tests.
type Meter interface {
	CacheHit(source string)
	CacheMiss()
	CacheSet(tier string)
	SweepDeleted(n int)
}

// NopMeter discards all events.
type NopMeter struct{}

func (NopMeter) CacheHit(string) {}
func (NopMeter) CacheMiss()      {}
func (NopMeter) CacheSet(string) {}
func (NopMeter) SweepDeleted(int) {}

// Manager is the tiered cache facade used by the pipeline and the competitive
// generator.
type Manager interface {
	Get(ctx context.Context, dealershipID uuid.UUID, pool string, opts GetOptions) (*common.AnalysisPayload, Source, error)
	Set(ctx context.Context, dealershipID uuid.UUID, pool string, payload *common.AnalysisPayload, opts SetOptions) error
	GetBulk(ctx context.Context, ids []uuid.UUID, pools map[uuid.UUID]string, opts GetOptions) (*BulkResult, error)
	SetBulk(ctx context.Context, payloads map[uuid.UUID]*common.AnalysisPayload, pools map[uuid.UUID]string, opts SetOptions) error
	Invalidate(ctx context.Context, opts InvalidateOptions) (int64, error)
	Stats(ctx context.Context) Stats

	// FlushStats pushes process-local counter deltas into cluster-wide redis
	// counters; called on an interval, never in request paths.
	FlushStats(ctx context.Context)

	// Sweep deletes expired entries from L1 and the redis tiers, returning
	// the number removed.
	Sweep(ctx context.Context) (int, error)
}

type manager struct {
	client *Client
	local  *localStore
	cfg    config.CacheConfig
	logger logging.Logger
	meter  Meter
	sf     singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	byL1   atomic.Int64
	byL2   atomic.Int64
	byL3   atomic.Int64
	byL4   atomic.Int64

	flushedHits   atomic.Int64
	flushedMisses atomic.Int64
	flushedSets   atomic.Int64

	now func() time.Time
}

// NewManager constructs the tiered cache manager. meter may be nil.
func NewManager(client *Client, cfg config.CacheConfig, log logging.Logger, meter Meter) Manager {
	if meter == nil {
		meter = NopMeter{}
	}
	return &manager{
		client: client,
		local:  newLocalStore(cfg.L1MaxEntries),
		cfg:    cfg,
		logger: log.Named("cache"),
		meter:  meter,
		now:    time.Now,
	}
}

func (m *manager) tierTTL(t Tier) time.Duration {
	switch t {
	case TierL1:
		return m.cfg.L1TTL
	case TierL2:
		return m.cfg.L2TTL
	case TierL3:
		return m.cfg.L3TTL
	case TierL4:
		return m.cfg.L4TTL
	}
	return m.cfg.L2TTL
}

// redisTTL pads the logical TTL so expired envelopes stay discoverable until
// the sweeper reclaims them; redis expiry is the backstop.
func (m *manager) redisTTL(logical time.Duration) time.Duration {
	return logical + m.cfg.SweepInterval
}

func (m *manager) Get(ctx context.Context, dealershipID uuid.UUID, pool string, opts GetOptions) (*common.AnalysisPayload, Source, error) {
	now := m.now()

	// L1: in-process hot store.
	l1Key := entityKey(TierL1, opts.AnalysisType, dealershipID)
	if e, ok := m.local.get(l1Key, now); ok && e.FreshEnough(now, opts.MaxAge) {
		atomic.AddInt64(&e.AccessCount, 1)
		m.recordHit(SourceL1)
		return e.Payload, SourceL1, nil
	}

	// L2: warm per-entity entry, promoted to L1 on hit.
	if e := m.fetchEntry(ctx, entityKey(TierL2, opts.AnalysisType, dealershipID)); e != nil && e.FreshEnough(now, opts.MaxAge) {
		m.promote(l1Key, e, now)
		m.recordHit(SourceL2)
		return e.Payload, SourceL2, nil
	}

	// L3: pooled fallback with deterministic variance.
	if opts.AllowPooled && pool != "" {
		if e := m.fetchEntry(ctx, pooledKey(pool, opts.AnalysisType)); e != nil && e.FreshEnough(now, opts.MaxAge) {
			m.recordHit(SourcePooled)
			return applyVariance(e.Payload, dealershipID, m.cfg.VariancePct), SourcePooled, nil
		}
	}

	// L4: frozen archive, explicit opt-in only.
	if opts.AllowFrozen {
		if e := m.fetchEntry(ctx, entityKey(TierL4, opts.AnalysisType, dealershipID)); e != nil && e.FreshEnough(now, opts.MaxAge) {
			m.recordHit(SourceFrozen)
			return e.Payload, SourceFrozen, nil
		}
	}

	m.misses.Add(1)
	m.meter.CacheMiss()
	return nil, "", ErrCacheMiss
}

// fetchEntry loads and decodes one envelope, deduplicating concurrent loads
// of the same key. Absent, corrupt, and transport-failed entries all read as
// nil; corruption additionally queues the key for deletion.
func (m *manager) fetchEntry(ctx context.Context, key string) *Entry {
	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		data, err := m.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if uerr := json.Unmarshal(data, &e); uerr != nil {
			m.logger.Warn("corrupt cache entry dropped", logging.String("key", key), logging.Err(uerr))
			m.client.Del(ctx, key)
			return nil, nil
		}
		return &e, nil
	})
	if err != nil {
		m.logger.Warn("cache read failed", logging.String("key", key), logging.Err(err))
		return nil
	}
	if v == nil {
		return nil
	}
	return v.(*Entry)
}

// promote writes a warm entry into L1. The L1 expiry never outlives the
// source entry.
func (m *manager) promote(l1Key string, e *Entry, now time.Time) {
	exp := now.Add(m.cfg.L1TTL)
	if e.ExpiresAt.Before(exp) {
		exp = e.ExpiresAt
	}
	m.local.set(l1Key, &Entry{
		Key:         l1Key,
		Tier:        TierL1,
		Pool:        e.Pool,
		Payload:     e.Payload,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   exp,
		AccessCount: 1,
	})
}

func (m *manager) Set(ctx context.Context, dealershipID uuid.UUID, pool string, payload *common.AnalysisPayload, opts SetOptions) error {
	if payload == nil {
		return apperrors.InvalidParam("cache payload must not be nil")
	}
	tier := opts.Tier
	if tier == "" {
		tier = TierL2
	}
	if !tier.Valid() || tier == TierL1 {
		return apperrors.New(apperrors.ErrCodeCacheInvalidTier, "tier is not writable").WithDetail(string(tier))
	}

	now := m.now()
	pipe := m.client.Pipeline()
	if err := m.queueWrite(ctx, pipe, dealershipID, pool, payload, tier, opts, now); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "cache write failed")
	}
	m.sets.Add(1)
	m.meter.CacheSet(string(tier))
	return nil
}

// queueWrite appends the redis commands for one logical write to the pipeline.
// Pooled writes target the pool's shared L3 entry; a non-pooled L2 write also
// co-writes that entry so cold lookups in the same region have a donor.
func (m *manager) queueWrite(ctx context.Context, pipe goredis.Pipeliner, dealershipID uuid.UUID, pool string, payload *common.AnalysisPayload, tier Tier, opts SetOptions, now time.Time) error {
	if opts.Pooled || tier == TierL3 {
		return m.queuePooled(ctx, pipe, pool, payload, opts.PoolWeight, now)
	}
	if err := m.queueEntity(ctx, pipe, dealershipID, pool, payload, tier, now); err != nil {
		return err
	}
	if tier == TierL2 && pool != "" {
		return m.queuePooled(ctx, pipe, pool, payload, opts.PoolWeight, now)
	}
	return nil
}

// queueEntity writes the per-entity envelope and mirrors L2 writes into L1.
func (m *manager) queueEntity(ctx context.Context, pipe goredis.Pipeliner, dealershipID uuid.UUID, pool string, payload *common.AnalysisPayload, tier Tier, now time.Time) error {
	key := entityKey(tier, payload.AnalysisType, dealershipID)
	ttl := m.tierTTL(tier)
	e := &Entry{
		Key:       key,
		Tier:      tier,
		Pool:      pool,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "cache entry encoding failed")
	}
	pipe.Set(ctx, m.client.fullKey(key), data, m.redisTTL(ttl))

	if tier == TierL2 {
		m.local.set(entityKey(TierL1, payload.AnalysisType, dealershipID), &Entry{
			Key:       entityKey(TierL1, payload.AnalysisType, dealershipID),
			Tier:      TierL1,
			Pool:      pool,
			Payload:   payload,
			CreatedAt: now,
			ExpiresAt: now.Add(m.cfg.L1TTL),
		})
	}
	return nil
}

func (m *manager) queuePooled(ctx context.Context, pipe goredis.Pipeliner, pool string, payload *common.AnalysisPayload, weight float64, now time.Time) error {
	if pool == "" {
		return apperrors.InvalidParam("pooled cache write requires a pool")
	}
	if weight <= 0 {
		weight = 1
	}
	ttl := time.Duration(float64(m.tierTTL(TierL3)) * weight)
	key := pooledKey(pool, payload.AnalysisType)
	e := &Entry{
		Key:       key,
		Tier:      TierL3,
		Pool:      pool,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "cache entry encoding failed")
	}
	pipe.Set(ctx, m.client.fullKey(key), data, m.redisTTL(ttl))
	return nil
}

func (m *manager) GetBulk(ctx context.Context, ids []uuid.UUID, pools map[uuid.UUID]string, opts GetOptions) (*BulkResult, error) {
	res := &BulkResult{
		Payloads: make(map[uuid.UUID]*common.AnalysisPayload, len(ids)),
		Sources:  make(map[uuid.UUID]Source, len(ids)),
	}
	if len(ids) == 0 {
		return res, nil
	}
	now := m.now()

	// Serve what L1 can before touching the network.
	var remote []uuid.UUID
	for _, id := range ids {
		l1Key := entityKey(TierL1, opts.AnalysisType, id)
		if e, ok := m.local.get(l1Key, now); ok && e.FreshEnough(now, opts.MaxAge) {
			res.Payloads[id] = e.Payload
			res.Sources[id] = SourceL1
			m.recordHit(SourceL1)
			continue
		}
		remote = append(remote, id)
	}

	// Group the rest by pool: one pipelined round-trip per pool covering the
	// per-entity L2 reads plus the pool's shared L3 entry.
	byPool := make(map[string][]uuid.UUID)
	for _, id := range remote {
		byPool[pools[id]] = append(byPool[pools[id]], id)
	}

	for pool, members := range byPool {
		pipe := m.client.Pipeline()
		cmds := make(map[uuid.UUID]*goredis.StringCmd, len(members))
		for _, id := range members {
			cmds[id] = pipe.Get(ctx, m.client.fullKey(entityKey(TierL2, opts.AnalysisType, id)))
		}
		var pooledCmd *goredis.StringCmd
		if opts.AllowPooled && pool != "" {
			pooledCmd = pipe.Get(ctx, m.client.fullKey(pooledKey(pool, opts.AnalysisType)))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "bulk cache read failed")
		}

		pooledEntry := decodeCmd(pooledCmd, m.logger)

		for _, id := range members {
			if e := decodeCmd(cmds[id], m.logger); e != nil && e.FreshEnough(now, opts.MaxAge) {
				m.promote(entityKey(TierL1, opts.AnalysisType, id), e, now)
				res.Payloads[id] = e.Payload
				res.Sources[id] = SourceL2
				m.recordHit(SourceL2)
				continue
			}
			if pooledEntry != nil && pooledEntry.FreshEnough(now, opts.MaxAge) {
				res.Payloads[id] = applyVariance(pooledEntry.Payload, id, m.cfg.VariancePct)
				res.Sources[id] = SourcePooled
				m.recordHit(SourcePooled)
				continue
			}
			res.Misses = append(res.Misses, id)
			m.misses.Add(1)
			m.meter.CacheMiss()
		}
	}

	res.HitRate = float64(len(ids)-len(res.Misses)) / float64(len(ids))
	return res, nil
}

// decodeCmd unwraps one pipelined GET; nil for misses, errors, and corrupt
// payloads.
func decodeCmd(cmd *goredis.StringCmd, log logging.Logger) *Entry {
	if cmd == nil {
		return nil
	}
	data, err := cmd.Bytes()
	if err != nil {
		return nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Warn("corrupt cache entry skipped in bulk read", logging.Err(err))
		return nil
	}
	return &e
}

func (m *manager) SetBulk(ctx context.Context, payloads map[uuid.UUID]*common.AnalysisPayload, pools map[uuid.UUID]string, opts SetOptions) error {
	if len(payloads) == 0 {
		return nil
	}
	now := m.now()
	tier := opts.Tier
	if tier == "" {
		tier = TierL2
	}
	if !tier.Valid() || tier == TierL1 {
		return apperrors.New(apperrors.ErrCodeCacheInvalidTier, "tier is not writable").WithDetail(string(tier))
	}
	pooled := opts.Pooled || tier == TierL3

	// One pipeline per pool. Every member of a pooled write lands on the same
	// shared key, so the pooled entry is written once per pool; non-pooled L2
	// members get their entity entries plus the single co-written donor.
	byPool := make(map[string][]uuid.UUID)
	for id := range payloads {
		byPool[pools[id]] = append(byPool[pools[id]], id)
	}

	for pool, members := range byPool {
		pipe := m.client.Pipeline()
		if !pooled {
			for _, id := range members {
				if err := m.queueEntity(ctx, pipe, id, pool, payloads[id], tier, now); err != nil {
					return err
				}
			}
		}
		if pooled || (tier == TierL2 && pool != "") {
			donor := payloads[members[len(members)-1]]
			if err := m.queuePooled(ctx, pipe, pool, donor, opts.PoolWeight, now); err != nil {
				return err
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.CodeCacheError, "bulk cache write failed")
		}
		m.sets.Add(int64(len(members)))
	}
	return nil
}

func (m *manager) Invalidate(ctx context.Context, opts InvalidateOptions) (int64, error) {
	switch {
	case opts.All:
		m.local.deletePrefix("cache:")
		return m.deleteByScan(ctx, m.client.fullKey("cache:")+"*")

	case len(opts.DealershipIDs) > 0:
		keys := make([]string, 0, 2*len(opts.DealershipIDs))
		for _, id := range opts.DealershipIDs {
			m.local.delete(entityKey(TierL1, opts.AnalysisType, id))
			keys = append(keys,
				entityKey(TierL2, opts.AnalysisType, id),
				entityKey(TierL4, opts.AnalysisType, id),
			)
		}
		return m.delCount(ctx, keys...)

	case opts.Pool != "":
		return m.delCount(ctx, pooledKey(opts.Pool, opts.AnalysisType))

	default:
		return 0, apperrors.InvalidParam("invalidate requires a dealership, pool, or all")
	}
}

func (m *manager) delCount(ctx context.Context, keys ...string) (int64, error) {
	n, err := m.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeCacheError, "cache invalidate failed")
	}
	return n, nil
}

// deleteByScan removes all keys matching a raw pattern in SCAN batches.
func (m *manager) deleteByScan(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, apperrors.Wrap(err, apperrors.CodeCacheError, "cache scan failed")
		}
		if len(keys) > 0 {
			n, err := m.client.Underlying().Del(ctx, keys...).Result()
			if err != nil {
				return deleted, apperrors.Wrap(err, apperrors.CodeCacheError, "cache invalidate failed")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (m *manager) recordHit(src Source) {
	m.hits.Add(1)
	switch src {
	case SourceL1:
		m.byL1.Add(1)
	case SourceL2:
		m.byL2.Add(1)
	case SourcePooled:
		m.byL3.Add(1)
	case SourceFrozen:
		m.byL4.Add(1)
	}
	m.meter.CacheHit(string(src))
}

func (m *manager) Stats(_ context.Context) Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    m.sets.Load(),
		HitRate: rate,
		BySource: map[Source]int64{
			SourceL1:     m.byL1.Load(),
			SourceL2:     m.byL2.Load(),
			SourcePooled: m.byL3.Load(),
			SourceFrozen: m.byL4.Load(),
		},
		L1Entries:   m.local.len(),
		RefreshedAt: m.now(),
	}
}

// FlushStats pushes process-local counter deltas into cluster-wide redis
// counters. Local counters stay cumulative so Stats remains monotonic;
// failures are logged and retried by the next interval.
func (m *manager) FlushStats(ctx context.Context) {
	dHits := m.hits.Load() - m.flushedHits.Load()
	dMisses := m.misses.Load() - m.flushedMisses.Load()
	dSets := m.sets.Load() - m.flushedSets.Load()
	if dHits == 0 && dMisses == 0 && dSets == 0 {
		return
	}

	pipe := m.client.Pipeline()
	pipe.IncrBy(ctx, m.client.fullKey(statsKey("hits")), dHits)
	pipe.IncrBy(ctx, m.client.fullKey(statsKey("misses")), dMisses)
	pipe.IncrBy(ctx, m.client.fullKey(statsKey("sets")), dSets)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("cache stats flush failed", logging.Err(err))
		return
	}
	m.flushedHits.Add(dHits)
	m.flushedMisses.Add(dMisses)
	m.flushedSets.Add(dSets)
}

// Sweep removes expired entries: the L1 map locally, then the redis keyspace
// by scanning envelopes whose logical expiry has passed but whose padded
// redis TTL keeps them alive.
func (m *manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	removed := m.local.sweep(now)

	var cursor uint64
	pattern := m.client.fullKey("cache:") + "*"
	for {
		keys, next, err := m.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return removed, apperrors.Wrap(err, apperrors.CodeCacheError, "sweep scan failed")
		}

		if len(keys) > 0 {
			pipe := m.client.Pipeline()
			cmds := make([]*goredis.StringCmd, len(keys))
			for i, k := range keys {
				cmds[i] = pipe.Get(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
				return removed, apperrors.Wrap(err, apperrors.CodeCacheError, "sweep read failed")
			}

			var expired []string
			for i, cmd := range cmds {
				e := decodeCmd(cmd, m.logger)
				if e == nil {
					continue
				}
				if e.Expired(now) {
					expired = append(expired, keys[i])
				}
			}
			if len(expired) > 0 {
				n, err := m.client.Underlying().Del(ctx, expired...).Result()
				if err != nil {
					return removed, apperrors.Wrap(err, apperrors.CodeCacheError, "sweep delete failed")
				}
				removed += int(n)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if removed > 0 {
		m.meter.SweepDeleted(removed)
	}
	return removed, nil
}
