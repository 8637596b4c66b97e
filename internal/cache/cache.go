// Package cache implements the shared, process-wide market-data cache that
// sits in front of the upstream pool API. Every bot's market.Provider reads
// through this single cache so that N bots watching the same pools cost one
// upstream fetch, not N — the same shared-resource-in-front-of-a-slow-API
// shape as polybot's polymarket.Client, but with an in-memory TTL store and
// singleflight coalescing added on top since this cache is now shared by
// concurrently-running per-bot goroutines instead of one CLI process.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// TTLs per cache class, chosen per the relative volatility of each read:
// the full pool list changes slowly, a single pool's volume/fee numbers
// drift a bit faster, and the active bin can move every trade.
const (
	AllPoolsTTL  = 15 * time.Second
	SinglePoolTTL = 10 * time.Second
	ActiveBinTTL  = 5 * time.Second

	requestSpacing = 500 * time.Millisecond
	maxRetries     = 3
	baseRetryWait  = 250 * time.Millisecond
)

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

func (e entry[T]) fresh(ttl time.Duration) bool {
	return !e.fetchedAt.IsZero() && time.Since(e.fetchedAt) < ttl
}

// Stats exposes coarse hit/miss/stale counters for operator visibility.
type Stats struct {
	Hits        int64
	Misses      int64
	StaleServed int64
	UpstreamErr int64
}

// Cache is the process-wide market-data cache. It is safe for concurrent use
// by every bot engine in the orchestrator.
type Cache struct {
	upstream Upstream
	limiter  *rate.Limiter
	group    singleflight.Group

	mu         sync.RWMutex
	allPools   entry[[]domain.Pool]
	pools      map[string]entry[domain.Pool]
	activeBins map[string]entry[domain.ActiveBin]
	stats      Stats
}

// New builds a Cache fronting the given Upstream. The limiter paces outbound
// upstream calls at roughly one every requestSpacing, matching the
// conservative, under-the-documented-limit pacing polybot applies to the
// Polymarket API.
func New(upstream Upstream) *Cache {
	return &Cache{
		upstream:   upstream,
		limiter:    rate.NewLimiter(rate.Every(requestSpacing), 1),
		pools:      make(map[string]entry[domain.Pool]),
		activeBins: make(map[string]entry[domain.ActiveBin]),
	}
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// AllPools returns every pool reported by the upstream, coalescing
// concurrent callers into a single in-flight fetch and serving the TTL
// cache when fresh. A successful fetch side-populates the single-pool
// cache for every returned pool under the same fetch timestamp, so a
// caller that asks for one of those pools next doesn't trigger its own
// upstream round trip.
func (c *Cache) AllPools(ctx context.Context) ([]domain.Pool, error) {
	c.mu.RLock()
	cur := c.allPools
	c.mu.RUnlock()
	if cur.fresh(AllPoolsTTL) {
		c.recordHit()
		return cur.value, nil
	}
	c.recordMiss()

	v, err, _ := c.group.Do("all_pools", func() (any, error) {
		pools, ferr := fetchWithRetryGeneric(ctx, c, func() ([]domain.Pool, error) {
			return c.upstream.FetchAllPools(ctx)
		})
		if ferr != nil {
			return nil, ferr
		}
		return pools, nil
	})
	if err != nil {
		c.mu.RLock()
		stale := c.allPools
		c.mu.RUnlock()
		if stale.fetchedAt.IsZero() {
			return nil, fmt.Errorf("fetch all pools: %w", err)
		}
		c.recordStale()
		slog.Warn("serving stale all-pools cache after upstream error", "err", err, "age", time.Since(stale.fetchedAt))
		return stale.value, nil
	}

	pools := v.([]domain.Pool)
	now := time.Now()
	c.mu.Lock()
	c.allPools = entry[[]domain.Pool]{value: pools, fetchedAt: now}
	for _, p := range pools {
		c.pools[p.Address] = entry[domain.Pool]{value: p, fetchedAt: now}
	}
	c.mu.Unlock()
	return pools, nil
}

// Pool returns a single pool by address, reading through the same TTL and
// coalescing rules as AllPools.
func (c *Cache) Pool(ctx context.Context, address string) (domain.Pool, error) {
	c.mu.RLock()
	cur, ok := c.pools[address]
	c.mu.RUnlock()
	if ok && cur.fresh(SinglePoolTTL) {
		c.recordHit()
		return cur.value, nil
	}
	c.recordMiss()

	key := "pool:" + address
	v, err, _ := c.group.Do(key, func() (any, error) {
		return fetchWithRetryGeneric(ctx, c, func() (domain.Pool, error) {
			return c.upstream.FetchPool(ctx, address)
		})
	})
	if err != nil {
		c.mu.RLock()
		stale, ok := c.pools[address]
		c.mu.RUnlock()
		if !ok || stale.fetchedAt.IsZero() {
			return domain.Pool{}, fmt.Errorf("fetch pool %s: %w", address, err)
		}
		c.recordStale()
		slog.Warn("serving stale pool cache after upstream error", "pool", address, "err", err, "age", time.Since(stale.fetchedAt))
		return stale.value, nil
	}

	pool := v.(domain.Pool)
	c.mu.Lock()
	c.pools[address] = entry[domain.Pool]{value: pool, fetchedAt: time.Now()}
	c.mu.Unlock()
	return pool, nil
}

// PutActiveBin stores an externally-derived (e.g. on-chain or synthetic)
// active-bin reading, used by market.Provider to populate this cache after
// a cache miss it resolved itself.
func (c *Cache) PutActiveBin(address string, bin domain.ActiveBin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeBins[address] = entry[domain.ActiveBin]{value: bin, fetchedAt: time.Now()}
}

// ActiveBin returns a cached active-bin reading if fresh, reporting a miss
// otherwise so the caller can resolve it (on-chain read or synthetic
// estimate) and store it back with PutActiveBin.
func (c *Cache) ActiveBin(address string) (domain.ActiveBin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.activeBins[address]
	if !ok || !e.fresh(ActiveBinTTL) {
		return domain.ActiveBin{}, false
	}
	return e.value, true
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *Cache) recordStale() {
	c.mu.Lock()
	c.stats.StaleServed++
	c.mu.Unlock()
}

// fetchWithRetryGeneric rate-limits and retries an upstream call with linear
// backoff, the same bounded-retry shape as polybot's doWithRetry but
// linear rather than exponential since the cache already rate-limits the
// outbound pace and a tight retry budget keeps a single slow pool from
// blocking a whole scan cycle.
func fetchWithRetryGeneric[T any](ctx context.Context, c *Cache, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter: %w", err)
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		c.mu.Lock()
		c.stats.UpstreamErr++
		c.mu.Unlock()
		if attempt == maxRetries {
			break
		}
		wait := time.Duration(attempt+1) * baseRetryWait
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}
