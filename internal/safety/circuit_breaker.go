package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// CircuitBreakerLimits bounds the per-bot throttle. Exposure and size
// figures are in SOL.
type CircuitBreakerLimits struct {
	MaxOpenPositions     int
	MaxPositionsPerPool   int
	MaxSinglePositionSOL float64
	MaxTotalExposureSOL  float64
	MaxTxPerMinute       int
	CooldownMs           int64
}

func (l CircuitBreakerLimits) withDefaults() CircuitBreakerLimits {
	if l.MaxOpenPositions <= 0 {
		l.MaxOpenPositions = 10
	}
	if l.MaxPositionsPerPool <= 0 {
		l.MaxPositionsPerPool = 1
	}
	if l.MaxTxPerMinute <= 0 {
		l.MaxTxPerMinute = 20
	}
	if l.CooldownMs <= 0 {
		l.CooldownMs = 2000
	}
	return l
}

// CircuitBreaker is a per-bot, transient throttle over position count,
// exposure, and trade rate. It is reconstructed from active positions on
// engine start — it never survives a restart on its own.
type CircuitBreaker struct {
	mu sync.Mutex

	limits CircuitBreakerLimits

	totalPositions int
	perPool        map[string]int
	exposureSOL    float64
	lastTradeAt    time.Time
	txTimestamps   []time.Time
}

// NewCircuitBreaker builds an empty CircuitBreaker.
func NewCircuitBreaker(limits CircuitBreakerLimits) *CircuitBreaker {
	return &CircuitBreaker{
		limits:  limits.withDefaults(),
		perPool: make(map[string]int),
	}
}

// CanOpen evaluates the gate conditions in the mandated order.
func (c *CircuitBreaker) CanOpen(poolAddress string, amountSOL float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalPositions >= c.limits.MaxOpenPositions {
		return deny("max open positions reached")
	}
	if c.perPool[poolAddress] >= c.limits.MaxPositionsPerPool {
		return deny("max positions per pool reached")
	}
	if c.limits.MaxSinglePositionSOL > 0 && amountSOL > c.limits.MaxSinglePositionSOL {
		return deny("position exceeds single-position cap")
	}
	if c.limits.MaxTotalExposureSOL > 0 && c.exposureSOL+amountSOL > c.limits.MaxTotalExposureSOL {
		return deny("position exceeds total exposure cap")
	}
	if c.countRecentTx() >= c.limits.MaxTxPerMinute {
		return deny("tx rate limit reached")
	}
	if !c.lastTradeAt.IsZero() {
		sinceLast := time.Since(c.lastTradeAt)
		if sinceLast < time.Duration(c.limits.CooldownMs)*time.Millisecond {
			return deny(fmt.Sprintf("trade cooldown active (%.0fms remaining)",
				float64(c.limits.CooldownMs)-float64(sinceLast.Milliseconds())))
		}
	}
	return allow()
}

// CanMakeAPICall reports whether the trade-rate window has room. It reads
// the same tx timestamps and MaxTxPerMinute limit as CanOpen's rate gate;
// it keeps no API-call count of its own and records nothing.
func (c *CircuitBreaker) CanMakeAPICall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countRecentTx() < c.limits.MaxTxPerMinute
}

func (c *CircuitBreaker) countRecentTx() int {
	cutoff := time.Now().Add(-time.Minute)
	n := 0
	for _, t := range c.txTimestamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// RecordOpen updates exposure, per-pool counts, and the trade-rate window
// after a successful open.
func (c *CircuitBreaker) RecordOpen(poolAddress string, amountSOL float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPositions++
	c.perPool[poolAddress]++
	c.exposureSOL += amountSOL
	now := time.Now()
	c.lastTradeAt = now
	c.txTimestamps = append(pruneTxWindow(c.txTimestamps), now)
}

// RecordClose releases exposure and per-pool counts after a close.
// Exposure is clamped at zero to tolerate amount mismatches between what
// was recorded at open and what the executor reports at close.
func (c *CircuitBreaker) RecordClose(poolAddress string, entryAmountSOL float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalPositions > 0 {
		c.totalPositions--
	}
	if c.perPool[poolAddress] > 0 {
		c.perPool[poolAddress]--
	}
	c.exposureSOL -= entryAmountSOL
	if c.exposureSOL < 0 {
		c.exposureSOL = 0
	}
}

func pruneTxWindow(ts []time.Time) []time.Time {
	cutoff := time.Now().Add(-time.Minute)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// SyncWith rebuilds total/per-pool/exposure state from an authoritative
// list of currently-active positions, used on engine start/recovery.
func (c *CircuitBreaker) SyncWith(positions []domain.TrackedPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPositions = 0
	c.perPool = make(map[string]int)
	c.exposureSOL = 0
	for _, p := range positions {
		if p.Status != domain.PositionActive {
			continue
		}
		c.totalPositions++
		c.perPool[p.PoolAddress]++
		c.exposureSOL += float64(p.EntryAmountY) / 1e9
	}
}

// Exposure returns the current tracked exposure in SOL.
func (c *CircuitBreaker) Exposure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposureSOL
}

// TotalPositions returns the current tracked open-position count.
func (c *CircuitBreaker) TotalPositions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPositions
}
