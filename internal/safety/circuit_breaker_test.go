package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

func TestCircuitBreaker_ExposureInvariant(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerLimits{MaxOpenPositions: 10, CooldownMs: 0})
	cb.RecordOpen("pool-a", 1.0)
	cb.RecordOpen("pool-b", 2.0)
	cb.RecordClose("pool-a", 1.0)

	assert.InDelta(t, 2.0, cb.Exposure(), 1e-9)
	assert.Equal(t, 1, cb.TotalPositions())
}

func TestCircuitBreaker_ExposureClampedAtZero(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerLimits{})
	cb.RecordClose("pool-a", 5.0)
	assert.Equal(t, 0.0, cb.Exposure())
}

func TestCircuitBreaker_PerPoolCapDenies(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerLimits{MaxPositionsPerPool: 1, CooldownMs: 0})
	cb.RecordOpen("pool-a", 1.0)

	d := cb.CanOpen("pool-a", 1.0)
	assert.False(t, d.Allowed)
}

func TestCircuitBreaker_SyncWithReconstructsExposure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerLimits{})
	positions := []domain.TrackedPosition{
		{Status: domain.PositionActive, PoolAddress: "pool-a", EntryAmountY: 2_000_000_000},
		{Status: domain.PositionClosed, PoolAddress: "pool-b", EntryAmountY: 1_000_000_000},
	}
	cb.SyncWith(positions)

	assert.Equal(t, 1, cb.TotalPositions())
	assert.InDelta(t, 2.0, cb.Exposure(), 1e-9)
}

func TestCircuitBreaker_CooldownDeniesImmediateRetrade(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerLimits{CooldownMs: 60000})
	cb.RecordOpen("pool-a", 1.0)

	d := cb.CanOpen("pool-b", 1.0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "cooldown")
}
