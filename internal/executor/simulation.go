package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

const (
	simulationTxFeeLamports   = 5000 // nominal network fee, matches Solana's base signature fee
	simulationHourlyFeeBps    = 10   // 0.1%/hour of entry value, linear accrual
)

// SimulationExecutor tracks a virtual balance and synthesises P&L from
// price movement plus a time-based fee estimate. All of its failure modes
// are non-financial: a bad request just returns an error, nothing ever
// partially applies to the virtual balance.
type SimulationExecutor struct {
	mu          sync.Mutex
	balance     int64
	positions   map[string]*domain.TrackedPosition
	perf        PerformanceSummary
}

// NewSimulationExecutor seeds a virtual balance in lamports.
func NewSimulationExecutor(initialBalanceLamports int64) *SimulationExecutor {
	return &SimulationExecutor{
		balance:   initialBalanceLamports,
		positions: make(map[string]*domain.TrackedPosition),
	}
}

// Open implements Executor.
func (s *SimulationExecutor) Open(ctx context.Context, pool domain.Pool, strategy Strategy, amountX, amountY int64) (OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := amountX + amountY + simulationTxFeeLamports
	if total > s.balance {
		return OpenResult{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, total, s.balance)
	}
	s.balance -= total

	id := uuid.NewString()
	pos := &domain.TrackedPosition{
		ID:                 id,
		Mode:               domain.ModeSimulation,
		Status:             domain.PositionActive,
		PoolAddress:        pool.Address,
		PoolName:           pool.Name,
		MintX:              pool.MintX,
		MintY:              pool.MintY,
		BinStep:            pool.BinStep,
		EntryActiveBin:     strategy.ActiveBin.BinID,
		EntryPricePerToken: strategy.ActiveBin.Price,
		EntryTimestamp:     time.Now(),
		EntryAmountX:       amountX,
		EntryAmountY:       amountY,
		EntryTxSignature:   "SIM-" + id,
		EntryTxCostLamports: simulationTxFeeLamports,
		EntryScore:          strategy.Score,
		EntryMLProbability:  strategy.MLProbability,
		EntryFeatures:       strategy.Features,
		Risk:                strategy.Risk,
		CurrentPricePerToken: strategy.ActiveBin.Price,
	}
	s.positions[id] = pos
	return OpenResult{ID: id, Signature: pos.EntryTxSignature}, nil
}

// UpdatePrice implements Executor: refreshes the current price from the
// given reading, and accrues a linear hourly fee estimate against the
// entry value. A no-op for unknown ids.
func (s *SimulationExecutor) UpdatePrice(id string, currentPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return
	}
	pos.CurrentPricePerToken = currentPrice

	entryValue := float64(pos.EntryAmountX + pos.EntryAmountY)
	hoursOpen := time.Since(pos.EntryTimestamp).Hours()
	accruedFee := entryValue * float64(simulationHourlyFeeBps) / 10000 * hoursOpen
	split := accruedFee / 2
	pos.CurrentFeesX = int64(split)
	pos.CurrentFeesY = int64(split)

	pnlPct := pos.PnLPercent()
	if pnlPct > pos.Risk.HighWaterMarkPct {
		pos.Risk.HighWaterMarkPct = pnlPct
	}
}

// Update implements Executor. The simulation executor has no external price
// feed of its own; engines call UpdatePrice with a cache-resolved active bin
// before relying on Update for bookkeeping.
func (s *SimulationExecutor) Update(ctx context.Context, id string) (*domain.TrackedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// Close implements Executor: computes P&L from price change plus accrued
// fees, credits the virtual balance, and sets terminal fields.
func (s *SimulationExecutor) Close(ctx context.Context, id string, reason string) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return CloseResult{}, ErrPositionNotFound
	}

	entryValue := float64(pos.EntryAmountX + pos.EntryAmountY)
	var priceDelta float64
	if pos.EntryPricePerToken != 0 {
		priceDelta = (pos.CurrentPricePerToken - pos.EntryPricePerToken) / pos.EntryPricePerToken
	}
	pnl := entryValue*priceDelta + float64(pos.CurrentFeesX+pos.CurrentFeesY) - simulationTxFeeLamports

	pos.Status = domain.PositionClosed
	pos.ExitPricePerToken = pos.CurrentPricePerToken
	pos.ExitTimestamp = time.Now()
	pos.ExitTxSignature = "SIM-CLOSE-" + id
	pos.ExitReason = reason
	pos.RealizedPnlLamports = int64(pnl)
	pos.ExitTxCostLamports = simulationTxFeeLamports

	s.balance += int64(entryValue) + int64(pnl)
	s.perf.Total++
	if pnl > 0 {
		s.perf.Wins++
	} else {
		s.perf.Losses++
	}
	s.perf.CumulativePnL += pos.RealizedPnlLamports

	return CloseResult{
		Signature:     pos.ExitTxSignature,
		RealisedPnL:   pos.RealizedPnlLamports,
		FeesXLamports: pos.CurrentFeesX,
		FeesYLamports: pos.CurrentFeesY,
	}, nil
}

// ActivePositions implements Executor.
func (s *SimulationExecutor) ActivePositions() []domain.TrackedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedPosition, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == domain.PositionActive {
			out = append(out, *p)
		}
	}
	return out
}

// Balance implements Executor.
func (s *SimulationExecutor) Balance(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// PerformanceSummary implements Executor.
func (s *SimulationExecutor) PerformanceSummary() PerformanceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.perf
	if p.Total > 0 {
		p.WinRate = float64(p.Wins) / float64(p.Total)
	}
	p.BalanceLamports = s.balance
	return p
}
