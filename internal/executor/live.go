package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/safety"
)

// ChainClientPort is the narrow on-chain capability LiveExecutor depends
// on, implemented by whatever concrete on-chain adapter is wired in by
// cmd/server at startup. It is an abstract port — no concrete Solana/DLMM
// SDK is wired in here, mirroring how polybot keeps the CLOB and merge
// adapters behind ports.OrderExecutor/ports.MergeExecutor rather than
// importing an exchange SDK into the engine itself.
type ChainClientPort interface {
	WalletBalance(ctx context.Context) (int64, error)
	CreatePosition(ctx context.Context, req CreatePositionRequest) (CreatePositionResult, error)
	ClosePosition(ctx context.Context, req ClosePositionRequest) (ClosePositionResult, error)
	OnChainFees(ctx context.Context, positionAddress string) (feesX, feesY int64, err error)
}

// SwapAggregatorPort is the abstract route-and-swap capability used to
// convert leftover non-SOL token balance back to SOL after a close.
type SwapAggregatorPort interface {
	SwapToSOL(ctx context.Context, mint string, amount int64) (signature string, err error)
}

// CreatePositionRequest describes a requested liquidity deposit.
type CreatePositionRequest struct {
	PoolAddress string
	ActiveBin   int
	BinRange    int
	AmountX     int64
	AmountY     int64
}

// CreatePositionResult is returned by a successful on-chain open.
type CreatePositionResult struct {
	PositionAddress string
	Signature       string
	FeeLamports     int64
}

// ClosePositionRequest describes a requested liquidity withdrawal.
type ClosePositionRequest struct {
	PositionAddress string
	PriorFeesX      int64
	PriorFeesY      int64
}

// ClosePositionResult is returned by a successful on-chain close. Signatures
// is plural: a close may require several sub-transactions, each separately
// priced and fee-tracked.
type ClosePositionResult struct {
	Signatures       []string
	FeesX            int64
	FeesY            int64
	TotalFeeLamports int64
	RemainingMintX   string
	RemainingAmountX int64
}

const (
	rentReserveLamports = 30_000_000 // 0.03 SOL, mirrors the engine's entry sizing reserve
	minPositionLamports = 10_000_000 // 0.01 SOL floor below which an adjusted size is refused
	dustThresholdLamports = 1000
)

// LiveExecutor trades real funds on chain. Every Open performs the
// emergency-stop -> circuit-breaker -> wallet-funded gate sequence before
// touching the network.
type LiveExecutor struct {
	mu sync.Mutex

	chain ChainClientPort
	swaps SwapAggregatorPort

	stop     *safety.EmergencyStop
	breaker  *safety.CircuitBreaker

	positions map[string]*domain.TrackedPosition
	addresses map[string]string // position id -> on-chain position address
	perf      PerformanceSummary
}

// NewLiveExecutor wires the on-chain and swap ports plus this bot's safety
// objects. Both stop and breaker are supplied by the engine/orchestrator
// that owns this executor's lifetime.
func NewLiveExecutor(chain ChainClientPort, swaps SwapAggregatorPort, stop *safety.EmergencyStop, breaker *safety.CircuitBreaker) *LiveExecutor {
	return &LiveExecutor{
		chain:     chain,
		swaps:     swaps,
		stop:      stop,
		breaker:   breaker,
		positions: make(map[string]*domain.TrackedPosition),
		addresses: make(map[string]string),
	}
}

// Open implements Executor.
func (l *LiveExecutor) Open(ctx context.Context, pool domain.Pool, strategy Strategy, amountX, amountY int64) (OpenResult, error) {
	if d := l.stop.CanTrade(); !d.Allowed {
		return OpenResult{}, fmt.Errorf("emergency stop: %s", d.Reason)
	}
	requestedTotal := amountX + amountY
	requestedSOL := float64(requestedTotal) / 1e9
	if d := l.breaker.CanOpen(pool.Address, requestedSOL); !d.Allowed {
		return OpenResult{}, fmt.Errorf("circuit breaker: %s", d.Reason)
	}

	balance, err := l.chain.WalletBalance(ctx)
	if err != nil {
		return OpenResult{}, fmt.Errorf("wallet balance: %w", err)
	}

	amountX, amountY, err = adjustForBalance(balance, amountX, amountY)
	if err != nil {
		return OpenResult{}, err
	}

	res, err := l.chain.CreatePosition(ctx, CreatePositionRequest{
		PoolAddress: pool.Address,
		ActiveBin:   strategy.ActiveBin.BinID,
		BinRange:    strategy.BinRange,
		AmountX:     amountX,
		AmountY:     amountY,
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("create position: %w", err)
	}

	id := uuid.NewString()
	pos := &domain.TrackedPosition{
		ID:                  id,
		Mode:                domain.ModeLive,
		Status:              domain.PositionActive,
		PoolAddress:         pool.Address,
		PoolName:            pool.Name,
		MintX:               pool.MintX,
		MintY:               pool.MintY,
		BinStep:             pool.BinStep,
		EntryActiveBin:      strategy.ActiveBin.BinID,
		EntryPricePerToken:  strategy.ActiveBin.Price,
		EntryTimestamp:      time.Now(),
		EntryAmountX:        amountX,
		EntryAmountY:        amountY,
		EntryTxSignature:    res.Signature,
		EntryTxCostLamports: res.FeeLamports,
		EntryScore:          strategy.Score,
		EntryMLProbability:  strategy.MLProbability,
		EntryFeatures:       strategy.Features,
		Risk:                strategy.Risk,
		CurrentPricePerToken: strategy.ActiveBin.Price,
	}

	l.mu.Lock()
	l.positions[id] = pos
	l.addresses[id] = res.PositionAddress
	l.mu.Unlock()

	return OpenResult{ID: id, Signature: res.Signature}, nil
}

// adjustForBalance scales the requested amounts down to fit within the
// wallet balance minus the rent reserve, preserving the X:Y ratio. It
// refuses if the adjusted total would fall below the minimum position size.
func adjustForBalance(balanceLamports, amountX, amountY int64) (int64, int64, error) {
	requested := amountX + amountY
	available := balanceLamports - rentReserveLamports
	if available >= requested {
		return amountX, amountY, nil
	}
	if available < minPositionLamports {
		return 0, 0, fmt.Errorf("%w: available %d below minimum %d", ErrInsufficientBalance, available, minPositionLamports)
	}
	ratio := float64(available) / float64(requested)
	adjX := int64(float64(amountX) * ratio)
	adjY := int64(float64(amountY) * ratio)
	if adjX+adjY < minPositionLamports {
		return 0, 0, fmt.Errorf("%w: adjusted total %d below minimum %d", ErrInsufficientBalance, adjX+adjY, minPositionLamports)
	}
	return adjX, adjY, nil
}

// Update implements Executor: refreshes current price externally via
// UpdatePrice (called by the engine after reading the active bin), and here
// also snapshots on-chain fees, taking the maximum of the prior value and
// the freshly-read one since fees may only grow.
func (l *LiveExecutor) Update(ctx context.Context, id string) (*domain.TrackedPosition, error) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	addr := l.addresses[id]
	l.mu.Unlock()
	if !ok {
		return nil, ErrPositionNotFound
	}

	feesX, feesY, err := l.chain.OnChainFees(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("on-chain fees: %w", err)
	}

	l.mu.Lock()
	if feesX > pos.CurrentFeesX {
		pos.CurrentFeesX = feesX
	}
	if feesY > pos.CurrentFeesY {
		pos.CurrentFeesY = feesY
	}
	pnlPct := pos.PnLPercent()
	if pnlPct > pos.Risk.HighWaterMarkPct {
		pos.Risk.HighWaterMarkPct = pnlPct
	}
	l.mu.Unlock()
	return pos, nil
}

// UpdatePrice sets the current price read from the market-data provider's
// active-bin resolution, ahead of the fee-refresh Update performs.
func (l *LiveExecutor) UpdatePrice(id string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[id]; ok {
		pos.CurrentPricePerToken = price
	}
}

// Close implements Executor.
func (l *LiveExecutor) Close(ctx context.Context, id string, reason string) (CloseResult, error) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	addr := l.addresses[id]
	l.mu.Unlock()
	if !ok {
		return CloseResult{}, ErrPositionNotFound
	}

	res, err := l.chain.ClosePosition(ctx, ClosePositionRequest{
		PositionAddress: addr,
		PriorFeesX:      pos.CurrentFeesX,
		PriorFeesY:      pos.CurrentFeesY,
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("close position: %w", err)
	}

	entryValue := float64(pos.EntryAmountX + pos.EntryAmountY)
	var priceDelta float64
	if pos.EntryPricePerToken != 0 {
		priceDelta = (pos.CurrentPricePerToken - pos.EntryPricePerToken) / pos.EntryPricePerToken
	}
	feesX, feesY := res.FeesX, res.FeesY
	if pos.CurrentFeesX > feesX {
		feesX = pos.CurrentFeesX
	}
	if pos.CurrentFeesY > feesY {
		feesY = pos.CurrentFeesY
	}
	feesSOL := float64(feesX+feesY) / 1e9
	totalTxCostSOL := float64(pos.EntryTxCostLamports+res.TotalFeeLamports) / 1e9
	pnlSOL := entryValue/1e9*priceDelta + feesSOL - totalTxCostSOL
	pnlLamports := int64(pnlSOL * 1e9)

	l.mu.Lock()
	pos.Status = domain.PositionClosed
	pos.ExitPricePerToken = pos.CurrentPricePerToken
	pos.ExitTimestamp = time.Now()
	if len(res.Signatures) > 0 {
		pos.ExitTxSignature = res.Signatures[len(res.Signatures)-1]
	}
	pos.ExitReason = reason
	pos.RealizedPnlLamports = pnlLamports
	pos.ExitTxCostLamports = res.TotalFeeLamports
	l.perf.Total++
	if pnlLamports > 0 {
		l.perf.Wins++
	} else {
		l.perf.Losses++
	}
	l.perf.CumulativePnL += pnlLamports
	l.mu.Unlock()

	if res.RemainingAmountX > dustThresholdLamports && res.RemainingMintX != "" {
		go l.swapLeftover(res.RemainingMintX, res.RemainingAmountX)
	}

	return CloseResult{
		Signature:     pos.ExitTxSignature,
		RealisedPnL:   pnlLamports,
		FeesXLamports: feesX,
		FeesYLamports: feesY,
	}, nil
}

// swapLeftover asynchronously converts a non-SOL remainder back to SOL.
// Failures are logged and otherwise non-fatal — the position has already
// closed successfully regardless of outcome here.
func (l *LiveExecutor) swapLeftover(mint string, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sig, err := l.swaps.SwapToSOL(ctx, mint, amount)
	if err != nil {
		slog.Warn("leftover token swap failed", "mint", mint, "amount", amount, "err", err)
		return
	}
	slog.Info("swapped leftover token balance to SOL", "mint", mint, "amount", amount, "signature", sig)
}

// ActivePositions implements Executor.
func (l *LiveExecutor) ActivePositions() []domain.TrackedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TrackedPosition, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == domain.PositionActive {
			out = append(out, *p)
		}
	}
	return out
}

// Balance implements Executor.
func (l *LiveExecutor) Balance(ctx context.Context) (int64, error) {
	return l.chain.WalletBalance(ctx)
}

// PerformanceSummary implements Executor.
func (l *LiveExecutor) PerformanceSummary() PerformanceSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.perf
	if p.Total > 0 {
		p.WinRate = float64(p.Wins) / float64(p.Total)
	}
	return p
}
