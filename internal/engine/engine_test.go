package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/executor"
	"github.com/voltaforge/dlmmbot/internal/market"
	"github.com/voltaforge/dlmmbot/internal/predictor"
	"github.com/voltaforge/dlmmbot/internal/safety"
)

type fakeUpstream struct {
	mu    sync.Mutex
	pools []domain.Pool
}

func (f *fakeUpstream) FetchAllPools(ctx context.Context) ([]domain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Pool, len(f.pools))
	copy(out, f.pools)
	return out, nil
}

func (f *fakeUpstream) FetchPool(ctx context.Context, address string) (domain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pools {
		if p.Address == address {
			return p, nil
		}
	}
	return domain.Pool{}, errors.New("not found")
}

type fakeChain struct {
	mu     sync.Mutex
	prices map[string][]float64 // pool address -> successive prices served on each call
	calls  map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{prices: make(map[string][]float64), calls: make(map[string]int)}
}

func (f *fakeChain) ActiveBin(ctx context.Context, poolAddress string) (domain.ActiveBin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.prices[poolAddress]
	idx := f.calls[poolAddress]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	f.calls[poolAddress]++
	price := seq[idx]
	return domain.ActiveBin{BinID: market.SyntheticBinID(price, 20), Price: price}, nil
}

func eligiblePool(address string) domain.Pool {
	return domain.Pool{
		Address: address, Name: "SOL/USDC", MintX: "So11111111111111111111111111111111111111112", MintY: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		BinStep: 20, CurrentPrice: 1.0,
		Liquidity: 200_000, Volume24h: 500_000, Volume1h: 50_000, Fees24h: 2_000, APR: 80,
	}
}

func newHarness(t *testing.T, pool domain.Pool, priceSeq []float64, cfg domain.BotConfig) (*Engine, executor.Executor, *safety.EmergencyStop, *safety.CircuitBreaker, chan domain.BotEvent, *cache.Cache) {
	t.Helper()
	upstream := &fakeUpstream{pools: []domain.Pool{pool}}
	c := cache.New(upstream)
	chain := newFakeChain()
	chain.prices[pool.Address] = priceSeq
	prov := market.NewProvider(c, chain)

	stop := safety.New(safety.Limits{MaxDailyLossSOL: cfg.Risk.MaxDailyLossSOL})
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{})
	exec := executor.NewSimulationExecutor(10_000_000_000)

	events := make(chan domain.BotEvent, 64)
	eng := New(Config{
		BotConfig: cfg, Market: prov, Executor: exec, EmergencyStop: stop, CircuitBreaker: breaker,
		OnEvent: func(ev domain.BotEvent) { events <- ev },
		MaxConcurrentPositions: 5,
	})
	return eng, exec, stop, breaker, events, c
}

func baseConfig() domain.BotConfig {
	return domain.BotConfig{
		BotID: "bot-1", UserID: "user-1", Mode: domain.ModeSimulation, StrategyMode: domain.StrategyRuleBased,
		EntryScoreThreshold: 0, MinPositionSOL: 0.01, MaxPositionSOL: 2, PositionSizeSOL: 1,
		DefaultBinRange: 10,
		Risk: domain.RiskParams{
			ProfitTargetPct: 5, StopLossPct: 10, MaxHoldMinutes: 60, CooldownMinutes: 15, MaxDailyLossSOL: 1,
		},
		ScanIntervalSeconds: 60, PositionCheckIntervalSeconds: 10,
	}
}

func drainUntil(t *testing.T, events chan domain.BotEvent, kind domain.EventKind, timeout time.Duration) domain.BotEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func TestScenarioS1_SimulationHappyPath_TakesProfit(t *testing.T) {
	pool := eligiblePool("pool-1")
	cfg := baseConfig()
	eng, exec, _, _, events, c := newHarness(t, pool, []float64{1.0, 1.06}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	drainUntil(t, events, domain.EventPositionOpened, 2*time.Second)

	active := exec.ActivePositions()
	require.Len(t, active, 1)
	c.PutActiveBin(pool.Address, domain.ActiveBin{BinID: market.SyntheticBinID(1.06, pool.BinStep), Price: 1.06})

	eng.checkPositions(ctx)
	closedEv := drainUntil(t, events, domain.EventPositionClosed, 2*time.Second)
	payload := closedEv.Payload.(domain.PositionClosedPayload)
	assert.Equal(t, domain.ExitTakeProfit, payload.Position.ExitReason)
	assert.True(t, payload.IsWin)
	assert.Greater(t, payload.Position.RealizedPnlLamports, int64(0))

	perf := exec.PerformanceSummary()
	assert.Equal(t, 1, perf.Total)
	assert.Equal(t, 1, perf.Wins)
}

func TestScenarioS2_StopLossPath_RecordsConsecutiveLoss(t *testing.T) {
	pool := eligiblePool("pool-1")
	cfg := baseConfig()
	eng, exec, stop, _, events, c := newHarness(t, pool, []float64{1.0, 0.88}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	drainUntil(t, events, domain.EventPositionOpened, 2*time.Second)
	active := exec.ActivePositions()
	require.Len(t, active, 1)
	c.PutActiveBin(pool.Address, domain.ActiveBin{BinID: market.SyntheticBinID(0.88, pool.BinStep), Price: 0.88})

	eng.checkPositions(ctx)
	closedEv := drainUntil(t, events, domain.EventPositionClosed, 2*time.Second)
	payload := closedEv.Payload.(domain.PositionClosedPayload)
	assert.Equal(t, domain.ExitStopLoss, payload.Position.ExitReason)
	assert.False(t, payload.IsWin)
	assert.Less(t, payload.Position.RealizedPnlLamports, int64(0))

	// consecutive losses is private to EmergencyStop; read it back through
	// its serialised snapshot.
	blob, err := stop.Serialise()
	require.NoError(t, err)
	var snap safety.Snapshot
	require.NoError(t, json.Unmarshal(blob, &snap))
	assert.Equal(t, 1, snap.ConsecutiveLosses)
}

func TestScenarioS3_EmergencyHaltOnDailyLoss(t *testing.T) {
	stop := safety.New(safety.Limits{MaxDailyLossSOL: 1})
	stop.RecordTradeResult(-0.6)
	stop.RecordTradeResult(-0.5)

	d := stop.CanTrade()
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Daily loss")
}

func TestScenarioS6_HybridFallback_UsesRuleBasedTopWithNoProbability(t *testing.T) {
	pool := eligiblePool("pool-1")
	cfg := baseConfig()
	cfg.StrategyMode = domain.StrategyHybrid

	eng, _, _, _, _, _ := newHarness(t, pool, []float64{1.0, 1.0}, cfg)
	eng.pred = predictor.New("", "") // empty base URL fails fast -> fallback

	cands := eng.scoreHybrid(context.Background(), []domain.Pool{pool})
	require.Len(t, cands, 1)
	assert.Nil(t, cands[0].mlProbability)
}

func TestSizePosition_ClampsToBalanceReserve(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionSizeSOL = 5
	cfg.MaxPositionSOL = 10
	eng, _, _, _, _, _ := newHarness(t, eligiblePool("pool-1"), []float64{1.0}, cfg)

	size := eng.sizePosition(100_000_000) // 0.1 SOL balance minus the 0.03 SOL reserve leaves 0.07 SOL
	assert.Equal(t, int64(70_000_000), size)
}

func TestSizePosition_UsesPercentWhenSet(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionSizeSOL = 0
	cfg.PositionSizePercent = 10
	cfg.MaxPositionSOL = 100
	eng, _, _, _, _, _ := newHarness(t, eligiblePool("pool-1"), []float64{1.0}, cfg)

	size := eng.sizePosition(10_000_000_000) // 10 SOL balance -> 10% = 1 SOL
	assert.InDelta(t, 1_000_000_000, size, 1_000)
}

func TestExitDecision_OrdersTakeProfitBeforeStopLoss(t *testing.T) {
	pos := domain.TrackedPosition{
		EntryPricePerToken: 1.0, CurrentPricePerToken: 1.10,
		Risk: domain.RiskSnapshot{ProfitTargetPct: 5, StopLossPct: 50},
	}
	reason, exit := exitDecision(pos)
	assert.True(t, exit)
	assert.Equal(t, domain.ExitTakeProfit, reason)
}

func TestExitDecision_TrailingStopFiresAfterPullbackFromHighWaterMark(t *testing.T) {
	pos := domain.TrackedPosition{
		EntryPricePerToken: 1.0, CurrentPricePerToken: 1.03,
		Risk: domain.RiskSnapshot{
			ProfitTargetPct: 20, StopLossPct: 50,
			TrailingStopEnabled: true, TrailingStopPct: 4, HighWaterMarkPct: 8,
		},
	}
	reason, exit := exitDecision(pos)
	assert.True(t, exit)
	assert.Equal(t, domain.ExitTrailingStop, reason)
}

func TestFilterCandidates_ExcludesHeldAndCooledDownPools(t *testing.T) {
	cfg := baseConfig()
	eng, _, _, _, _, _ := newHarness(t, eligiblePool("pool-1"), []float64{1.0}, cfg)
	eng.cooldowns["pool-cold"] = time.Now()

	pools := []domain.Pool{{Address: "pool-held"}, {Address: "pool-cold"}, {Address: "pool-ok"}}
	active := []domain.TrackedPosition{{PoolAddress: "pool-held"}}

	out := eng.filterCandidates(pools, active)
	require.Len(t, out, 1)
	assert.Equal(t, "pool-ok", out[0].Address)
}
