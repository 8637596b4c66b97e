// Package engine is the per-bot scheduler and scan/entry/exit state
// machine. It owns three self-rescheduling timers (scan, position-check,
// checkpoint) and emits domain.BotEvent values through a caller-supplied
// callback, the same periodic-task-plus-event-callback shape as polybot's
// runner.Runner generalised from a single cron strategy to a three-timer
// per-bot lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/executor"
	"github.com/voltaforge/dlmmbot/internal/market"
	"github.com/voltaforge/dlmmbot/internal/predictor"
	"github.com/voltaforge/dlmmbot/internal/safety"
)

const (
	checkpointInterval  = 30 * time.Second
	interEntrySleep     = 500 * time.Millisecond
	entryReserveLamports = 30_000_000 // 0.03 SOL
	lamportsPerSOL       = 1_000_000_000
)

// EventFunc receives every domain.BotEvent this engine produces.
type EventFunc func(domain.BotEvent)

// Engine runs the scan/position-check/checkpoint loop for exactly one bot.
type Engine struct {
	cfg    domain.BotConfig
	market *market.Provider
	exec   executor.Executor
	stop   *safety.EmergencyStop
	breaker *safety.CircuitBreaker
	pred   *predictor.Client
	onEvent EventFunc

	maxConcurrentPositions int

	scanTicker    *time.Ticker
	checkTicker   *time.Ticker
	checkpointTkr *time.Ticker
	cancel        context.CancelFunc

	isScanning atomic.Bool
	running    atomic.Bool

	mu         sync.Mutex
	cooldowns  map[string]time.Time // pool address -> closed-at
	stats      domain.EngineStats
}

// Config bundles the collaborators an Engine needs at construction time.
// All are owned exclusively by this engine for its lifetime.
type Config struct {
	BotConfig              domain.BotConfig
	Market                 *market.Provider
	Executor               executor.Executor
	EmergencyStop          *safety.EmergencyStop
	CircuitBreaker         *safety.CircuitBreaker
	Predictor              *predictor.Client // nil disables ML/hybrid entirely
	OnEvent                EventFunc
	MaxConcurrentPositions int
}

// New builds an Engine. Call Start to begin its timers.
func New(c Config) *Engine {
	max := c.MaxConcurrentPositions
	if max <= 0 {
		max = 5
	}
	return &Engine{
		cfg:                    c.BotConfig,
		market:                 c.Market,
		exec:                   c.Executor,
		stop:                   c.EmergencyStop,
		breaker:                c.CircuitBreaker,
		pred:                   c.Predictor,
		onEvent:                c.OnEvent,
		maxConcurrentPositions: max,
		cooldowns:              make(map[string]time.Time),
	}
}

// RestoreCooldowns seeds the cooldown map from persisted entries, dropping
// any already outside the configured cooldown window.
func (e *Engine) RestoreCooldowns(entries map[string]time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := time.Duration(e.cfg.Risk.CooldownMinutes) * time.Minute
	now := time.Now()
	for pool, closedAt := range entries {
		if now.Sub(closedAt) < window {
			e.cooldowns[pool] = closedAt
		}
	}
}

// Start begins the three timers. If the executor already reports active
// positions (a warm start after recovery), the circuit-breaker is synced
// first. The initial scan is fire-and-forget.
func (e *Engine) Start(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stats = domain.EngineStats{StartTime: time.Now()}

	if existing := e.exec.ActivePositions(); len(existing) > 0 {
		e.breaker.SyncWith(existing)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.scanTicker = time.NewTicker(e.cfg.ScanInterval())
	e.checkTicker = time.NewTicker(e.cfg.PositionCheckInterval())
	e.checkpointTkr = time.NewTicker(checkpointInterval)

	go e.runScan(runCtx) // fire-and-forget initial scan
	go e.loop(runCtx)

	e.emit(domain.EventEngineStarted, nil)
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.scanTicker.C:
			go e.runScan(ctx)
		case <-e.checkTicker.C:
			e.checkPositions(ctx)
		case <-e.checkpointTkr.C:
			e.checkpoint()
		}
	}
}

// Stop halts all timers, runs one final checkpoint, and emits
// engine:stopped. Idempotent.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	if e.scanTicker != nil {
		e.scanTicker.Stop()
	}
	if e.checkTicker != nil {
		e.checkTicker.Stop()
	}
	if e.checkpointTkr != nil {
		e.checkpointTkr.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.checkpoint()
	e.emit(domain.EventEngineStopped, domain.EngineStoppedPayload{Stats: e.snapshotStats()})
}

// Cooldowns returns a copy of the current per-pool cooldown map for
// persistence by the orchestrator.
func (e *Engine) Cooldowns() map[string]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Time, len(e.cooldowns))
	for k, v := range e.cooldowns {
		out[k] = v
	}
	return out
}

func (e *Engine) snapshotStats() domain.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Stats returns a point-in-time copy of this engine's transient counters,
// exposed for the bot-detail HTTP endpoint.
func (e *Engine) Stats() domain.EngineStats {
	return e.snapshotStats()
}

func (e *Engine) emit(kind domain.EventKind, payload any) {
	if e.onEvent == nil {
		return
	}
	e.onEvent(domain.BotEvent{
		Kind:      kind,
		BotID:     e.cfg.BotID,
		UserID:    e.cfg.UserID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// runScan executes one scan tick, dropping overlapping ticks via the
// isScanning guard (testable property 6).
func (e *Engine) runScan(ctx context.Context) {
	if !e.isScanning.CompareAndSwap(false, true) {
		return
	}
	defer e.isScanning.Store(false)

	if d := e.stop.CanTrade(); !d.Allowed {
		e.emit(domain.EventEngineError, domain.EngineErrorPayload{Reason: d.Reason})
		return
	}

	active := e.exec.ActivePositions()
	if len(active) >= e.maxConcurrentPositions {
		return
	}

	balance, err := e.exec.Balance(ctx)
	if err != nil {
		e.stop.RecordAPIError()
		return
	}
	minPositionLamports := int64(e.cfg.MinPositionSOL * lamportsPerSOL)
	if balance < minPositionLamports {
		return
	}

	pools, err := e.market.ListEligiblePools(ctx, e.cfg)
	if err != nil {
		e.stop.RecordAPIError()
		return
	}

	pools = e.filterCandidates(pools, active)

	candidates := e.scoreCandidates(ctx, pools)

	remaining := e.maxConcurrentPositions - len(active)
	if remaining <= 0 {
		e.mu.Lock()
		e.stats.TotalScans++
		e.mu.Unlock()
		e.emit(domain.EventScanCompleted, domain.ScanCompletedPayload{Eligible: len(candidates)})
		return
	}
	if remaining < len(candidates) {
		candidates = candidates[:remaining]
	}

	entered := 0
	for i, c := range candidates {
		if err := e.enter(ctx, c); err != nil {
			slog.Warn("engine: entry failed", "bot_id", e.cfg.BotID, "pool", c.pool.Address, "err", err)
			continue
		}
		entered++
		if i < len(candidates)-1 {
			time.Sleep(interEntrySleep)
		}
	}

	e.mu.Lock()
	e.stats.TotalScans++
	e.mu.Unlock()
	e.emit(domain.EventScanCompleted, domain.ScanCompletedPayload{Eligible: len(candidates), Entered: entered})
}

func (e *Engine) filterCandidates(pools []domain.Pool, active []domain.TrackedPosition) []domain.Pool {
	heldPools := make(map[string]bool, len(active))
	for _, p := range active {
		heldPools[p.PoolAddress] = true
	}

	e.mu.Lock()
	window := time.Duration(e.cfg.Risk.CooldownMinutes) * time.Minute
	now := time.Now()
	var out []domain.Pool
	for _, p := range pools {
		if heldPools[p.Address] {
			continue
		}
		if closedAt, ok := e.cooldowns[p.Address]; ok && now.Sub(closedAt) < window {
			continue
		}
		out = append(out, p)
	}
	e.mu.Unlock()
	return out
}

// candidate bundles a scored pool and the ML probability that admitted it,
// if any.
type candidate struct {
	pool          domain.Pool
	score         domain.MarketScore
	mlProbability *float64
	features      domain.FeatureVector
}

func (e *Engine) scoreCandidates(ctx context.Context, pools []domain.Pool) []candidate {
	switch e.cfg.StrategyMode {
	case domain.StrategyML:
		if cands, ok := e.scoreML(ctx, pools); ok {
			return cands
		}
		return e.scoreRuleBased(pools)
	case domain.StrategyHybrid:
		return e.scoreHybrid(ctx, pools)
	default:
		return e.scoreRuleBased(pools)
	}
}

func (e *Engine) scoreRuleBased(pools []domain.Pool) []candidate {
	var admitted []candidate
	for _, p := range pools {
		sc := e.market.MarketScore(p)
		if sc.TotalScore >= e.cfg.EntryScoreThreshold {
			admitted = append(admitted, candidate{pool: p, score: sc, features: featuresFor(p)})
		}
	}
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].score.TotalScore > admitted[j].score.TotalScore })
	return admitted
}

func featuresFor(p domain.Pool) domain.FeatureVector {
	liquidity := p.Liquidity
	if liquidity < 1 {
		liquidity = 1
	}
	return domain.FeatureVector{
		Volume30m: p.Volume30m, Volume1h: p.Volume1h, Volume2h: p.Volume2h,
		Volume4h: p.Volume4h, Volume24h: p.Volume24h,
		Fees30m: p.Fees30m, Fees1h: p.Fees1h, Fees24h: p.Fees24h,
		FeeEfficiency1h:   p.Fees1h / liquidity,
		Liquidity:         p.Liquidity,
		APR:               p.APR,
		VolumeToLiquidity: p.Volume1h / liquidity,
	}
}

// scoreML pre-filters the top 30 by hour-1 volume, batch-calls the
// predictor, and admits by probability. Returns ok=false if the predictor
// is unavailable so the caller falls back to rule-based.
func (e *Engine) scoreML(ctx context.Context, pools []domain.Pool) ([]candidate, bool) {
	if e.pred == nil {
		return nil, false
	}
	top := topByVolume1h(pools, 30)
	resp, err := e.predict(ctx, top)
	if err != nil {
		return nil, false
	}

	var admitted []candidate
	for i, pred := range resp.Predictions {
		if i >= len(top) {
			break
		}
		if pred.Probability < resp.Threshold {
			continue
		}
		prob := pred.Probability
		admitted = append(admitted, candidate{
			pool: top[i], mlProbability: &prob, features: featuresFor(top[i]),
			score: e.market.MarketScore(top[i]),
		})
	}
	sort.Slice(admitted, func(i, j int) bool { return *admitted[i].mlProbability > *admitted[j].mlProbability })
	return admitted, true
}

// scoreHybrid takes the rule-based top 10, sends them to the predictor, and
// admits only where the predictor also recommends entry. Falls back to the
// rule-based top directly (no further gate) if the predictor is unavailable.
func (e *Engine) scoreHybrid(ctx context.Context, pools []domain.Pool) []candidate {
	ruleBased := e.scoreRuleBased(pools)
	if len(ruleBased) > 10 {
		ruleBased = ruleBased[:10]
	}
	if e.pred == nil || len(ruleBased) == 0 {
		return ruleBased
	}

	poolsForPredict := make([]domain.Pool, len(ruleBased))
	for i, c := range ruleBased {
		poolsForPredict[i] = c.pool
	}
	resp, err := e.predict(ctx, poolsForPredict)
	if err != nil {
		return ruleBased
	}

	var admitted []candidate
	for i, pred := range resp.Predictions {
		if i >= len(ruleBased) {
			break
		}
		if pred.Recommendation != "enter" {
			continue
		}
		prob := pred.Probability
		c := ruleBased[i]
		c.mlProbability = &prob
		admitted = append(admitted, c)
	}
	sort.Slice(admitted, func(i, j int) bool { return *admitted[i].mlProbability > *admitted[j].mlProbability })
	return admitted
}

func (e *Engine) predict(ctx context.Context, pools []domain.Pool) (*predictor.PredictResponse, error) {
	features := make([][12]float64, len(pools))
	addresses := make([]string, len(pools))
	for i, p := range pools {
		features[i] = featuresFor(p).Array()
		addresses[i] = p.Address
	}
	return e.pred.Predict(ctx, features, addresses)
}

func topByVolume1h(pools []domain.Pool, n int) []domain.Pool {
	sorted := make([]domain.Pool, len(pools))
	copy(sorted, pools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Volume1h > sorted[j].Volume1h })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// enter sizes and opens one position. It re-checks emergency-stop and
// circuit-breaker immediately before calling the executor, per §4.6.
func (e *Engine) enter(ctx context.Context, c candidate) error {
	if d := e.stop.CanTrade(); !d.Allowed {
		return fmt.Errorf("emergency stop: %s", d.Reason)
	}

	balance, err := e.exec.Balance(ctx)
	if err != nil {
		e.stop.RecordAPIError()
		return fmt.Errorf("engine: balance: %w", err)
	}

	sizeLamports := e.sizePosition(balance)
	amountX := sizeLamports / 2
	amountY := sizeLamports - amountX

	// CircuitBreaker's exposure accounting uses the Y-side amount as its SOL
	// proxy throughout (RecordClose, SyncWith), so RecordOpen matches that
	// convention here rather than the full two-sided size.
	if d := e.breaker.CanOpen(c.pool.Address, float64(amountY)/lamportsPerSOL); !d.Allowed {
		return fmt.Errorf("circuit breaker: %s", d.Reason)
	}

	bin, err := e.market.ActiveBin(ctx, c.pool)
	if err != nil {
		e.stop.RecordAPIError()
		return fmt.Errorf("engine: active bin: %w", err)
	}

	strategy := executor.Strategy{
		ActiveBin: bin, BinRange: e.cfg.DefaultBinRange,
		Score: c.score.TotalScore, MLProbability: c.mlProbability, Features: c.features,
		Risk: domain.RiskSnapshot{
			ProfitTargetPct:     e.cfg.Risk.ProfitTargetPct,
			StopLossPct:         e.cfg.Risk.StopLossPct,
			TrailingStopEnabled: e.cfg.Risk.TrailingStopEnabled,
			TrailingStopPct:     e.cfg.Risk.TrailingStopPct,
			MaxHoldMinutes:      e.cfg.Risk.MaxHoldMinutes,
		},
	}
	res, err := e.exec.Open(ctx, c.pool, strategy, amountX, amountY)
	if err != nil {
		e.stop.RecordTxFailure()
		return fmt.Errorf("engine: open: %w", err)
	}

	e.breaker.RecordOpen(c.pool.Address, float64(amountY)/lamportsPerSOL)

	var opened domain.TrackedPosition
	for _, p := range e.exec.ActivePositions() {
		if p.ID == res.ID {
			opened = p
			break
		}
	}

	e.mu.Lock()
	e.stats.PositionsOpened++
	e.mu.Unlock()

	e.emit(domain.EventPositionOpened, domain.PositionOpenedPayload{Position: opened})
	return nil
}

// sizePosition computes lamports from config, clamping to
// [minPositionSOL, maxPositionSOL] and then to the balance reserve.
func (e *Engine) sizePosition(balanceLamports int64) int64 {
	var sizeSOL float64
	switch {
	case e.cfg.PositionSizePercent > 0:
		sizeSOL = (float64(balanceLamports) / lamportsPerSOL) * (e.cfg.PositionSizePercent / 100)
	case e.cfg.PositionSizeSOL > 0:
		sizeSOL = e.cfg.PositionSizeSOL
	default:
		sizeSOL = (float64(balanceLamports) / lamportsPerSOL) * 0.10
	}

	if e.cfg.MinPositionSOL > 0 && sizeSOL < e.cfg.MinPositionSOL {
		sizeSOL = e.cfg.MinPositionSOL
	}
	if e.cfg.MaxPositionSOL > 0 && sizeSOL > e.cfg.MaxPositionSOL {
		sizeSOL = e.cfg.MaxPositionSOL
	}

	sizeLamports := int64(sizeSOL * lamportsPerSOL)
	maxAllowed := balanceLamports - entryReserveLamports
	if maxAllowed < 0 {
		maxAllowed = 0
	}
	if sizeLamports > maxAllowed {
		sizeLamports = maxAllowed
	}
	if sizeLamports < 0 {
		sizeLamports = 0
	}
	return sizeLamports
}

// checkPositions evaluates exit conditions for every ACTIVE position in
// the mandated order: take-profit, trailing-stop, stop-loss, max hold.
func (e *Engine) checkPositions(ctx context.Context) {
	for _, pos := range e.exec.ActivePositions() {
		if pool, err := e.market.Pool(ctx, pos.PoolAddress); err != nil {
			e.stop.RecordAPIError()
		} else if bin, err := e.market.ActiveBin(ctx, pool); err != nil {
			e.stop.RecordAPIError()
		} else {
			e.exec.UpdatePrice(pos.ID, bin.Price)
		}

		updated, err := e.exec.Update(ctx, pos.ID)
		if err != nil {
			e.stop.RecordAPIError()
			continue
		}

		reason, shouldExit := exitDecision(*updated)
		if !shouldExit {
			e.emit(domain.EventPositionUpdated, domain.PositionUpdatedPayload{
				PositionID:            updated.ID,
				CurrentPricePerToken:  updated.CurrentPricePerToken,
				UnrealizedPnlLamports: unrealizedPnL(*updated),
			})
			continue
		}

		if err := e.closeAndReport(ctx, *updated, reason); err != nil {
			e.stop.RecordAPIError()
			slog.Warn("engine: close failed", "bot_id", e.cfg.BotID, "position_id", updated.ID, "err", err)
		}
	}
}

func unrealizedPnL(p domain.TrackedPosition) int64 {
	if p.EntryPricePerToken == 0 {
		return 0
	}
	delta := (p.CurrentPricePerToken - p.EntryPricePerToken) / p.EntryPricePerToken
	return int64(delta * float64(p.EntryAmountY))
}

func exitDecision(p domain.TrackedPosition) (string, bool) {
	pnlPct := p.PnLPercent()
	risk := p.Risk

	if pnlPct >= risk.ProfitTargetPct {
		return domain.ExitTakeProfit, true
	}
	if risk.TrailingStopEnabled &&
		risk.HighWaterMarkPct > risk.TrailingStopPct &&
		pnlPct <= risk.HighWaterMarkPct-risk.TrailingStopPct &&
		pnlPct < risk.HighWaterMarkPct {
		return domain.ExitTrailingStop, true
	}
	if pnlPct <= -risk.StopLossPct {
		return domain.ExitStopLoss, true
	}
	if p.HoldMinutes(time.Now()) >= float64(risk.MaxHoldMinutes) {
		return domain.ExitMaxHold, true
	}
	return "", false
}

// CloseByID is the user-initiated close path; it mirrors every side effect
// of an engine-initiated close.
func (e *Engine) CloseByID(ctx context.Context, positionID, reason string) error {
	var found *domain.TrackedPosition
	for _, p := range e.exec.ActivePositions() {
		if p.ID == positionID {
			pp := p
			found = &pp
			break
		}
	}
	if found == nil {
		return fmt.Errorf("engine: %w", executor.ErrPositionNotFound)
	}
	return e.closeAndReport(ctx, *found, reason)
}

// closeAndReport closes a position already known to be ACTIVE (pre is its
// last-known snapshot, taken before this call) and mirrors every side
// effect a close needs: stats, safety recording, cooldown, event.
func (e *Engine) closeAndReport(ctx context.Context, pre domain.TrackedPosition, reason string) error {
	res, err := e.exec.Close(ctx, pre.ID, reason)
	if err != nil {
		return err
	}

	closed := pre
	closed.Status = domain.PositionClosed
	closed.RealizedPnlLamports = res.RealisedPnL
	closed.ExitReason = reason
	closed.ExitTxSignature = res.Signature
	closed.ExitTxCostLamports = res.FeesXLamports + res.FeesYLamports
	closed.ExitTimestamp = time.Now()

	pnlSOL := float64(res.RealisedPnL) / lamportsPerSOL
	isWin := res.RealisedPnL > 0

	e.stop.RecordTradeResult(pnlSOL)
	e.breaker.RecordClose(pre.PoolAddress, float64(pre.EntryAmountY)/lamportsPerSOL)

	e.mu.Lock()
	e.cooldowns[closed.PoolAddress] = time.Now()
	e.stats.PositionsClosed++
	if isWin {
		e.stats.Wins++
	} else {
		e.stats.Losses++
	}
	e.stats.CumulativePnLSOL += pnlSOL
	e.mu.Unlock()

	e.emit(domain.EventPositionClosed, domain.PositionClosedPayload{Position: closed, IsWin: isWin})
	return nil
}

// checkpoint emits position:updated for every ACTIVE position so the
// orchestrator can flush current price/unrealised P&L to storage.
func (e *Engine) checkpoint() {
	for _, p := range e.exec.ActivePositions() {
		e.emit(domain.EventPositionUpdated, domain.PositionUpdatedPayload{
			PositionID:            p.ID,
			CurrentPricePerToken:  p.CurrentPricePerToken,
			UnrealizedPnlLamports: unrealizedPnL(p),
		})
	}
}
