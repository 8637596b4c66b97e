// Package orchestrator is the process-wide singleton that owns every
// running bot's engine, bridges engine events to durable storage and the
// event bus, and serialises start/stop per bot id — the same
// supervisor-owns-many-workers shape as polybot's cmd/scanner main loop
// generalised from one process running one strategy to many concurrently
// running per-user bots sharing one cache and one chain connection.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/engine"
	"github.com/voltaforge/dlmmbot/internal/eventbus"
	"github.com/voltaforge/dlmmbot/internal/executor"
	"github.com/voltaforge/dlmmbot/internal/market"
	"github.com/voltaforge/dlmmbot/internal/predictor"
	"github.com/voltaforge/dlmmbot/internal/safety"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// LiveTradingFactory builds a ready-to-run live executor for a bot about
// to start in live mode: loading the configured wallet, validating it, and
// logging an explicit confirmation before any order can be placed. No
// concrete chain SDK is imported here — cmd/server wires a concrete
// implementation at startup, mirroring how executor.ChainClientPort keeps
// the trading path itself SDK-agnostic.
type LiveTradingFactory interface {
	BuildLiveExecutor(ctx context.Context, cfg domain.BotConfig, stop *safety.EmergencyStop, breaker *safety.CircuitBreaker) (executor.Executor, error)
}

// Config bundles the shared, process-wide collaborators every bot's engine
// reads through. Per spec §4.1/§5, the cache and chain reader are each
// constructed exactly once here, never per bot.
type Config struct {
	Store     *storage.Store
	Bus       *eventbus.Bus
	Bridge    *eventbus.RedisBridge // nil unless the deployment fronts multiple instances
	Cache     *cache.Cache
	Chain     market.ChainReader
	Predictor *predictor.Client // nil if no predictor URL is configured
	LiveTrading LiveTradingFactory

	MaxConcurrentPositions int
	CircuitBreakerLimits   safety.CircuitBreakerLimits
	EmergencyStopLimits    func(cfg domain.BotConfig) safety.Limits
}

// runningBot is the orchestrator's bookkeeping for one started engine.
type runningBot struct {
	cfg    domain.BotConfig
	engine *engine.Engine
	exec   executor.Executor
	stop   *safety.EmergencyStop
}

// Orchestrator is the process-wide singleton described in §4.7.
type Orchestrator struct {
	store     *storage.Store
	bus       *eventbus.Bus
	bridge    *eventbus.RedisBridge
	sharedCache *cache.Cache
	chain     market.ChainReader
	predictor *predictor.Client
	liveTrading LiveTradingFactory

	maxConcurrentPositions int
	breakerLimits          safety.CircuitBreakerLimits
	stopLimitsFor          func(cfg domain.BotConfig) safety.Limits

	mu      sync.RWMutex
	running map[string]*runningBot

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Orchestrator. It does not start any bots; call
// RecoverRunningBots after construction to resume bots left running across
// a restart.
func New(c Config) *Orchestrator {
	stopLimitsFor := c.EmergencyStopLimits
	if stopLimitsFor == nil {
		stopLimitsFor = func(cfg domain.BotConfig) safety.Limits {
			return safety.Limits{MaxDailyLossSOL: cfg.Risk.MaxDailyLossSOL}
		}
	}
	return &Orchestrator{
		store:                  c.Store,
		bus:                    c.Bus,
		bridge:                 c.Bridge,
		sharedCache:            c.Cache,
		chain:                  c.Chain,
		predictor:              c.Predictor,
		liveTrading:            c.LiveTrading,
		maxConcurrentPositions: c.MaxConcurrentPositions,
		breakerLimits:          c.CircuitBreakerLimits,
		stopLimitsFor:          stopLimitsFor,
		running:                make(map[string]*runningBot),
		locks:                  make(map[string]*sync.Mutex),
	}
}

// opLock returns the mutex guarding start/stop for a single bot id,
// creating it on first use. The lock map itself never shrinks: bot ids are
// bounded by how many bots a user can ever create, so this is not a leak.
func (o *Orchestrator) opLock(botID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	m, ok := o.locks[botID]
	if !ok {
		m = &sync.Mutex{}
		o.locks[botID] = m
	}
	return m
}

func (o *Orchestrator) isRunning(botID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.running[botID]
	return ok
}

// ErrAlreadyRunning is returned by StartBot when the bot is already started.
var ErrAlreadyRunning = fmt.Errorf("orchestrator: bot already running")

// ErrNotRunning is returned by operations that require a running bot.
var ErrNotRunning = fmt.Errorf("orchestrator: bot not running")

// StartBot loads botID's persisted config, wires a fresh engine for it and
// starts its timers. Refuses if the bot is already running.
func (o *Orchestrator) StartBot(ctx context.Context, botID, userID string) error {
	lock := o.opLock(botID)
	lock.Lock()
	defer lock.Unlock()

	if o.isRunning(botID) {
		return ErrAlreadyRunning
	}

	row, err := o.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("orchestrator.StartBot: %w", err)
	}
	cfg, err := botConfigFromRow(row)
	if err != nil {
		return fmt.Errorf("orchestrator.StartBot: %w", err)
	}
	cfg.UserID = userID

	provider := market.NewProvider(o.sharedCache, o.chain)

	stopLimits := o.stopLimitsFor(cfg)
	stop, err := restoreEmergencyStop(row.EmergencyStopState, stopLimits)
	if err != nil {
		return fmt.Errorf("orchestrator.StartBot: restore safety state: %w", err)
	}
	breaker := safety.NewCircuitBreaker(o.breakerLimits)

	exec, err := o.buildExecutor(ctx, cfg, stop, breaker)
	if err != nil {
		_ = o.store.UpdateBotStatus(ctx, botID, string(domain.BotStatusError), strPtr(err.Error()))
		return fmt.Errorf("orchestrator.StartBot: build executor: %w", err)
	}

	pred := o.predictor
	if cfg.StrategyMode == domain.StrategyRuleBased {
		pred = nil
	}

	eng := engine.New(engine.Config{
		BotConfig:              cfg,
		Market:                 provider,
		Executor:               exec,
		EmergencyStop:          stop,
		CircuitBreaker:         breaker,
		Predictor:              pred,
		OnEvent:                o.handleEngineEvent,
		MaxConcurrentPositions: o.maxConcurrentPositions,
	})

	stop.OnTrigger(func(reason string) {
		o.handleEmergencyTrigger(botID, userID, reason)
	})

	o.mu.Lock()
	o.running[botID] = &runningBot{cfg: cfg, engine: eng, exec: exec, stop: stop}
	o.mu.Unlock()

	eng.Start(ctx)

	if err := o.store.UpdateBotStatus(ctx, botID, string(domain.BotStatusRunning), nil); err != nil {
		slog.Error("orchestrator: persist running status failed", "bot_id", botID, "error", err)
	}
	return nil
}

// StopBot stops botID's engine, persists its final safety state and
// releases it from the running set. Idempotent: calling it on a bot that
// isn't running succeeds without error.
func (o *Orchestrator) StopBot(ctx context.Context, botID string) error {
	lock := o.opLock(botID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	rb, ok := o.running[botID]
	if ok {
		delete(o.running, botID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	rb.engine.Stop()

	blob, err := rb.stop.Serialise()
	if err != nil {
		slog.Error("orchestrator: serialise emergency stop failed", "bot_id", botID, "error", err)
	} else if err := o.store.SaveEmergencyStopState(ctx, botID, blob); err != nil {
		slog.Error("orchestrator: persist emergency stop state failed", "bot_id", botID, "error", err)
	}

	if err := o.store.UpdateBotStatus(ctx, botID, string(domain.BotStatusStopped), nil); err != nil {
		slog.Error("orchestrator: persist stopped status failed", "bot_id", botID, "error", err)
	}
	return nil
}

// EmergencyStop manually triggers botID's safety system. Its registered
// trigger callback (auto-close positions, stop the engine, mark the bot
// error) does the rest.
func (o *Orchestrator) EmergencyStop(ctx context.Context, botID, reason string) error {
	o.mu.RLock()
	rb, ok := o.running[botID]
	o.mu.RUnlock()
	if !ok {
		return ErrNotRunning
	}
	rb.stop.ManualTrigger(reason)
	return nil
}

// RuntimeStats is the live detail only a running bot can report: its
// engine's transient scan/trade counters, its executor's lifetime
// performance summary, and its currently open positions.
type RuntimeStats struct {
	Stats              domain.EngineStats
	Performance        executor.PerformanceSummary
	ActivePositions    []domain.TrackedPosition
}

// Runtime returns botID's live stats if it is currently running.
func (o *Orchestrator) Runtime(botID string) (RuntimeStats, bool) {
	o.mu.RLock()
	rb, ok := o.running[botID]
	o.mu.RUnlock()
	if !ok {
		return RuntimeStats{}, false
	}
	return RuntimeStats{
		Stats:           rb.engine.Stats(),
		Performance:     rb.exec.PerformanceSummary(),
		ActivePositions: rb.exec.ActivePositions(),
	}, true
}

// ErrBotRunning is returned by operations that require a stopped bot.
var ErrBotRunning = fmt.Errorf("orchestrator: bot is running")

// UpdateConfig persists a new configuration for a stopped bot, merging
// botRowFromConfig's projection over the existing row's identity and stats
// columns so neither is ever overwritten with zero values.
func (o *Orchestrator) UpdateConfig(ctx context.Context, botID string, cfg domain.BotConfig) (storage.BotRow, error) {
	row, err := o.store.GetBot(ctx, botID)
	if err != nil {
		return storage.BotRow{}, fmt.Errorf("orchestrator.UpdateConfig: %w", err)
	}
	if row.Status == string(domain.BotStatusRunning) {
		return storage.BotRow{}, ErrBotRunning
	}
	patch, err := botRowFromConfig(cfg)
	if err != nil {
		return storage.BotRow{}, fmt.Errorf("orchestrator.UpdateConfig: %w", err)
	}
	patch.BotID, patch.UserID, patch.Name, patch.Mode = botID, row.UserID, row.Name, row.Mode
	if err := o.store.UpdateBotConfig(ctx, patch); err != nil {
		return storage.BotRow{}, fmt.Errorf("orchestrator.UpdateConfig: %w", err)
	}
	return o.store.GetBot(ctx, botID)
}

// CloseManually asks the named bot's engine to close one of its own
// positions ahead of schedule, via the engine's CloseByID, which runs the
// same closeAndReport path as the engine's own position-check loop.
func (o *Orchestrator) CloseManually(ctx context.Context, botID, positionID string) error {
	o.mu.RLock()
	rb, ok := o.running[botID]
	o.mu.RUnlock()
	if !ok {
		return ErrNotRunning
	}
	return rb.engine.CloseByID(ctx, positionID, domain.ExitManual)
}

// StopAll stops every running bot and waits for each to settle, used on
// process shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.RLock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(botID string) {
			defer wg.Done()
			if err := o.StopBot(ctx, botID); err != nil {
				slog.Error("orchestrator: stop_all failed for bot", "bot_id", botID, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// RecoverRunningBots restarts every bot whose persisted status is
// "running" — the crash-recovery path run once at process startup. Bots
// that fail to restart are marked errored with a recovery-specific reason
// rather than left claiming to be running.
func (o *Orchestrator) RecoverRunningBots(ctx context.Context) (int, error) {
	rows, err := o.store.ListRunningBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestrator.RecoverRunningBots: %w", err)
	}
	recovered := 0
	for _, row := range rows {
		if err := o.StartBot(ctx, row.BotID, row.UserID); err != nil {
			reason := fmt.Sprintf("Recovery failed: %s", err)
			if uerr := o.store.UpdateBotStatus(ctx, row.BotID, string(domain.BotStatusError), &reason); uerr != nil {
				slog.Error("orchestrator: mark recovery failure failed", "bot_id", row.BotID, "error", uerr)
			}
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (o *Orchestrator) buildExecutor(ctx context.Context, cfg domain.BotConfig, stop *safety.EmergencyStop, breaker *safety.CircuitBreaker) (executor.Executor, error) {
	if cfg.Mode == domain.ModeLive {
		if o.liveTrading == nil {
			return nil, fmt.Errorf("live mode requires a wallet but no live trading factory is configured")
		}
		return o.liveTrading.BuildLiveExecutor(ctx, cfg, stop, breaker)
	}
	balance := cfg.SimulationInitialBalanceLamports
	if balance <= 0 {
		balance = 10_000_000_000 // 10 SOL default
	}
	return executor.NewSimulationExecutor(balance), nil
}

func restoreEmergencyStop(blob []byte, limits safety.Limits) (*safety.EmergencyStop, error) {
	if len(blob) == 0 {
		return safety.New(limits), nil
	}
	stop, err := safety.Deserialise(blob, limits)
	if err != nil {
		return nil, err
	}
	return stop, nil
}

// handleEmergencyTrigger is the callback body §4.7 specifies for a safety
// trigger: auto-close every open position, stop the engine, mark the bot
// errored in storage, and emit engine:error.
func (o *Orchestrator) handleEmergencyTrigger(botID, userID, reason string) {
	o.mu.RLock()
	rb, ok := o.running[botID]
	o.mu.RUnlock()
	if !ok {
		return
	}

	ctx := context.Background()
	for _, pos := range rb.exec.ActivePositions() {
		if err := rb.engine.CloseByID(ctx, pos.ID, domain.ExitEmergency); err != nil {
			slog.Error("orchestrator: emergency auto-close failed", "bot_id", botID, "position_id", pos.ID, "error", err)
		}
	}

	if err := o.StopBot(ctx, botID); err != nil {
		slog.Error("orchestrator: emergency stop_bot failed", "bot_id", botID, "error", err)
	}
	if err := o.store.UpdateBotStatus(ctx, botID, string(domain.BotStatusError), &reason); err != nil {
		slog.Error("orchestrator: persist emergency error status failed", "bot_id", botID, "error", err)
	}
	o.emit(ctx, domain.EventEngineError, botID, userID, domain.EngineErrorPayload{Reason: reason})
}

// emit fans an event out to the local bus and, when this instance is
// configured with a cross-instance bridge, to Redis as well so sibling
// processes fronting the same deployment observe it too.
func (o *Orchestrator) emit(ctx context.Context, kind domain.EventKind, botID, userID string, payload any) {
	o.bus.Emit(kind, botID, userID, payload)
	if o.bridge != nil {
		o.bridge.Publish(ctx, domain.BotEvent{Kind: kind, BotID: botID, UserID: userID, Payload: payload})
	}
}

func strPtr(s string) *string { return &s }
