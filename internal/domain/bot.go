// Package domain holds the shared entities that flow between the cache,
// market-data provider, executor, safety layer, engine and orchestrator.
package domain

import "time"

// Mode selects whether a bot trades against a simulated balance or real
// funds on chain.
type Mode string

const (
	ModeSimulation Mode = "SIMULATION"
	ModeLive       Mode = "LIVE"
)

// StrategyMode selects how candidate pools are scored during a scan.
type StrategyMode string

const (
	StrategyRuleBased StrategyMode = "rule_based"
	StrategyML        StrategyMode = "ml"
	StrategyHybrid    StrategyMode = "hybrid"
)

// RiskParams bounds entry sizing and exit triggers for a bot.
type RiskParams struct {
	ProfitTargetPct     float64
	StopLossPct         float64
	TrailingStopEnabled bool
	TrailingStopPct     float64
	MaxHoldMinutes      int
	MaxDailyLossSOL     float64
	CooldownMinutes     int
}

// BotConfig is the immutable-for-the-engine-lifetime configuration derived
// from a persisted bot row when the orchestrator starts it.
type BotConfig struct {
	BotID        string
	UserID       string
	Mode         Mode
	StrategyMode StrategyMode

	EntryScoreThreshold float64
	MinLiquidity        float64
	MaxLiquidity        float64
	MinVolume24h        float64

	PositionSizeSOL     float64 // used if PositionSizePercent is zero
	PositionSizePercent float64 // percent of balance, takes precedence
	MinPositionSOL      float64
	MaxPositionSOL      float64
	RentReserveSOL      float64

	DefaultBinRange int

	Risk RiskParams

	ScanIntervalSeconds          int
	PositionCheckIntervalSeconds int

	SolPairsOnly bool
	MintBlacklist map[string]bool

	SimulationInitialBalanceLamports int64
}

// PositionCheckInterval returns the configured interval, defaulting to 10s
// as specified when unset.
func (c BotConfig) PositionCheckInterval() time.Duration {
	if c.PositionCheckIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PositionCheckIntervalSeconds) * time.Second
}

// ScanInterval returns the configured scan cadence.
func (c BotConfig) ScanInterval() time.Duration {
	if c.ScanIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// BotStatus mirrors the persisted bots.status enum.
type BotStatus string

const (
	BotStatusStopped  BotStatus = "stopped"
	BotStatusStarting BotStatus = "starting"
	BotStatusRunning  BotStatus = "running"
	BotStatusStopping BotStatus = "stopping"
	BotStatusError    BotStatus = "error"
)
