package storage

import "time"

// BotRow is the persisted form of domain.BotConfig plus its status and
// aggregate stats — the row the orchestrator reads to reconstruct a
// running engine and writes back to as its stats change.
type BotRow struct {
	BotID        string
	UserID       string
	Name         string
	Mode         string
	Status       string
	StrategyMode string

	EntryScoreThreshold float64
	MinLiquidity        float64
	MaxLiquidity        float64
	MinVolume24h        float64
	PositionSizeSOL     float64
	PositionSizePercent float64
	MinPositionSOL      float64
	MaxPositionSOL      float64
	RentReserveSOL      float64
	DefaultBinRange     int

	ProfitTargetPct     float64
	StopLossPct         float64
	TrailingStopEnabled bool
	TrailingStopPct     float64
	MaxHoldMinutes      int
	MaxDailyLossSOL     float64
	CooldownMinutes     int

	ScanIntervalSeconds          int
	PositionCheckIntervalSeconds int
	SolPairsOnly                 bool
	MintBlacklistJSON            string

	SimulationInitialBalanceLamports int64

	TotalTrades       int
	WinningTrades     int
	TotalPnlLamports  int64

	LastError          *string
	LastActivityAt     *time.Time
	EmergencyStopState []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PositionRow is the persisted form of domain.TrackedPosition.
type PositionRow struct {
	PositionID string
	BotID      string
	UserID     string
	Status     string

	PoolAddress string
	PoolName    string
	MintX       string
	MintY       string
	BinStep     int

	EntryActiveBin      int
	EntryPricePerToken  float64
	EntryTimestamp      time.Time
	EntryAmountX        int64
	EntryAmountY        int64
	EntryTxSignature    string
	EntryTxCostLamports int64
	EntryScore          float64
	EntryMLProbability  *float64
	EntryFeaturesJSON   string

	ProfitTargetPct     float64
	StopLossPct         float64
	TrailingStopEnabled bool
	TrailingStopPct     float64
	MaxHoldMinutes      int
	HighWaterMarkPct    float64

	CurrentPricePerToken  float64
	UnrealizedPnlLamports int64
	CurrentFeesX          int64
	CurrentFeesY          int64

	ExitPricePerToken   float64
	ExitTimestamp       *time.Time
	ExitTxSignature     string
	ExitReason          string
	RealizedPnlLamports *int64
	ExitTxCostLamports  *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradeLogEntry is an append-only audit row.
type TradeLogEntry struct {
	BotID      string
	UserID     string
	PositionID *string
	Event      string
	Details    string
	Timestamp  time.Time
}

const (
	TradeEventPositionOpened  = "position_opened"
	TradeEventPositionClosed  = "position_closed"
	TradeEventPositionUpdated = "position_updated"
	TradeEventBotStarted      = "bot_started"
	TradeEventBotCreated      = "bot_created"
	TradeEventBotStopped      = "bot_stopped"
	TradeEventBotError        = "bot_error"
	TradeEventScanCompleted   = "scan_completed"
)

// PresetRow is the persisted form of a strategy preset.
type PresetRow struct {
	ID          int64
	UserID      *string // nil means system preset
	Name        string
	Description string
	IsSystem    bool
	ConfigJSON  string
	CreatedAt   time.Time
}
