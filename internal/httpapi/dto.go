package httpapi

import (
	"time"

	"github.com/voltaforge/dlmmbot/internal/storage"
)

// botDTO is the wire shape for a bot row — storage.BotRow minus its
// internal emergency-stop blob and with JSON field names matching §6.
type botDTO struct {
	BotID  string `json:"bot_id"`
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Status string `json:"status"`

	StrategyMode string `json:"strategy_mode"`

	EntryScoreThreshold float64 `json:"entry_score_threshold"`
	MinLiquidity        float64 `json:"min_liquidity"`
	MaxLiquidity        float64 `json:"max_liquidity"`
	MinVolume24h        float64 `json:"min_volume_24h"`

	PositionSizeSOL     float64 `json:"position_size_sol"`
	PositionSizePercent float64 `json:"position_size_percent"`
	MinPositionSOL      float64 `json:"min_position_sol"`
	MaxPositionSOL      float64 `json:"max_position_sol"`
	RentReserveSOL      float64 `json:"rent_reserve_sol"`
	DefaultBinRange     int     `json:"default_bin_range"`

	ProfitTargetPct     float64 `json:"profit_target_pct"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	TrailingStopEnabled bool    `json:"trailing_stop_enabled"`
	TrailingStopPct     float64 `json:"trailing_stop_pct"`
	MaxHoldMinutes      int     `json:"max_hold_minutes"`
	MaxDailyLossSOL     float64 `json:"max_daily_loss_sol"`
	CooldownMinutes     int     `json:"cooldown_minutes"`

	ScanIntervalSeconds          int  `json:"scan_interval_seconds"`
	PositionCheckIntervalSeconds int  `json:"position_check_interval_seconds"`
	SolPairsOnly                 bool `json:"sol_pairs_only"`

	SimulationInitialBalanceLamports int64 `json:"simulation_initial_balance_lamports"`

	TotalTrades      int    `json:"total_trades"`
	WinningTrades    int    `json:"winning_trades"`
	TotalPnlLamports int64  `json:"total_pnl_lamports"`
	LastError        string `json:"last_error,omitempty"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func botDTOFromRow(row storage.BotRow) botDTO {
	d := botDTO{
		BotID: row.BotID, Name: row.Name, Mode: row.Mode, Status: row.Status,
		StrategyMode: row.StrategyMode,

		EntryScoreThreshold: row.EntryScoreThreshold, MinLiquidity: row.MinLiquidity, MaxLiquidity: row.MaxLiquidity, MinVolume24h: row.MinVolume24h,
		PositionSizeSOL: row.PositionSizeSOL, PositionSizePercent: row.PositionSizePercent, MinPositionSOL: row.MinPositionSOL, MaxPositionSOL: row.MaxPositionSOL,
		RentReserveSOL: row.RentReserveSOL, DefaultBinRange: row.DefaultBinRange,

		ProfitTargetPct: row.ProfitTargetPct, StopLossPct: row.StopLossPct, TrailingStopEnabled: row.TrailingStopEnabled, TrailingStopPct: row.TrailingStopPct,
		MaxHoldMinutes: row.MaxHoldMinutes, MaxDailyLossSOL: row.MaxDailyLossSOL, CooldownMinutes: row.CooldownMinutes,

		ScanIntervalSeconds: row.ScanIntervalSeconds, PositionCheckIntervalSeconds: row.PositionCheckIntervalSeconds, SolPairsOnly: row.SolPairsOnly,

		SimulationInitialBalanceLamports: row.SimulationInitialBalanceLamports,

		TotalTrades: row.TotalTrades, WinningTrades: row.WinningTrades, TotalPnlLamports: row.TotalPnlLamports,
		LastActivityAt: row.LastActivityAt, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.LastError != nil {
		d.LastError = *row.LastError
	}
	return d
}

// positionDTO is the wire shape for a position row.
type positionDTO struct {
	PositionID string `json:"position_id"`
	BotID      string `json:"bot_id"`
	Status     string `json:"status"`

	PoolAddress string `json:"pool_address"`
	PoolName    string `json:"pool_name"`
	MintX       string `json:"mint_x"`
	MintY       string `json:"mint_y"`
	BinStep     int    `json:"bin_step"`

	EntryActiveBin      int       `json:"entry_active_bin"`
	EntryPricePerToken  float64   `json:"entry_price_per_token"`
	EntryTimestamp      time.Time `json:"entry_timestamp"`
	EntryAmountX        int64     `json:"entry_amount_x"`
	EntryAmountY        int64     `json:"entry_amount_y"`
	EntryTxSignature    string    `json:"entry_tx_signature"`
	EntryTxCostLamports int64     `json:"entry_tx_cost_lamports"`
	EntryScore          float64   `json:"entry_score"`
	EntryMLProbability  *float64  `json:"entry_ml_probability,omitempty"`

	CurrentPricePerToken  float64 `json:"current_price_per_token"`
	UnrealizedPnlLamports int64   `json:"unrealized_pnl_lamports"`

	ExitPricePerToken   float64    `json:"exit_price_per_token,omitempty"`
	ExitTimestamp       *time.Time `json:"exit_timestamp,omitempty"`
	ExitTxSignature     string     `json:"exit_tx_signature,omitempty"`
	ExitReason          string     `json:"exit_reason,omitempty"`
	RealizedPnlLamports *int64     `json:"realized_pnl_lamports,omitempty"`
	ExitTxCostLamports  *int64     `json:"exit_tx_cost_lamports,omitempty"`
}

func positionDTOFromRow(row storage.PositionRow) positionDTO {
	return positionDTO{
		PositionID: row.PositionID, BotID: row.BotID, Status: row.Status,
		PoolAddress: row.PoolAddress, PoolName: row.PoolName, MintX: row.MintX, MintY: row.MintY, BinStep: row.BinStep,

		EntryActiveBin: row.EntryActiveBin, EntryPricePerToken: row.EntryPricePerToken, EntryTimestamp: row.EntryTimestamp,
		EntryAmountX: row.EntryAmountX, EntryAmountY: row.EntryAmountY, EntryTxSignature: row.EntryTxSignature,
		EntryTxCostLamports: row.EntryTxCostLamports, EntryScore: row.EntryScore, EntryMLProbability: row.EntryMLProbability,

		CurrentPricePerToken: row.CurrentPricePerToken, UnrealizedPnlLamports: row.UnrealizedPnlLamports,

		ExitPricePerToken: row.ExitPricePerToken, ExitTimestamp: row.ExitTimestamp, ExitTxSignature: row.ExitTxSignature,
		ExitReason: row.ExitReason, RealizedPnlLamports: row.RealizedPnlLamports, ExitTxCostLamports: row.ExitTxCostLamports,
	}
}

func botDTOs(rows []storage.BotRow) []botDTO {
	out := make([]botDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, botDTOFromRow(r))
	}
	return out
}

func positionDTOs(rows []storage.PositionRow) []positionDTO {
	out := make([]positionDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, positionDTOFromRow(r))
	}
	return out
}
