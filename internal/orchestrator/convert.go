package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// botConfigFromRow rebuilds the in-memory config an engine runs from a
// persisted bot row, the reverse of botRowFromConfig.
func botConfigFromRow(row storage.BotRow) (domain.BotConfig, error) {
	var blacklist map[string]bool
	if row.MintBlacklistJSON != "" && row.MintBlacklistJSON != "[]" {
		if err := json.Unmarshal([]byte(row.MintBlacklistJSON), &blacklist); err != nil {
			return domain.BotConfig{}, fmt.Errorf("orchestrator: decode mint_blacklist for %s: %w", row.BotID, err)
		}
	}
	return domain.BotConfig{
		BotID:        row.BotID,
		UserID:       row.UserID,
		Mode:         domain.Mode(row.Mode),
		StrategyMode: domain.StrategyMode(row.StrategyMode),

		EntryScoreThreshold: row.EntryScoreThreshold,
		MinLiquidity:        row.MinLiquidity,
		MaxLiquidity:        row.MaxLiquidity,
		MinVolume24h:        row.MinVolume24h,

		PositionSizeSOL:     row.PositionSizeSOL,
		PositionSizePercent: row.PositionSizePercent,
		MinPositionSOL:      row.MinPositionSOL,
		MaxPositionSOL:      row.MaxPositionSOL,
		RentReserveSOL:      row.RentReserveSOL,

		DefaultBinRange: row.DefaultBinRange,

		Risk: domain.RiskParams{
			ProfitTargetPct:     row.ProfitTargetPct,
			StopLossPct:         row.StopLossPct,
			TrailingStopEnabled: row.TrailingStopEnabled,
			TrailingStopPct:     row.TrailingStopPct,
			MaxHoldMinutes:      row.MaxHoldMinutes,
			MaxDailyLossSOL:     row.MaxDailyLossSOL,
			CooldownMinutes:     row.CooldownMinutes,
		},

		ScanIntervalSeconds:          row.ScanIntervalSeconds,
		PositionCheckIntervalSeconds: row.PositionCheckIntervalSeconds,

		SolPairsOnly:  row.SolPairsOnly,
		MintBlacklist: blacklist,

		SimulationInitialBalanceLamports: row.SimulationInitialBalanceLamports,
	}, nil
}

// botRowFromConfig projects an in-memory config back onto the subset of
// bot row columns UpdateBotConfig is allowed to touch. Status, stats and
// identity columns are left zero; callers merge this against an existing
// row rather than writing it wholesale.
func botRowFromConfig(cfg domain.BotConfig) (storage.BotRow, error) {
	blacklistJSON := "[]"
	if len(cfg.MintBlacklist) > 0 {
		blob, err := json.Marshal(cfg.MintBlacklist)
		if err != nil {
			return storage.BotRow{}, fmt.Errorf("orchestrator: encode mint_blacklist for %s: %w", cfg.BotID, err)
		}
		blacklistJSON = string(blob)
	}
	return storage.BotRow{
		BotID:        cfg.BotID,
		StrategyMode: string(cfg.StrategyMode),

		EntryScoreThreshold: cfg.EntryScoreThreshold,
		MinLiquidity:        cfg.MinLiquidity,
		MaxLiquidity:        cfg.MaxLiquidity,
		MinVolume24h:        cfg.MinVolume24h,

		PositionSizeSOL:     cfg.PositionSizeSOL,
		PositionSizePercent: cfg.PositionSizePercent,
		MinPositionSOL:      cfg.MinPositionSOL,
		MaxPositionSOL:      cfg.MaxPositionSOL,
		RentReserveSOL:      cfg.RentReserveSOL,

		DefaultBinRange: cfg.DefaultBinRange,

		ProfitTargetPct:     cfg.Risk.ProfitTargetPct,
		StopLossPct:         cfg.Risk.StopLossPct,
		TrailingStopEnabled: cfg.Risk.TrailingStopEnabled,
		TrailingStopPct:     cfg.Risk.TrailingStopPct,
		MaxHoldMinutes:      cfg.Risk.MaxHoldMinutes,
		MaxDailyLossSOL:     cfg.Risk.MaxDailyLossSOL,
		CooldownMinutes:     cfg.Risk.CooldownMinutes,

		ScanIntervalSeconds:          cfg.ScanIntervalSeconds,
		PositionCheckIntervalSeconds: cfg.PositionCheckIntervalSeconds,
		SolPairsOnly:                 cfg.SolPairsOnly,
		MintBlacklistJSON:            blacklistJSON,

		SimulationInitialBalanceLamports: cfg.SimulationInitialBalanceLamports,
	}, nil
}

// positionRowFromTracked projects a domain.TrackedPosition into its
// persisted form. status is passed explicitly ("ACTIVE"/"CLOSED") since the
// two share no direct enum.
func positionRowFromTracked(p domain.TrackedPosition, botID, userID, status string) (storage.PositionRow, error) {
	featuresBlob, err := json.Marshal(p.EntryFeatures)
	if err != nil {
		return storage.PositionRow{}, fmt.Errorf("orchestrator: encode entry_features for %s: %w", p.ID, err)
	}

	row := storage.PositionRow{
		PositionID: p.ID,
		BotID:      botID,
		UserID:     userID,
		Status:     status,

		PoolAddress: p.PoolAddress,
		PoolName:    p.PoolName,
		MintX:       p.MintX,
		MintY:       p.MintY,
		BinStep:     p.BinStep,

		EntryActiveBin:      p.EntryActiveBin,
		EntryPricePerToken:  p.EntryPricePerToken,
		EntryTimestamp:      p.EntryTimestamp,
		EntryAmountX:        p.EntryAmountX,
		EntryAmountY:        p.EntryAmountY,
		EntryTxSignature:    p.EntryTxSignature,
		EntryTxCostLamports: p.EntryTxCostLamports,
		EntryScore:          p.EntryScore,
		EntryMLProbability:  p.EntryMLProbability,
		EntryFeaturesJSON:   string(featuresBlob),

		ProfitTargetPct:     p.Risk.ProfitTargetPct,
		StopLossPct:         p.Risk.StopLossPct,
		TrailingStopEnabled: p.Risk.TrailingStopEnabled,
		TrailingStopPct:     p.Risk.TrailingStopPct,
		MaxHoldMinutes:      p.Risk.MaxHoldMinutes,
		HighWaterMarkPct:    p.Risk.HighWaterMarkPct,

		CurrentPricePerToken: p.CurrentPricePerToken,
		CurrentFeesX:         p.CurrentFeesX,
		CurrentFeesY:         p.CurrentFeesY,

		ExitPricePerToken:  p.ExitPricePerToken,
		ExitTxSignature:    p.ExitTxSignature,
		ExitReason:         p.ExitReason,
	}

	if status == positionStatusClosed {
		exitTime := p.ExitTimestamp
		row.ExitTimestamp = &exitTime
		pnl := p.RealizedPnlLamports
		row.RealizedPnlLamports = &pnl
		cost := p.ExitTxCostLamports
		row.ExitTxCostLamports = &cost
	}
	return row, nil
}

const (
	positionStatusActive = "ACTIVE"
	positionStatusClosed = "CLOSED"
)

// dailySummaryDate returns the UTC calendar date key daily_summaries rows
// are bucketed by.
func dailySummaryDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
