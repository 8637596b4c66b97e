// Package storage is the sqlite-backed persistence layer, grounded in
// polybot's adapters/storage.SQLiteStorage: pure-Go modernc.org/sqlite,
// a single shared *sql.DB, schema applied idempotently on open. Unlike the
// teacher's single-writer CLI (one process, one cron loop), this store is
// written to by many concurrently-running per-bot engines, so WAL mode is
// enabled to let readers (the HTTP edge's list/detail queries) proceed
// without blocking the writers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the shared sqlite connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	// foreign_keys is a per-connection setting, so it is passed in the DSN
	// for the driver to apply on every pooled connection it opens.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- users ---

// EnsureUser inserts a user row for walletAddress if one doesn't already
// exist, returning either way.
func (s *Store) EnsureUser(ctx context.Context, walletAddress string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (wallet_address, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(wallet_address) DO NOTHING
	`, walletAddress, now, now)
	if err != nil {
		return fmt.Errorf("storage.EnsureUser: %w", err)
	}
	return nil
}

// --- bots ---

// CountBotsForUser supports the 10-bots-per-user creation cap.
func (s *Store) CountBotsForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bots WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.CountBotsForUser: %w", err)
	}
	return n, nil
}

// CreateBot inserts a new bot row in status "stopped".
func (s *Store) CreateBot(ctx context.Context, row BotRow) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (
			bot_id, user_id, name, mode, status, strategy_mode,
			entry_score_threshold, min_liquidity, max_liquidity, min_volume_24h,
			position_size_sol, position_size_percent, min_position_sol, max_position_sol,
			rent_reserve_sol, default_bin_range,
			profit_target_pct, stop_loss_pct, trailing_stop_enabled, trailing_stop_pct,
			max_hold_minutes, max_daily_loss_sol, cooldown_minutes,
			scan_interval_seconds, position_check_interval_seconds,
			sol_pairs_only, mint_blacklist, simulation_initial_balance_lamports,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, 'stopped', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.BotID, row.UserID, row.Name, row.Mode, row.StrategyMode,
		row.EntryScoreThreshold, row.MinLiquidity, row.MaxLiquidity, row.MinVolume24h,
		row.PositionSizeSOL, row.PositionSizePercent, row.MinPositionSOL, row.MaxPositionSOL,
		row.RentReserveSOL, row.DefaultBinRange,
		row.ProfitTargetPct, row.StopLossPct, boolToInt(row.TrailingStopEnabled), row.TrailingStopPct,
		row.MaxHoldMinutes, row.MaxDailyLossSOL, row.CooldownMinutes,
		row.ScanIntervalSeconds, row.PositionCheckIntervalSeconds,
		boolToInt(row.SolPairsOnly), nonEmptyOr(row.MintBlacklistJSON, "[]"), row.SimulationInitialBalanceLamports,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("storage.CreateBot: %w", err)
	}
	return nil
}

func nonEmptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const botColumns = `
	bot_id, user_id, name, mode, status, strategy_mode,
	entry_score_threshold, min_liquidity, max_liquidity, min_volume_24h,
	position_size_sol, position_size_percent, min_position_sol, max_position_sol,
	rent_reserve_sol, default_bin_range,
	profit_target_pct, stop_loss_pct, trailing_stop_enabled, trailing_stop_pct,
	max_hold_minutes, max_daily_loss_sol, cooldown_minutes,
	scan_interval_seconds, position_check_interval_seconds,
	sol_pairs_only, mint_blacklist, simulation_initial_balance_lamports,
	total_trades, winning_trades, total_pnl_lamports,
	last_error, last_activity_at, emergency_stop_state,
	created_at, updated_at
`

func scanBotRow(scanner interface{ Scan(...any) error }) (BotRow, error) {
	var r BotRow
	var trailingEnabled, solPairsOnly int
	var lastError sql.NullString
	var lastActivity sql.NullTime
	var emergencyBlob []byte
	err := scanner.Scan(
		&r.BotID, &r.UserID, &r.Name, &r.Mode, &r.Status, &r.StrategyMode,
		&r.EntryScoreThreshold, &r.MinLiquidity, &r.MaxLiquidity, &r.MinVolume24h,
		&r.PositionSizeSOL, &r.PositionSizePercent, &r.MinPositionSOL, &r.MaxPositionSOL,
		&r.RentReserveSOL, &r.DefaultBinRange,
		&r.ProfitTargetPct, &r.StopLossPct, &trailingEnabled, &r.TrailingStopPct,
		&r.MaxHoldMinutes, &r.MaxDailyLossSOL, &r.CooldownMinutes,
		&r.ScanIntervalSeconds, &r.PositionCheckIntervalSeconds,
		&solPairsOnly, &r.MintBlacklistJSON, &r.SimulationInitialBalanceLamports,
		&r.TotalTrades, &r.WinningTrades, &r.TotalPnlLamports,
		&lastError, &lastActivity, &emergencyBlob,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return BotRow{}, err
	}
	r.TrailingStopEnabled = trailingEnabled != 0
	r.SolPairsOnly = solPairsOnly != 0
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		r.LastActivityAt = &t
	}
	if len(emergencyBlob) > 0 {
		r.EmergencyStopState = emergencyBlob
	}
	return r, nil
}

// GetBot loads a single bot by its bot_id.
func (s *Store) GetBot(ctx context.Context, botID string) (BotRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE bot_id = ?`, botID)
	r, err := scanBotRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return BotRow{}, fmt.Errorf("storage.GetBot: %w", ErrNotFound)
		}
		return BotRow{}, fmt.Errorf("storage.GetBot: %w", err)
	}
	return r, nil
}

// ListBotsForUser returns every bot owned by userID.
func (s *Store) ListBotsForUser(ctx context.Context, userID string) ([]BotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListBotsForUser: %w", err)
	}
	defer rows.Close()

	var out []BotRow
	for rows.Next() {
		r, err := scanBotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListBotsForUser: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunningBots supports recover_running_bots.
func (s *Store) ListRunningBots(ctx context.Context) ([]BotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRunningBots: %w", err)
	}
	defer rows.Close()

	var out []BotRow
	for rows.Next() {
		r, err := scanBotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListRunningBots: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateBotStatus sets status and, optionally, last_error.
func (s *Store) UpdateBotStatus(ctx context.Context, botID, status string, lastError *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bots SET status = ?, last_error = ?, updated_at = ? WHERE bot_id = ?
	`, status, lastError, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("storage.UpdateBotStatus: %w", err)
	}
	return nil
}

// UpdateBotConfig replaces a bot's tunable config columns. Callers must
// have already verified the bot is stopped.
func (s *Store) UpdateBotConfig(ctx context.Context, row BotRow) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bots SET
			entry_score_threshold = ?, min_liquidity = ?, max_liquidity = ?, min_volume_24h = ?,
			position_size_sol = ?, position_size_percent = ?, min_position_sol = ?, max_position_sol = ?,
			rent_reserve_sol = ?, default_bin_range = ?,
			profit_target_pct = ?, stop_loss_pct = ?, trailing_stop_enabled = ?, trailing_stop_pct = ?,
			max_hold_minutes = ?, max_daily_loss_sol = ?, cooldown_minutes = ?,
			scan_interval_seconds = ?, position_check_interval_seconds = ?,
			sol_pairs_only = ?, mint_blacklist = ?, strategy_mode = ?,
			updated_at = ?
		WHERE bot_id = ?
	`,
		row.EntryScoreThreshold, row.MinLiquidity, row.MaxLiquidity, row.MinVolume24h,
		row.PositionSizeSOL, row.PositionSizePercent, row.MinPositionSOL, row.MaxPositionSOL,
		row.RentReserveSOL, row.DefaultBinRange,
		row.ProfitTargetPct, row.StopLossPct, boolToInt(row.TrailingStopEnabled), row.TrailingStopPct,
		row.MaxHoldMinutes, row.MaxDailyLossSOL, row.CooldownMinutes,
		row.ScanIntervalSeconds, row.PositionCheckIntervalSeconds,
		boolToInt(row.SolPairsOnly), row.MintBlacklistJSON, row.StrategyMode,
		time.Now().UTC(), row.BotID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateBotConfig: %w", err)
	}
	return nil
}

// SaveEmergencyStopState persists the opaque blob written by
// safety.EmergencyStop.Serialise.
func (s *Store) SaveEmergencyStopState(ctx context.Context, botID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bots SET emergency_stop_state = ?, updated_at = ? WHERE bot_id = ?
	`, blob, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("storage.SaveEmergencyStopState: %w", err)
	}
	return nil
}

// BumpActivity stamps last_activity_at with the current time.
func (s *Store) BumpActivity(ctx context.Context, botID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bots SET last_activity_at = ? WHERE bot_id = ?`, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("storage.BumpActivity: %w", err)
	}
	return nil
}

// BumpBotStats atomically increments trade counters on a position close.
func (s *Store) BumpBotStats(ctx context.Context, botID string, isWin bool, pnlLamports int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bots SET
			total_trades = total_trades + 1,
			winning_trades = winning_trades + ?,
			total_pnl_lamports = total_pnl_lamports + ?,
			updated_at = ?
		WHERE bot_id = ?
	`, boolToInt(isWin), pnlLamports, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("storage.BumpBotStats: %w", err)
	}
	return nil
}

// DeleteBot removes a bot and cascades to its positions and trade log.
// Callers must have already verified the bot is stopped.
func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE bot_id = ?`, botID)
	if err != nil {
		return fmt.Errorf("storage.DeleteBot: %w", err)
	}
	return nil
}

// --- positions ---

const positionColumns = `
	position_id, bot_id, user_id, status,
	pool_address, pool_name, mint_x, mint_y, bin_step,
	entry_active_bin, entry_price_per_token, entry_timestamp, entry_amount_x, entry_amount_y,
	entry_tx_signature, entry_tx_cost_lamports, entry_score, entry_ml_probability, entry_features,
	profit_target_pct, stop_loss_pct, trailing_stop_enabled, trailing_stop_pct, max_hold_minutes,
	high_water_mark_pct,
	current_price_per_token, unrealized_pnl_lamports, current_fees_x, current_fees_y,
	exit_price_per_token, exit_timestamp, exit_tx_signature, exit_reason,
	realized_pnl_lamports, exit_tx_cost_lamports,
	created_at, updated_at
`

// InsertPosition inserts a new position row on position:opened.
func (s *Store) InsertPosition(ctx context.Context, p PositionRow) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.PositionID, p.BotID, p.UserID, p.Status,
		p.PoolAddress, p.PoolName, p.MintX, p.MintY, p.BinStep,
		p.EntryActiveBin, p.EntryPricePerToken, p.EntryTimestamp, p.EntryAmountX, p.EntryAmountY,
		p.EntryTxSignature, p.EntryTxCostLamports, p.EntryScore, p.EntryMLProbability, p.EntryFeaturesJSON,
		p.ProfitTargetPct, p.StopLossPct, boolToInt(p.TrailingStopEnabled), p.TrailingStopPct, p.MaxHoldMinutes,
		p.HighWaterMarkPct,
		p.CurrentPricePerToken, p.UnrealizedPnlLamports, p.CurrentFeesX, p.CurrentFeesY,
		nullFloat(p.ExitPricePerToken), p.ExitTimestamp, p.ExitTxSignature, p.ExitReason,
		p.RealizedPnlLamports, p.ExitTxCostLamports,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertPosition: %w", err)
	}
	return nil
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

// UpdatePositionCheckpoint patches current_price_per_token and the
// linearly-derived unrealized P&L for a position:updated event.
func (s *Store) UpdatePositionCheckpoint(ctx context.Context, positionID string, currentPrice float64, unrealizedPnlLamports int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET current_price_per_token = ?, unrealized_pnl_lamports = ?, updated_at = ?
		WHERE position_id = ?
	`, currentPrice, unrealizedPnlLamports, time.Now().UTC(), positionID)
	if err != nil {
		return fmt.Errorf("storage.UpdatePositionCheckpoint: %w", err)
	}
	return nil
}

// CloseOutPosition writes the exit fields for a position:closed event.
func (s *Store) CloseOutPosition(ctx context.Context, p PositionRow) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			status = ?, exit_price_per_token = ?, exit_timestamp = ?, exit_tx_signature = ?,
			exit_reason = ?, realized_pnl_lamports = ?, exit_tx_cost_lamports = ?,
			current_fees_x = ?, current_fees_y = ?, updated_at = ?
		WHERE position_id = ?
	`,
		p.Status, p.ExitPricePerToken, p.ExitTimestamp, p.ExitTxSignature,
		p.ExitReason, p.RealizedPnlLamports, p.ExitTxCostLamports,
		p.CurrentFeesX, p.CurrentFeesY, time.Now().UTC(), p.PositionID,
	)
	if err != nil {
		return fmt.Errorf("storage.CloseOutPosition: %w", err)
	}
	return nil
}

func scanPositionRow(scanner interface{ Scan(...any) error }) (PositionRow, error) {
	var p PositionRow
	var trailingEnabled int
	var mlProb sql.NullFloat64
	var exitPrice sql.NullFloat64
	var exitTime sql.NullTime
	var realizedPnl sql.NullInt64
	var exitTxCost sql.NullInt64

	err := scanner.Scan(
		&p.PositionID, &p.BotID, &p.UserID, &p.Status,
		&p.PoolAddress, &p.PoolName, &p.MintX, &p.MintY, &p.BinStep,
		&p.EntryActiveBin, &p.EntryPricePerToken, &p.EntryTimestamp, &p.EntryAmountX, &p.EntryAmountY,
		&p.EntryTxSignature, &p.EntryTxCostLamports, &p.EntryScore, &mlProb, &p.EntryFeaturesJSON,
		&p.ProfitTargetPct, &p.StopLossPct, &trailingEnabled, &p.TrailingStopPct, &p.MaxHoldMinutes,
		&p.HighWaterMarkPct,
		&p.CurrentPricePerToken, &p.UnrealizedPnlLamports, &p.CurrentFeesX, &p.CurrentFeesY,
		&exitPrice, &exitTime, &p.ExitTxSignature, &p.ExitReason,
		&realizedPnl, &exitTxCost,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return PositionRow{}, err
	}
	p.TrailingStopEnabled = trailingEnabled != 0
	if mlProb.Valid {
		p.EntryMLProbability = &mlProb.Float64
	}
	if exitPrice.Valid {
		p.ExitPricePerToken = exitPrice.Float64
	}
	if exitTime.Valid {
		t := exitTime.Time
		p.ExitTimestamp = &t
	}
	if realizedPnl.Valid {
		v := realizedPnl.Int64
		p.RealizedPnlLamports = &v
	}
	if exitTxCost.Valid {
		v := exitTxCost.Int64
		p.ExitTxCostLamports = &v
	}
	return p, nil
}

// GetPosition loads a single position by its position_id.
func (s *Store) GetPosition(ctx context.Context, positionID string) (PositionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = ?`, positionID)
	p, err := scanPositionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return PositionRow{}, fmt.Errorf("storage.GetPosition: %w", ErrNotFound)
		}
		return PositionRow{}, fmt.Errorf("storage.GetPosition: %w", err)
	}
	return p, nil
}

// ListActivePositions returns every ACTIVE position for a user.
func (s *Store) ListActivePositions(ctx context.Context, userID string) ([]PositionRow, error) {
	return s.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND status = 'ACTIVE'`, userID)
}

// ListPositionHistory returns every CLOSED position for a user.
func (s *Store) ListPositionHistory(ctx context.Context, userID string) ([]PositionRow, error) {
	return s.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND status = 'CLOSED' ORDER BY exit_timestamp DESC`, userID)
}

// ListPositionsForBot returns every position ever opened by a bot.
func (s *Store) ListPositionsForBot(ctx context.Context, botID string) ([]PositionRow, error) {
	return s.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE bot_id = ? ORDER BY created_at DESC`, botID)
}

func (s *Store) queryPositions(ctx context.Context, query string, arg string) ([]PositionRow, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("storage.queryPositions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- trade log ---

// AppendTradeLog writes one audit-trail row.
func (s *Store) AppendTradeLog(ctx context.Context, e TradeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_log (bot_id, user_id, position_id, event, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.BotID, e.UserID, e.PositionID, e.Event, nonEmptyOr(e.Details, "{}"), e.Timestamp)
	if err != nil {
		return fmt.Errorf("storage.AppendTradeLog: %w", err)
	}
	return nil
}

// --- daily summaries ---

// UpsertDailySummary rolls one trade result into the bot's running daily
// summary row, keyed by bot_id + UTC calendar date.
func (s *Store) UpsertDailySummary(ctx context.Context, botID string, date string, isWin bool, pnlLamports int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (bot_id, summary_date, trades, wins, losses, pnl_lamports)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(bot_id, summary_date) DO UPDATE SET
			trades = trades + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			pnl_lamports = pnl_lamports + excluded.pnl_lamports
	`, botID, date, boolToInt(isWin), boolToInt(!isWin), pnlLamports)
	if err != nil {
		return fmt.Errorf("storage.UpsertDailySummary: %w", err)
	}
	return nil
}

// --- strategy presets ---

// InsertPreset inserts a user-owned preset and returns its assigned id.
func (s *Store) InsertPreset(ctx context.Context, p PresetRow) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_presets (user_id, name, description, is_system, config, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, p.UserID, p.Name, p.Description, p.ConfigJSON, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("storage.InsertPreset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.InsertPreset: last insert id: %w", err)
	}
	return id, nil
}

const presetColumns = `id, user_id, name, description, is_system, config, created_at`

func scanPresetRow(scanner interface{ Scan(...any) error }) (PresetRow, error) {
	var p PresetRow
	var userID sql.NullString
	var description sql.NullString
	var isSystem int
	err := scanner.Scan(&p.ID, &userID, &p.Name, &description, &isSystem, &p.ConfigJSON, &p.CreatedAt)
	if err != nil {
		return PresetRow{}, err
	}
	if userID.Valid {
		p.UserID = &userID.String
	}
	p.Description = description.String
	p.IsSystem = isSystem != 0
	return p, nil
}

// ListPresetsForUser returns every preset visible to a user: the system
// presets plus any the user created themselves.
func (s *Store) ListPresetsForUser(ctx context.Context, userID string) ([]PresetRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+presetColumns+` FROM strategy_presets
		WHERE is_system = 1 OR user_id = ?
		ORDER BY is_system DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPresetsForUser: %w", err)
	}
	defer rows.Close()

	var out []PresetRow
	for rows.Next() {
		p, err := scanPresetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListPresetsForUser: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPreset loads a single preset by id.
func (s *Store) GetPreset(ctx context.Context, id int64) (PresetRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presetColumns+` FROM strategy_presets WHERE id = ?`, id)
	p, err := scanPresetRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return PresetRow{}, fmt.Errorf("storage.GetPreset: %w", ErrNotFound)
		}
		return PresetRow{}, fmt.Errorf("storage.GetPreset: %w", err)
	}
	return p, nil
}

// DeletePreset removes a user-owned preset. Callers must have already
// verified ownership; system presets are never deletable through this path
// since they carry no user_id for a DELETE ... WHERE user_id = ? to match.
func (s *Store) DeletePreset(ctx context.Context, id int64, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategy_presets WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("storage.DeletePreset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.DeletePreset: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.DeletePreset: %w", ErrNotFound)
	}
	return nil
}

// SeedSystemPresets inserts the embedded system presets on first run,
// skipping any name that's already present so re-seeding on every startup
// stays idempotent.
func (s *Store) SeedSystemPresets(ctx context.Context, presets []PresetRow) error {
	for _, p := range presets {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategy_presets WHERE is_system = 1 AND name = ?`, p.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("storage.SeedSystemPresets: %w", err)
		}
		if exists > 0 {
			continue
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO strategy_presets (user_id, name, description, is_system, config, created_at)
			VALUES (NULL, ?, ?, 1, ?, ?)
		`, p.Name, p.Description, p.ConfigJSON, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("storage.SeedSystemPresets: insert %q: %w", p.Name, err)
		}
	}
	return nil
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = fmt.Errorf("storage: not found")
