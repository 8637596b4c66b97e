package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/executor"
	"github.com/voltaforge/dlmmbot/internal/orchestrator"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// createBotRequest is the POST /bot/create body. Its fields are stored as
// given: no preset is applied and zero-valued fields are not replaced by
// defaults.
type createBotRequest struct {
	Name         string  `json:"name"`
	Mode         string  `json:"mode"`
	StrategyMode string  `json:"strategy_mode"`

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
}

const maxBotsPerUser = 10

func (s *Server) createBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	var req createBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	switch domain.Mode(req.Mode) {
	case domain.ModeSimulation, domain.ModeLive:
	default:
		writeError(w, http.StatusBadRequest, "mode must be SIMULATION or LIVE")
		return
	}
	switch domain.StrategyMode(req.StrategyMode) {
	case domain.StrategyRuleBased, domain.StrategyML, domain.StrategyHybrid:
	default:
		writeError(w, http.StatusBadRequest, "strategy_mode must be rule_based, ml or hybrid")
		return
	}

	count, err := s.store.CountBotsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count bots: "+err.Error())
		return
	}
	if count >= maxBotsPerUser {
		writeError(w, http.StatusConflict, "maximum of 10 bots per user reached")
		return
	}

	if err := s.store.EnsureUser(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "ensure user: "+err.Error())
		return
	}

	row := storage.BotRow{
		BotID: uuid.NewString(), UserID: userID, Name: req.Name, Mode: req.Mode, StrategyMode: req.StrategyMode,

		EntryScoreThreshold: req.EntryScoreThreshold, MinLiquidity: req.MinLiquidity, MaxLiquidity: req.MaxLiquidity, MinVolume24h: req.MinVolume24h,
		PositionSizeSOL: req.PositionSizeSOL, PositionSizePercent: req.PositionSizePercent, MinPositionSOL: req.MinPositionSOL, MaxPositionSOL: req.MaxPositionSOL,
		RentReserveSOL: req.RentReserveSOL, DefaultBinRange: req.DefaultBinRange,

		ProfitTargetPct: req.ProfitTargetPct, StopLossPct: req.StopLossPct, TrailingStopEnabled: req.TrailingStopEnabled, TrailingStopPct: req.TrailingStopPct,
		MaxHoldMinutes: req.MaxHoldMinutes, MaxDailyLossSOL: req.MaxDailyLossSOL, CooldownMinutes: req.CooldownMinutes,

		ScanIntervalSeconds: req.ScanIntervalSeconds, PositionCheckIntervalSeconds: req.PositionCheckIntervalSeconds, SolPairsOnly: req.SolPairsOnly,

		SimulationInitialBalanceLamports: req.SimulationInitialBalanceLamports,
	}
	if err := s.store.CreateBot(r.Context(), row); err != nil {
		writeError(w, http.StatusInternalServerError, "create bot: "+err.Error())
		return
	}
	if err := s.store.AppendTradeLog(r.Context(), storage.TradeLogEntry{
		BotID: row.BotID, UserID: userID, Event: storage.TradeEventBotCreated, Timestamp: time.Now(),
	}); err != nil {
		s.logError("append bot_created trade log failed", err, "bot_id", row.BotID)
	}

	saved, err := s.store.GetBot(r.Context(), row.BotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload bot: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, botDTOFromRow(saved))
}

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	rows, err := s.store.ListBotsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list bots: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, botDTOs(rows))
}

// getOwnedBot loads a bot row and verifies it belongs to the authenticated
// user, writing a response and returning ok=false on any failure.
func (s *Server) getOwnedBot(w http.ResponseWriter, r *http.Request) (storage.BotRow, string, bool) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return storage.BotRow{}, "", false
	}
	botID := chi.URLParam(r, "botId")
	row, err := s.store.GetBot(r.Context(), botID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return storage.BotRow{}, "", false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get bot: "+err.Error())
		return storage.BotRow{}, "", false
	}
	if row.UserID != userID {
		writeError(w, http.StatusNotFound, "bot not found")
		return storage.BotRow{}, "", false
	}
	return row, userID, true
}

// botDetailResponse is GET /bot/:botId's body: the persisted row plus, when
// the bot is currently running, its live engine/executor snapshot.
type botDetailResponse struct {
	botDTO
	EngineStats     *domain.EngineStats            `json:"engine_stats,omitempty"`
	Performance     *executor.PerformanceSummary    `json:"performance,omitempty"`
	ActivePositions []domain.TrackedPosition        `json:"active_positions,omitempty"`
}

func (s *Server) getBot(w http.ResponseWriter, r *http.Request) {
	row, _, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	resp := botDetailResponse{botDTO: botDTOFromRow(row)}
	if rt, running := s.orchestrator.Runtime(row.BotID); running {
		resp.EngineStats = &rt.Stats
		resp.Performance = &rt.Performance
		resp.ActivePositions = rt.ActivePositions
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateBotConfig(w http.ResponseWriter, r *http.Request) {
	row, _, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	var req createBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.BotConfig{
		BotID: row.BotID, StrategyMode: domain.StrategyMode(req.StrategyMode),
		EntryScoreThreshold: req.EntryScoreThreshold, MinLiquidity: req.MinLiquidity, MaxLiquidity: req.MaxLiquidity, MinVolume24h: req.MinVolume24h,
		PositionSizeSOL: req.PositionSizeSOL, PositionSizePercent: req.PositionSizePercent, MinPositionSOL: req.MinPositionSOL, MaxPositionSOL: req.MaxPositionSOL,
		RentReserveSOL: req.RentReserveSOL, DefaultBinRange: req.DefaultBinRange,
		Risk: domain.RiskParams{
			ProfitTargetPct: req.ProfitTargetPct, StopLossPct: req.StopLossPct, TrailingStopEnabled: req.TrailingStopEnabled, TrailingStopPct: req.TrailingStopPct,
			MaxHoldMinutes: req.MaxHoldMinutes, MaxDailyLossSOL: req.MaxDailyLossSOL, CooldownMinutes: req.CooldownMinutes,
		},
		ScanIntervalSeconds: req.ScanIntervalSeconds, PositionCheckIntervalSeconds: req.PositionCheckIntervalSeconds, SolPairsOnly: req.SolPairsOnly,
		SimulationInitialBalanceLamports: req.SimulationInitialBalanceLamports,
	}

	saved, err := s.orchestrator.UpdateConfig(r.Context(), row.BotID, cfg)
	if errors.Is(err, orchestrator.ErrBotRunning) {
		writeError(w, http.StatusConflict, "stop the bot before editing its configuration")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update bot config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, botDTOFromRow(saved))
}

func (s *Server) startBot(w http.ResponseWriter, r *http.Request) {
	row, userID, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	if err := s.orchestrator.StartBot(r.Context(), row.BotID, userID); err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "bot is already running")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "start bot: "+err.Error())
		return
	}
	if err := s.store.AppendTradeLog(r.Context(), storage.TradeLogEntry{
		BotID: row.BotID, UserID: userID, Event: storage.TradeEventBotStarted, Timestamp: time.Now(),
	}); err != nil {
		s.logError("append bot_started trade log failed", err, "bot_id", row.BotID)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) stopBot(w http.ResponseWriter, r *http.Request) {
	row, userID, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	if err := s.orchestrator.StopBot(r.Context(), row.BotID); err != nil {
		writeError(w, http.StatusInternalServerError, "stop bot: "+err.Error())
		return
	}
	if err := s.store.AppendTradeLog(r.Context(), storage.TradeLogEntry{
		BotID: row.BotID, UserID: userID, Event: storage.TradeEventBotStopped, Timestamp: time.Now(),
	}); err != nil {
		s.logError("append bot_stopped trade log failed", err, "bot_id", row.BotID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) emergencyStopBot(w http.ResponseWriter, r *http.Request) {
	row, _, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}
	if err := s.orchestrator.EmergencyStop(r.Context(), row.BotID, req.Reason); err != nil {
		if errors.Is(err, orchestrator.ErrNotRunning) {
			writeError(w, http.StatusConflict, "bot is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, "emergency stop: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "emergency_stopping"})
}

func (s *Server) deleteBot(w http.ResponseWriter, r *http.Request) {
	row, _, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	if row.Status == string(domain.BotStatusRunning) {
		writeError(w, http.StatusConflict, "stop the bot before deleting it")
		return
	}
	if err := s.store.DeleteBot(r.Context(), row.BotID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete bot: "+err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
