package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBot(botID, userID string) storage.BotRow {
	return storage.BotRow{
		BotID: botID, UserID: userID, Name: "test bot", Mode: "simulation", StrategyMode: "rule_based",
		EntryScoreThreshold: 150, MaxPositionSOL: 1, MinPositionSOL: 0.1,
		RentReserveSOL: 0.03, DefaultBinRange: 10,
		ProfitTargetPct: 5, StopLossPct: 10, MaxHoldMinutes: 60,
		MaxDailyLossSOL: 1, CooldownMinutes: 15,
		ScanIntervalSeconds: 60, PositionCheckIntervalSeconds: 10,
		SolPairsOnly: true, MintBlacklistJSON: "[]",
		SimulationInitialBalanceLamports: 10_000_000_000,
	}
}

func TestCreateAndGetBot_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	got, err := s.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	require.Equal(t, "wallet-1", got.UserID)
	require.Equal(t, "stopped", got.Status)
	require.True(t, got.SolPairsOnly)
}

func TestGetBot_NotFoundWrapsSentinel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBot(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountBotsForUser_ReflectsInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-2", "wallet-1")))

	n, err := s.CountBotsForUser(ctx, "wallet-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestUpdateBotStatus_PersistsLastError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	msg := "upstream unreachable"
	require.NoError(t, s.UpdateBotStatus(ctx, "bot-1", "error", &msg))

	got, err := s.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	require.Equal(t, "error", got.Status)
	require.NotNil(t, got.LastError)
	require.Equal(t, msg, *got.LastError)
}

func TestBumpBotStats_AccumulatesAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	require.NoError(t, s.BumpBotStats(ctx, "bot-1", true, 500_000))
	require.NoError(t, s.BumpBotStats(ctx, "bot-1", false, -200_000))

	got, err := s.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.TotalTrades)
	require.Equal(t, 1, got.WinningTrades)
	require.Equal(t, int64(300_000), got.TotalPnlLamports)
}

func TestDeleteBot_CascadesPositionsAndTradeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, s.InsertPosition(ctx, samplePosition("pos-1", "bot-1", "wallet-1")))
	require.NoError(t, s.AppendTradeLog(ctx, storage.TradeLogEntry{
		BotID: "bot-1", UserID: "wallet-1", Event: storage.TradeEventBotCreated, Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteBot(ctx, "bot-1"))

	_, err := s.GetBot(ctx, "bot-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	active, err := s.ListActivePositions(ctx, "wallet-1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func samplePosition(id, botID, userID string) storage.PositionRow {
	return storage.PositionRow{
		PositionID: id, BotID: botID, UserID: userID, Status: "ACTIVE",
		PoolAddress: "pool-abc", PoolName: "SOL/USDC", MintX: "So111", MintY: "EPjF", BinStep: 20,
		EntryActiveBin: 100, EntryPricePerToken: 1.0, EntryTimestamp: time.Now().UTC(),
		EntryAmountX: 500_000_000, EntryAmountY: 500_000_000,
		EntryTxSignature: "sig-entry", EntryTxCostLamports: 5000, EntryScore: 180,
		EntryFeaturesJSON:    "[]",
		ProfitTargetPct:      5,
		StopLossPct:          10,
		MaxHoldMinutes:       60,
		CurrentPricePerToken: 1.0,
	}
}

func TestInsertAndCloseOutPosition_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, s.InsertPosition(ctx, samplePosition("pos-1", "bot-1", "wallet-1")))

	active, err := s.ListActivePositions(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	closed := active[0]
	closed.Status = "CLOSED"
	closed.ExitPricePerToken = 1.06
	now := time.Now().UTC()
	closed.ExitTimestamp = &now
	closed.ExitTxSignature = "sig-exit"
	closed.ExitReason = "take_profit"
	pnl := int64(6_000_000)
	closed.RealizedPnlLamports = &pnl
	txCost := int64(5000)
	closed.ExitTxCostLamports = &txCost

	require.NoError(t, s.CloseOutPosition(ctx, closed))

	history, err := s.ListPositionHistory(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "take_profit", history[0].ExitReason)
	require.NotNil(t, history[0].RealizedPnlLamports)
	require.Equal(t, int64(6_000_000), *history[0].RealizedPnlLamports)
}

func TestUpsertDailySummary_AccumulatesSameDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	require.NoError(t, s.UpsertDailySummary(ctx, "bot-1", "2026-07-31", true, 1_000_000))
	require.NoError(t, s.UpsertDailySummary(ctx, "bot-1", "2026-07-31", false, -500_000))

	// there is no getter for daily_summaries, so this checks only that the
	// repeated bot_id+date upsert above takes the ON CONFLICT path without
	// error and that a new date inserts a fresh row.
	require.NoError(t, s.UpsertDailySummary(ctx, "bot-1", "2026-08-01", true, 200_000))
}

func TestSaveAndRecoverEmergencyStopState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	blob := []byte(`{"triggered":false,"daily_pnl":0,"total_pnl":0}`)
	require.NoError(t, s.SaveEmergencyStopState(ctx, "bot-1", blob))

	got, err := s.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	require.Equal(t, blob, got.EmergencyStopState)
}

func TestListRunningBots_OnlyReturnsRunningStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, s.CreateBot(ctx, sampleBot("bot-2", "wallet-1")))
	require.NoError(t, s.UpdateBotStatus(ctx, "bot-1", "running", nil))

	running, err := s.ListRunningBots(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "bot-1", running[0].BotID)
}
