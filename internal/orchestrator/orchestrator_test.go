package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/eventbus"
	"github.com/voltaforge/dlmmbot/internal/orchestrator"
	"github.com/voltaforge/dlmmbot/internal/safety"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// emptyUpstream reports no pools, so a started engine's scan loop never
// finds a candidate and every test here is only exercising bot lifecycle,
// not trade execution (that belongs to the engine's own test suite).
type emptyUpstream struct{}

func (emptyUpstream) FetchAllPools(ctx context.Context) ([]domain.Pool, error) { return nil, nil }
func (emptyUpstream) FetchPool(ctx context.Context, address string) (domain.Pool, error) {
	return domain.Pool{}, nil
}

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *storage.Store, *eventbus.Bus) {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New()
	sharedCache := cache.New(emptyUpstream{})

	orch := orchestrator.New(orchestrator.Config{
		Store: store, Bus: bus, Cache: sharedCache, Chain: nil,
		MaxConcurrentPositions: 5,
		CircuitBreakerLimits:   safety.CircuitBreakerLimits{MaxOpenPositions: 5, MaxTxPerMinute: 100},
	})
	return orch, store, bus
}

func sampleBot(botID, userID string) storage.BotRow {
	return storage.BotRow{
		BotID: botID, UserID: userID, Name: "test bot", Mode: "SIMULATION", StrategyMode: "rule_based",
		EntryScoreThreshold: 150, MaxPositionSOL: 1, MinPositionSOL: 0.1, PositionSizeSOL: 0.5,
		RentReserveSOL: 0.03, DefaultBinRange: 10,
		ProfitTargetPct: 5, StopLossPct: 10, MaxHoldMinutes: 60,
		MaxDailyLossSOL: 1, CooldownMinutes: 15,
		ScanIntervalSeconds: 60, PositionCheckIntervalSeconds: 10,
		SolPairsOnly: true, MintBlacklistJSON: "[]",
		SimulationInitialBalanceLamports: 10_000_000_000,
	}
}

func TestStartBot_PersistsRunningStatusAndRejectsDoubleStart(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	require.NoError(t, orch.StartBot(ctx, "bot-1", "wallet-1"))
	defer orch.StopAll(ctx)

	row, err := store.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "running", row.Status)

	err = orch.StartBot(ctx, "bot-1", "wallet-1")
	assert.ErrorIs(t, err, orchestrator.ErrAlreadyRunning)
}

func TestStopBot_IsIdempotentAndPersistsStoppedStatus(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, orch.StartBot(ctx, "bot-1", "wallet-1"))

	require.NoError(t, orch.StopBot(ctx, "bot-1"))
	row, err := store.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "stopped", row.Status)

	// stopping an already-stopped bot succeeds without error
	require.NoError(t, orch.StopBot(ctx, "bot-1"))
}

func TestRuntime_ReportsLiveStatsOnlyWhileRunning(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	_, ok := orch.Runtime("bot-1")
	assert.False(t, ok)

	require.NoError(t, orch.StartBot(ctx, "bot-1", "wallet-1"))
	defer orch.StopAll(ctx)

	rt, ok := orch.Runtime("bot-1")
	require.True(t, ok)
	assert.NotNil(t, rt.ActivePositions)
	assert.False(t, rt.Stats.StartTime.IsZero())
}

func TestUpdateConfig_RejectsWhileRunningAndPersistsWhileStopped(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, orch.StartBot(ctx, "bot-1", "wallet-1"))

	cfg := domain.BotConfig{StrategyMode: domain.StrategyRuleBased, EntryScoreThreshold: 999, MaxPositionSOL: 2, MinPositionSOL: 0.1}
	_, err := orch.UpdateConfig(ctx, "bot-1", cfg)
	assert.ErrorIs(t, err, orchestrator.ErrBotRunning)

	require.NoError(t, orch.StopBot(ctx, "bot-1"))

	saved, err := orch.UpdateConfig(ctx, "bot-1", cfg)
	require.NoError(t, err)
	assert.Equal(t, 999.0, saved.EntryScoreThreshold)
	// identity columns survive the patch untouched
	assert.Equal(t, "bot-1", saved.BotID)
	assert.Equal(t, "wallet-1", saved.UserID)
	assert.Equal(t, "test bot", saved.Name)
}

func TestCloseManually_ReturnsErrNotRunningForStoppedBot(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	err := orch.CloseManually(ctx, "bot-1", "pos-1")
	assert.ErrorIs(t, err, orchestrator.ErrNotRunning)
}

func TestEmergencyStop_ReturnsErrNotRunningForStoppedBot(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	err := orch.EmergencyStop(ctx, "bot-1", "manual test")
	assert.ErrorIs(t, err, orchestrator.ErrNotRunning)
}

func TestRecoverRunningBots_RestartsOnlyPersistedRunningBots(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-2", "wallet-1")))
	require.NoError(t, store.UpdateBotStatus(ctx, "bot-1", "running", nil))

	recovered, err := orch.RecoverRunningBots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	defer orch.StopAll(ctx)

	_, ok := orch.Runtime("bot-1")
	assert.True(t, ok)
	_, ok = orch.Runtime("bot-2")
	assert.False(t, ok)
}

func TestStartBot_LiveModeWithoutFactoryFailsFastAndMarksError(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	row := sampleBot("bot-1", "wallet-1")
	row.Mode = "LIVE"
	require.NoError(t, store.CreateBot(ctx, row))

	err := orch.StartBot(ctx, "bot-1", "wallet-1")
	require.Error(t, err)

	got, gerr := store.GetBot(ctx, "bot-1")
	require.NoError(t, gerr)
	assert.Equal(t, "error", got.Status)
	require.NotNil(t, got.LastError)
}

func TestBusReceivesEngineStartedThroughOrchestratorBridge(t *testing.T) {
	// A full scan-to-entry path belongs to the engine's own test suite;
	// here we only confirm the orchestrator's bus bridge is wired by
	// subscribing before start and waiting for the engine:started event
	// within a short window, proving
	// handleEngineEvent is actually invoked end-to-end.
	orch, store, bus := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, "wallet-1"))
	require.NoError(t, store.CreateBot(ctx, sampleBot("bot-1", "wallet-1")))

	received := make(chan domain.BotEvent, 8)
	unsub := bus.SubscribeBot("bot-1", func(ev domain.BotEvent) { received <- ev })
	defer unsub()

	require.NoError(t, orch.StartBot(ctx, "bot-1", "wallet-1"))
	defer orch.StopAll(ctx)

	select {
	case ev := <-received:
		assert.Equal(t, domain.EventEngineStarted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine:started event on the bus")
	}
}
