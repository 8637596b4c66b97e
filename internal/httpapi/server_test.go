package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/eventbus"
	"github.com/voltaforge/dlmmbot/internal/httpapi"
	"github.com/voltaforge/dlmmbot/internal/orchestrator"
	"github.com/voltaforge/dlmmbot/internal/safety"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

type emptyUpstream struct{}

func (emptyUpstream) FetchAllPools(ctx context.Context) ([]domain.Pool, error) { return nil, nil }
func (emptyUpstream) FetchPool(ctx context.Context, address string) (domain.Pool, error) {
	return domain.Pool{}, nil
}

type testServer struct {
	handler http.Handler
	store   *storage.Store
	tokens  *httpapi.TokenIssuer
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New()
	orch := orchestrator.New(orchestrator.Config{
		Store: store, Bus: bus, Cache: cache.New(emptyUpstream{}), Chain: nil,
		MaxConcurrentPositions: 5,
		CircuitBreakerLimits:   safety.CircuitBreakerLimits{MaxOpenPositions: 5, MaxTxPerMinute: 100},
	})
	tokens := httpapi.NewTokenIssuer("test-secret", "dlmmbot-test", time.Hour)

	handler := httpapi.New(httpapi.Deps{
		Store: store, Orchestrator: orch, Bus: bus, Tokens: tokens,
		CORSOrigins: []string{"*"},
	})
	return testServer{handler: handler, store: store, tokens: tokens}
}

func (ts testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(blob)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts testServer) token(t *testing.T, wallet string) string {
	t.Helper()
	tok, err := ts.tokens.IssueAccessToken(wallet)
	require.NoError(t, err)
	return tok
}

func TestHealth_RequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoute_RejectsMissingAndInvalidTokens(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/bot/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/bot/list", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func sampleCreateRequest() map[string]any {
	return map[string]any{
		"name": "my bot", "mode": "SIMULATION", "strategy_mode": "rule_based",
		"entry_score_threshold": 150, "min_position_sol": 0.1, "max_position_sol": 1,
		"rent_reserve_sol": 0.03, "default_bin_range": 10,
		"profit_target_pct": 5, "stop_loss_pct": 10, "max_hold_minutes": 60,
		"max_daily_loss_sol": 1, "cooldown_minutes": 15,
		"scan_interval_seconds": 60, "position_check_interval_seconds": 10,
		"sol_pairs_only": true, "simulation_initial_balance_lamports": 10_000_000_000,
	}
}

func TestCreateBot_PersistsAndReturnsBot(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	rec := ts.do(t, http.MethodPost, "/bot/create", tok, sampleCreateRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "my bot", body["name"])
	assert.Equal(t, "stopped", body["status"])
	assert.NotEmpty(t, body["bot_id"])

	rows, err := ts.store.ListBotsForUser(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCreateBot_RejectsInvalidMode(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	req := sampleCreateRequest()
	req["mode"] = "BOGUS"
	rec := ts.do(t, http.MethodPost, "/bot/create", tok, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBot_EnforcesPerUserCap(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	for i := 0; i < 10; i++ {
		rec := ts.do(t, http.MethodPost, "/bot/create", tok, sampleCreateRequest())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := ts.do(t, http.MethodPost, "/bot/create", tok, sampleCreateRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBot_RejectsOtherUsersBot(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, "wallet-owner")
	other := ts.token(t, "wallet-other")

	rec := ts.do(t, http.MethodPost, "/bot/create", owner, sampleCreateRequest())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	botID := created["bot_id"].(string)

	rec = ts.do(t, http.MethodGet, "/bot/"+botID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/bot/"+botID, owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartStopBot_RoundTripsThroughOrchestrator(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	rec := ts.do(t, http.MethodPost, "/bot/create", tok, sampleCreateRequest())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	botID := created["bot_id"].(string)

	rec = ts.do(t, http.MethodPost, "/bot/"+botID+"/start", tok, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/bot/"+botID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.NotNil(t, detail["engine_stats"])

	// starting again while already running is a conflict
	rec = ts.do(t, http.MethodPost, "/bot/"+botID+"/start", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// config edits are rejected while running
	rec = ts.do(t, http.MethodPut, "/bot/"+botID+"/config", tok, sampleCreateRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/bot/"+botID+"/stop", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/bot/"+botID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Nil(t, detail["engine_stats"])
}

func TestDeleteBot_RejectsWhileRunningAndSucceedsWhileStopped(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	rec := ts.do(t, http.MethodPost, "/bot/create", tok, sampleCreateRequest())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	botID := created["bot_id"].(string)

	rec = ts.do(t, http.MethodPost, "/bot/"+botID+"/start", tok, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/bot/"+botID, tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/bot/"+botID+"/stop", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/bot/"+botID, tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/bot/"+botID, tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClosePosition_RejectsUnknownPosition(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	rec := ts.do(t, http.MethodPost, "/position/does-not-exist/close", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMLHealth_ReportsUnavailableWithoutPredictor(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "wallet-1")

	rec := ts.do(t, http.MethodGet, "/ml/health", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body["status"])
}
