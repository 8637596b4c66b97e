package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/safety"
)

type stubChain struct {
	balance      int64
	createErr    error
	closeErr     error
	feesX, feesY int64
}

func (s *stubChain) WalletBalance(ctx context.Context) (int64, error) {
	return s.balance, nil
}

func (s *stubChain) CreatePosition(ctx context.Context, req CreatePositionRequest) (CreatePositionResult, error) {
	if s.createErr != nil {
		return CreatePositionResult{}, s.createErr
	}
	return CreatePositionResult{PositionAddress: "pos-addr", Signature: "sig-open", FeeLamports: 5000}, nil
}

func (s *stubChain) ClosePosition(ctx context.Context, req ClosePositionRequest) (ClosePositionResult, error) {
	if s.closeErr != nil {
		return ClosePositionResult{}, s.closeErr
	}
	return ClosePositionResult{Signatures: []string{"sig-close"}, FeesX: s.feesX, FeesY: s.feesY, TotalFeeLamports: 10000}, nil
}

func (s *stubChain) OnChainFees(ctx context.Context, positionAddress string) (int64, int64, error) {
	return s.feesX, s.feesY, nil
}

type stubSwap struct{}

func (stubSwap) SwapToSOL(ctx context.Context, mint string, amount int64) (string, error) {
	return "swap-sig", nil
}

func TestLiveExecutor_OpenGatesOnEmergencyStop(t *testing.T) {
	stop := safety.New(safety.Limits{})
	stop.ManualTrigger("halted for test")
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{})
	exec := NewLiveExecutor(&stubChain{balance: 1_000_000_000}, stubSwap{}, stop, breaker)

	_, err := exec.Open(context.Background(), domain.Pool{Address: "pool-1"}, Strategy{}, 100, 100)
	assert.ErrorContains(t, err, "emergency stop")
}

func TestLiveExecutor_OpenAdjustsSizeForLowBalance(t *testing.T) {
	stop := safety.New(safety.Limits{})
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{CooldownMs: 0})
	chain := &stubChain{balance: rentReserveLamports + minPositionLamports + 1000}
	exec := NewLiveExecutor(chain, stubSwap{}, stop, breaker)

	res, err := exec.Open(context.Background(), domain.Pool{Address: "pool-1"}, Strategy{
		ActiveBin: domain.ActiveBin{BinID: 1, Price: 1.0},
	}, 1_000_000_000, 1_000_000_000)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
}

func TestLiveExecutor_OpenFailsBelowMinimumAfterAdjustment(t *testing.T) {
	stop := safety.New(safety.Limits{})
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{CooldownMs: 0})
	chain := &stubChain{balance: rentReserveLamports + 100}
	exec := NewLiveExecutor(chain, stubSwap{}, stop, breaker)

	_, err := exec.Open(context.Background(), domain.Pool{Address: "pool-1"}, Strategy{}, 1_000_000_000, 1_000_000_000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLiveExecutor_CreatePositionFailurePropagatesError(t *testing.T) {
	stop := safety.New(safety.Limits{MaxTxFailuresPerHour: 1})
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{CooldownMs: 0})
	chain := &stubChain{balance: 10_000_000_000, createErr: errors.New("rpc down")}
	exec := NewLiveExecutor(chain, stubSwap{}, stop, breaker)

	_, err := exec.Open(context.Background(), domain.Pool{Address: "pool-1"}, Strategy{
		ActiveBin: domain.ActiveBin{BinID: 1, Price: 1.0},
	}, 100_000, 100_000)
	require.Error(t, err)

	// Recording the tx failure to the emergency-stop is the engine's
	// responsibility, not the executor's, so CanTrade is unaffected here.
	d := stop.CanTrade()
	assert.True(t, d.Allowed)
}

func TestLiveExecutor_CloseTakesMaxOfPriorAndOnChainFees(t *testing.T) {
	stop := safety.New(safety.Limits{})
	breaker := safety.NewCircuitBreaker(safety.CircuitBreakerLimits{CooldownMs: 0})
	chain := &stubChain{balance: 10_000_000_000, feesX: 500, feesY: 500}
	exec := NewLiveExecutor(chain, stubSwap{}, stop, breaker)

	res, err := exec.Open(context.Background(), domain.Pool{Address: "pool-1"}, Strategy{
		ActiveBin: domain.ActiveBin{BinID: 1, Price: 1.0},
	}, 1_000_000, 1_000_000)
	require.NoError(t, err)

	exec.UpdatePrice(res.ID, 1.0)
	_, err = exec.Update(context.Background(), res.ID)
	require.NoError(t, err)

	closeRes, err := exec.Close(context.Background(), res.ID, domain.ExitManual)
	require.NoError(t, err)
	assert.Equal(t, int64(500), closeRes.FeesXLamports)
}
