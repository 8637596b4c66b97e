// Package executor implements the abstract open/close/update contract
// behind which the simulation and live trading paths sit, the same
// polymorphic-behind-one-capability-set shape as polybot's
// ports.OrderExecutor / ports.MergeExecutor pair, generalised to a single
// interface since both DLMM modes share one tracked-position lifecycle.
package executor

import (
	"context"
	"errors"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

var (
	ErrPositionNotFound = errors.New("executor: position not found")
	ErrInsufficientBalance = errors.New("executor: insufficient balance after sizing")
)

// OpenResult is returned by a successful Open.
type OpenResult struct {
	ID        string
	Signature string
}

// CloseResult is returned by a successful Close.
type CloseResult struct {
	Signature      string
	RealisedPnL    int64 // lamports
	FeesXLamports  int64
	FeesYLamports  int64
}

// PerformanceSummary aggregates an executor's lifetime trade record.
type PerformanceSummary struct {
	Total           int
	Wins            int
	Losses          int
	WinRate         float64
	CumulativePnL   int64 // lamports
	BalanceLamports int64
}

// Executor is the capability set both the simulation and live trading
// paths implement. Both own an in-memory map of tracked positions keyed by
// position id.
type Executor interface {
	Open(ctx context.Context, pool domain.Pool, strategy Strategy, amountX, amountY int64) (OpenResult, error)
	Close(ctx context.Context, id string, reason string) (CloseResult, error)
	Update(ctx context.Context, id string) (*domain.TrackedPosition, error)
	// UpdatePrice records a market-read price ahead of Update, which only
	// refreshes fees/high-water-mark bookkeeping. A no-op for unknown ids.
	UpdatePrice(id string, price float64)
	ActivePositions() []domain.TrackedPosition
	Balance(ctx context.Context) (int64, error)
	PerformanceSummary() PerformanceSummary
}

// Strategy is the sizing/scoring context attached to a position at entry
// time, threaded through from the engine so the executor never needs to
// know about scoring internals.
type Strategy struct {
	ActiveBin       domain.ActiveBin
	BinRange        int
	Score           float64
	MLProbability   *float64
	Features        domain.FeatureVector
	// Risk is the bot's configured risk parameters, snapshotted onto the
	// position at entry so exitDecision evaluates against the thresholds
	// that were live when the position opened rather than whatever the
	// bot config has drifted to since.
	Risk domain.RiskSnapshot
}
