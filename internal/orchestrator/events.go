package orchestrator

import (
	"context"
	"log/slog"
	"math"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

// handleEngineEvent is the persistence bridge described in §4.7: every
// engine is constructed with this bound as its OnEvent callback, so all
// writes for a given bot happen serially on whatever goroutine the engine
// itself used to emit — no cross-event ordering is introduced here.
// Each branch decides for itself whether the event is also worth forwarding
// to the bus; position:updated and a quiet scan are persisted but not
// broadcast.
func (o *Orchestrator) handleEngineEvent(ev domain.BotEvent) {
	ctx := context.Background()

	switch ev.Kind {
	case domain.EventPositionOpened:
		o.onPositionOpened(ctx, ev)
		o.emit(ctx, ev.Kind, ev.BotID, ev.UserID, ev.Payload)
	case domain.EventPositionClosed:
		o.onPositionClosed(ctx, ev)
		o.emit(ctx, ev.Kind, ev.BotID, ev.UserID, ev.Payload)
	case domain.EventPositionUpdated:
		o.onPositionUpdated(ctx, ev)
	case domain.EventScanCompleted:
		o.onScanCompleted(ctx, ev)
	case domain.EventEngineStarted, domain.EventEngineStopped:
		o.emit(ctx, ev.Kind, ev.BotID, ev.UserID, ev.Payload)
	case domain.EventEngineError:
		o.onEngineError(ctx, ev)
		o.emit(ctx, ev.Kind, ev.BotID, ev.UserID, ev.Payload)
	}
}

func (o *Orchestrator) onPositionOpened(ctx context.Context, ev domain.BotEvent) {
	payload, ok := ev.Payload.(domain.PositionOpenedPayload)
	if !ok {
		slog.Error("orchestrator: position:opened payload type mismatch", "bot_id", ev.BotID)
		return
	}
	row, err := positionRowFromTracked(payload.Position, ev.BotID, ev.UserID, positionStatusActive)
	if err != nil {
		slog.Error("orchestrator: encode opened position failed", "bot_id", ev.BotID, "error", err)
		return
	}
	if err := o.store.InsertPosition(ctx, row); err != nil {
		slog.Error("orchestrator: persist opened position failed", "bot_id", ev.BotID, "position_id", payload.Position.ID, "error", err)
		return
	}
	if err := o.store.AppendTradeLog(ctx, storage.TradeLogEntry{
		BotID:      ev.BotID,
		UserID:     ev.UserID,
		PositionID: strPtr(payload.Position.ID),
		Event:      storage.TradeEventPositionOpened,
		Timestamp:  ev.Timestamp,
	}); err != nil {
		slog.Error("orchestrator: append trade log failed", "bot_id", ev.BotID, "error", err)
	}
	if err := o.store.BumpActivity(ctx, ev.BotID); err != nil {
		slog.Error("orchestrator: bump activity failed", "bot_id", ev.BotID, "error", err)
	}
}

func (o *Orchestrator) onPositionClosed(ctx context.Context, ev domain.BotEvent) {
	payload, ok := ev.Payload.(domain.PositionClosedPayload)
	if !ok {
		slog.Error("orchestrator: position:closed payload type mismatch", "bot_id", ev.BotID)
		return
	}
	row, err := positionRowFromTracked(payload.Position, ev.BotID, ev.UserID, positionStatusClosed)
	if err != nil {
		slog.Error("orchestrator: encode closed position failed", "bot_id", ev.BotID, "error", err)
		return
	}
	if err := o.store.CloseOutPosition(ctx, row); err != nil {
		slog.Error("orchestrator: persist closed position failed", "bot_id", ev.BotID, "position_id", payload.Position.ID, "error", err)
	}

	if err := o.store.BumpBotStats(ctx, ev.BotID, payload.IsWin, payload.Position.RealizedPnlLamports); err != nil {
		slog.Error("orchestrator: bump bot stats failed", "bot_id", ev.BotID, "error", err)
	}
	if err := o.store.UpsertDailySummary(ctx, ev.BotID, dailySummaryDate(ev.Timestamp), payload.IsWin, payload.Position.RealizedPnlLamports); err != nil {
		slog.Error("orchestrator: upsert daily summary failed", "bot_id", ev.BotID, "error", err)
	}

	label := "LOSS"
	if payload.IsWin {
		label = "WIN"
	}
	if err := o.store.AppendTradeLog(ctx, storage.TradeLogEntry{
		BotID:      ev.BotID,
		UserID:     ev.UserID,
		PositionID: strPtr(payload.Position.ID),
		Event:      storage.TradeEventPositionClosed,
		Details:    `{"result":"` + label + `"}`,
		Timestamp:  ev.Timestamp,
	}); err != nil {
		slog.Error("orchestrator: append trade log failed", "bot_id", ev.BotID, "error", err)
	}

	// The engine has already recorded the trade result against its safety
	// object; flush the resulting state now so a crash immediately after a
	// close doesn't lose a trigger transition.
	o.mu.RLock()
	rb, ok := o.running[ev.BotID]
	o.mu.RUnlock()
	if !ok {
		return
	}
	blob, err := rb.stop.Serialise()
	if err != nil {
		slog.Error("orchestrator: serialise emergency stop after close failed", "bot_id", ev.BotID, "error", err)
		return
	}
	if err := o.store.SaveEmergencyStopState(ctx, ev.BotID, blob); err != nil {
		slog.Error("orchestrator: persist emergency stop state after close failed", "bot_id", ev.BotID, "error", err)
	}
}

func (o *Orchestrator) onPositionUpdated(ctx context.Context, ev domain.BotEvent) {
	payload, ok := ev.Payload.(domain.PositionUpdatedPayload)
	if !ok || math.IsNaN(payload.CurrentPricePerToken) || math.IsInf(payload.CurrentPricePerToken, 0) {
		return
	}
	if err := o.store.UpdatePositionCheckpoint(ctx, payload.PositionID, payload.CurrentPricePerToken, payload.UnrealizedPnlLamports); err != nil {
		slog.Error("orchestrator: persist position checkpoint failed", "bot_id", ev.BotID, "position_id", payload.PositionID, "error", err)
	}
}

func (o *Orchestrator) onScanCompleted(ctx context.Context, ev domain.BotEvent) {
	if err := o.store.BumpActivity(ctx, ev.BotID); err != nil {
		slog.Error("orchestrator: bump activity after scan failed", "bot_id", ev.BotID, "error", err)
	}
	payload, ok := ev.Payload.(domain.ScanCompletedPayload)
	if ok && payload.Entered == 0 {
		return
	}
	o.emit(ctx, ev.Kind, ev.BotID, ev.UserID, ev.Payload)
}

func (o *Orchestrator) onEngineError(ctx context.Context, ev domain.BotEvent) {
	payload, ok := ev.Payload.(domain.EngineErrorPayload)
	reason := "engine error"
	if ok {
		reason = payload.Reason
	}
	if err := o.store.UpdateBotStatus(ctx, ev.BotID, string(domain.BotStatusError), &reason); err != nil {
		slog.Error("orchestrator: persist engine error status failed", "bot_id", ev.BotID, "error", err)
	}
}
