package domain

import "time"

// EventKind identifies the type of a BotEvent for type switches, mirroring
// volaticloud's pubsub.EventType pattern generalized to the per-bot engine
// lifecycle described in spec §4.6-§4.8.
type EventKind string

const (
	EventEngineStarted   EventKind = "engine:started"
	EventEngineStopped   EventKind = "engine:stopped"
	EventEngineError     EventKind = "engine:error"
	EventScanCompleted   EventKind = "scan:completed"
	EventPositionOpened  EventKind = "position:opened"
	EventPositionUpdated EventKind = "position:updated"
	EventPositionClosed  EventKind = "position:closed"
)

// BotEvent is the typed payload the engine emits and the orchestrator
// bridges to durable storage and the event bus.
type BotEvent struct {
	Kind      EventKind
	BotID     string
	UserID    string
	Timestamp time.Time
	Payload   any
}

// ScanCompletedPayload is attached to EventScanCompleted.
type ScanCompletedPayload struct {
	Eligible int
	Entered  int
}

// PositionOpenedPayload is attached to EventPositionOpened.
type PositionOpenedPayload struct {
	Position TrackedPosition
}

// PositionUpdatedPayload is attached to EventPositionUpdated.
type PositionUpdatedPayload struct {
	PositionID           string
	CurrentPricePerToken float64
	UnrealizedPnlLamports int64
}

// PositionClosedPayload is attached to EventPositionClosed.
type PositionClosedPayload struct {
	Position TrackedPosition
	IsWin    bool
}

// EngineErrorPayload is attached to EventEngineError.
type EngineErrorPayload struct {
	Reason string
}

// EngineStoppedPayload is attached to EventEngineStopped.
type EngineStoppedPayload struct {
	Stats EngineStats
}

// EngineStats are the transient per-engine counters reset on each start.
type EngineStats struct {
	TotalScans        int
	PositionsOpened   int
	PositionsClosed   int
	Wins              int
	Losses            int
	CumulativePnLSOL  float64
	StartTime         time.Time
}
