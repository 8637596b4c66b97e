// Package safety holds the per-bot financial kill switch (EmergencyStop) and
// throttle (CircuitBreaker). Both generalise the gate-and-trigger shape of
// polybot's domain.CircuitBreaker — IsOpen/RecordLoss/RecordWin — into the
// richer multi-trigger, persisted version this spec requires.
package safety

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Decision is the result of a can-trade / can-open gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Limits bounds the trigger thresholds an EmergencyStop evaluates. These
// come from BotConfig.Risk plus two process-wide defaults for the rolling
// failure windows.
type Limits struct {
	MaxDailyLossSOL      float64
	MaxTotalLossSOL      float64
	MaxConsecutiveLosses int
	MaxTxFailuresPerHour int
	MaxAPIErrorsPerHour  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxConsecutiveLosses <= 0 {
		l.MaxConsecutiveLosses = 5
	}
	if l.MaxTxFailuresPerHour <= 0 {
		l.MaxTxFailuresPerHour = 10
	}
	if l.MaxAPIErrorsPerHour <= 0 {
		l.MaxAPIErrorsPerHour = 20
	}
	return l
}

// Callback is invoked exactly once per trigger transition. Panics and errors
// from a callback are caught and logged; they never propagate back into the
// caller of RecordTradeResult/CanTrade.
type Callback func(reason string)

// EmergencyStop is a per-bot, stateful financial kill switch.
type EmergencyStop struct {
	mu sync.Mutex

	limits Limits

	killSwitch        bool
	triggered         bool
	triggerReason     string
	triggeredAt        time.Time
	totalTriggers      int

	dailyPnL          float64
	totalPnL          float64
	consecutiveLosses int
	resetDate         string // UTC date, YYYY-MM-DD

	txFailures []time.Time
	apiErrors  []time.Time

	callbacks []Callback
}

// New builds an EmergencyStop with fresh state, resetDate pinned to today.
func New(limits Limits) *EmergencyStop {
	return &EmergencyStop{
		limits:    limits.withDefaults(),
		resetDate: utcDate(time.Now()),
	}
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// OnTrigger registers a callback invoked when CanTrade causes a fresh
// trigger. Registration order is preserved; callbacks fire in that order.
func (e *EmergencyStop) OnTrigger(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// CanTrade evaluates the gate conditions in the mandated order, performing
// the lazy daily reset first.
func (e *EmergencyStop) CanTrade() Decision {
	e.mu.Lock()
	e.maybeResetDaily()

	if e.killSwitch {
		d := deny("kill switch active")
		e.mu.Unlock()
		return d
	}
	if e.triggered {
		d := deny(e.triggerReason)
		e.mu.Unlock()
		return d
	}

	var newlyTriggeredReason string
	switch {
	case e.dailyPnL <= -e.limits.MaxDailyLossSOL:
		newlyTriggeredReason = fmt.Sprintf("Emergency stop: Daily loss limit reached (%.4f SOL)", e.dailyPnL)
	case e.limits.MaxTotalLossSOL > 0 && e.totalPnL <= -e.limits.MaxTotalLossSOL:
		newlyTriggeredReason = fmt.Sprintf("Emergency stop: Total loss limit reached (%.4f SOL)", e.totalPnL)
	case e.consecutiveLosses >= e.limits.MaxConsecutiveLosses:
		newlyTriggeredReason = fmt.Sprintf("Emergency stop: %d consecutive losses", e.consecutiveLosses)
	case e.countRecent(e.txFailures) >= e.limits.MaxTxFailuresPerHour:
		newlyTriggeredReason = "Emergency stop: transaction failure rate exceeded"
	case e.countRecent(e.apiErrors) >= e.limits.MaxAPIErrorsPerHour:
		newlyTriggeredReason = "Emergency stop: API error rate exceeded"
	}

	if newlyTriggeredReason == "" {
		e.mu.Unlock()
		return allow()
	}

	e.triggered = true
	e.triggerReason = newlyTriggeredReason
	e.triggeredAt = time.Now()
	e.totalTriggers++
	callbacks := append([]Callback(nil), e.callbacks...)
	reason := newlyTriggeredReason
	e.mu.Unlock()

	e.fireCallbacks(callbacks, reason)
	return deny(reason)
}

func (e *EmergencyStop) fireCallbacks(callbacks []Callback, reason string) {
	for _, cb := range callbacks {
		e.runCallback(cb, reason)
	}
}

func (e *EmergencyStop) runCallback(cb Callback, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("emergency-stop callback panicked", "recovered", r)
		}
	}()
	cb(reason)
}

// maybeResetDaily clears dailyPnL and consecutive losses exactly once per
// UTC calendar-day boundary. Caller must hold e.mu.
func (e *EmergencyStop) maybeResetDaily() {
	today := utcDate(time.Now())
	if today == e.resetDate {
		return
	}
	e.resetDate = today
	e.dailyPnL = 0
	e.consecutiveLosses = 0
}

func (e *EmergencyStop) countRecent(ts []time.Time) int {
	cutoff := time.Now().Add(-time.Hour)
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func pruneOlderThanHour(ts []time.Time) []time.Time {
	cutoff := time.Now().Add(-time.Hour)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// RecordTradeResult adjusts daily/total P&L and the consecutive-loss
// counter: a non-positive result extends the streak, a positive result
// resets it to zero.
func (e *EmergencyStop) RecordTradeResult(pnlSOL float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetDaily()
	e.dailyPnL += pnlSOL
	e.totalPnL += pnlSOL
	if pnlSOL <= 0 {
		e.consecutiveLosses++
	} else {
		e.consecutiveLosses = 0
	}
}

// RecordTxFailure appends a timestamp to the rolling tx-failure window.
func (e *EmergencyStop) RecordTxFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txFailures = pruneOlderThanHour(append(e.txFailures, time.Now()))
}

// RecordAPIError appends a timestamp to the rolling API-error window.
func (e *EmergencyStop) RecordAPIError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apiErrors = pruneOlderThanHour(append(e.apiErrors, time.Now()))
}

// ManualTrigger force-triggers regardless of the numeric gates.
func (e *EmergencyStop) ManualTrigger(reason string) {
	e.mu.Lock()
	if e.triggered {
		e.mu.Unlock()
		return
	}
	e.triggered = true
	e.triggerReason = reason
	e.triggeredAt = time.Now()
	e.totalTriggers++
	callbacks := append([]Callback(nil), e.callbacks...)
	e.mu.Unlock()
	e.fireCallbacks(callbacks, reason)
}

// SetKillSwitch arms or disarms the unconditional deny-everything gate.
func (e *EmergencyStop) SetKillSwitch(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = on
}

// Reset clears the trigger and rolling failure windows but preserves
// accumulated P&L and the consecutive-loss counter.
func (e *EmergencyStop) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggered = false
	e.triggerReason = ""
	e.txFailures = nil
	e.apiErrors = nil
}

// FullReset wipes all state back to a fresh EmergencyStop.
func (e *EmergencyStop) FullReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = false
	e.triggered = false
	e.triggerReason = ""
	e.triggeredAt = time.Time{}
	e.totalTriggers = 0
	e.dailyPnL = 0
	e.totalPnL = 0
	e.consecutiveLosses = 0
	e.resetDate = utcDate(time.Now())
	e.txFailures = nil
	e.apiErrors = nil
}

// Snapshot is the exported, JSON-serialisable view of EmergencyStop state.
type Snapshot struct {
	KillSwitch        bool      `json:"kill_switch"`
	Triggered         bool      `json:"triggered"`
	TriggerReason     string    `json:"trigger_reason,omitempty"`
	TriggeredAt       time.Time `json:"triggered_at,omitempty"`
	TotalTriggers     int       `json:"total_triggers"`
	DailyPnL          float64   `json:"daily_pnl"`
	TotalPnL          float64   `json:"total_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ResetDate         string    `json:"reset_date"`
	TxFailures        []time.Time `json:"tx_failures,omitempty"`
	APIErrors         []time.Time `json:"api_errors,omitempty"`
}

// Serialise produces the opaque JSON blob persisted alongside the bot row.
func (e *EmergencyStop) Serialise() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(Snapshot{
		KillSwitch:        e.killSwitch,
		Triggered:         e.triggered,
		TriggerReason:     e.triggerReason,
		TriggeredAt:       e.triggeredAt,
		TotalTriggers:     e.totalTriggers,
		DailyPnL:          e.dailyPnL,
		TotalPnL:          e.totalPnL,
		ConsecutiveLosses: e.consecutiveLosses,
		ResetDate:         e.resetDate,
		TxFailures:        e.txFailures,
		APIErrors:         e.apiErrors,
	})
}

// Deserialise restores an EmergencyStop from a blob written by Serialise.
// It is permissive about unknown/extra fields but validates that the three
// essential fields — triggered flag, daily P&L, total P&L — are present;
// a blob missing any of them is rejected.
func Deserialise(blob []byte, limits Limits) (*EmergencyStop, error) {
	var raw map[string]any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("emergency stop blob: %w", err)
	}
	if _, ok := raw["triggered"]; !ok {
		return nil, fmt.Errorf("emergency stop blob: missing triggered flag")
	}
	if _, ok := raw["daily_pnl"]; !ok {
		return nil, fmt.Errorf("emergency stop blob: missing daily_pnl")
	}
	if _, ok := raw["total_pnl"]; !ok {
		return nil, fmt.Errorf("emergency stop blob: missing total_pnl")
	}

	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("emergency stop blob: %w", err)
	}

	e := New(limits)
	e.killSwitch = snap.KillSwitch
	e.triggered = snap.Triggered
	e.triggerReason = snap.TriggerReason
	e.triggeredAt = snap.TriggeredAt
	e.totalTriggers = snap.TotalTriggers
	e.dailyPnL = snap.DailyPnL
	e.totalPnL = snap.TotalPnL
	e.consecutiveLosses = snap.ConsecutiveLosses
	if snap.ResetDate != "" {
		e.resetDate = snap.ResetDate
	}
	e.txFailures = snap.TxFailures
	e.apiErrors = snap.APIErrors
	return e, nil
}

// Triggered reports whether the stop is currently tripped (ignoring the
// kill switch), for orchestrator status reporting.
func (e *EmergencyStop) Triggered() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered, e.triggerReason
}

// TotalPnL reports the accumulated realised P&L across all time.
func (e *EmergencyStop) TotalPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalPnL
}
