// Package eventbus is the single in-process typed fan-out for BotEvents,
// grounded in volaticloud's pubsub.MemoryPubSub — same sync.Once-guarded
// idempotent unsubscribe — but handlers are plain Go funcs invoked
// synchronously rather than byte channels, since callers need typed
// BotEvent payloads, not a JSON re-decode step.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// Handler receives a fully-populated BotEvent. A handler that returns
// (rather than panics) normally is assumed to have succeeded; panics are
// caught and logged so one bad subscriber never takes down emission to the
// others.
type Handler func(domain.BotEvent)

type subscription struct {
	id      uint64
	userID  string
	botID   string
	handler Handler
}

// Bus is the process-wide event emitter. The orchestrator emits onto it and
// the HTTP edge's SSE endpoint is its subscriber in this system, but nothing
// here assumes a particular consumer count.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	userSub map[uint64]*subscription
	botSub  map[uint64]*subscription
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{
		userSub: make(map[uint64]*subscription),
		botSub:  make(map[uint64]*subscription),
	}
}

// Emit constructs a BotEvent with the current timestamp and fans it out to
// every matching subscriber.
func (b *Bus) Emit(kind domain.EventKind, botID, userID string, payload any) {
	ev := domain.BotEvent{
		Kind:      kind,
		BotID:     botID,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	userHandlers := make([]Handler, 0, len(b.userSub))
	for _, s := range b.userSub {
		if s.userID == userID {
			userHandlers = append(userHandlers, s.handler)
		}
	}
	botHandlers := make([]Handler, 0, len(b.botSub))
	for _, s := range b.botSub {
		if s.botID == botID {
			botHandlers = append(botHandlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range userHandlers {
		invoke(h, ev)
	}
	for _, h := range botHandlers {
		invoke(h, ev)
	}
}

func invoke(h Handler, ev domain.BotEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event bus handler panicked", "recovered", r, "event", ev.Kind)
		}
	}()
	h(ev)
}

// SubscribeUser registers a handler that only receives events for userID.
// The returned function unsubscribes; it is idempotent.
func (b *Bus) SubscribeUser(userID string, handler Handler) func() {
	return b.subscribe(b.userSub, &subscription{userID: userID, handler: handler})
}

// SubscribeBot registers a handler that only receives events for botID.
func (b *Bus) SubscribeBot(botID string, handler Handler) func() {
	return b.subscribe(b.botSub, &subscription{botID: botID, handler: handler})
}

func (b *Bus) subscribe(table map[uint64]*subscription, sub *subscription) func() {
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	table[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(table, sub.id)
			b.mu.Unlock()
		})
	}
}
