package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

func TestSubscribeUser_OnlyReceivesMatchingEvents(t *testing.T) {
	b := New()
	var received []domain.BotEvent
	unsub := b.SubscribeUser("user-1", func(ev domain.BotEvent) {
		received = append(received, ev)
	})
	defer unsub()

	b.Emit(domain.EventScanCompleted, "bot-a", "user-1", nil)
	b.Emit(domain.EventScanCompleted, "bot-b", "user-2", nil)

	assert.Len(t, received, 1)
	assert.Equal(t, "bot-a", received[0].BotID)
}

func TestSubscribeBot_OnlyReceivesMatchingEvents(t *testing.T) {
	b := New()
	var count int
	unsub := b.SubscribeBot("bot-a", func(ev domain.BotEvent) { count++ })
	defer unsub()

	b.Emit(domain.EventPositionOpened, "bot-a", "user-1", nil)
	b.Emit(domain.EventPositionOpened, "bot-b", "user-1", nil)

	assert.Equal(t, 1, count)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	b := New()
	unsub := b.SubscribeUser("user-1", func(ev domain.BotEvent) {})
	unsub()
	assert.NotPanics(t, func() { unsub() })
}

func TestEmit_HandlerPanicIsolated(t *testing.T) {
	b := New()
	b.SubscribeUser("user-1", func(ev domain.BotEvent) { panic("boom") })
	var secondCalled bool
	b.SubscribeUser("user-1", func(ev domain.BotEvent) { secondCalled = true })

	assert.NotPanics(t, func() {
		b.Emit(domain.EventEngineStarted, "bot-a", "user-1", nil)
	})
	assert.True(t, secondCalled)
}
