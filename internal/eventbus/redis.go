package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// RedisBridge publishes every BotEvent emitted on a local Bus to a single
// Redis channel so additional API instances subscribed to the same
// channel observe the same event stream — an optional multi-instance
// extension of the in-process Bus, grounded in volaticloud's
// pubsub.RedisPubSub. Single-instance deployments never construct one.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge wraps an existing Redis client for publishing BotEvents.
func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	if channel == "" {
		channel = "dlmmbot:events"
	}
	return &RedisBridge{client: client, channel: channel}
}

// Publish serialises and publishes a single BotEvent to Redis. Callers
// (the orchestrator's event handler) invoke this alongside bus.Emit so the
// local Bus and the cross-instance channel both see every event.
func (r *RedisBridge) Publish(ctx context.Context, ev domain.BotEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("redis bridge: marshal event", "err", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		slog.Error("redis bridge: publish", "err", err, "channel", r.channel)
	}
}

// Subscribe listens for BotEvents published by any instance and invokes fn
// for each. The returned cleanup stops the subscription.
func (r *RedisBridge) Subscribe(ctx context.Context, fn func(domain.BotEvent)) func() {
	sub := r.client.Subscribe(ctx, r.channel)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.BotEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("redis bridge: decode event", "err", err)
					continue
				}
				fn(ev)
			}
		}
	}()
	return func() { _ = sub.Close() }
}
