package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

const sseHeartbeatInterval = 20 * time.Second

// streamEvent is the wire shape pushed down /events/stream — a BotEvent
// with its payload pre-marshalled so a reconnecting client can type-switch
// on "kind" without knowing our internal Go types.
type streamEvent struct {
	Kind      domain.EventKind `json:"kind"`
	BotID     string           `json:"bot_id"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// eventsStream is a Server-Sent-Events endpoint fanning out the
// authenticated user's own bot events. It is the bus's subscriber in this
// system; the orchestrator only emits onto the bus.
func (s *Server) eventsStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan domain.BotEvent, 32)
	unsubscribe := s.bus.SubscribeUser(userID, func(ev domain.BotEvent) {
		select {
		case events <- ev:
		default:
			// Slow consumer: drop rather than block event emission for
			// every other subscriber.
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			blob, err := json.Marshal(streamEvent{Kind: ev.Kind, BotID: ev.BotID, Timestamp: ev.Timestamp, Payload: ev.Payload})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, blob); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
