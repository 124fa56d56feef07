package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kskip310/luminous/pkg/bus"
	"github.com/rs/zerolog"
)

// EventBroadcaster pushes bus events to every authenticated client.
type EventBroadcaster struct {
	clients *Connections
	logger  zerolog.Logger
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *Connections, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Frame converts a bus event to its wire form. The bus sequence number is
// kept so a UI can spot gaps left by dropped events.
func Frame(ev bus.Event) EventMessage {
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return EventMessage{
		Type:      "event",
		Event:     string(ev.Kind),
		Seq:       ev.Seq,
		Identity:  ev.Identity,
		Data:      payload(ev),
		Timestamp: ts,
	}
}

func payload(ev bus.Event) any {
	switch ev.Kind {
	case bus.KindStatePatch:
		return ev.Patch
	case bus.KindStateReplace:
		return ev.State
	case bus.KindLogEntry:
		return ev.Log
	case bus.KindMessageAppend:
		return ev.Message
	case bus.KindMessageChunk:
		return ev.Chunk
	default:
		return ev.Data
	}
}

// Forward is a bus.Handler.
func (b *EventBroadcaster) Forward(ev bus.Event) {
	b.Broadcast(Frame(ev))
}

// Broadcast sends msg to all authenticated clients. A client that cannot
// keep up is logged and skipped.
func (b *EventBroadcaster) Broadcast(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return
	}

	clients := b.clients.All(true)
	if len(clients) == 0 {
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("clients", len(clients)).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// Send delivers msg to a single client.
func (b *EventBroadcaster) Send(client *Client, msg EventMessage) error {
	return client.WriteJSON(msg)
}
