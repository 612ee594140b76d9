package websocket

import (
	"log/slog"

	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"
)

// publish acknowledges the sender with the canonical message and fans the
// same value out to every other connection in the room
func (h *Hub) publish(sender *Client, msg *domain.ChatMessage) {
	if !h.sendTo(sender, chatMessage(EventMessageAccepted, msg)) {
		// Sender was dropped as a slow consumer; the others still get it
		h.broadcast(msg.RoomID, chatMessage(EventMessageBroadcast, msg), nil)
		return
	}
	h.broadcast(msg.RoomID, chatMessage(EventMessageBroadcast, msg), sender)
}

// broadcast delivers an event to every connection in the room except
// `except`. Connections whose buffers are full are disconnected once the
// fan-out is finished.
func (h *Hub) broadcast(roomID string, msg ServerMessage, except *Client) {
	data, err := encode(msg)
	if err != nil {
		slog.Error("failed to marshal event",
			slog.String("error", err.Error()),
			slog.String("type", msg.Type))
		return
	}

	var slow []*Client
	for _, id := range h.registry.MembersOf(roomID) {
		client, ok := h.clients[id]
		if !ok || client == except {
			continue
		}
		if !h.deliver(client, data, msg.Type) {
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		observability.ChatEventsDropped.WithLabelValues(dropSlowConsumer).Inc()
		client.log().Warn("client send buffer full, disconnecting")
		h.disconnect(client)
	}
}

// sendTo writes one event to a single connection. It returns false when the
// connection had to be disconnected.
func (h *Hub) sendTo(client *Client, msg any) bool {
	data, err := encode(msg)
	if err != nil {
		slog.Error("failed to marshal event", slog.String("error", err.Error()))
		return true
	}

	if h.deliver(client, data, eventType(msg)) {
		return true
	}
	observability.ChatEventsDropped.WithLabelValues(dropSlowConsumer).Inc()
	client.log().Warn("client send buffer full, disconnecting")
	h.disconnect(client)
	return false
}

func (h *Hub) sendRoomState(client *Client) bool {
	return h.sendTo(client, RoomState{
		Type:    EventRoomState,
		TokenID: client.roomID,
		Members: h.registry.UsersOf(client.roomID),
		Typing:  h.registry.TypingUsersOf(client.roomID),
	})
}

func (h *Hub) deliver(client *Client, data []byte, eventType string) bool {
	select {
	case client.send <- data:
		observability.WebSocketMessagesSent.WithLabelValues(eventType).Inc()
		return true
	default:
		return false
	}
}

func eventType(msg any) string {
	switch m := msg.(type) {
	case ServerMessage:
		return m.Type
	case RoomState:
		return m.Type
	default:
		return "unknown"
	}
}
