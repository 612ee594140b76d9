package handler

import (
	"context"
	"log/slog"
	"net/http"

	"social-token-chat/internal/middleware"
	"social-token-chat/internal/observability"
	ws "social-token-chat/internal/websocket"

	"github.com/gorilla/websocket"
)

// createUpgrader creates a WebSocket upgrader with origin validation
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin header
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			slog.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// WebSocketHandler upgrades gateway connections. Identity and room are not
// part of the handshake: a connection starts unauthenticated and sends
// join-room once it is open.
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: createUpgrader(middleware.ParseOrigins(allowedOrigins)),
	}
}

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		observability.FromContext(r.Context()).Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The request context ends when this handler returns; the connection
	// outlives it but keeps its values (request id)
	client := ws.NewClient(context.WithoutCancel(r.Context()), h.hub, conn, r.RemoteAddr)

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
