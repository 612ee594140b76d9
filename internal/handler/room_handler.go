package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"social-token-chat/internal/observability"
	ws "social-token-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
)

const presenceTimeout = 2 * time.Second

// PresenceReader reads the live state of a room
type PresenceReader interface {
	Presence(ctx context.Context, tokenID string) (ws.Presence, error)
}

// RoomHandler serves read-only room endpoints
type RoomHandler struct {
	rooms PresenceReader
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms PresenceReader) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// Presence returns who is in a token's room and who is typing
func (h *RoomHandler) Presence(w http.ResponseWriter, r *http.Request) {
	tokenID := strings.TrimSpace(chi.URLParam(r, "tokenId"))
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "Token ID required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), presenceTimeout)
	defer cancel()

	presence, err := h.rooms.Presence(ctx, tokenID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ws.ErrHubClosed) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		observability.FromContext(r.Context()).Error("failed to read room presence",
			slog.String("error", err.Error()),
			slog.String("token_id", tokenID))
		writeError(w, status, "Failed to retrieve presence")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(presence)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
