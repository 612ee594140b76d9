package websocket

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"
)

// ConnState is the lifecycle state of one connection
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateJoining
	StateAuthorized
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateJoining:
		return "joining"
	case StateAuthorized:
		return "authorized"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Reasons for silently dropped events
const (
	dropInvalidRequest = "invalid_request"
	dropNotAuthorized  = "not_authorized"
	dropUnknownType    = "unknown_type"
	dropEmptyBody      = "empty_body"
	dropTooLong        = "too_long"
	dropRateLimited    = "rate_limited"
	dropUnknownMessage = "unknown_message"
	dropSlowConsumer   = "slow_consumer"
)

func (h *Hub) handleEvent(client *Client, event ClientEvent) {
	if current, ok := h.clients[client.id]; !ok || current != client {
		return
	}

	switch event.Type {
	case EventJoinRoom:
		h.handleJoin(client, event)
	case EventLeaveRoom:
		h.handleLeave(client, event)
	case EventSendMessage:
		h.handleSend(client, event)
	case EventTypingStart:
		h.handleTyping(client, event, true)
	case EventTypingStop:
		h.handleTyping(client, event, false)
	case EventLikeMessage:
		h.handleLike(client, event, true)
	case EventUnlikeMessage:
		h.handleLike(client, event, false)
	default:
		h.drop(client, dropUnknownType, domain.ErrInvalidRequest, slog.String("type", event.Type))
	}
}

func (h *Hub) handleJoin(client *Client, event ClientEvent) {
	tokenID := domain.NormalizeID(event.TokenID)
	userID := domain.NormalizeID(event.UserID)
	if tokenID == "" || userID == "" {
		h.drop(client, dropInvalidRequest, domain.ErrInvalidRequest)
		return
	}

	if client.state == StateAuthorized {
		if client.roomID == tokenID && client.userID == userID {
			if h.sendTo(client, accessGranted(tokenID)) {
				h.sendRoomState(client)
			}
			return
		}
		// One room per connection: switching rooms leaves the old one first
		h.leaveRoom(client)
	}

	client.state = StateJoining
	client.joinSeq++
	client.pendingRoom = tokenID
	client.pendingUser = userID
	h.startCheck(client, checkJoin, tokenID, userID)
}

func (h *Hub) handleAccessResult(res accessResult) {
	client := res.client
	if current, ok := h.clients[client.id]; !ok || current != client || client.joinSeq != res.seq {
		return
	}

	switch res.kind {
	case checkJoin:
		if client.state != StateJoining {
			return
		}
		client.pendingRoom = ""
		client.pendingUser = ""
		if !res.decision.Granted {
			client.state = StateUnauthenticated
			client.log().Debug("access denied",
				slog.String("token_id", res.tokenID),
				slog.String("user_id", res.userID),
				slog.String("reason", res.decision.Reason))
			h.sendTo(client, accessDenied(res.tokenID, res.decision))
			return
		}
		h.admit(client, res.tokenID, res.userID)

	case checkRecheck:
		client.rechecking = false
		if client.state != StateAuthorized || client.roomID != res.tokenID {
			return
		}
		switch res.decision.Code {
		case domain.DecisionGranted:
			client.grantedAt = h.now()
		case domain.DecisionDenied:
			client.log().Info("access revoked on re-check",
				slog.String("token_id", res.tokenID),
				slog.String("user_id", res.userID))
			h.leaveRoom(client)
			h.sendTo(client, accessDenied(res.tokenID, res.decision))
		default:
			// Keep the grant when the ledger is unavailable
			client.log().Warn("access re-check unavailable, keeping grant",
				slog.String("token_id", res.tokenID))
		}
	}
}

func (h *Hub) admit(client *Client, tokenID, userID string) {
	client.state = StateAuthorized
	client.roomID = tokenID
	client.userID = userID
	client.grantedAt = h.now()

	if !h.sendTo(client, accessGranted(tokenID)) {
		return
	}

	joined := h.registry.Join(tokenID, client.id, userID)
	if joined.RoomCreated {
		observability.ChatRoomsActive.Set(float64(h.registry.RoomCount()))
		client.log().Info("room created", slog.String("token_id", tokenID))
	}
	client.log().Info("client joined room",
		slog.String("token_id", tokenID),
		slog.String("user_id", userID))

	if joined.FirstForUser {
		h.broadcast(tokenID, memberEvent(EventMemberJoined, tokenID, userID), client)
	}
	h.sendRoomState(client)
}

// leaveRoom removes an authorized connection from its room and returns it to
// the unauthenticated state. Typing is cleared before member-left goes out.
func (h *Hub) leaveRoom(client *Client) {
	roomID := client.roomID
	res := h.registry.Leave(roomID, client.id)

	client.state = StateUnauthenticated
	client.roomID = ""
	client.userID = ""
	client.rechecking = false
	client.joinSeq++

	if !res.Removed {
		return
	}
	if res.WasTyping {
		h.broadcast(roomID, typingChanged(res.UserID, false), nil)
	}
	if res.LastForUser {
		h.broadcast(roomID, memberEvent(EventMemberLeft, roomID, res.UserID), nil)
	}
	if res.RoomRemoved {
		h.interactions.ForgetRoom(roomID)
	}
	observability.ChatRoomsActive.Set(float64(h.registry.RoomCount()))
}

func (h *Hub) handleLeave(client *Client, event ClientEvent) {
	tokenID := domain.NormalizeID(event.TokenID)

	switch client.state {
	case StateJoining:
		if tokenID != "" && tokenID != client.pendingRoom {
			h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
			return
		}
		// Invalidate the in-flight check
		client.joinSeq++
		client.state = StateUnauthenticated
		client.pendingRoom = ""
		client.pendingUser = ""
	case StateAuthorized:
		if tokenID != "" && tokenID != client.roomID {
			h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
			return
		}
		h.leaveRoom(client)
	default:
		h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
	}
}

// authorized reports whether client may act in the room named by tokenID.
// An empty tokenID means the connection's current room.
func (h *Hub) authorized(client *Client, tokenID string) bool {
	if client.state != StateAuthorized {
		return false
	}
	tokenID = domain.NormalizeID(tokenID)
	return tokenID == "" || tokenID == client.roomID
}

// sameUser rejects events that name a different user than the one the
// connection was granted for
func sameUser(client *Client, userID string) bool {
	userID = domain.NormalizeID(userID)
	return userID == "" || userID == client.userID
}

func (h *Hub) handleSend(client *Client, event ClientEvent) {
	if !h.authorized(client, event.TokenID) {
		h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
		return
	}

	body := strings.TrimSpace(event.Body)
	if body == "" {
		h.drop(client, dropEmptyBody, domain.ErrInvalidRequest)
		return
	}
	if utf8.RuneCountInString(body) > h.cfg.MaxMessageLength {
		h.drop(client, dropTooLong, domain.ErrInvalidRequest)
		return
	}
	if !client.limiter.Allow() {
		h.drop(client, dropRateLimited, domain.ErrInvalidRequest)
		return
	}

	var reply *domain.ReplyRef
	if event.ReplyTo != nil && strings.TrimSpace(event.ReplyTo.ID) != "" {
		reply = h.replyFor(client.roomID, event.ReplyTo)
	}
	displayName := truncate(strings.TrimSpace(event.DisplayName), domain.MaxDisplayNameLength)

	msg := h.interactions.Create(client.roomID, client.userID, displayName, body, reply, h.now().UTC())
	h.publish(client, &msg)
	h.enqueueSink(msg)
	h.maybeRecheck(client)
}

// replyFor snapshots the referenced message when it is still retained in the
// room, and otherwise keeps what the client sent
func (h *Hub) replyFor(roomID string, ref *domain.ReplyRef) *domain.ReplyRef {
	id := strings.TrimSpace(ref.ID)
	if snapshot, ok := h.interactions.ReplySnapshot(roomID, id); ok {
		return snapshot
	}
	return &domain.ReplyRef{
		ID:       id,
		AuthorID: domain.NormalizeID(ref.AuthorID),
		Body:     truncate(ref.Body, h.cfg.MaxMessageLength),
	}
}

func (h *Hub) maybeRecheck(client *Client) {
	if h.cfg.RecheckInterval <= 0 || client.rechecking {
		return
	}
	if h.now().Sub(client.grantedAt) < h.cfg.RecheckInterval {
		return
	}
	client.rechecking = true
	h.startCheck(client, checkRecheck, client.roomID, client.userID)
}

func (h *Hub) handleTyping(client *Client, event ClientEvent, typing bool) {
	if !h.authorized(client, event.TokenID) || !sameUser(client, event.UserID) {
		h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
		return
	}

	var changed bool
	if typing {
		changed = h.registry.StartTyping(client.roomID, client.id)
	} else {
		changed = h.registry.StopTyping(client.roomID, client.id)
	}
	if changed {
		h.broadcast(client.roomID, typingChanged(client.userID, typing), client)
	}
}

func (h *Hub) handleLike(client *Client, event ClientEvent, liked bool) {
	if !h.authorized(client, event.TokenID) || !sameUser(client, event.UserID) {
		h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
		return
	}

	messageID := strings.TrimSpace(event.MessageID)
	if messageID == "" {
		h.drop(client, dropInvalidRequest, domain.ErrInvalidRequest)
		return
	}
	roomID, ok := h.interactions.RoomOf(messageID)
	if !ok {
		h.drop(client, dropUnknownMessage, domain.ErrMessageNotFound, slog.String("message_id", messageID))
		return
	}
	if roomID != client.roomID {
		h.drop(client, dropNotAuthorized, domain.ErrNotAuthorizedForAction)
		return
	}

	var changed bool
	var err error
	if liked {
		_, changed, err = h.interactions.Like(messageID, client.userID)
	} else {
		_, changed, err = h.interactions.Unlike(messageID, client.userID)
	}
	if err != nil {
		h.drop(client, dropUnknownMessage, err)
		return
	}
	if changed {
		h.broadcast(roomID, likeChanged(messageID, client.userID, liked), nil)
	}
}

func (h *Hub) drop(client *Client, reason string, err error, attrs ...any) {
	observability.ChatEventsDropped.WithLabelValues(reason).Inc()
	args := append([]any{
		slog.String("reason", reason),
		slog.String("error", err.Error()),
		slog.String("state", client.state.String()),
	}, attrs...)
	client.log().Debug("event dropped", args...)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
