package websocket

import (
	"encoding/json"

	"social-token-chat/internal/domain"
)

// Client to server events
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventSendMessage   = "send-message"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventLikeMessage   = "like-message"
	EventUnlikeMessage = "unlike-message"
)

// Server to client events
const (
	EventAccessGranted      = "access-granted"
	EventAccessDenied       = "access-denied"
	EventRoomState          = "room-state"
	EventMessageAccepted    = "message-accepted"
	EventMessageBroadcast   = "message-broadcast"
	EventTypingChanged      = "typing-changed"
	EventMessageLikeChanged = "message-like-changed"
	EventMemberJoined       = "member-joined"
	EventMemberLeft         = "member-left"
)

// ClientEvent is a single inbound frame. Fields not used by an event type are ignored.
type ClientEvent struct {
	Type        string           `json:"type"`
	TokenID     string           `json:"tokenId,omitempty"`
	UserID      string           `json:"userId,omitempty"`
	Body        string           `json:"body,omitempty"`
	DisplayName string           `json:"displayName,omitempty"`
	MessageID   string           `json:"messageId,omitempty"`
	ReplyTo     *domain.ReplyRef `json:"replyTo,omitempty"`
}

// ServerMessage is a single outbound frame
type ServerMessage struct {
	Type              string              `json:"type"`
	TokenID           string              `json:"tokenId,omitempty"`
	UserID            string              `json:"userId,omitempty"`
	MessageID         string              `json:"messageId,omitempty"`
	Message           *domain.ChatMessage `json:"message,omitempty"`
	IsTyping          *bool               `json:"isTyping,omitempty"`
	Liked             *bool               `json:"liked,omitempty"`
	RequiredThreshold *float64            `json:"requiredThreshold,omitempty"`
	CurrentValue      *float64            `json:"currentValue,omitempty"`
	Reason            string              `json:"reason,omitempty"`
}

// RoomState is sent to a connection right after it is granted access
type RoomState struct {
	Type    string   `json:"type"`
	TokenID string   `json:"tokenId"`
	Members []string `json:"members"`
	Typing  []string `json:"typing"`
}

// Presence is the externally visible state of one room
type Presence struct {
	TokenID     string   `json:"tokenId"`
	Members     []string `json:"members"`
	Typing      []string `json:"typing"`
	Connections int      `json:"connections"`
}

func accessGranted(tokenID string) ServerMessage {
	return ServerMessage{Type: EventAccessGranted, TokenID: tokenID}
}

func accessDenied(tokenID string, d domain.AccessDecision) ServerMessage {
	threshold := d.RequiredThreshold
	msg := ServerMessage{
		Type:              EventAccessDenied,
		TokenID:           tokenID,
		RequiredThreshold: &threshold,
		Reason:            d.Reason,
	}
	if d.ValueKnown {
		value := d.CurrentValue
		msg.CurrentValue = &value
	}
	return msg
}

func typingChanged(userID string, typing bool) ServerMessage {
	return ServerMessage{Type: EventTypingChanged, UserID: userID, IsTyping: &typing}
}

func likeChanged(messageID, userID string, liked bool) ServerMessage {
	return ServerMessage{Type: EventMessageLikeChanged, MessageID: messageID, UserID: userID, Liked: &liked}
}

func memberEvent(eventType, tokenID, userID string) ServerMessage {
	return ServerMessage{Type: eventType, TokenID: tokenID, UserID: userID}
}

func chatMessage(eventType string, msg *domain.ChatMessage) ServerMessage {
	return ServerMessage{Type: eventType, TokenID: msg.RoomID, Message: msg}
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
