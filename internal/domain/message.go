package domain

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultMaxMessageLength is the body limit in characters
	DefaultMaxMessageLength = 500
	// MaxDisplayNameLength bounds the optional author display name
	MaxDisplayNameLength = 64
)

// ChatMessage is the canonical, server-assigned version of a sent message.
// Sender and receivers both get this exact value.
type ChatMessage struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"tokenId"`
	AuthorID    string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"timestamp"`
	ReplyTo     *ReplyRef `json:"replyTo,omitempty"`
	Likes       []string  `json:"likes"`
}

// ReplyRef is a snapshot of the message being replied to. It is copied at
// creation time and never follows later changes to the original.
type ReplyRef struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
}

// MessageSink receives every canonical message after it has been broadcast
type MessageSink interface {
	PublishChatMessage(ctx context.Context, msg *ChatMessage) error
}

// NormalizeID trims and lower-cases token and user identifiers so that
// checksummed and plain hex addresses map to the same room and member.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
