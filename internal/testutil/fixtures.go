package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"social-token-chat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// Well-known addresses used across tests
const (
	TokenAAA = "0xaaa"
	UserA    = "0x000000000000000000000000000000000000000a"
	UserB    = "0x000000000000000000000000000000000000000b"
	UserC    = "0x000000000000000000000000000000000000000c"
)

// MessageOptions allows customizing chat message fixture creation
type MessageOptions struct {
	ID          string
	RoomID      string
	AuthorID    string
	DisplayName string
	Body        string
	CreatedAt   time.Time
	ReplyTo     *domain.ReplyRef
	Likes       []string
}

// NewTestMessage creates a canonical chat message with sensible defaults
func NewTestMessage(opts ...func(*MessageOptions)) *domain.ChatMessage {
	o := &MessageOptions{
		ID:        nextID("msg"),
		RoomID:    TokenAAA,
		AuthorID:  UserA,
		Body:      "gm",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Likes:     []string{},
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.ChatMessage{
		ID:          o.ID,
		RoomID:      o.RoomID,
		AuthorID:    o.AuthorID,
		DisplayName: o.DisplayName,
		Body:        o.Body,
		CreatedAt:   o.CreatedAt,
		ReplyTo:     o.ReplyTo,
		Likes:       o.Likes,
	}
}

// WithMessageID sets the message ID
func WithMessageID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ID = id
	}
}

// WithRoomID sets the token room
func WithRoomID(roomID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.RoomID = roomID
	}
}

// WithAuthorID sets the author
func WithAuthorID(userID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.AuthorID = userID
	}
}

// WithBody sets the message body
func WithBody(body string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Body = body
	}
}

// WithReplyTo attaches a reply snapshot
func WithReplyTo(ref domain.ReplyRef) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ReplyTo = &ref
	}
}
