package chat

import (
	"time"

	"social-token-chat/internal/domain"

	"github.com/google/uuid"
)

type entry struct {
	msg   domain.ChatMessage
	likes map[string]struct{}
}

// Interactions is the transient store of sent messages and their like-sets.
// Each room keeps a bounded window of recent messages; older ones are evicted
// and become unknown to like/unlike and reply lookups.
type Interactions struct {
	messages  map[string]*entry
	byRoom    map[string][]string // room -> message ids, oldest first
	retention int
	newID     func() string
}

// NewInteractions creates a store that keeps at most retention messages per room
func NewInteractions(retention int) *Interactions {
	if retention <= 0 {
		retention = 500
	}
	return &Interactions{
		messages:  make(map[string]*entry),
		byRoom:    make(map[string][]string),
		retention: retention,
		newID:     newMessageID,
	}
}

// newMessageID returns a time-ordered UUIDv7 so ids sort in creation order
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create stores a new message and returns its canonical copy
func (s *Interactions) Create(roomID, authorID, displayName, body string, reply *domain.ReplyRef, at time.Time) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:          s.newID(),
		RoomID:      roomID,
		AuthorID:    authorID,
		DisplayName: displayName,
		Body:        body,
		CreatedAt:   at,
		Likes:       []string{},
	}
	if reply != nil {
		snapshot := *reply
		msg.ReplyTo = &snapshot
	}

	s.messages[msg.ID] = &entry{msg: msg, likes: make(map[string]struct{})}
	ids := append(s.byRoom[roomID], msg.ID)
	if len(ids) > s.retention {
		evict := ids[:len(ids)-s.retention]
		for _, id := range evict {
			delete(s.messages, id)
		}
		ids = append([]string(nil), ids[len(evict):]...)
	}
	s.byRoom[roomID] = ids

	return s.snapshot(s.messages[msg.ID])
}

// get returns a copy of the message with its current like-set
func (s *Interactions) get(messageID string) (domain.ChatMessage, bool) {
	e, ok := s.messages[messageID]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return s.snapshot(e), true
}

// RoomOf returns the room a retained message was sent to
func (s *Interactions) RoomOf(messageID string) (string, bool) {
	e, ok := s.messages[messageID]
	if !ok {
		return "", false
	}
	return e.msg.RoomID, true
}

// ReplySnapshot captures the referenced message as it is right now
func (s *Interactions) ReplySnapshot(roomID, messageID string) (*domain.ReplyRef, bool) {
	e, ok := s.messages[messageID]
	if !ok || e.msg.RoomID != roomID {
		return nil, false
	}
	return &domain.ReplyRef{
		ID:       e.msg.ID,
		AuthorID: e.msg.AuthorID,
		Body:     e.msg.Body,
	}, true
}

// Like adds userID to the message's like-set. changed is false when the
// user had already liked it.
func (s *Interactions) Like(messageID, userID string) (roomID string, changed bool, err error) {
	e, ok := s.messages[messageID]
	if !ok {
		return "", false, domain.ErrMessageNotFound
	}
	if _, liked := e.likes[userID]; liked {
		return e.msg.RoomID, false, nil
	}
	e.likes[userID] = struct{}{}
	return e.msg.RoomID, true, nil
}

// Unlike removes userID from the like-set; removing a non-member is a no-op
func (s *Interactions) Unlike(messageID, userID string) (roomID string, changed bool, err error) {
	e, ok := s.messages[messageID]
	if !ok {
		return "", false, domain.ErrMessageNotFound
	}
	if _, liked := e.likes[userID]; !liked {
		return e.msg.RoomID, false, nil
	}
	delete(e.likes, userID)
	return e.msg.RoomID, true, nil
}

// LikesOf returns the sorted like-set of a message
func (s *Interactions) LikesOf(messageID string) []string {
	e, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	return sortedKeys(e.likes)
}

// ForgetRoom drops every message of a room that has emptied
func (s *Interactions) ForgetRoom(roomID string) {
	for _, id := range s.byRoom[roomID] {
		delete(s.messages, id)
	}
	delete(s.byRoom, roomID)
}

// count returns the number of retained messages
func (s *Interactions) count() int {
	return len(s.messages)
}

func (s *Interactions) snapshot(e *entry) domain.ChatMessage {
	msg := e.msg
	msg.Likes = sortedKeys(e.likes)
	if e.msg.ReplyTo != nil {
		reply := *e.msg.ReplyTo
		msg.ReplyTo = &reply
	}
	return msg
}
