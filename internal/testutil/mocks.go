// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the chat gateway.
package testutil

import (
	"context"
	"sync"

	"social-token-chat/internal/domain"
)

// AccessCall records one CheckAccess invocation
type AccessCall struct {
	TokenID string
	UserID  string
}

// MockAccessChecker decides access from a table of per-user qualifying values.
// Users without a value, or marked unavailable, get a verification-unavailable
// decision.
type MockAccessChecker struct {
	mu sync.Mutex

	Threshold float64
	values    map[string]float64
	down      map[string]bool
	// block, when set, holds every check until it is closed or the caller's
	// context ends
	block chan struct{}
	calls []AccessCall

	CheckAccessFunc func(ctx context.Context, tokenID, userID string) domain.AccessDecision
}

// NewMockAccessChecker creates a checker that grants at or above threshold
func NewMockAccessChecker(threshold float64) *MockAccessChecker {
	return &MockAccessChecker{
		Threshold: threshold,
		values:    make(map[string]float64),
		down:      make(map[string]bool),
	}
}

// SetValue sets the user's qualifying value and clears any unavailability
func (m *MockAccessChecker) SetValue(userID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.NormalizeID(userID)
	m.values[id] = value
	delete(m.down, id)
}

// SetUnavailable makes checks for userID fail as if the ledger were down
func (m *MockAccessChecker) SetUnavailable(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down[domain.NormalizeID(userID)] = true
}

// Block holds all subsequent checks until the returned release func is called
func (m *MockAccessChecker) Block() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.block = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.block == ch {
				m.block = nil
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *MockAccessChecker) CheckAccess(ctx context.Context, tokenID, userID string) domain.AccessDecision {
	if m.CheckAccessFunc != nil {
		return m.CheckAccessFunc(ctx, tokenID, userID)
	}

	m.mu.Lock()
	m.calls = append(m.calls, AccessCall{TokenID: tokenID, UserID: userID})
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.DenyUnavailable(m.Threshold)
		}
	}

	m.mu.Lock()
	value, ok := m.values[userID]
	down := m.down[userID]
	m.mu.Unlock()

	switch {
	case down || !ok:
		return domain.DenyUnavailable(m.Threshold)
	case value >= m.Threshold:
		return domain.Grant(m.Threshold, value)
	default:
		return domain.DenyInsufficient(m.Threshold, value)
	}
}

// Calls returns a copy of the recorded checks
func (m *MockAccessChecker) Calls() []AccessCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]AccessCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// MockMessageSink implements domain.MessageSink for testing
type MockMessageSink struct {
	mu sync.Mutex

	PublishFunc func(ctx context.Context, msg *domain.ChatMessage) error

	Messages  []domain.ChatMessage
	published chan domain.ChatMessage
}

// NewMockMessageSink creates a sink that records every message
func NewMockMessageSink() *MockMessageSink {
	return &MockMessageSink{published: make(chan domain.ChatMessage, 64)}
}

func (m *MockMessageSink) PublishChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Messages = append(m.Messages, *msg)
	m.mu.Unlock()

	select {
	case m.published <- *msg:
	default:
	}
	return nil
}

// Published delivers each recorded message as it arrives
func (m *MockMessageSink) Published() <-chan domain.ChatMessage {
	return m.published
}

// MockUserStatsRepository implements domain.UserStatsRepository for testing
type MockUserStatsRepository struct {
	mu sync.Mutex

	IncrementFunc func(ctx context.Context, userID string, delta int64) error

	Counts map[string]int64
}

// NewMockUserStatsRepository creates an in-memory stats repository
func NewMockUserStatsRepository() *MockUserStatsRepository {
	return &MockUserStatsRepository{Counts: make(map[string]int64)}
}

func (m *MockUserStatsRepository) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MockUserStatsRepository) IncrementChatMessages(ctx context.Context, userID string, delta int64) error {
	if m.IncrementFunc != nil {
		if err := m.IncrementFunc(ctx, userID, delta); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counts[userID] += delta
	return nil
}

func (m *MockUserStatsRepository) GetChatMessages(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counts[userID], nil
}
