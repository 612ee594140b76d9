package domain

import "context"

// UserStatsRepository defines the interface for per-user activity counters
type UserStatsRepository interface {
	EnsureSchema(ctx context.Context) error
	IncrementChatMessages(ctx context.Context, userID string, delta int64) error
	GetChatMessages(ctx context.Context, userID string) (int64, error)
}
