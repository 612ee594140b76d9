package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"
)

const statsTable = "user_stats"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY CHECK (length(user_id) > 0),
		chat_messages BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS user_stats_chat_messages_idx ON user_stats (chat_messages DESC)`,
}

// StatsRepository implements domain.UserStatsRepository for PostgreSQL.
// Only counters are stored; message bodies never reach the database.
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new PostgreSQL stats repository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// EnsureSchema creates the counters table and its index in one transaction
func (r *StatsRepository) EnsureSchema(ctx context.Context) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

// IncrementChatMessages adds delta to the user's message counter, creating the row if needed
func (r *StatsRepository) IncrementChatMessages(ctx context.Context, userID string, delta int64) error {
	userID = domain.NormalizeID(userID)
	if userID == "" {
		return domain.ErrInvalidRequest
	}

	query := `
		INSERT INTO user_stats (user_id, chat_messages, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET chat_messages = user_stats.chat_messages + EXCLUDED.chat_messages,
			updated_at = now()
	`
	defer observeQuery("increment", time.Now())

	if _, err := r.db.ExecContext(ctx, query, userID, delta); err != nil {
		return fmt.Errorf("failed to increment chat messages: %w", err)
	}
	return nil
}

// GetChatMessages returns the user's message counter, zero for unknown users
func (r *StatsRepository) GetChatMessages(ctx context.Context, userID string) (int64, error) {
	query := `SELECT chat_messages FROM user_stats WHERE user_id = $1`
	defer observeQuery("select", time.Now())

	var count int64
	err := r.db.QueryRowContext(ctx, query, domain.NormalizeID(userID)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get chat messages: %w", err)
	}
	return count, nil
}

// withTx rolls back when fn fails and commits otherwise
func (r *StatsRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func observeQuery(operation string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, statsTable).Observe(time.Since(start).Seconds())
}
