package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"social-token-chat/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const incrementQuery = `
		INSERT INTO user_stats (user_id, chat_messages, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET chat_messages = user_stats.chat_messages + EXCLUDED.chat_messages,
			updated_at = now()
	`

const selectQuery = `SELECT chat_messages FROM user_stats WHERE user_id = $1`

func newMockRepo(t *testing.T) (*StatsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStatsRepository(db), mock
}

func TestStatsRepository_EnsureSchema(t *testing.T) {
	t.Run("applies_all_statements_in_a_transaction", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS user_stats")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS user_stats_chat_messages_idx")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, repo.EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls_back_on_failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS user_stats")).
			WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		err := repo.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to apply schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := repo.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestStatsRepository_IncrementChatMessages(t *testing.T) {
	t.Run("upserts_normalized_user", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectExec(regexp.QuoteMeta(incrementQuery)).
			WithArgs("0xabc", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.IncrementChatMessages(context.Background(), "  0xABC ", 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty_user_is_rejected", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		err := repo.IncrementChatMessages(context.Background(), " ", 1)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database_error_keeps_pq_error", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectExec(regexp.QuoteMeta(incrementQuery)).
			WithArgs("0xabc", int64(1)).
			WillReturnError(&pq.Error{Code: "08006"})

		err := repo.IncrementChatMessages(context.Background(), "0xabc", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to increment chat messages")
		assert.True(t, IsTransient(err), "wrapped error should still classify as transient")
	})
}

func TestStatsRepository_GetChatMessages(t *testing.T) {
	t.Run("existing_user", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).
			WithArgs("0xabc").
			WillReturnRows(sqlmock.NewRows([]string{"chat_messages"}).AddRow(int64(42)))

		count, err := repo.GetChatMessages(context.Background(), "0xABC")
		require.NoError(t, err)
		assert.Equal(t, int64(42), count)
	})

	t.Run("unknown_user_is_zero", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).
			WithArgs("0xnew").
			WillReturnError(sql.ErrNoRows)

		count, err := repo.GetChatMessages(context.Background(), "0xnew")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("database_error", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).
			WithArgs("0xabc").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetChatMessages(context.Background(), "0xabc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get chat messages")
	})
}
