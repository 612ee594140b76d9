//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"social-token-chat/internal/repository/postgres"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a database connection
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to connect to PostgreSQL")

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestStatsRepository_Integration(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	repo := postgres.NewStatsRepository(db)

	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx), "schema must be idempotent")

	t.Run("increment_creates_and_accumulates", func(t *testing.T) {
		require.NoError(t, repo.IncrementChatMessages(ctx, "0xAAA", 1))
		require.NoError(t, repo.IncrementChatMessages(ctx, "0xaaa", 2))

		count, err := repo.GetChatMessages(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("unknown_user_is_zero", func(t *testing.T) {
		count, err := repo.GetChatMessages(ctx, "0xnobody")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("concurrent_increments_are_not_lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.IncrementChatMessages(ctx, "0xbusy", 1))
			}()
		}
		wg.Wait()

		count, err := repo.GetChatMessages(ctx, "0xbusy")
		require.NoError(t, err)
		assert.Equal(t, int64(20), count)
	})
}
