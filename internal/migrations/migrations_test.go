package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestGetMigrator(t *testing.T) {
	m, err := getMigrator()
	require.NoError(t, err, "Should create migrator instance")
	require.NotNil(t, m)

	m2, err := getMigrator()
	require.NoError(t, err)
	assert.Same(t, m, m2, "Should return same migrator instance (singleton)")
}

func setupPostgres(t *testing.T) *pgx.Conn {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("gamesync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(ctx) })
	return conn
}

func TestApply(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping real database migration test in short mode")
	}
	ctx := context.Background()
	conn := setupPostgres(t)

	needs, err := NeedsUpgrade(ctx, conn)
	require.NoError(t, err)
	assert.True(t, needs, "fresh database needs migrations")

	require.NoError(t, Apply(ctx, conn))

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'games')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "games table should exist after migration")

	needs, err = NeedsUpgrade(ctx, conn)
	require.NoError(t, err)
	assert.False(t, needs, "schema should be up to date")

	require.NoError(t, Apply(ctx, conn), "applying twice is a no-op")
}
