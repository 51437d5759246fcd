package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"AuthPlatform/internal/migrations"
	"AuthPlatform/pkg/connection"
	"AuthPlatform/pkg/database"
)

// setupTestDB возвращает пул с примененными миграциями и пустыми таблицами.
// TEST_DATABASE_URL имеет приоритет, иначе поднимается контейнер
func setupTestDB(t *testing.T) *database.Postgres {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("auth_test"),
			tcpostgres.WithUsername("auth"),
			tcpostgres.WithPassword("auth"),
			tcpostgres.BasicWaitStrategies(),
		)
		testcontainers.CleanupContainer(t, container)
		require.NoError(t, err, "failed to start postgres container")

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	config := database.NewConfig(dsn)
	config.Retry = connection.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}

	pg, err := database.Connect(ctx, config)
	if err != nil {
		t.Skipf("Skipping Postgres tests because database is not available: %v", err)
	}
	t.Cleanup(pg.Close)

	require.NoError(t, pg.Migrate(ctx, migrations.FS, "."))

	_, err = pg.Pool.Exec(ctx, `TRUNCATE users, auths`)
	require.NoError(t, err, "failed to clean tables")

	return pg
}
