//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgresContainer returns a migrated database for integration tests.
// When TEST_POSTGRES_PRIMARY is set it connects there; otherwise it starts a
// throwaway PostgreSQL container and tears it down with the test.
//
// Usage:
//
//	db, cleanup := rbac.SetupPostgresContainer(t)
//	defer cleanup()
func SetupPostgresContainer(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	if dbURL := os.Getenv("TEST_POSTGRES_PRIMARY"); dbURL != "" {
		db := openAndPing(t, dbURL)
		return db, func() { db.Close() }
	}

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration test")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rosterd_test"),
		postgres.WithUsername("rosterd"),
		postgres.WithPassword("rosterd_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db := openAndPing(t, connStr)

	cleanup := func() {
		db.Close()

		// Fresh context: the test's context may already be cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func openAndPing(t *testing.T, dbURL string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	return db
}
