package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/livetally/db"
)

// SetupTestDB connects to TEST_PG_DSN, recreates the schema and returns the
// pool. It skips the test when TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `DROP TABLE IF EXISTS live_snapshots, channels, schema_migrations`); err != nil {
		_ = database.Close()
		t.Fatalf("failed to reset schema: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}
