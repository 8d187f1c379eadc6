// Package pgtest connects tests to the Postgres database named by
// DATABASE_URL. Tests using it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ecociel/remind/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

const EnvDatabaseURL = "DATABASE_URL"

// Pool returns a migrated pool that is closed when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvDatabaseURL)
	if url == "" {
		t.Skipf("%s not set, skipping Postgres test", EnvDatabaseURL)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect to database: %v", err)
	}
	t.Cleanup(pool.Close)

	// Test binaries of several packages may migrate the same database at once.
	if err := migrations.Up(ctx, pool); err != nil {
		time.Sleep(time.Second)
		if err := migrations.Up(ctx, pool); err != nil {
			t.Fatalf("migrate database: %v", err)
		}
	}
	return pool
}
