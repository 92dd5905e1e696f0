// Package testutil provides a migrated Postgres database for tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/johndosdos/huddle/internal/database"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// DbInit connects to TEST_DB_URL and rebuilds the schema from scratch. The
// test is skipped when no test database is configured.
func DbInit(t testing.TB) *pgxpool.Pool {
	t.Helper()

	// A missing .env is fine; the variable may come from the environment.
	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbPool, err := pgxpool.New(ctx, testURL)
	if err != nil {
		t.Fatalf("could not connect to the postgresql database: %v", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		t.Fatalf("could not reach the postgresql database: %v", err)
	}

	dbForGoose := stdlib.OpenDBFromPool(dbPool)
	err = database.Reset(dbForGoose)
	if err == nil {
		err = database.Migrate(dbForGoose)
	}
	if err != nil {
		dbForGoose.Close()
		dbPool.Close()
		t.Fatalf("migrate test database: %+v", err)
	}

	t.Cleanup(func() {
		if err := database.Reset(dbForGoose); err != nil {
			t.Logf("database.Reset() error = %+v", err)
		}
		dbForGoose.Close()
		dbPool.Close()
	})

	return dbPool
}
