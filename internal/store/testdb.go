//go:build integration

package store

import (
	"context"
	"os"
	"testing"
)

// OpenTestDB connects to TEST_DATABASE_URL, migrates it and empties every
// table. Tests are skipped when the variable is unset. Packages share the
// database, so run them with -p 1:
//
//	go test -tags integration -p 1 ./...
func OpenTestDB(t testing.TB) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := NewDB(url)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	if _, err := db.Client.ExecContext(ctx, `TRUNCATE attendance_records, attendance_window, users`); err != nil {
		t.Fatalf("reset test database: %v", err)
	}
	return db
}
