// Package sqlitetest opens an in-memory SQLite database carrying the orgkit
// schema. The PostgreSQL stores keep to the SQL subset both engines share,
// so tests run them unchanged against it.
package sqlitetest

import (
	"database/sql"
	_ "embed"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// Open returns a fresh database closed on test cleanup. The pool is pinned
// to one connection because every SQLite memory connection is its own
// database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}
