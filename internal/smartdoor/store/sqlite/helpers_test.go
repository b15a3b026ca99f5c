package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own named shared-cache database, which stays alive
	// for the lifetime of the pool.
	conn, err := sql.Open("sqlite", db.MemoryDSN("test_"+t.Name()))
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if _, err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn.  The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

var baseTime = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func guestRecord(id, hash string, created time.Time, ttl time.Duration) store.PasscodeRecord {
	until := created.Add(ttl)
	return store.PasscodeRecord{
		ID:         id,
		CodeHash:   hash,
		CodeMasked: "****" + id,
		ValidUntil: &until,
		CreatedAt:  created,
	}
}

func countRows(t *testing.T, conn *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	if err := conn.QueryRowContext(context.Background(), q, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
