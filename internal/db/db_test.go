package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", MemoryDSN("dbtest_"+t.Name()))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	n, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one migration applied")
	}

	n, err = Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 migrations on rerun, got %d", n)
	}

	var id int
	if err := conn.QueryRowContext(ctx, `SELECT id FROM settings`).Scan(&id); err != nil {
		t.Fatalf("settings singleton missing: %v", err)
	}
}

func TestMigrate_SingleMainIndex(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()
	if _, err := Migrate(ctx, conn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	insert := `INSERT INTO passcodes(id, code_hash, code_masked, is_main, created_at_ms) VALUES (?, 'h', '****', 1, 0)`
	if _, err := conn.ExecContext(ctx, insert, "m1"); err != nil {
		t.Fatalf("first main: %v", err)
	}
	if _, err := conn.ExecContext(ctx, insert, "m2"); err == nil {
		t.Fatal("expected second main code to violate the unique index")
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/1_b.sql":    {Data: []byte("SELECT 1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("0012_add_index.sql")
	if err != nil || v != 12 {
		t.Fatalf("parseVersion: v=%d err=%v", v, err)
	}
	if _, err := parseVersion("init.sql"); err == nil {
		t.Error("expected error for filename without version")
	}
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()
	if _, err := Migrate(ctx, conn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	w := NewWorker(conn)
	defer w.Close()

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE settings SET hold_time_seconds = 99 WHERE id = 1`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var hold int
	if err := conn.QueryRowContext(ctx, `SELECT hold_time_seconds FROM settings WHERE id = 1`).Scan(&hold); err != nil {
		t.Fatalf("query: %v", err)
	}
	if hold != 5 {
		t.Errorf("expected rollback to keep hold=5, got %d", hold)
	}
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openMemory(t)
	w := NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}
