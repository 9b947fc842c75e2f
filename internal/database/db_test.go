package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB()
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestNewRunsMigrations(t *testing.T) {
	db := newTestDB(t)

	version, err := db.GetMigrationVersion(context.Background())
	if err != nil {
		t.Fatalf("getting migration version: %v", err)
	}
	if version < 1 {
		t.Errorf("migration version = %d, want >= 1", version)
	}

	// Both tables must exist after migration.
	for _, table := range []string{"scans", "findings"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := db.InTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scans (scan_type, start_time, status) VALUES (?, ?, ?)`,
			"iam", time.Now().UTC(), ScanStatusRunning)
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("InTransaction error = %v, want %v", err, sentinel)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&count); err != nil {
		t.Fatalf("counting scans: %v", err)
	}
	if count != 0 {
		t.Errorf("scan count after rollback = %d, want 0", count)
	}
}

func TestWithOptions(t *testing.T) {
	db, err := New("file::memory:?cache=shared",
		WithMaxConnections(2),
		WithBusyTimeout(time.Second))
	if err != nil {
		t.Fatalf("creating database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if db.maxConns != 2 {
		t.Errorf("maxConns = %d, want 2", db.maxConns)
	}
	if db.busyTimeout != time.Second {
		t.Errorf("busyTimeout = %v, want 1s", db.busyTimeout)
	}
}
