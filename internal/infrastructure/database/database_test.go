package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// openTestDB opens a WAL database in a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "instruments.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func pragma(t *testing.T, db *DB, name string) string {
	t.Helper()

	var v string
	if err := db.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestOpen_FromServiceConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.DatabaseConfig
		wantJournal string
		wantBusy    string
	}{
		{
			name:        "wal",
			cfg:         config.DatabaseConfig{WALMode: true, BusyTimeout: 5},
			wantJournal: "wal",
			wantBusy:    "5000",
		},
		{
			name:        "rollback journal",
			cfg:         config.DatabaseConfig{BusyTimeout: 1},
			wantJournal: "delete",
			wantBusy:    "1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Nested directories are created on open.
			tt.cfg.Path = filepath.Join(t.TempDir(), "data", "lab", "instruments.db")

			db, err := Open(ConfigFrom(tt.cfg))
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // test cleanup

			if db.Path() != tt.cfg.Path {
				t.Errorf("Path() = %q, want %q", db.Path(), tt.cfg.Path)
			}
			if _, err := os.Stat(tt.cfg.Path); err != nil {
				t.Errorf("database file: %v", err)
			}
			if got := pragma(t, db, "journal_mode"); got != tt.wantJournal {
				t.Errorf("journal_mode = %q, want %q", got, tt.wantJournal)
			}
			if got := pragma(t, db, "busy_timeout"); got != tt.wantBusy {
				t.Errorf("busy_timeout = %q, want %q", got, tt.wantBusy)
			}
			if got := pragma(t, db, "foreign_keys"); got != "1" {
				t.Errorf("foreign_keys = %q, want 1", got)
			}
			if n := db.Stats().MaxOpenConnections; n != 1 {
				t.Errorf("MaxOpenConnections = %d, want 1", n)
			}
		})
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(ConfigFrom(config.DatabaseConfig{WALMode: true})); err == nil {
		t.Fatal("Open() with empty path should fail")
	}
}

func TestHealthCheck_FailsAfterClose(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close succeeded")
	}
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE readings (instrument TEXT, parameter TEXT, value REAL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	insert := func(tx *sql.Tx, param string, v float64) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO readings VALUES ('dmm', ?, ?)", param, v)
		return err
	}

	if err := db.WithTx(ctx, func(tx *sql.Tx) error { return insert(tx, "volt", 1.5) }); err != nil {
		t.Fatalf("WithTx() commit error = %v", err)
	}

	errRange := errors.New("value out of range")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx, "curr", 99); err != nil {
			return err
		}
		return errRange
	})
	if !errors.Is(err, errRange) {
		t.Fatalf("WithTx() error = %v, want %v", err, errRange)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1 (second insert rolled back)", count)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO missing VALUES (1)"); err == nil {
		t.Error("ExecContext() on a missing table succeeded")
	}
}
