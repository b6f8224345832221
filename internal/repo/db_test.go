package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// TestOpenSQLite_MigrateThenFirstQueries walks the server bootstrap order
// against a fresh database file: open, migrate, then the first read and
// write of every table. Without the migration step each of these dies with
// a missing-table error instead of the domain result.
func TestOpenSQLite_MigrateThenFirstQueries(t *testing.T) {
	ctx := context.Background()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	if _, err := GetCardSet(ctx, db, "c1", "lunch"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("first card-set read: %v", err)
	}
	if _, err := GetRollRecord(ctx, db, "om_x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("first roll-record read: %v", err)
	}
	if _, err := GetReactionMark(ctx, db, "om_x", "u1", "THUMBSUP"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("first reaction-mark read: %v", err)
	}
	if first, err := MarkEventProcessed(ctx, db, "ev1", time.Hour); err != nil || !first {
		t.Fatalf("first event mark: first=%v err=%v", first, err)
	}
}

// An unmigrated file must fail reads loudly rather than pretending the data
// is merely absent.
func TestOpenSQLite_UnmigratedFileFailsReads(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	_, err = GetCardSet(context.Background(), db, "c1", "lunch")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a schema error, got %v", err)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "absent", "bot.db")); err == nil {
		t.Fatal("expected an error for a missing parent directory")
	}
}
