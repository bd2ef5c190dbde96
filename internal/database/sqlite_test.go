// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// seedPOS creates a small POS database with WAL enabled.
func seedPOS(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"CREATE TABLE inventory (isbn TEXT PRIMARY KEY, title TEXT, qty INTEGER)",
		"CREATE TABLE activity_logs (id INTEGER PRIMARY KEY, actor TEXT, action TEXT)",
		"INSERT INTO inventory VALUES ('9780140449136', 'The Odyssey', 4)",
		"INSERT INTO inventory VALUES ('9780679783268', 'Pride and Prejudice', 2)",
		"INSERT INTO activity_logs (actor, action) VALUES ('u-1', 'sale')",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return path
}

func openTestDB(t *testing.T, path string) *SQLite {
	t.Helper()
	db, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Open(filepath.Join(t.TempDir(), "absent.db"), time.Second); err == nil {
		t.Fatal("Open() on a missing file should fail")
	}
}

func TestSnapshotInto(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t, seedPOS(t))

	dest := filepath.Join(t.TempDir(), "it's a copy.db")
	if err := db.SnapshotInto(ctx, dest); err != nil {
		t.Fatalf("SnapshotInto() error = %v", err)
	}
	if err := Verify(ctx, dest); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	snap, err := sql.Open("sqlite", dest)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	var n int
	if err := snap.QueryRow("SELECT COUNT(*) FROM inventory").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("snapshot inventory rows = %d, want 2", n)
	}
}

func TestSnapshotIntoExistingDestinationFails(t *testing.T) {
	t.Parallel()
	db := openTestDB(t, seedPOS(t))

	dest := filepath.Join(t.TempDir(), "taken.db")
	if err := os.WriteFile(dest, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := db.SnapshotInto(context.Background(), dest); err == nil {
		t.Fatal("VACUUM INTO an existing file should fail")
	}
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()
	db := openTestDB(t, seedPOS(t))

	if err := db.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
}

func TestCheckpointFailsWhileReaderPinsWAL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := seedPOS(t)

	db, err := Open(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reader, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	writer, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	// The reader's snapshot predates the sale, so its frames cannot leave the WAL.
	tx, err := reader.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM inventory").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Exec("INSERT INTO activity_logs (actor, action) VALUES ('u-2', 'sale')"); err != nil {
		t.Fatal(err)
	}

	err = db.Checkpoint(ctx)
	if !errors.Is(err, ErrCheckpointIncomplete) {
		t.Fatalf("Checkpoint() with an active reader error = %v, want ErrCheckpointIncomplete", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if err := db.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() after the reader finished error = %v", err)
	}
}

func TestOpenDoesNotChangeJournalMode(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rollback.db")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec("CREATE TABLE inventory (isbn TEXT PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	db, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() on a rollback-journal database error = %v", err)
	}
	_ = db.Close()

	raw, err = sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	var mode string
	if err := raw.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "delete" {
		t.Errorf("journal_mode = %q after Open, want delete", mode)
	}
}

func TestOpenPathWithURICharacters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "till #2 100% ?")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	src := seedPOS(t)
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "pos.db")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	db := openTestDB(t, path)
	got, err := db.ExportMetadata(ctx)
	if err != nil {
		t.Fatalf("ExportMetadata() error = %v", err)
	}
	if len(got["inventory"]) != 2 {
		t.Errorf("inventory rows = %d, want 2", len(got["inventory"]))
	}
	if err := Verify(ctx, path); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestExportMetadataSkipsMissingTables(t *testing.T) {
	t.Parallel()
	db := openTestDB(t, seedPOS(t))

	got, err := db.ExportMetadata(context.Background())
	if err != nil {
		t.Fatalf("ExportMetadata() error = %v", err)
	}
	if _, ok := got["price_history"]; ok {
		t.Error("price_history does not exist and should be skipped")
	}
	if len(got["inventory"]) != 2 {
		t.Errorf("inventory rows = %d, want 2", len(got["inventory"]))
	}
	logs := got["activity_logs"]
	if len(logs) != 1 || logs[0]["action"] != "sale" {
		t.Errorf("activity_logs = %v", logs)
	}
}

func TestExportMetadataConfiguredTables(t *testing.T) {
	t.Parallel()
	db, err := Open(seedPOS(t), time.Second, WithExportTables("inventory"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	got, err := db.ExportMetadata(context.Background())
	if err != nil {
		t.Fatalf("ExportMetadata() error = %v", err)
	}
	if len(got) != 1 || len(got["inventory"]) != 2 {
		t.Errorf("ExportMetadata() = %v, want only inventory", got)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("definitely not sqlite, just some bytes padding the header"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Verify(context.Background(), path); err == nil {
		t.Fatal("Verify() on garbage should fail")
	}
}
