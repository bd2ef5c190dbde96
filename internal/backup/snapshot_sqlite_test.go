// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/shelfguard/internal/database"
)

// copyOnlyDB forces the checkpoint-and-copy strategy on a real database.
type copyOnlyDB struct {
	*database.SQLite
}

func (copyOnlyDB) SnapshotInto(context.Context, string) error {
	return errors.New("VACUUM INTO unavailable")
}

func countSales(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sales").Scan(&n); err != nil {
		t.Fatalf("count sales in %s: %v", filepath.Base(path), err)
	}
	return n
}

func TestEngineFallbackRefusesStaleCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pos.db")

	seed, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"CREATE TABLE sales (id INTEGER PRIMARY KEY, isbn TEXT)",
		"INSERT INTO sales (isbn) VALUES ('9780140449136')",
	} {
		if _, err := seed.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	_ = seed.Close()

	live, err := database.Open(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = live.Close() })

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

	tx, err := reader.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sales").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Exec("INSERT INTO sales (isbn) VALUES ('9780679783268')"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	e := NewEngine(copyOnlyDB{live}, testclock.NewClock(testEpoch), func() string { return dir }, false)

	rec, err := e.CreateSnapshot(ctx, KindAutomatic)
	var snapErr *SnapshotError
	if !errors.As(err, &snapErr) {
		t.Fatalf("CreateSnapshot() error = %v (record %+v), want *SnapshotError", err, rec)
	}
	if !errors.Is(err, database.ErrCheckpointIncomplete) {
		t.Errorf("fallback error = %v, want ErrCheckpointIncomplete", snapErr.Fallback)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("failed snapshot left %d files behind", len(entries))
	}

	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	rec, err = e.CreateSnapshot(ctx, KindAutomatic)
	if err != nil {
		t.Fatalf("CreateSnapshot() after the reader finished error = %v", err)
	}
	if rec.Strategy != StrategyCopy {
		t.Errorf("Strategy = %s, want copy", rec.Strategy)
	}
	if got := countSales(t, rec.LocalPath); got != 2 {
		t.Errorf("sales in backup = %d, want both committed rows", got)
	}
}
