// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package database is the agent's only window onto the live point-of-sale
// database. The agent never writes business data; it only asks SQLite for
// consistent copies, WAL checkpoints and read-only metadata exports.
//
// The driver is modernc.org/sqlite, so the binary stays CGO-free and runs
// on the small till PCs the stores use.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/shelfguard/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultExportTables are exported next to every snapshot so that recent
// activity can be inspected without restoring the whole database.
var DefaultExportTables = []string{"activity_logs", "price_history", "inventory"}

// SQLite is a handle on the live POS database file.
type SQLite struct {
	db           *sql.DB
	path         string
	exportTables []string
}

// Option configures an SQLite handle.
type Option func(*SQLite)

// WithExportTables overrides DefaultExportTables.
func WithExportTables(tables ...string) Option {
	return func(s *SQLite) {
		s.exportTables = append([]string(nil), tables...)
	}
}

// Open opens the database at path. The file must already exist: the agent
// backs up a database owned by the POS application and never creates one.
func Open(path string, busyTimeout time.Duration, opts ...Option) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", fileURI(path, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds())))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(2)

	// The journal mode belongs to the POS application. It is read, never set.
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read journal mode of %s: %w", path, err)
	}
	if !strings.EqualFold(mode, "wal") {
		logging.Info().Str("journal_mode", mode).Str("path", path).
			Msg("POS database is not in WAL mode, checkpoints are no-ops")
	}

	s := &SQLite{db: db, path: path, exportTables: DefaultExportTables}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// fileURI builds a SQLite URI filename for path. Characters such as '?',
// '#' and '%' in the path are escaped.
func fileURI(path, rawQuery string) string {
	u := url.URL{Scheme: "file", Path: path, RawQuery: rawQuery}
	return u.String()
}

// Close closes the connection pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// SnapshotInto writes a transactionally consistent copy of the database
// to dest with VACUUM INTO. Readers and writers are not blocked.
func (s *SQLite) SnapshotInto(ctx context.Context, dest string) error {
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dest, "'", "''"))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// ErrCheckpointIncomplete is returned by Checkpoint when committed WAL
// frames could not be folded into the main file.
var ErrCheckpointIncomplete = errors.New("wal checkpoint incomplete")

// Checkpoint folds the WAL back into the main file and truncates it, so a
// raw copy of the main file reflects every committed transaction. It fails
// with ErrCheckpointIncomplete when a reader kept frames in the WAL past the
// busy timeout; the main file is then stale and must not be copied.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	row := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if busy != 0 || checkpointed < logFrames {
		logging.Warn().
			Bool("busy", busy != 0).
			Int("log_frames", logFrames).
			Int("checkpointed", checkpointed).
			Msg("WAL checkpoint could not complete, readers still active")
		return fmt.Errorf("%w: %d of %d frames checkpointed", ErrCheckpointIncomplete, checkpointed, logFrames)
	}
	return nil
}

// ExportMetadata reads every configured table that exists in the database.
// Missing tables are skipped; the POS schema differs between versions.
func (s *SQLite) ExportMetadata(ctx context.Context) (map[string][]map[string]any, error) {
	existing, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]map[string]any, len(s.exportTables))
	for _, table := range s.exportTables {
		if !existing[table] {
			logging.Debug().Str("table", table).Msg("Export table not present, skipping")
			continue
		}
		rows, err := s.readTable(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = rows
	}
	return out, nil
}

func (s *SQLite) tableNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

func (s *SQLite) readTable(ctx context.Context, table string) ([]map[string]any, error) {
	// table comes from the sqlite_master allow-list above, never from input.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ErrIntegrity is returned by Verify when SQLite reports corruption.
var ErrIntegrity = errors.New("integrity check failed")

// Verify opens the snapshot at path read-only and runs PRAGMA
// integrity_check on it.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fileURI(path, "mode=ro"))
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	defer rows.Close()

	var issues []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("integrity check %s: %w", path, err)
		}
		if line = strings.TrimSpace(line); line != "" && !strings.EqualFold(line, "ok") {
			issues = append(issues, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(issues, "; "))
	}
	return nil
}
