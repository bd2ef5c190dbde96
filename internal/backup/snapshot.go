// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
snapshot.go - Snapshot Engine

Produces one consistent database file per call, plus a JSON export of the
tables the shop wants to read without opening SQLite.

Strategies:
 1. Primary: Database.SnapshotInto (VACUUM INTO). Atomic and does not
    block readers or writers of the live database.
 2. Fallback: Database.Checkpoint, then a raw copy of the live file with
    fsync. The copy only happens when the checkpoint folded every committed
    frame into the main file. Writes that land during the copy are not
    captured consistently, so this is best effort.

If both fail the caller gets a *SnapshotError and no file is left.

The metadata export runs only after the snapshot file exists. Its failure
is logged and reported on the Record, but the snapshot stands.

The Engine holds no lock around the database. Callers serialize.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/clock"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
)

// Engine creates snapshot files in the directory returned by dir.
type Engine struct {
	db             Database
	clock          clock.Clock
	dir            func() string
	exportMetadata bool

	mu   sync.Mutex
	last time.Time
}

// NewEngine creates an Engine. dir is consulted on every snapshot so a
// changed backup location applies to the next one.
func NewEngine(db Database, clk clock.Clock, dir func() string, exportMetadata bool) *Engine {
	return &Engine{db: db, clock: clk, dir: dir, exportMetadata: exportMetadata}
}

// nextTimestamp returns a millisecond timestamp strictly after the
// previous one, so back-to-back snapshots never share a name.
func (e *Engine) nextTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	at := e.clock.Now().UTC().Truncate(time.Millisecond)
	if !at.After(e.last) {
		at = e.last.Add(time.Millisecond)
	}
	e.last = at
	return at
}

// CreateSnapshot writes backup-<kind>-<ts>.db and, when enabled, its
// metadata export.
func (e *Engine) CreateSnapshot(ctx context.Context, kind Kind) (*Record, error) {
	start := time.Now()
	at := e.nextTimestamp()
	dir := e.dir()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	name := snapshotName(kind, at)
	dest := filepath.Join(dir, name)

	strategy, err := e.writeSnapshot(ctx, dest)
	metrics.RecordBackup(string(kind), string(strategy), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	rec := &Record{
		ID:          name,
		Kind:        kind,
		CreatedAt:   at,
		SizeBytes:   info.Size(),
		LocalPath:   dest,
		Strategy:    strategy,
		UploadState: StateNotUploaded,
	}

	if e.exportMetadata {
		metaPath := filepath.Join(dir, metadataName(kind, at))
		if err := e.writeMetadata(ctx, metaPath); err != nil {
			metrics.MetadataExportFailures.Inc()
			rec.MetadataError = err.Error()
			logging.Warn().Err(err).Str("backup", name).Msg("Metadata export failed, snapshot kept")
		} else {
			rec.MetadataPath = metaPath
		}
	}

	logging.Info().
		Str("backup", name).
		Str("kind", string(kind)).
		Str("strategy", string(strategy)).
		Int64("size_bytes", rec.SizeBytes).
		Dur("duration", time.Since(start)).
		Msg("Snapshot created")
	return rec, nil
}

func (e *Engine) writeSnapshot(ctx context.Context, dest string) (Strategy, error) {
	if err := removeIfExists(dest); err != nil {
		return StrategyVacuum, &SnapshotError{Primary: err, Fallback: errors.New("not attempted")}
	}

	primaryErr := e.db.SnapshotInto(ctx, dest)
	if primaryErr == nil {
		return StrategyVacuum, nil
	}
	logging.Warn().Err(primaryErr).Str("dest", dest).Msg("VACUUM INTO failed, falling back to checkpoint and copy")
	_ = os.Remove(dest)

	fallbackErr := e.checkpointAndCopy(ctx, dest)
	if fallbackErr == nil {
		return StrategyCopy, nil
	}
	_ = os.Remove(dest)
	return StrategyCopy, &SnapshotError{Primary: primaryErr, Fallback: fallbackErr}
}

func (e *Engine) checkpointAndCopy(ctx context.Context, dest string) error {
	if err := e.db.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(e.db.Path(), dest); err != nil {
		return fmt.Errorf("copy database: %w", err)
	}
	return nil
}

func (e *Engine) writeMetadata(ctx context.Context, path string) error {
	tables, err := e.db.ExportMetadata(ctx)
	if err != nil {
		return fmt.Errorf("export metadata: %w", err)
	}
	data, err := json.MarshalIndent(tables, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := removeIfExists(path); err != nil {
		return err
	}
	return writeFileSync(path, data)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove existing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// copyFile copies src to a new file at dst and fsyncs it.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // path comes from the database handle
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // dst is built from a validated name
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // path is built from a validated name
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
