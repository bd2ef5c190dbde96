// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
retention.go - Retention Manager

Deletes snapshots older than the retention window from both tiers.

Local tier:
  - Every backup-*.db in the backup directory is a candidate.
  - Age comes from the timestamp in the name, or the modification time
    when the name does not parse.
  - The companion logs-*.json goes with it.

Remote tier:
  - Only swept when the remote store holds a credential. Otherwise the
    tier is skipped for this sweep, not failed.
  - Age comes from the object's createdTime.
  - KeepLatestRemote protects the newest remote snapshot from deletion.

A failed deletion is logged and the sweep moves on. Failures come back as
a *PartialCleanupError next to the counts. The checkpoint is written after
every sweep, partial or not.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
	"github.com/tomtom215/shelfguard/internal/remote"
)

const (
	// DefaultRetentionWindow is the maximum age of a kept snapshot.
	DefaultRetentionWindow = 7 * 24 * time.Hour
	// DefaultMissedRetentionAfter is the checkpoint age that triggers a
	// catch-up sweep at startup.
	DefaultMissedRetentionAfter = 24 * time.Hour

	tierLocal  = "local"
	tierRemote = "remote"
)

// SweepResult counts deletions of one sweep.
type SweepResult struct {
	LocalDeleted  int  `json:"local_deleted"`
	RemoteDeleted int  `json:"remote_deleted"`
	RemoteSkipped bool `json:"remote_skipped"`
}

// RetentionConfig configures a Retention manager.
type RetentionConfig struct {
	Window           time.Duration
	MissedAfter      time.Duration
	KeepLatestRemote bool
}

// Retention enforces the retention window.
type Retention struct {
	cfg         RetentionConfig
	dir         func() string
	remote      remote.Store
	net         Connectivity
	checkpoints CheckpointStore
	clock       clock.Clock

	// onLocalDeleted lets the Manager drop queue entries for deleted files
	onLocalDeleted func(name string)

	mu sync.Mutex
}

// NewRetention creates a Retention manager. store may be nil when remote
// storage is disabled. The remote tier is only swept while net reports
// the shop online.
func NewRetention(cfg RetentionConfig, dir func() string, store remote.Store, net Connectivity, checkpoints CheckpointStore, clk clock.Clock) *Retention {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRetentionWindow
	}
	if cfg.MissedAfter <= 0 {
		cfg.MissedAfter = DefaultMissedRetentionAfter
	}
	return &Retention{cfg: cfg, dir: dir, remote: store, net: net, checkpoints: checkpoints, clock: clk}
}

// Sweep deletes expired snapshots from both tiers and persists the
// checkpoint. Concurrent sweeps run one after the other.
func (r *Retention) Sweep(ctx context.Context) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var res SweepResult
	var failures []CleanupFailure

	localDeleted, localFailures := r.sweepLocal(now)
	res.LocalDeleted = localDeleted
	failures = append(failures, localFailures...)

	switch {
	case r.remote == nil || !r.remote.IsConnected():
		res.RemoteSkipped = true
	case r.net != nil && !r.net.IsOnline():
		logging.Info().Msg("Shop is offline, skipping remote retention")
		res.RemoteSkipped = true
	default:
		deleted, remoteFailures, skipped := r.sweepRemote(ctx, now)
		res.RemoteDeleted = deleted
		res.RemoteSkipped = skipped
		failures = append(failures, remoteFailures...)
	}

	if err := r.checkpoints.SaveCheckpoint(ctx, now); err != nil {
		logging.Error().Err(err).Msg("Failed to persist retention checkpoint")
		failures = append(failures, CleanupFailure{Tier: "checkpoint", Name: "retention", Err: err})
	} else {
		metrics.RetentionLastSweep.Set(float64(now.Unix()))
	}

	logging.Info().
		Int("local_deleted", res.LocalDeleted).
		Int("remote_deleted", res.RemoteDeleted).
		Bool("remote_skipped", res.RemoteSkipped).
		Int("failures", len(failures)).
		Msg("Retention sweep completed")

	return res, partial(res.LocalDeleted+res.RemoteDeleted, failures)
}

// RecoverMissed sweeps right away when no sweep was ever recorded or the
// last one is older than MissedAfter. It reports whether it swept.
func (r *Retention) RecoverMissed(ctx context.Context) (bool, SweepResult, error) {
	last, ok, err := r.checkpoints.LoadCheckpoint(ctx)
	if err != nil {
		return false, SweepResult{}, fmt.Errorf("load retention checkpoint: %w", err)
	}
	if ok && r.clock.Now().Sub(last) <= r.cfg.MissedAfter {
		logging.Debug().Time("last_sweep", last).Msg("Retention checkpoint is recent, no catch-up needed")
		return false, SweepResult{}, nil
	}

	ev := logging.Info()
	if ok {
		ev = ev.Time("last_sweep", last)
	}
	ev.Msg("Retention sweep missed, running now")

	res, err := r.Sweep(ctx)
	return true, res, err
}

// expired reports whether a snapshot created at created is strictly older
// than the window.
func (r *Retention) expired(now, created time.Time) bool {
	return now.Sub(created) > r.cfg.Window
}

func (r *Retention) sweepLocal(now time.Time) (int, []CleanupFailure) {
	dir := r.dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		logging.Error().Err(err).Str("dir", dir).Msg("Cannot read backup directory for retention")
		return 0, []CleanupFailure{{Tier: tierLocal, Name: dir, Err: err}}
	}

	deleted := 0
	var failures []CleanupFailure
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSnapshotFile(name) {
			continue
		}
		created, ok := localCreatedAt(dir, entry)
		if !ok || !r.expired(now, created) {
			continue
		}

		err := deleteLocalPair(dir, name)
		metrics.RecordRetentionDeletion(tierLocal, err)
		if err != nil {
			logging.Warn().Err(err).Str("backup", name).Msg("Retention could not delete local backup")
			failures = append(failures, CleanupFailure{Tier: tierLocal, Name: name, Err: err})
			continue
		}
		deleted++
		if r.onLocalDeleted != nil {
			r.onLocalDeleted(name)
		}
		logging.Debug().Str("backup", name).Time("created_at", created).Msg("Retention deleted local backup")
	}
	return deleted, failures
}

func (r *Retention) sweepRemote(ctx context.Context, now time.Time) (int, []CleanupFailure, bool) {
	objects, err := r.remote.List(ctx)
	if err != nil {
		if remote.IsNotConnected(err) {
			logging.Info().Msg("Remote store not connected, skipping remote retention")
			return 0, nil, true
		}
		logging.Error().Err(err).Msg("Cannot list remote backups for retention")
		return 0, []CleanupFailure{{Tier: tierRemote, Name: "list", Err: err}}, false
	}

	snapshots := make([]remote.Object, 0, len(objects))
	for _, obj := range objects {
		if isSnapshotFile(obj.Name) {
			snapshots = append(snapshots, obj)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return remoteCreatedAt(snapshots[i]).Before(remoteCreatedAt(snapshots[j]))
	})

	candidates := snapshots
	if r.cfg.KeepLatestRemote && len(candidates) > 0 {
		candidates = candidates[:len(candidates)-1]
	}

	deleted := 0
	var failures []CleanupFailure
	for _, obj := range candidates {
		if !r.expired(now, remoteCreatedAt(obj)) {
			continue
		}
		err := r.remote.Delete(ctx, obj.ID)
		metrics.RecordRetentionDeletion(tierRemote, err)
		if err != nil {
			logging.Warn().Err(err).Str("backup", obj.Name).Str("remote_id", obj.ID).Msg("Retention could not delete remote backup")
			failures = append(failures, CleanupFailure{Tier: tierRemote, Name: obj.Name, Err: err})
			continue
		}
		deleted++
	}
	return deleted, failures, false
}

func localCreatedAt(dir string, entry fs.DirEntry) (time.Time, bool) {
	if _, at, ok := parseSnapshotName(entry.Name()); ok {
		return at, true
	}
	info, err := entry.Info()
	if err != nil {
		logging.Debug().Err(err).Str("dir", dir).Str("file", entry.Name()).Msg("Cannot stat backup file")
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func remoteCreatedAt(obj remote.Object) time.Time {
	if !obj.CreatedTime.IsZero() {
		return obj.CreatedTime
	}
	_, at, _ := parseSnapshotName(obj.Name)
	return at
}

// deleteLocalPair removes a snapshot and its metadata export. A missing
// metadata file is not an error.
func deleteLocalPair(dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		return err
	}
	companion := filepath.Join(dir, companionName(name))
	if err := os.Remove(companion); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot removed but %s remains: %w", filepath.Base(companion), err)
	}
	return nil
}

// isMetadataFile matches logs-*.json exports.
func isMetadataFile(name string) bool {
	return strings.HasPrefix(name, metadataPrefix) && strings.HasSuffix(name, metadataExt)
}
