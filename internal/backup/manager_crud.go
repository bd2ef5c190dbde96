// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
manager_crud.go - Backup Create, List and Delete

Creation Flow:
 1. Authorize (manual only). Denials happen before any I/O.
 2. Take the snapshot under snapshotMu.
 3. Upload right away when online and connected, otherwise queue.
    A failed immediate upload is queued too.
 4. Write one audit entry.

Listing reads the backup directory on every call and lists the remote
store live. A missing credential yields an empty cloud list, not an error.

Deletes are role-gated. Bulk deletes keep going past individual failures
and report a count plus a *PartialCleanupError. Each successful deletion
writes one audit entry.
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

	"github.com/tomtom215/shelfguard/internal/authz"
	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/remote"
)

// CreateManualBackup takes a snapshot on behalf of a user. Only roles
// allowed to create backups (admin, manager) may call it.
func (m *Manager) CreateManualBackup(ctx context.Context, actorID, role string) (*Record, error) {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionCreate); err != nil {
		return nil, err
	}
	return m.createBackup(ctx, KindManual, actorID)
}

// CreateAutoBackup takes a scheduled snapshot attributed to SystemActor.
func (m *Manager) CreateAutoBackup(ctx context.Context) (*Record, error) {
	return m.createBackup(ctx, KindAutomatic, SystemActor)
}

func (m *Manager) createBackup(ctx context.Context, kind Kind, actorID string) (*Record, error) {
	m.snapshotMu.Lock()
	rec, err := m.engine.CreateSnapshot(ctx, kind)
	m.snapshotMu.Unlock()

	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Str("actor_id", actorID).Msg("Backup failed")
		m.audit(ctx, actorID, AuditBackupFailed, fmt.Sprintf("kind=%s error=%v", kind, err))
		return nil, err
	}

	m.replicate(ctx, rec)
	m.audit(ctx, actorID, AuditBackupCreated, fmt.Sprintf("name=%s kind=%s size=%d upload=%s",
		rec.ID, rec.Kind, rec.SizeBytes, rec.UploadState))
	return rec, nil
}

// replicate uploads rec now or leaves it in the Pending Queue.
func (m *Manager) replicate(ctx context.Context, rec *Record) {
	if m.deps.Remote == nil {
		return
	}
	if !m.remoteReady() {
		rec.UploadState = StatePending
		m.queue.Enqueue(rec)
		logging.Info().Str("backup", rec.ID).Msg("Offline or not connected, backup queued for upload")
		return
	}

	if err := m.uploadRecord(ctx, rec); err != nil {
		rec.UploadState = StatePending
		if !remote.IsNotConnected(err) {
			rec.UploadFailures++
		}
		m.queue.Enqueue(rec)
		logging.Warn().Err(err).Str("backup", rec.ID).Msg("Immediate upload failed, backup queued")
	}
}

// ListHistory is GetHistory for a caller that must be allowed to read
// backups.
func (m *Manager) ListHistory(ctx context.Context, actorID, role string) (*History, error) {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionRead); err != nil {
		return nil, err
	}
	return m.GetHistory(ctx)
}

// GetHistory returns local snapshots (newest first), remote objects
// (newest first) and the pending queue depth.
func (m *Manager) GetHistory(ctx context.Context) (*History, error) {
	local, err := m.scanLocal()
	if err != nil {
		return nil, err
	}

	h := &History{Local: make([]*Record, 0, len(local)), Cloud: []remote.Object{}, Pending: m.queue.Len()}

	remoteIDs := make(map[string]string)
	if m.remoteReady() {
		objects, err := m.deps.Remote.List(ctx)
		switch {
		case err == nil:
			h.Cloud = objects
			for _, obj := range objects {
				remoteIDs[obj.Name] = obj.ID
			}
		case remote.IsNotConnected(err):
		default:
			h.CloudError = err.Error()
			logging.Warn().Err(err).Msg("Listing remote backups failed")
		}
	}

	for i := len(local) - 1; i >= 0; i-- {
		rec := local[i]
		switch id, ok := remoteIDs[rec.ID]; {
		case m.queue.Contains(rec.ID):
			rec.UploadState = StatePending
		case ok:
			rec.UploadState = StateUploaded
			rec.RemoteID = id
		}
		h.Local = append(h.Local, rec)
	}
	sort.SliceStable(h.Cloud, func(i, j int) bool {
		return remoteCreatedAt(h.Cloud[i]).After(remoteCreatedAt(h.Cloud[j]))
	})
	return h, nil
}

// DeleteLocal removes one local snapshot (with its metadata export) or a
// lone metadata export.
func (m *Manager) DeleteLocal(ctx context.Context, name, actorID, role string) error {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionDelete); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	dir := m.GetBackupLocation()
	path := joinDir(dir, name)
	if !fileExists(path) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}

	var err error
	if isSnapshotFile(name) {
		err = deleteLocalPair(dir, name)
		m.queue.Remove(name)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	m.audit(ctx, actorID, AuditLocalDeleted, "name="+name)
	logging.Info().Str("backup", name).Str("actor_id", actorID).Msg("Local backup deleted")
	return nil
}

// DeleteCloud removes one remote object.
func (m *Manager) DeleteCloud(ctx context.Context, remoteID, actorID, role string) error {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionDelete); err != nil {
		return err
	}
	if m.deps.Remote == nil {
		return ErrRemoteDisabled
	}
	if strings.TrimSpace(remoteID) == "" {
		return fmt.Errorf("%w: empty remote id", ErrInvalidBackupName)
	}

	if err := m.deps.Remote.Delete(ctx, remoteID); err != nil {
		if errors.Is(err, remote.ErrObjectNotFound) {
			return fmt.Errorf("%w: %w", ErrBackupNotFound, err)
		}
		return err
	}

	m.audit(ctx, actorID, AuditCloudDeleted, "remote_id="+remoteID)
	logging.Info().Str("remote_id", remoteID).Str("actor_id", actorID).Msg("Remote backup deleted")
	return nil
}

// DeleteAllLocal removes every snapshot and metadata export in the backup
// directory. It returns the number of snapshots deleted.
func (m *Manager) DeleteAllLocal(ctx context.Context, actorID, role string) (int, error) {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionDelete); err != nil {
		return 0, err
	}

	dir := m.GetBackupLocation()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	deleted := 0
	var failures []CleanupFailure
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSnapshotFile(name) {
			continue
		}
		if err := deleteLocalPair(dir, name); err != nil {
			logging.Warn().Err(err).Str("backup", name).Msg("Bulk delete could not remove local backup")
			failures = append(failures, CleanupFailure{Tier: tierLocal, Name: name, Err: err})
			continue
		}
		m.queue.Remove(name)
		deleted++
		m.audit(ctx, actorID, AuditLocalDeleted, "name="+name)
	}

	// Metadata exports whose snapshot was already gone.
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isMetadataFile(name) {
			continue
		}
		if err := os.Remove(joinDir(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures = append(failures, CleanupFailure{Tier: tierLocal, Name: name, Err: err})
		}
	}

	logging.Info().Int("deleted", deleted).Int("failures", len(failures)).Str("actor_id", actorID).Msg("Local backups deleted")
	return deleted, partial(deleted, failures)
}

// DeleteAllCloud removes every backup object from the remote store and
// returns how many were deleted.
func (m *Manager) DeleteAllCloud(ctx context.Context, actorID, role string) (int, error) {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionDelete); err != nil {
		return 0, err
	}
	if m.deps.Remote == nil {
		return 0, ErrRemoteDisabled
	}

	objects, err := m.deps.Remote.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var failures []CleanupFailure
	for _, obj := range objects {
		if !isSnapshotFile(obj.Name) && !isMetadataFile(obj.Name) {
			continue
		}
		if err := m.deps.Remote.Delete(ctx, obj.ID); err != nil {
			logging.Warn().Err(err).Str("backup", obj.Name).Msg("Bulk delete could not remove remote backup")
			failures = append(failures, CleanupFailure{Tier: tierRemote, Name: obj.Name, Err: err})
			continue
		}
		deleted++
		m.audit(ctx, actorID, AuditCloudDeleted, "remote_id="+obj.ID+" name="+obj.Name)
	}

	logging.Info().Int("deleted", deleted).Int("failures", len(failures)).Str("actor_id", actorID).Msg("Remote backups deleted")
	return deleted, partial(deleted, failures)
}

func joinDir(dir, name string) string {
	return filepath.Join(dir, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
