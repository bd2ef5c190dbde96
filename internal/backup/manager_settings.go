// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/shelfguard/internal/authz"
	"github.com/tomtom215/shelfguard/internal/logging"
)

// GetBackupLocation returns the directory new snapshots are written to.
func (m *Manager) GetBackupLocation() string {
	m.locationMu.RLock()
	defer m.locationMu.RUnlock()
	return m.location
}

// SetBackupLocation validates that path can be created and written, then
// persists it. Existing backups stay where they are. On failure neither
// the persisted nor the in-memory value changes.
func (m *Manager) SetBackupLocation(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &LocationError{Err: errors.New("must not be empty")}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &LocationError{Path: path, Err: err}
	}
	if err := probeWritable(abs); err != nil {
		return "", err
	}

	m.locationMu.Lock()
	defer m.locationMu.Unlock()

	if err := m.deps.Settings.SaveBackupLocation(ctx, abs); err != nil {
		return "", fmt.Errorf("persist backup location: %w", err)
	}
	prev := m.location
	m.location = abs
	logging.Info().Str("from", prev).Str("to", abs).Msg("Backup location changed")
	return abs, nil
}

// ChangeBackupLocation is SetBackupLocation for a caller that must be
// allowed to update settings. It writes an audit entry.
func (m *Manager) ChangeBackupLocation(ctx context.Context, path, actorID, role string) (string, error) {
	if err := m.authorize(actorID, role, authz.ObjectSettings, authz.ActionUpdate); err != nil {
		return "", err
	}
	abs, err := m.SetBackupLocation(ctx, path)
	if err != nil {
		return "", err
	}
	m.audit(ctx, actorID, AuditLocationChanged, "path="+abs)
	return abs, nil
}

func (m *Manager) loadLocation(ctx context.Context) error {
	path, ok, err := m.deps.Settings.LoadBackupLocation(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("fallback", m.cfg.Dir).Msg("Cannot read persisted backup location")
		return nil
	}
	if !ok || path == "" {
		return nil
	}
	m.locationMu.Lock()
	m.location = path
	m.locationMu.Unlock()
	return nil
}

// probeWritable creates dir if needed and writes and removes a probe file.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &LocationError{Path: dir, Err: err}
	}
	probe, err := os.CreateTemp(dir, ".shelfguard-probe-*")
	if err != nil {
		return &LocationError{Path: dir, Err: err}
	}
	name := probe.Name()
	_, werr := probe.WriteString("ok")
	cerr := probe.Close()
	rerr := os.Remove(name)
	if err := errors.Join(werr, cerr); err != nil {
		return &LocationError{Path: dir, Err: err}
	}
	if rerr != nil {
		return &LocationError{Path: dir, Err: fmt.Errorf("remove probe file: %w", rerr)}
	}
	return nil
}
