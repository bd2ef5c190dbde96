// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/shelfguard/internal/validation"
)

const (
	timestampLayout = "20060102-150405.000"

	snapshotPrefix = "backup-"
	snapshotExt    = ".db"
	metadataPrefix = "logs-"
	metadataExt    = ".json"
)

func snapshotName(kind Kind, at time.Time) string {
	return snapshotPrefix + string(kind) + "-" + at.UTC().Format(timestampLayout) + snapshotExt
}

func metadataName(kind Kind, at time.Time) string {
	return metadataPrefix + string(kind) + "-" + at.UTC().Format(timestampLayout) + metadataExt
}

// parseSnapshotName extracts the kind and creation time from a snapshot
// file name.
func parseSnapshotName(name string) (Kind, time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return "", time.Time{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	kindStr, ts, ok := strings.Cut(rest, "-")
	if !ok {
		return "", time.Time{}, false
	}
	kind := Kind(kindStr)
	if kind != KindManual && kind != KindAutomatic {
		return "", time.Time{}, false
	}
	at, err := time.ParseInLocation(timestampLayout, ts, time.UTC)
	if err != nil {
		return "", time.Time{}, false
	}
	return kind, at, true
}

// isSnapshotFile matches every file the agent may have written as a
// snapshot, including ones whose timestamp no longer parses.
func isSnapshotFile(name string) bool {
	return strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotExt)
}

// companionName maps backup-<kind>-<ts>.db to logs-<kind>-<ts>.json.
func companionName(name string) string {
	base := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	return metadataPrefix + base + metadataExt
}

// validateName accepts only bare snapshot or metadata file names.
func validateName(name string) error {
	if name != filepath.Base(name) || !validation.BackupNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidBackupName, name)
	}
	return nil
}
