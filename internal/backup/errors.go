// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidBackupName is returned for names that are not snapshot or
	// metadata file names. It also rejects path traversal.
	ErrInvalidBackupName = errors.New("invalid backup name")

	// ErrBackupNotFound is returned when the named local backup does not exist
	ErrBackupNotFound = errors.New("backup not found")

	// ErrDrainInProgress is returned by Queue.Drain while another drain runs
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrRemoteDisabled is returned by remote operations when no remote
	// store is configured.
	ErrRemoteDisabled = errors.New("remote storage is not configured")
)

// SnapshotError means both snapshot strategies failed. No record was
// created and no file was left behind.
type SnapshotError struct {
	Primary  error
	Fallback error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *SnapshotError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// PermissionError means the caller's role may not perform Action. It is
// returned before any I/O happens.
type PermissionError struct {
	ActorID string
	Role    string
	Action  string
	Err     error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied: %s (role %q) may not %s", e.ActorID, e.Role, e.Action)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied reports whether err carries a *PermissionError.
func IsPermissionDenied(err error) bool {
	var perr *PermissionError
	return errors.As(err, &perr)
}

// LocationError means a proposed backup directory cannot be used.
type LocationError struct {
	Path string
	Err  error
}

func (e *LocationError) Error() string {
	if e.Path == "" {
		return "invalid backup location: " + e.Err.Error()
	}
	return fmt.Sprintf("backup location %s is not usable: %v", e.Path, e.Err)
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

// CleanupFailure is one failed deletion.
type CleanupFailure struct {
	Tier string `json:"tier"`
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// PartialCleanupError is returned by sweeps and bulk deletes when some
// deletions failed. The operation itself still completed, and Succeeded
// carries the number of successful deletions.
type PartialCleanupError struct {
	Succeeded int
	Failures  []CleanupFailure
}

func (e *PartialCleanupError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Tier, f.Name, f.Err))
	}
	return fmt.Sprintf("%d deletion(s) failed (%d succeeded): %s",
		len(e.Failures), e.Succeeded, strings.Join(parts, "; "))
}

// Unwrap exposes the individual causes.
func (e *PartialCleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// partial returns a *PartialCleanupError, or nil when nothing failed.
func partial(succeeded int, failures []CleanupFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &PartialCleanupError{Succeeded: succeeded, Failures: failures}
}
