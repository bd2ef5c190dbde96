// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"errors"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shelfguard/internal/backup"
	"github.com/tomtom215/shelfguard/internal/remote"
	"github.com/tomtom215/shelfguard/internal/validation"
)

// respondServiceError maps backup subsystem errors onto HTTP statuses.
// Aggregate errors are matched before sentinels because they unwrap to
// their causes. Partial bulk deletes never reach here; see respondDeleteAll.
func respondServiceError(w http.ResponseWriter, err error) {
	var (
		snapErr  *backup.SnapshotError
		validErr *validation.RequestValidationError
		locErr   *backup.LocationError
	)

	switch {
	case backup.IsPermissionDenied(err):
		respondError(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error(), nil)
	case errors.As(err, &validErr):
		respondValidationError(w, err)
	case errors.As(err, &snapErr):
		respondError(w, http.StatusInternalServerError, "SNAPSHOT_FAILED", "Backup could not be created", err)
	case errors.As(err, &locErr):
		respondError(w, http.StatusUnprocessableEntity, "INVALID_LOCATION", err.Error(), nil)
	case errors.Is(err, backup.ErrInvalidBackupName):
		respondError(w, http.StatusBadRequest, "INVALID_BACKUP_NAME", err.Error(), nil)
	case errors.Is(err, backup.ErrInvalidAuthState):
		respondError(w, http.StatusBadRequest, "INVALID_STATE", "Authorization state is unknown or expired", nil)
	case errors.Is(err, backup.ErrBackupNotFound):
		respondError(w, http.StatusNotFound, "BACKUP_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, backup.ErrRemoteDisabled):
		respondError(w, http.StatusServiceUnavailable, "REMOTE_DISABLED", "Remote storage is not enabled", nil)
	case errors.Is(err, backup.ErrDrainInProgress):
		respondError(w, http.StatusConflict, "SYNC_IN_PROGRESS", "A sync is already running", nil)
	case remote.IsNotConnected(err):
		respondError(w, http.StatusConflict, "REMOTE_NOT_CONNECTED", "Remote storage is not connected", err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		respondError(w, http.StatusServiceUnavailable, "REMOTE_UNAVAILABLE", "Remote storage is temporarily unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", err)
	}
}
