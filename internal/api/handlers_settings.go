// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"net/http"

	"github.com/tomtom215/shelfguard/internal/models"
)

// GetBackupLocation returns the current backup directory.
// GET /api/v1/settings/backup-location
func (h *Handler) GetBackupLocation(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, &models.BackupLocationResponse{Path: h.backups.GetBackupLocation()})
}

// SetBackupLocation changes where new snapshots are written.
// PUT /api/v1/settings/backup-location
func (h *Handler) SetBackupLocation(w http.ResponseWriter, r *http.Request) {
	var req models.BackupLocationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	a := actor(r)
	path, err := h.backups.ChangeBackupLocation(r.Context(), req.Path, a.ID, a.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, &models.BackupLocationResponse{Path: path})
}
