// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/shelfguard/internal/backup"
	"github.com/tomtom215/shelfguard/internal/models"
)

// ListBackups returns local and cloud history.
// GET /api/v1/backups
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	hist, err := h.backups.ListHistory(r.Context(), a.ID, a.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, hist)
}

// CreateBackup takes a manual snapshot. The upload happens inline when
// the remote is reachable; otherwise the record comes back pending.
// POST /api/v1/backups
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	rec, err := h.backups.CreateManualBackup(r.Context(), a.ID, a.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusCreated, rec)
}

// SyncBackups drains the pending queue now.
// POST /api/v1/backups/sync
func (h *Handler) SyncBackups(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	res, err := h.backups.SyncNow(r.Context(), a.ID, a.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, &models.SyncResponse{
		Uploaded:  recordIDs(res.Succeeded),
		Failed:    recordIDs(res.Failed),
		Dropped:   recordIDs(res.Dropped),
		Remaining: h.backups.Status().Pending,
	})
}

// DeleteLocalBackup removes one snapshot and its metadata file.
// DELETE /api/v1/backups/local/{name}
func (h *Handler) DeleteLocalBackup(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if err := h.backups.DeleteLocal(r.Context(), chi.URLParam(r, "name"), a.ID, a.Role); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCloudBackup removes one remote object.
// DELETE /api/v1/backups/cloud/{id}
func (h *Handler) DeleteCloudBackup(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if err := h.backups.DeleteCloud(r.Context(), chi.URLParam(r, "id"), a.ID, a.Role); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllLocalBackups empties the backup directory.
// DELETE /api/v1/backups/local
func (h *Handler) DeleteAllLocalBackups(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	n, err := h.backups.DeleteAllLocal(r.Context(), a.ID, a.Role)
	respondDeleteAll(w, n, err)
}

// DeleteAllCloudBackups removes every remote backup.
// DELETE /api/v1/backups/cloud
func (h *Handler) DeleteAllCloudBackups(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	n, err := h.backups.DeleteAllCloud(r.Context(), a.ID, a.Role)
	respondDeleteAll(w, n, err)
}

// respondDeleteAll reports a bulk delete. Individual failures do not fail
// the request: they come back next to the count with 207 Multi-Status.
func respondDeleteAll(w http.ResponseWriter, deleted int, err error) {
	var partialErr *backup.PartialCleanupError
	switch {
	case err == nil:
		respondSuccess(w, http.StatusOK, &models.DeleteAllResponse{Deleted: deleted})
	case errors.As(err, &partialErr):
		failures := make([]models.DeleteFailure, 0, len(partialErr.Failures))
		for _, f := range partialErr.Failures {
			failures = append(failures, models.DeleteFailure{Tier: f.Tier, Name: f.Name, Error: f.Err.Error()})
		}
		respondSuccess(w, http.StatusMultiStatus, &models.DeleteAllResponse{Deleted: deleted, Failures: failures})
	default:
		respondServiceError(w, err)
	}
}

func recordIDs(recs []*backup.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids
}
