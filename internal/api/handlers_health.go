// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"net/http"

	"github.com/tomtom215/shelfguard/internal/backup"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	// Health is "healthy", or "degraded" while backups cannot leave the
	// machine (offline, or remote enabled but not connected).
	Health string `json:"health"`
	backup.Status
}

// Health reports agent status.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.backups.Status()
	status := "healthy"
	if !st.Online || (st.RemoteEnabled && !st.RemoteConnected) {
		status = "degraded"
	}
	respondSuccess(w, http.StatusOK, &HealthResponse{Health: status, Status: st})
}

// HealthLive always answers while the process serves HTTP.
// GET /api/v1/health/live
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"})
}
