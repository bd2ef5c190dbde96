// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"

	"github.com/tomtom215/shelfguard/internal/authz"
)

// Status is a point-in-time view of the agent for health reporting.
type Status struct {
	Location        string      `json:"location"`
	Online          bool        `json:"online"`
	RemoteEnabled   bool        `json:"remote_enabled"`
	RemoteConnected bool        `json:"remote_connected"`
	Pending         int         `json:"pending"`
	Jobs            []JobStatus `json:"jobs"`
}

// Status reports location, connectivity, queue depth and job timing.
func (m *Manager) Status() Status {
	return Status{
		Location:        m.GetBackupLocation(),
		Online:          m.deps.Connectivity.IsOnline(),
		RemoteEnabled:   m.deps.Remote != nil,
		RemoteConnected: m.RemoteConnected(),
		Pending:         m.queue.Len(),
		Jobs:            m.scheduler.Status(),
	}
}

// SyncNow drains the pending queue on behalf of an operator. It needs the
// same permission as creating a backup.
func (m *Manager) SyncNow(ctx context.Context, actorID, role string) (DrainResult, error) {
	if err := m.authorize(actorID, role, authz.ObjectBackups, authz.ActionCreate); err != nil {
		return DrainResult{}, err
	}
	if m.deps.Remote == nil {
		return DrainResult{}, ErrRemoteDisabled
	}
	return m.DrainNow(ctx)
}
