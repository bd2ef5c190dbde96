// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"context"
	"net/http"

	"github.com/tomtom215/shelfguard/internal/backup"
	"github.com/tomtom215/shelfguard/internal/middleware"
)

// BackupService is the part of *backup.Manager the handlers use.
type BackupService interface {
	CreateManualBackup(ctx context.Context, actorID, role string) (*backup.Record, error)
	ListHistory(ctx context.Context, actorID, role string) (*backup.History, error)
	SyncNow(ctx context.Context, actorID, role string) (backup.DrainResult, error)
	DeleteLocal(ctx context.Context, name, actorID, role string) error
	DeleteCloud(ctx context.Context, remoteID, actorID, role string) error
	DeleteAllLocal(ctx context.Context, actorID, role string) (int, error)
	DeleteAllCloud(ctx context.Context, actorID, role string) (int, error)

	GetBackupLocation() string
	ChangeBackupLocation(ctx context.Context, path, actorID, role string) (string, error)

	AuthorizationURL(actorID, role string) (string, error)
	CompleteAuthorization(ctx context.Context, state, code string) (string, error)
	DisconnectRemote(ctx context.Context, actorID, role string) error

	Status() backup.Status
}

var _ BackupService = (*backup.Manager)(nil)

// Handler holds the HTTP handlers.
type Handler struct {
	backups BackupService
}

// NewHandler creates the handlers over svc.
func NewHandler(svc BackupService) *Handler {
	return &Handler{backups: svc}
}

// actor returns the identity RequireActor stored. Routes that call it are
// always mounted behind RequireActor.
func actor(r *http.Request) middleware.Actor {
	a, _ := middleware.ActorFromContext(r.Context())
	return a
}

func respondMissingIdentity(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusUnauthorized, "IDENTITY_REQUIRED",
		"X-Actor-ID and X-Actor-Role headers are required", nil)
}
