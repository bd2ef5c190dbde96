// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package remote replicates backup files to cloud object storage.
//
// Store is the provider-neutral contract the backup package depends on.
// Uploads are idempotent by object name: uploading a file whose name
// already exists remotely replaces its content instead of creating a
// duplicate. Every operation fails with *NotConnectedError until the
// operator has completed the provider's consent flow, and a stored
// credential is restored automatically on the next start.
//
// DriveStore implements Store for Google Drive. BreakerStore decorates any
// Store with a circuit breaker.
package remote

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Action tells the caller whether an upload created or replaced an object.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Object is one file in remote storage.
type Object struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	CreatedTime time.Time `json:"created_time"`
}

// UploadResult describes a completed upload.
type UploadResult struct {
	RemoteID string `json:"remote_id"`
	Action   Action `json:"action"`
}

// Store is a remote object store addressed by file name.
type Store interface {
	// Upload stores the file at localPath under name, replacing the
	// content of an existing object with the same name.
	Upload(ctx context.Context, localPath, name string) (UploadResult, error)

	// List returns every object the agent can see.
	List(ctx context.Context) ([]Object, error)

	// Delete removes the object with the given ID.
	Delete(ctx context.Context, remoteID string) error

	// Download writes the object called name to destPath.
	Download(ctx context.Context, name, destPath string) error

	// IsConnected reports whether a credential is available.
	IsConnected() bool
}

// Authenticator is implemented by stores that need an interactive OAuth
// consent before they can connect.
type Authenticator interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
	Disconnect(ctx context.Context) error
}

// TokenStore persists the OAuth credential between runs.
type TokenStore interface {
	LoadToken(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
	DeleteToken(ctx context.Context) error
}

// AsAuthenticator finds the consent flow behind store, looking through
// decorators such as BreakerStore.
func AsAuthenticator(store Store) (Authenticator, bool) {
	switch s := store.(type) {
	case Authenticator:
		return s, true
	case interface{ Authenticator() (Authenticator, bool) }:
		return s.Authenticator()
	}
	return nil, false
}
