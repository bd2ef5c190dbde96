// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package models holds the wire types of the local HTTP API.
package models

import (
	"time"
)

// APIResponse is the envelope every endpoint returns.
//
// Status is "success" (see Data) or "error" (see Error):
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "PERMISSION_DENIED",
//	    "message": "permission denied: c-1 (role \"cashier\") may not delete backups"
//	  },
//	  "metadata": {"timestamp": "2026-03-14T09:26:53Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the machine-readable failure body. Code is stable; Message
// is for humans.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DeleteAllResponse reports how many entries a bulk delete removed. A
// bulk delete that removed some entries but not all still succeeds; the
// entries it could not remove are listed in Failures (HTTP 207).
type DeleteAllResponse struct {
	Deleted  int             `json:"deleted"`
	Failures []DeleteFailure `json:"failures,omitempty"`
}

// DeleteFailure is one entry a bulk delete could not remove.
type DeleteFailure struct {
	Tier  string `json:"tier"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BackupLocationRequest is the body of PUT /api/v1/settings/backup-location.
type BackupLocationRequest struct {
	Path string `json:"path" validate:"required,max=4096"`
}

// BackupLocationResponse reports the effective backup directory.
type BackupLocationResponse struct {
	Path string `json:"path"`
}

// AuthorizeRequest is the body of POST /api/v1/remote/authorize.
type AuthorizeRequest struct {
	State string `json:"state" validate:"required,max=256"`
	Code  string `json:"code" validate:"required,max=4096"`
}

// AuthURLResponse carries the consent URL for the remote provider.
type AuthURLResponse struct {
	URL string `json:"url"`
}

// AuthorizeResponse names the operator who started the consent flow.
type AuthorizeResponse struct {
	Connected bool   `json:"connected"`
	ActorID   string `json:"actor_id"`
}

// SyncResponse summarizes one pending-queue drain.
type SyncResponse struct {
	Uploaded  []string `json:"uploaded"`
	Failed    []string `json:"failed"`
	Dropped   []string `json:"dropped"`
	Remaining int      `json:"remaining"`
}
