// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"time"

	"github.com/tomtom215/shelfguard/internal/remote"
)

// Kind says what initiated a snapshot.
type Kind string

const (
	// KindManual is a snapshot requested by a user
	KindManual Kind = "manual"

	// KindAutomatic is a snapshot taken by the scheduler
	KindAutomatic Kind = "automatic"
)

// UploadState tracks replication of one snapshot.
type UploadState string

const (
	// StateNotUploaded is the state of a freshly created snapshot
	StateNotUploaded UploadState = "not-uploaded"

	// StatePending means the snapshot is waiting in the Pending Queue
	StatePending UploadState = "pending"

	// StateUploaded means RemoteID is set
	StateUploaded UploadState = "uploaded"

	// StateUploadFailed is reserved. Failed uploads return to StatePending.
	StateUploadFailed UploadState = "upload-failed"
)

// Strategy names the way a snapshot file was produced.
type Strategy string

const (
	// StrategyVacuum is an atomic VACUUM INTO copy
	StrategyVacuum Strategy = "vacuum"

	// StrategyCopy is a checkpoint followed by a raw file copy. Writers
	// that commit between the checkpoint and the end of the copy can
	// leave the copy inconsistent, so it is best effort only.
	StrategyCopy Strategy = "copy"
)

// SystemActor is the identity recorded for scheduler-initiated work.
const SystemActor = "system"

// Record describes one snapshot.
type Record struct {
	// ID is the snapshot file name and is unique
	ID string `json:"id"`

	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	LocalPath string    `json:"local_path"`

	// MetadataPath is empty when the metadata export was disabled or failed
	MetadataPath  string `json:"metadata_path,omitempty"`
	MetadataError string `json:"metadata_error,omitempty"`

	Strategy    Strategy    `json:"strategy,omitempty"`
	UploadState UploadState `json:"upload_state"`
	RemoteID    string      `json:"remote_id,omitempty"`

	// UploadFailures counts failed attempts while pending
	UploadFailures int `json:"upload_failures,omitempty"`
}

// History is the combined view of both storage tiers.
type History struct {
	Local   []*Record       `json:"local"`
	Cloud   []remote.Object `json:"cloud"`
	Pending int             `json:"pending"`

	// CloudError is set when listing the remote store failed for a reason
	// other than a missing credential.
	CloudError string `json:"cloud_error,omitempty"`
}

// Database is the part of the POS store the agent needs.
type Database interface {
	// Path is the live database file.
	Path() string
	// SnapshotInto atomically writes the current state to dest, which must
	// not exist.
	SnapshotInto(ctx context.Context, dest string) error
	// Checkpoint flushes the write-ahead log into the main file.
	Checkpoint(ctx context.Context) error
	// ExportMetadata returns rows of the tables kept beside each snapshot.
	ExportMetadata(ctx context.Context) (map[string][]map[string]any, error)
}

// Authorizer decides whether a role may perform action on object.
type Authorizer interface {
	Enforce(subject, object, action string) (bool, error)
}

// Recorder is the audit sink. It must not block and its failures are not
// reported back.
type Recorder interface {
	Record(ctx context.Context, actorID, action, detail string)
}

// Connectivity reports the last known network state.
type Connectivity interface {
	IsOnline() bool
}

// SettingsStore persists the backup location.
type SettingsStore interface {
	LoadBackupLocation(ctx context.Context) (string, bool, error)
	SaveBackupLocation(ctx context.Context, path string) error
}

// CheckpointStore persists the time of the last retention sweep.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context) (time.Time, bool, error)
	SaveCheckpoint(ctx context.Context, at time.Time) error
}

// Audit actions written by the Manager.
const (
	AuditBackupCreated      = "backup.created"
	AuditBackupFailed       = "backup.failed"
	AuditLocalDeleted       = "backup.local_deleted"
	AuditCloudDeleted       = "backup.cloud_deleted"
	AuditRetentionSweep     = "backup.retention_sweep"
	AuditLocationChanged    = "settings.backup_location_changed"
	AuditRemoteConnected    = "remote.connected"
	AuditRemoteDisconnected = "remote.disconnected"
)
