// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package backup snapshots the point-of-sale database and keeps the
// snapshots replicated and pruned across two storage tiers.
//
// # Architecture
//
//	┌──────────────┐     ┌─────────────────┐     ┌──────────────────┐
//	│  Scheduler   │────▶│     Manager     │────▶│  Snapshot Engine │
//	└──────────────┘     └─────────────────┘     └──────────────────┘
//	                       │      │      │
//	            ┌──────────┘      │      └───────────┐
//	            ▼                 ▼                  ▼
//	   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	   │ Pending Queue│   │  Retention   │   │ remote.Store │
//	   └──────────────┘   └──────────────┘   └──────────────┘
//
// The Manager is the only entry point used by callers. Every snapshot is
// taken behind one mutex, so manual and automatic requests queue rather
// than race against the database. A new snapshot is uploaded right away
// when the agent is online and the remote store holds a credential;
// otherwise it joins the Pending Queue, which the drain loop empties on
// the next reconnect signal.
//
// # Files
//
// Each snapshot produces two files in the backup directory:
//
//	backup-<kind>-<timestamp>.db     SQLite snapshot
//	logs-<kind>-<timestamp>.json     activity logs, price history, inventory
//
// The timestamp is UTC with millisecond resolution (20060102-150405.000).
// Remote objects use the same names, which is what lets the agent match a
// local file with its uploaded copy without a mapping table.
//
// # Upload states
//
//	not-uploaded ──(connected)──▶ uploaded
//	not-uploaded ──(offline)────▶ pending ──(reconnect, ok)──▶ uploaded
//	pending ──(reconnect, failure)──▶ pending (failure counter +1)
//
// upload-failed exists for API compatibility; no path assigns it.
//
// # Retention
//
// Backups older than the retention window (7 days by default) are removed
// from both tiers. The time of the last sweep is persisted, and Start runs
// a catch-up sweep when that checkpoint is more than a day old.
package backup
