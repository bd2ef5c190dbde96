// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
Package api serves the agent's local HTTP API to the point-of-sale shell.

The listener binds to loopback by default. The shell authenticates the
operator and forwards the identity in the X-Actor-ID and X-Actor-Role
headers; every operation is then authorized by the backup manager
against the casbin policy, so a cashier can list backups but not create
or delete them.

Routes:

	GET    /api/v1/health                     agent status (no identity needed)
	GET    /api/v1/health/live                liveness
	GET    /api/v1/backups                    local and cloud history
	POST   /api/v1/backups                    manual backup
	POST   /api/v1/backups/sync               drain the pending queue now
	DELETE /api/v1/backups/local              delete every local backup
	DELETE /api/v1/backups/local/{name}       delete one local backup
	DELETE /api/v1/backups/cloud              delete every cloud backup
	DELETE /api/v1/backups/cloud/{id}         delete one cloud backup
	GET    /api/v1/settings/backup-location
	PUT    /api/v1/settings/backup-location
	GET    /api/v1/remote/auth-url            start the consent flow
	POST   /api/v1/remote/authorize           finish it with {state, code}
	DELETE /api/v1/remote                     forget the credential
	GET    /oauth/callback                    provider redirect target
	GET    /metrics                           Prometheus

Responses use the models.APIResponse envelope.
*/
package api
