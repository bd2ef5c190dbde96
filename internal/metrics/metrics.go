// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package metrics exposes the agent's Prometheus collectors.
//
// The interesting questions about a backup agent are "when did the last
// backup succeed", "how much is waiting to go to the cloud" and "is the
// remote healthy"; the collectors below answer those. They are served at
// /metrics by internal/api.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Snapshot Metrics
	BackupsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_backups_created_total",
			Help: "Snapshots attempted, by kind, strategy and result",
		},
		[]string{"kind", "strategy", "result"}, // strategy: vacuum, copy, none
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfguard_backup_duration_seconds",
			Help:    "Time taken to write a snapshot",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	BackupLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfguard_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful snapshot",
		},
		[]string{"kind"},
	)

	MetadataExportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfguard_metadata_export_failures_total",
			Help: "Metadata exports that failed while the snapshot itself succeeded",
		},
	)

	// Remote Metrics
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_uploads_total",
			Help: "Uploads to remote storage, by action (created, updated) and result",
		},
		[]string{"action", "result"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfguard_upload_duration_seconds",
			Help:    "Time taken to upload one snapshot",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// Queue Metrics
	PendingUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfguard_pending_uploads",
			Help: "Snapshots waiting for upload",
		},
	)

	DrainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_queue_drains_total",
			Help: "Queue drain attempts, by outcome (completed, busy)",
		},
		[]string{"outcome"},
	)

	DrainEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_queue_entries_processed_total",
			Help: "Queue entries processed, by result (uploaded, failed, dropped)",
		},
		[]string{"result"},
	)

	// Retention Metrics
	RetentionDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_retention_deletions_total",
			Help: "Backups removed by retention, by tier (local, remote) and result",
		},
		[]string{"tier", "result"},
	)

	RetentionLastSweep = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfguard_retention_last_sweep_timestamp_seconds",
			Help: "Unix time of the last retention sweep",
		},
	)

	// Connectivity Metrics
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfguard_connectivity_online",
			Help: "1 when the last probe reached the internet",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_connectivity_transitions_total",
			Help: "Connectivity changes, by direction (up, down)",
		},
		[]string{"direction"},
	)

	// Scheduler Metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_job_runs_total",
			Help: "Scheduled job executions, by job and result (success, failure, skipped)",
		},
		[]string{"job", "result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_authz_decisions_total",
			Help: "Authorization decisions, by object, action and decision",
		},
		[]string{"object", "action", "decision"},
	)

	// HTTP Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfguard_api_requests_total",
			Help: "Local API requests",
		},
		[]string{"method", "route", "status_code"},
	)
)

// RecordBackup records a snapshot attempt.
func RecordBackup(kind, strategy string, duration time.Duration, err error) {
	if err != nil {
		BackupsCreated.WithLabelValues(kind, strategy, "failure").Inc()
		return
	}
	BackupsCreated.WithLabelValues(kind, strategy, "success").Inc()
	BackupDuration.WithLabelValues(kind).Observe(duration.Seconds())
	BackupLastSuccess.WithLabelValues(kind).SetToCurrentTime()
}

// RecordUpload records one upload attempt. action is empty on failure.
func RecordUpload(action string, duration time.Duration, err error) {
	if err != nil {
		Uploads.WithLabelValues("none", "failure").Inc()
		return
	}
	Uploads.WithLabelValues(action, "success").Inc()
	UploadDuration.Observe(duration.Seconds())
}

// RecordDrain records the outcome of a queue drain.
func RecordDrain(uploaded, failed, dropped int) {
	DrainRuns.WithLabelValues("completed").Inc()
	DrainEntries.WithLabelValues("uploaded").Add(float64(uploaded))
	DrainEntries.WithLabelValues("failed").Add(float64(failed))
	DrainEntries.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordRetentionDeletion records one retention deletion.
func RecordRetentionDeletion(tier string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RetentionDeletions.WithLabelValues(tier, result).Inc()
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		return
	}
	ConnectivityOnline.Set(0)
}

// RecordJob records a scheduler trigger.
func RecordJob(job, result string) {
	JobRuns.WithLabelValues(job, result).Inc()
}

// RecordAuthzDecision records one policy evaluation.
func RecordAuthzDecision(object, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AuthzDecisions.WithLabelValues(object, action, decision).Inc()
}

// RecordAPIRequest counts one local API request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func RecordAPIRequest(method, route, statusCode string) {
	APIRequests.WithLabelValues(method, route, statusCode).Inc()
}
