// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
manager.go - Backup Orchestrator

The Manager wires the Snapshot Engine, Pending Queue, Retention manager
and Scheduler to the injected collaborators (database, remote store,
clock, authorizer, audit recorder, settings and checkpoint stores,
connectivity). It is constructed once at process start.

Startup (Start):
 1. Load the persisted backup location, falling back to configuration.
 2. Ensure the directory exists.
 3. Run the missed-retention check.
 4. Re-derive pending uploads: local snapshots without a remote object of
    the same name are queued oldest first. When offline this waits for
    the first drain.
 5. Register the auto-backup and retention jobs.

Concurrency:
  - snapshotMu serializes every snapshot, manual and automatic.
  - locationMu guards the backup location (read-modify-write).
  - The Pending Queue guards itself and refuses concurrent drains.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
	"github.com/tomtom215/shelfguard/internal/remote"
)

// Config holds the Manager settings.
type Config struct {
	// Dir is the backup directory used until one is persisted
	Dir            string
	ExportMetadata bool

	AutoBackupSchedule string
	RetentionSchedule  string

	Retention RetentionConfig

	// RetryInterval re-drains the queue while online. Zero disables it.
	RetryInterval time.Duration
}

// Deps are the Manager's collaborators. Remote may be nil when remote
// storage is disabled; Recorder may be nil to skip auditing.
type Deps struct {
	Database     Database
	Remote       remote.Store
	Clock        clock.Clock
	Authorizer   Authorizer
	Recorder     Recorder
	Settings     SettingsStore
	Checkpoints  CheckpointStore
	Connectivity Connectivity
}

// Manager is the façade over the backup subsystem.
type Manager struct {
	cfg  Config
	deps Deps

	engine    *Engine
	queue     *Queue
	retention *Retention
	scheduler *Scheduler

	snapshotMu sync.Mutex

	locationMu sync.RWMutex
	location   string

	// needsReconcile is set when startup could not compare local and
	// remote backups; the next drain does it.
	needsReconcile atomic.Bool
	started        atomic.Bool

	authStates authStates

	// reconnect is notified after a new credential arrives
	reconnect func()
}

// NewManager validates deps and builds the subsystem. Nothing touches the
// disk or network until Start.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	switch {
	case deps.Database == nil:
		return nil, errors.New("backup: database is required")
	case deps.Authorizer == nil:
		return nil, errors.New("backup: authorizer is required")
	case deps.Settings == nil:
		return nil, errors.New("backup: settings store is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("backup: checkpoint store is required")
	case deps.Connectivity == nil:
		return nil, errors.New("backup: connectivity monitor is required")
	case cfg.Dir == "":
		return nil, errors.New("backup: directory is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if cfg.AutoBackupSchedule == "" {
		cfg.AutoBackupSchedule = DefaultAutoBackupSchedule
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = DefaultRetentionSchedule
	}
	for _, spec := range []string{cfg.AutoBackupSchedule, cfg.RetentionSchedule} {
		if _, err := ParseSchedule(spec); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		cfg:       cfg,
		deps:      deps,
		location:  cfg.Dir,
		queue:     NewQueue(),
		scheduler: NewScheduler(deps.Clock),
	}
	m.engine = NewEngine(deps.Database, deps.Clock, m.GetBackupLocation, cfg.ExportMetadata)
	m.retention = NewRetention(cfg.Retention, m.GetBackupLocation, deps.Remote, deps.Connectivity, deps.Checkpoints, deps.Clock)
	m.retention.onLocalDeleted = func(name string) { m.queue.Remove(name) }
	return m, nil
}

// Queue exposes the Pending Queue.
func (m *Manager) Queue() *Queue { return m.queue }

// Retention exposes the Retention manager.
func (m *Manager) Retention() *Retention { return m.retention }

// Scheduler exposes the job scheduler. Run it to start periodic work.
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }

// SetReconnectNotifier registers fn to be called when a new remote
// credential is stored, typically the connectivity Signal's Notify.
func (m *Manager) SetReconnectNotifier(fn func()) { m.reconnect = fn }

// Start performs startup recovery and registers the periodic jobs. It
// must be called once, before the scheduler and drain loop run.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("backup manager already started")
	}

	if err := m.loadLocation(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(m.GetBackupLocation(), 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	swept, res, err := m.retention.RecoverMissed(ctx)
	switch {
	case err != nil:
		logging.Error().Err(err).Msg("Missed retention sweep finished with errors")
	case swept:
		m.audit(ctx, SystemActor, AuditRetentionSweep, sweepDetail(res))
	}

	m.reconcileOrDefer(ctx)

	if err := m.scheduler.Add(JobAutoBackup, m.cfg.AutoBackupSchedule, time.Time{}, func(ctx context.Context) error {
		_, err := m.CreateAutoBackup(ctx)
		return err
	}); err != nil {
		return err
	}

	since, ok, err := m.deps.Checkpoints.LoadCheckpoint(ctx)
	if err != nil || !ok {
		since = time.Time{}
	}
	if err := m.scheduler.Add(JobRetention, m.cfg.RetentionSchedule, since, m.sweepJob); err != nil {
		return err
	}

	logging.Info().
		Str("dir", m.GetBackupLocation()).
		Int("pending", m.queue.Len()).
		Bool("remote_enabled", m.deps.Remote != nil).
		Msg("Backup manager started")
	return nil
}

func (m *Manager) sweepJob(ctx context.Context) error {
	res, err := m.retention.Sweep(ctx)
	m.audit(ctx, SystemActor, AuditRetentionSweep, sweepDetail(res))
	return err
}

func sweepDetail(res SweepResult) string {
	return fmt.Sprintf("local_deleted=%d remote_deleted=%d remote_skipped=%t",
		res.LocalDeleted, res.RemoteDeleted, res.RemoteSkipped)
}

// remoteReady reports whether an upload can be attempted right now.
func (m *Manager) remoteReady() bool {
	return m.deps.Remote != nil && m.deps.Connectivity.IsOnline() && m.deps.Remote.IsConnected()
}

// reconcileOrDefer queues local snapshots that have no remote copy. When
// the remote cannot be listed now it marks the work for the next drain.
func (m *Manager) reconcileOrDefer(ctx context.Context) {
	if m.deps.Remote == nil {
		return
	}
	if !m.remoteReady() {
		m.needsReconcile.Store(true)
		logging.Info().Msg("Remote not reachable at startup, pending uploads will be re-derived on reconnect")
		return
	}
	if err := m.reconcile(ctx); err != nil {
		m.needsReconcile.Store(true)
		logging.Warn().Err(err).Msg("Could not compare local and remote backups, retrying on next drain")
	}
}

func (m *Manager) reconcile(ctx context.Context) error {
	objects, err := m.deps.Remote.List(ctx)
	if err != nil {
		return err
	}
	uploaded := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		uploaded[obj.Name] = struct{}{}
	}

	local, err := m.scanLocal()
	if err != nil {
		return err
	}
	queued := 0
	for _, rec := range local {
		if _, ok := uploaded[rec.ID]; ok {
			continue
		}
		if m.queue.Enqueue(rec) {
			queued++
		}
	}
	m.needsReconcile.Store(false)
	if queued > 0 {
		logging.Info().Int("queued", queued).Msg("Queued local backups missing from remote storage")
	}
	return nil
}

// uploadRecord uploads rec and records the outcome on it.
func (m *Manager) uploadRecord(ctx context.Context, rec *Record) error {
	start := time.Now()
	res, err := m.deps.Remote.Upload(ctx, rec.LocalPath, rec.ID)
	metrics.RecordUpload(string(res.Action), time.Since(start), err)
	if err != nil {
		return err
	}
	rec.RemoteID = res.RemoteID
	rec.UploadState = StateUploaded
	logging.Info().
		Str("backup", rec.ID).
		Str("remote_id", res.RemoteID).
		Str("action", string(res.Action)).
		Msg("Backup uploaded")
	return nil
}

// RunDrainLoop is the single consumer of the reconnect signal. Each
// notification, and each RetryInterval tick, drains the queue when the
// remote is reachable. It returns when ctx is done.
func (m *Manager) RunDrainLoop(ctx context.Context, signal <-chan struct{}) error {
	for {
		var tick <-chan time.Time
		if m.cfg.RetryInterval > 0 {
			tick = m.deps.Clock.After(m.cfg.RetryInterval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
			m.drainOnce(ctx, "reconnect")
		case <-tick:
			if m.queue.Len() > 0 || m.needsReconcile.Load() {
				m.drainOnce(ctx, "retry")
			}
		}
	}
}

// DrainNow runs one drain immediately if the remote is reachable.
func (m *Manager) DrainNow(ctx context.Context) (DrainResult, error) {
	if !m.remoteReady() {
		return DrainResult{}, &remote.NotConnectedError{Op: "drain"}
	}
	if m.needsReconcile.Load() {
		if err := m.reconcile(ctx); err != nil {
			logging.Warn().Err(err).Msg("Reconcile before drain failed")
		}
	}
	return m.queue.Drain(ctx, m.uploadRecord)
}

func (m *Manager) drainOnce(ctx context.Context, reason string) {
	if !m.remoteReady() {
		logging.Debug().Str("reason", reason).Msg("Remote not ready, drain postponed")
		return
	}
	res, err := m.DrainNow(ctx)
	switch {
	case errors.Is(err, ErrDrainInProgress):
		logging.Debug().Str("reason", reason).Msg("Drain already running, signal ignored")
	case err != nil:
		logging.Warn().Err(err).Str("reason", reason).Msg("Drain interrupted")
	case len(res.Succeeded)+len(res.Failed)+len(res.Dropped) > 0:
		logging.Info().
			Str("reason", reason).
			Int("uploaded", len(res.Succeeded)).
			Int("failed", len(res.Failed)).
			Int("dropped", len(res.Dropped)).
			Int("remaining", m.queue.Len()).
			Msg("Pending queue drained")
	}
}

// authorize checks role against object/action before any I/O.
func (m *Manager) authorize(actorID, role, object, action string) error {
	allowed, err := m.deps.Authorizer.Enforce(role, object, action)
	if err != nil || !allowed {
		logging.Warn().
			Str("actor_id", actorID).
			Str("role", role).
			Str("object", object).
			Str("action", action).
			Msg("Backup operation denied")
		return &PermissionError{ActorID: actorID, Role: role, Action: action + " " + object, Err: err}
	}
	return nil
}

func (m *Manager) audit(ctx context.Context, actorID, action, detail string) {
	if m.deps.Recorder == nil {
		return
	}
	m.deps.Recorder.Record(ctx, actorID, action, detail)
}

// scanLocal lists snapshot files in the backup directory, oldest first.
func (m *Manager) scanLocal() ([]*Record, error) {
	dir := m.GetBackupLocation()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []*Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSnapshotFile(name) {
			continue
		}
		kind, created, ok := parseSnapshotName(name)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !ok {
			created = info.ModTime()
		}
		rec := &Record{
			ID:          name,
			Kind:        kind,
			CreatedAt:   created,
			SizeBytes:   info.Size(),
			LocalPath:   joinDir(dir, name),
			UploadState: StateNotUploaded,
		}
		if meta := joinDir(dir, companionName(name)); fileExists(meta) {
			rec.MetadataPath = meta
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
