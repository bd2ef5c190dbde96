// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/shelfguard/internal/remote"
)

var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// fakeDatabase serves a real file so the copy fallback has bytes to copy.
type fakeDatabase struct {
	path string

	mu          sync.Mutex
	vacuumErr   error
	checkErr    error
	exportErr   error
	snapshots   int
	checkpoints int
}

func newFakeDatabase(t *testing.T, content string) *fakeDatabase {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &fakeDatabase{path: path}
}

func (f *fakeDatabase) Path() string { return f.path }

func (f *fakeDatabase) SnapshotInto(_ context.Context, dest string) error {
	f.mu.Lock()
	f.snapshots++
	err := f.vacuumErr
	f.mu.Unlock()
	if err != nil {
		// Leave a partial file behind to prove the engine cleans up.
		_ = os.WriteFile(dest, []byte("partial"), 0o600)
		return err
	}
	if _, statErr := os.Stat(dest); statErr == nil {
		return fmt.Errorf("output file already exists")
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, append([]byte("vacuum:"), data...), 0o600)
}

func (f *fakeDatabase) Checkpoint(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints++
	return f.checkErr
}

func (f *fakeDatabase) ExportMetadata(context.Context) (map[string][]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return map[string][]map[string]any{
		"inventory":     {{"isbn": "9780262033848", "qty": 3}},
		"price_history": {},
		"activity_logs": {{"action": "sale"}},
	}, nil
}

func (f *fakeDatabase) setVacuumErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuumErr = err
}

// fakeRemote is an in-memory remote.Store keyed by name.
type fakeRemote struct {
	mu        sync.Mutex
	connected bool
	objects   map[string]remote.Object
	nextID    int
	uploads   []string
	failNames map[string]bool
	failAll   error
	listErr   error
	deleteErr map[string]error
	clock     func() time.Time
}

func newFakeRemote(connected bool) *fakeRemote {
	return &fakeRemote{
		connected: connected,
		objects:   make(map[string]remote.Object),
		failNames: make(map[string]bool),
		deleteErr: make(map[string]error),
		clock:     time.Now,
	}
}

func (f *fakeRemote) Upload(_ context.Context, localPath, name string) (remote.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return remote.UploadResult{}, &remote.NotConnectedError{Op: "upload"}
	}
	if f.failAll != nil {
		return remote.UploadResult{}, f.failAll
	}
	if f.failNames[name] {
		return remote.UploadResult{}, errors.New("upload interrupted")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return remote.UploadResult{}, err
	}
	f.uploads = append(f.uploads, name)
	if obj, ok := f.objects[name]; ok {
		obj.Size = info.Size()
		f.objects[name] = obj
		return remote.UploadResult{RemoteID: obj.ID, Action: remote.ActionUpdated}, nil
	}
	f.nextID++
	obj := remote.Object{ID: fmt.Sprintf("r%d", f.nextID), Name: name, Size: info.Size(), CreatedTime: f.clock()}
	f.objects[name] = obj
	return remote.UploadResult{RemoteID: obj.ID, Action: remote.ActionCreated}, nil
}

func (f *fakeRemote) List(context.Context) ([]remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, &remote.NotConnectedError{Op: "list"}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]remote.Object, 0, len(f.objects))
	for _, obj := range f.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return &remote.NotConnectedError{Op: "delete"}
	}
	if err := f.deleteErr[remoteID]; err != nil {
		return err
	}
	for name, obj := range f.objects {
		if obj.ID == remoteID {
			delete(f.objects, name)
			return nil
		}
	}
	return remote.ErrObjectNotFound
}

func (f *fakeRemote) Download(context.Context, string, string) error {
	return errors.New("not implemented")
}

func (f *fakeRemote) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRemote) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeRemote) seed(name string, created time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("r%d", f.nextID)
	f.objects[name] = remote.Object{ID: id, Name: name, CreatedTime: created}
	return id
}

func (f *fakeRemote) uploadLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeRemote) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok
}

// fakeAuthRemote adds the consent flow to fakeRemote.
type fakeAuthRemote struct {
	*fakeRemote
	codes []string
}

func (f *fakeAuthRemote) AuthCodeURL(state string) string {
	return "https://consent.example/auth?state=" + state
}

func (f *fakeAuthRemote) Exchange(_ context.Context, code string) error {
	if code == "bad" {
		return errors.New("invalid_grant")
	}
	f.codes = append(f.codes, code)
	f.setConnected(true)
	return nil
}

func (f *fakeAuthRemote) Disconnect(context.Context) error {
	f.setConnected(false)
	return nil
}

// roleAuthorizer mirrors the shipped policy.
type roleAuthorizer struct{}

func (roleAuthorizer) Enforce(subject, object, action string) (bool, error) {
	switch subject {
	case "admin", "manager":
		return true, nil
	case "cashier":
		return object == "backups" && action == "read", nil
	default:
		return false, nil
	}
}

type auditEntry struct {
	actorID, action, detail string
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeRecorder) Record(_ context.Context, actorID, action, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{actorID, action, detail})
}

func (f *fakeRecorder) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.action == action {
			n++
		}
	}
	return n
}

type memSettings struct {
	mu       sync.Mutex
	location string
	saveErr  error
}

func (m *memSettings) LoadBackupLocation(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.location, m.location != "", nil
}

func (m *memSettings) SaveBackupLocation(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.location = path
	return nil
}

type memCheckpoints struct {
	mu    sync.Mutex
	at    time.Time
	set   bool
	saves int
}

func (m *memCheckpoints) LoadCheckpoint(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at, m.set, nil
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at, m.set = at, true
	m.saves++
	return nil
}

func (m *memCheckpoints) get() (time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at, m.saves
}

type fakeConnectivity struct{ online atomic.Bool }

func (f *fakeConnectivity) IsOnline() bool { return f.online.Load() }

// harness bundles a Manager with its fakes.
type harness struct {
	m        *Manager
	db       *fakeDatabase
	remote   *fakeAuthRemote
	clock    *testclock.Clock
	recorder *fakeRecorder
	settings *memSettings
	checks   *memCheckpoints
	conn     *fakeConnectivity
	dir      string
}

func newHarness(t *testing.T, online, connected bool) *harness {
	t.Helper()
	h := &harness{
		db:       newFakeDatabase(t, "SQLite format 3\x00live"),
		remote:   &fakeAuthRemote{fakeRemote: newFakeRemote(connected)},
		clock:    testclock.NewClock(testEpoch),
		recorder: &fakeRecorder{},
		settings: &memSettings{},
		checks:   &memCheckpoints{},
		conn:     &fakeConnectivity{},
		dir:      filepath.Join(t.TempDir(), "backups"),
	}
	h.remote.clock = h.clock.Now
	h.conn.online.Store(online)

	m, err := NewManager(Config{Dir: h.dir, ExportMetadata: true}, Deps{
		Database:     h.db,
		Remote:       h.remote,
		Clock:        h.clock,
		Authorizer:   roleAuthorizer{},
		Recorder:     h.recorder,
		Settings:     h.settings,
		Checkpoints:  h.checks,
		Connectivity: h.conn,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h.m = m
	return h
}

// writeBackup places a snapshot file named for kind and at in dir.
func writeBackup(t *testing.T, dir string, kind Kind, at time.Time) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	name := snapshotName(kind, at)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("snapshot"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataName(kind, at)), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	return name
}
