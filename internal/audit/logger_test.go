// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/shelfguard/internal/logging"
)

func TestLoggerRecordFlushesOnClose(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(100)
	l := NewLogger(store, nil)

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	l.Record(ctx, "mgr-1", "backup.created", "name=backup-manual-20260101-000000.000.db")
	l.Record(ctx, SystemActorID, "backup.failed", "kind=automatic")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := store.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	failed, created := events[0], events[1]
	if created.ActorType != "user" || created.Outcome != OutcomeSuccess || created.CorrelationID != "corr-1" || created.ID == "" {
		t.Errorf("created event = %+v", created)
	}
	if failed.ActorType != "system" || failed.Outcome != OutcomeFailure {
		t.Errorf("failed event = %+v", failed)
	}

	// Closed loggers drop silently.
	l.Record(ctx, "mgr-1", "backup.created", "")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLoggerDisabled(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(10)
	l := NewLogger(store, &Config{Enabled: false, BufferSize: 4})
	l.Record(context.Background(), "a", "backup.created", "")
	_ = l.Close()

	if events, _ := store.Query(context.Background(), QueryFilter{}); len(events) != 0 {
		t.Fatalf("disabled logger stored %d events", len(events))
	}
}

// Swaps the global logger, so it does not run in parallel.
func TestLoggerMirrorsToApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.DefaultConfig()) })

	store := NewMemoryStore(10)
	l := NewLogger(store, &Config{Enabled: true, BufferSize: 4, LogToStdout: true})
	l.Record(context.Background(), "mgr-1", "backup.deleted", "name=backup-manual-20260101-000000.000.db")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, `"message":"Audit event"`) || !strings.Contains(out, `"action":"backup.deleted"`) {
		t.Errorf("application log = %s, want the audit event", out)
	}
	if events, _ := store.Query(context.Background(), QueryFilter{}); len(events) != 1 {
		t.Errorf("store events = %d, want 1", len(events))
	}
}

func TestMemoryStoreQueryAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(10)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{"backup.created", "backup.local_deleted", "remote.connected", "backup.created"} {
		actor := "mgr"
		if i%2 == 1 {
			actor = "admin"
		}
		if err := s.Save(ctx, &Event{ID: action, ActorID: actor, Action: action, Timestamp: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.Query(ctx, QueryFilter{Action: "backup"})
	if len(got) != 3 || !got[0].Timestamp.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("prefix query = %+v", got)
	}
	if got, _ := s.Query(ctx, QueryFilter{ActorID: "admin", Limit: 1}); len(got) != 1 || got[0].Action != "remote.connected" {
		t.Fatalf("actor query = %+v", got)
	}

	removed, err := s.Delete(ctx, base.Add(2*time.Hour))
	if err != nil || removed != 2 {
		t.Fatalf("Delete() = %d, %v", removed, err)
	}
}

func TestMemoryStoreBounded(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(5)
	for i := 0; i < 12; i++ {
		_ = s.Save(context.Background(), &Event{Action: "x"})
	}
	if got, _ := s.Query(context.Background(), QueryFilter{}); len(got) > 5 {
		t.Fatalf("store grew to %d events", len(got))
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, &Event{ID: string(rune('a' + i)), Action: "backup.created", Timestamp: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.Delete(ctx, base.Add(time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Delete() = %d, %v", removed, err)
	}
	if err := s.Save(ctx, &Event{ID: "d", Action: "remote.connected", Timestamp: base.Add(5 * time.Hour)}); err != nil {
		t.Fatalf("Save() after rewrite error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != "d" || got[2].ID != "b" {
		t.Fatalf("events after reopen = %+v", got)
	}
}
