// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func queuedRecord(t *testing.T, dir string, at time.Time) *Record {
	t.Helper()
	name := writeBackup(t, dir, KindAutomatic, at)
	return &Record{ID: name, Kind: KindAutomatic, CreatedAt: at, LocalPath: filepath.Join(dir, name)}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestQueueDrainIsFIFO(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()

	b1 := queuedRecord(t, dir, testEpoch)
	b2 := queuedRecord(t, dir, testEpoch.Add(time.Hour))
	b3 := queuedRecord(t, dir, testEpoch.Add(2*time.Hour))
	for _, r := range []*Record{b1, b2, b3} {
		if !q.Enqueue(r) {
			t.Fatalf("Enqueue(%s) = false", r.ID)
		}
	}
	if q.Enqueue(b2) {
		t.Error("duplicate Enqueue should be ignored")
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	var order []string
	res, err := q.Drain(context.Background(), func(_ context.Context, r *Record) error {
		order = append(order, r.ID)
		r.RemoteID = "id-" + r.ID
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	want := []string{b1.ID, b2.ID, b3.ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("upload order = %v, want %v", order, want)
		}
	}
	if len(res.Succeeded) != 3 || q.Len() != 0 {
		t.Fatalf("Succeeded = %d, Len() = %d", len(res.Succeeded), q.Len())
	}
	for _, r := range res.Succeeded {
		if r.UploadState != StateUploaded || r.RemoteID == "" {
			t.Errorf("record %s = %s/%q, want uploaded with a remote id", r.ID, r.UploadState, r.RemoteID)
		}
	}
	if b1.UploadState != "" {
		t.Error("Enqueue must copy the record, the caller's value changed")
	}
}

func TestQueueFailedUploadGoesToTail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()

	b1 := queuedRecord(t, dir, testEpoch)
	b2 := queuedRecord(t, dir, testEpoch.Add(time.Minute))
	q.Enqueue(b1)
	q.Enqueue(b2)

	fail := map[string]bool{b1.ID: true}
	upload := func(_ context.Context, r *Record) error {
		if fail[r.ID] {
			return errors.New("connection reset")
		}
		return nil
	}

	res, err := q.Drain(context.Background(), upload)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(res.Failed); len(got) != 1 || got[0] != b1.ID {
		t.Fatalf("Failed = %v", got)
	}
	if got := ids(res.Succeeded); len(got) != 1 || got[0] != b2.ID {
		t.Fatalf("Succeeded = %v", got)
	}

	pending := q.Snapshot()
	if len(pending) != 1 || pending[0].ID != b1.ID || pending[0].UploadFailures != 1 || pending[0].UploadState != StatePending {
		t.Fatalf("queue after drain = %+v", pending)
	}

	if _, err := q.Drain(context.Background(), upload); err != nil {
		t.Fatal(err)
	}
	if pending := q.Snapshot(); pending[0].UploadFailures != 2 {
		t.Fatalf("failure counter = %d, want 2", pending[0].UploadFailures)
	}

	fail[b1.ID] = false
	res, _ = q.Drain(context.Background(), upload)
	if len(res.Succeeded) != 1 || q.Len() != 0 {
		t.Fatalf("retry did not upload: %+v, Len() = %d", res, q.Len())
	}
}

func TestQueueDropsMissingFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()

	gone := queuedRecord(t, dir, testEpoch)
	kept := queuedRecord(t, dir, testEpoch.Add(time.Second))
	q.Enqueue(gone)
	q.Enqueue(kept)
	if err := os.Remove(gone.LocalPath); err != nil {
		t.Fatal(err)
	}

	calls := 0
	res, err := q.Drain(context.Background(), func(context.Context, *Record) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || len(res.Dropped) != 1 || res.Dropped[0].ID != gone.ID {
		t.Fatalf("calls = %d, Dropped = %v", calls, ids(res.Dropped))
	}
	if q.Contains(gone.ID) {
		t.Error("dropped record still queued")
	}
}

func TestQueueDrainIsNotReentrant(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()
	q.Enqueue(queuedRecord(t, dir, testEpoch))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := q.Drain(context.Background(), func(context.Context, *Record) error {
			close(started)
			<-release
			return nil
		})
		done <- err
	}()

	<-started
	calls := 0
	_, err := q.Drain(context.Background(), func(context.Context, *Record) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrDrainInProgress) || calls != 0 {
		t.Fatalf("concurrent Drain() = %v with %d uploads, want ErrDrainInProgress and none", err, calls)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Drain() error = %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after drain", q.Len())
	}
}

func TestQueueRemoveDuringDrain(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()
	rec := queuedRecord(t, dir, testEpoch)
	q.Enqueue(rec)

	_, err := q.Drain(context.Background(), func(_ context.Context, r *Record) error {
		q.Remove(r.ID)
		return errors.New("quota exceeded")
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 || q.Contains(rec.ID) {
		t.Fatal("a removed record must not be re-queued after a failed upload")
	}
}

func TestQueueDrainStopsOnCancel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := NewQueue()
	b1 := queuedRecord(t, dir, testEpoch)
	b2 := queuedRecord(t, dir, testEpoch.Add(time.Second))
	q.Enqueue(b1)
	q.Enqueue(b2)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := q.Drain(ctx, func(context.Context, *Record) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain() error = %v, want context.Canceled", err)
	}
	if len(res.Succeeded) != 1 {
		t.Fatalf("Succeeded = %d, want 1", len(res.Succeeded))
	}
	if pending := q.Snapshot(); len(pending) != 1 || pending[0].ID != b2.ID {
		t.Fatalf("remaining = %+v, want %s at the head", pending, b2.ID)
	}
}
