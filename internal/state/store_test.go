// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBackupLocation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadBackupLocation(ctx); err != nil || ok {
		t.Fatalf("LoadBackupLocation() on empty store = ok %v, err %v", ok, err)
	}

	if err := s.SaveBackupLocation(ctx, "/mnt/usb/backups"); err != nil {
		t.Fatalf("SaveBackupLocation() error = %v", err)
	}
	got, ok, err := s.LoadBackupLocation(ctx)
	if err != nil || !ok || got != "/mnt/usb/backups" {
		t.Fatalf("LoadBackupLocation() = %q, %v, %v", got, ok, err)
	}
}

func TestCheckpointOverwrite(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	for _, at := range []time.Time{first, second} {
		if err := s.SaveCheckpoint(ctx, at); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
	}

	got, ok, err := s.LoadCheckpoint(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadCheckpoint() ok = %v, err = %v", ok, err)
	}
	if !got.Equal(second) {
		t.Errorf("LoadCheckpoint() = %v, want %v", got, second)
	}
}

func TestTokenLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tok, err := s.LoadToken(ctx)
	if err != nil || tok != nil {
		t.Fatalf("LoadToken() on empty store = %v, %v", tok, err)
	}

	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SaveToken(ctx, want); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := s.LoadToken(ctx)
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.RefreshToken != "refresh" || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("LoadToken() = %+v", got)
	}

	if err := s.DeleteToken(ctx); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if err := s.DeleteToken(ctx); err != nil {
		t.Fatalf("second DeleteToken() error = %v", err)
	}
	if got, _ := s.LoadToken(ctx); got != nil {
		t.Errorf("LoadToken() after delete = %+v, want nil", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var v map[string]string
	if err := s.Get(context.Background(), "nope", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
