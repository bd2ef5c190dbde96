// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package state persists the agent's small durable documents in BadgerDB:
// the operator-chosen backup location, the retention checkpoint and the
// remote storage credential. Everything else (backup records, pending
// uploads) is derived from the filesystem at startup.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	keyBackupLocation = "settings/backup_location"
	keyCheckpoint     = "retention/checkpoint"
	keyCredential     = "credentials/remote"
)

// ErrNotFound is returned by Get when a document has never been written.
var ErrNotFound = errors.New("state: document not found")

// Store is a BadgerDB-backed document store.
type Store struct {
	db *badger.DB

	// mu serializes read-modify-write cycles; badger transactions alone
	// would surface conflicts to callers instead.
	mu sync.Mutex
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway store for tests and dry runs.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory state store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores v as JSON under key.
func (s *Store) Put(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data))
	})
}

// Get decodes the document at key into v.
func (s *Store) Get(_ context.Context, key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

type locationDoc struct {
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadBackupLocation returns the persisted backup directory, or ok=false
// when the operator never changed it.
func (s *Store) LoadBackupLocation(ctx context.Context) (string, bool, error) {
	var doc locationDoc
	err := s.Get(ctx, keyBackupLocation, &doc)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Path, doc.Path != "", nil
}

// SaveBackupLocation persists the backup directory.
func (s *Store) SaveBackupLocation(ctx context.Context, path string) error {
	return s.Put(ctx, keyBackupLocation, locationDoc{Path: path, UpdatedAt: time.Now().UTC()})
}

type checkpointDoc struct {
	CompletedAt time.Time `json:"completed_at"`
}

// LoadCheckpoint returns the time of the last retention sweep.
func (s *Store) LoadCheckpoint(ctx context.Context) (time.Time, bool, error) {
	var doc checkpointDoc
	err := s.Get(ctx, keyCheckpoint, &doc)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return doc.CompletedAt, !doc.CompletedAt.IsZero(), nil
}

// SaveCheckpoint overwrites the retention checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, at time.Time) error {
	return s.Put(ctx, keyCheckpoint, checkpointDoc{CompletedAt: at.UTC()})
}

// LoadToken returns the stored OAuth token or nil when none is stored.
func (s *Store) LoadToken(ctx context.Context) (*oauth2.Token, error) {
	var tok oauth2.Token
	err := s.Get(ctx, keyCredential, &tok)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveToken persists tok, replacing any previous credential.
func (s *Store) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("state: nil token")
	}
	return s.Put(ctx, keyCredential, tok)
}

// DeleteToken forgets the remote credential.
func (s *Store) DeleteToken(ctx context.Context) error {
	return s.Delete(ctx, keyCredential)
}
