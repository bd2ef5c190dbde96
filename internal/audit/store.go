// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfguard/internal/logging"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, maxLen),
		maxLen: maxLen,
	}
}

// Save persists an audit event.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max length by removing oldest events
	if len(s.events) >= s.maxLen {
		removeCount := s.maxLen / 10
		if removeCount == 0 {
			removeCount = 1
		}
		s.events = s.events[removeCount:]
	}

	s.events = append(s.events, *event)
	return nil
}

// Query retrieves events matching the filter, newest first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryNewestFirst(s.events, filter), nil
}

// Delete removes events older than before.
func (s *MemoryStore) Delete(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// FileStore appends events as JSON lines. It is meant for the volumes a
// single shop produces; queries scan the whole file.
type FileStore struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileStore opens (or creates) the log at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileStore{path: path, file: f}, nil
}

// Save appends one line.
func (s *FileStore) Save(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("audit file store is closed")
	}
	_, err = s.file.Write(data)
	return err
}

// Query scans the file.
func (s *FileStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return queryNewestFirst(events, filter), nil
}

// Delete rewrites the file without events older than before.
func (s *FileStore) Delete(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return 0, err
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // derived from operator configuration
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	var removed int64
	for i := range events {
		if events[i].Timestamp.Before(before) {
			removed++
			continue
		}
		if err := enc.Encode(&events[i]); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	if err := s.file.Close(); err != nil {
		logging.Warn().Err(err).Msg("Closing audit log before rewrite failed")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}
	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operator configuration
	if err != nil {
		return 0, fmt.Errorf("reopen audit log: %w", err)
	}
	return removed, nil
}

// Close flushes and closes the file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := errors.Join(s.file.Sync(), s.file.Close())
	s.file = nil
	return err
}

func (s *FileStore) readAll() ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			logging.Warn().Err(err).Int("line", line).Msg("Skipping unreadable audit line")
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

func queryNewestFirst(events []Event, filter QueryFilter) []Event {
	var results []Event
	for i := len(events) - 1; i >= 0; i-- { // Iterate in reverse for recent-first
		if !filter.matches(&events[i]) {
			continue
		}
		results = append(results, events[i])
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}
