// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
)

// UploadFunc uploads one record and fills in its RemoteID.
type UploadFunc func(ctx context.Context, rec *Record) error

// DrainResult lists what one drain did, in processing order.
type DrainResult struct {
	Succeeded []*Record
	Failed    []*Record
	// Dropped entries had no local file left to upload.
	Dropped []*Record
}

// Queue holds snapshots that still need uploading. It lives in memory
// only; the Manager rebuilds it from disk at startup.
type Queue struct {
	mu      sync.Mutex
	entries []*Record
	// members covers queued and in-flight names
	members map[string]struct{}

	draining atomic.Bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{members: make(map[string]struct{})}
}

// Enqueue appends a copy of rec in the pending state. It returns false
// when a record with the same name is already queued or being uploaded.
func (q *Queue) Enqueue(rec *Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[rec.ID]; ok {
		return false
	}
	cp := *rec
	cp.UploadState = StatePending
	cp.RemoteID = ""
	q.entries = append(q.entries, &cp)
	q.members[cp.ID] = struct{}{}
	metrics.PendingUploads.Set(float64(len(q.members)))
	return true
}

// Len is the number of records waiting, in-flight ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members)
}

// Contains reports whether name is queued or being uploaded.
func (q *Queue) Contains(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[name]
	return ok
}

// Remove forgets name. A drain that is uploading it will not re-enqueue it
// on failure.
func (q *Queue) Remove(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[name]; !ok {
		return false
	}
	delete(q.members, name)
	for i, e := range q.entries {
		if e.ID == name {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	metrics.PendingUploads.Set(float64(len(q.members)))
	return true
}

// Snapshot returns copies of the queued records in order.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Record, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Drain uploads the records queued when it starts, oldest first. A failed
// upload goes back to the tail with its failure count incremented. A
// record whose local file is gone is dropped. Only one drain runs at a
// time; a concurrent call returns ErrDrainInProgress without doing
// anything.
func (q *Queue) Drain(ctx context.Context, upload UploadFunc) (DrainResult, error) {
	var res DrainResult
	if !q.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	batch := q.entries
	q.entries = nil
	q.mu.Unlock()

	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			q.requeueFront(batch[i:])
			return res, err
		}

		if _, err := os.Stat(rec.LocalPath); errors.Is(err, fs.ErrNotExist) {
			q.forget(rec.ID)
			res.Dropped = append(res.Dropped, rec)
			logging.Info().Str("backup", rec.ID).Msg("Dropping pending upload, local file is gone")
			continue
		}

		if err := upload(ctx, rec); err != nil {
			rec.UploadFailures++
			rec.UploadState = StatePending
			res.Failed = append(res.Failed, rec)
			if q.requeueBack(rec) {
				logging.Warn().Err(err).
					Str("backup", rec.ID).
					Int("failures", rec.UploadFailures).
					Msg("Upload failed, re-queued")
			}
			continue
		}

		rec.UploadState = StateUploaded
		q.forget(rec.ID)
		res.Succeeded = append(res.Succeeded, rec)
	}

	metrics.RecordDrain(len(res.Succeeded), len(res.Failed), len(res.Dropped))
	return res, nil
}

// requeueBack appends rec unless it was removed while in flight.
func (q *Queue) requeueBack(rec *Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[rec.ID]; !ok {
		return false
	}
	q.entries = append(q.entries, rec)
	return true
}

func (q *Queue) requeueFront(recs []*Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keep := make([]*Record, 0, len(recs)+len(q.entries))
	for _, r := range recs {
		if _, ok := q.members[r.ID]; ok {
			keep = append(keep, r)
		}
	}
	q.entries = append(keep, q.entries...)
}

func (q *Queue) forget(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.members, name)
	metrics.PendingUploads.Set(float64(len(q.members)))
}
