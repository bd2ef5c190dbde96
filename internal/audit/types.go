// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package audit records who did what to the shop's backups.
//
// Writes are fire-and-forget: Logger.Record hands the event to a buffered
// channel and a single goroutine persists it. A full buffer drops the
// event with a warning rather than stalling a backup. Stores:
//
//	MemoryStore  bounded in-memory ring, for tests and development
//	FileStore    append-only JSON lines file, one event per line
package audit

import (
	"context"
	"strings"
	"time"
)

// Outcome of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one audit log entry.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ActorID       string    `json:"actor_id"`
	ActorType     string    `json:"actor_type"`
	Action        string    `json:"action"`
	Outcome       Outcome   `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	ActorID   string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	// Limit caps the result; zero means no limit
	Limit int
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	// Query returns matching events, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	// Delete removes events older than before and returns how many.
	Delete(ctx context.Context, before time.Time) (int64, error)
}

func (f *QueryFilter) matches(e *Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action && !strings.HasPrefix(e.Action, f.Action+".") {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

func outcomeOf(action string) Outcome {
	if strings.HasSuffix(action, "failed") || strings.HasSuffix(action, "denied") {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
