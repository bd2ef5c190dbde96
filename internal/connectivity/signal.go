// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package connectivity

// Signal is a single-slot wakeup. Notifications sent while one is already
// pending coalesce into it, so a slow consumer sees at most one.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates an empty Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify marks the signal pending. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C is the channel the single consumer receives from.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
