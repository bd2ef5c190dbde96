// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package services adapts the agent's blocking loops to suture.Service.
//
// Every loop already honors context cancellation, so the wrappers only
// name the service for the supervisor log and normalize the return value:
// a canceled context is a clean stop, anything else is a failure suture
// should restart.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/shelfguard/internal/backup"
	"github.com/tomtom215/shelfguard/internal/connectivity"
	"github.com/tomtom215/shelfguard/internal/logging"
)

// LoopService runs fn until ctx is canceled.
type LoopService struct {
	name string
	fn   func(ctx context.Context) error
}

// NewLoopService names an arbitrary context-aware loop.
func NewLoopService(name string, fn func(ctx context.Context) error) *LoopService {
	return &LoopService{name: name, fn: fn}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	err := s.fn(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return errors.New(s.name + " exited unexpectedly")
	}
	return err
}

// String implements fmt.Stringer.
func (s *LoopService) String() string { return s.name }

// NewSchedulerService runs the periodic backup and retention jobs.
func NewSchedulerService(s *backup.Scheduler) *LoopService {
	return NewLoopService("backup-scheduler", s.Run)
}

// NewDrainService uploads pending snapshots whenever signal fires.
func NewDrainService(m *backup.Manager, signal *connectivity.Signal) *LoopService {
	return NewLoopService("pending-drain", func(ctx context.Context) error {
		return m.RunDrainLoop(ctx, signal.C())
	})
}

// NewConnectivityService runs the reachability probe.
func NewConnectivityService(mon *connectivity.Monitor) *LoopService {
	return NewLoopService("connectivity-monitor", mon.Run)
}

// Pruner deletes records older than a cutoff. audit stores satisfy it.
type Pruner interface {
	Delete(ctx context.Context, before time.Time) (int64, error)
}

// NewPruneService deletes records older than keep once per interval.
func NewPruneService(name string, p Pruner, keep, interval time.Duration, clk clock.Clock) *LoopService {
	if clk == nil {
		clk = clock.WallClock
	}
	return NewLoopService(name, func(ctx context.Context) error {
		for {
			removed, err := p.Delete(ctx, clk.Now().Add(-keep))
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("service", name).Msg("Prune failed")
			} else if removed > 0 {
				logging.Ctx(ctx).Info().Int64("removed", removed).Str("service", name).Msg("Pruned old records")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clk.After(interval):
			}
		}
	})
}
