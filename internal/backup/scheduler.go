// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

/*
scheduler.go - Periodic Jobs

Each job carries a cron schedule and an explicit nextDueAt. When the clock
passes nextDueAt the job is started in its own goroutine and nextDueAt is
recomputed from the schedule. A job that is still running when it comes
due again skips that trigger; the skip is logged and counted.

Job errors stay inside the scheduler. They are logged and counted, and
the next trigger runs as usual.

The retention job's first nextDueAt is derived from the persisted sweep
checkpoint, so its cadence survives restarts.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
)

// Default job schedules.
const (
	DefaultAutoBackupSchedule = "@every 6h"
	DefaultRetentionSchedule  = "@every 24h"

	JobAutoBackup = "auto-backup"
	JobRetention  = "retention"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule cron.Schedule
	fn       JobFunc

	mu        sync.Mutex
	nextDueAt time.Time

	running atomic.Bool
}

// JobStatus is a read-only view of a job.
type JobStatus struct {
	Name      string    `json:"name"`
	NextDueAt time.Time `json:"next_due_at"`
	Running   bool      `json:"running"`
}

// Scheduler runs registered jobs on their schedules.
type Scheduler struct {
	clock clock.Clock

	mu   sync.Mutex
	jobs []*job
	// added wakes Run when a job is registered after it started
	added chan struct{}

	wg sync.WaitGroup
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{clock: clk, added: make(chan struct{}, 1)}
}

// ParseSchedule parses a five-field cron expression or a descriptor such
// as "@every 6h" or "@daily".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Add registers a job. The first run happens at the first scheduled time
// after since; pass the zero time to count from now.
func (s *Scheduler) Add(name, spec string, since time.Time, fn JobFunc) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = s.clock.Now()
	}
	j := &job{name: name, schedule: sched, fn: fn, nextDueAt: sched.Next(since)}

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()

	select {
	case s.added <- struct{}{}:
	default:
	}

	logging.Info().Str("job", name).Str("schedule", spec).Time("next_due_at", j.nextDueAt).Msg("Job scheduled")
	return nil
}

// Status lists every job ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, JobStatus{Name: j.name, NextDueAt: j.nextDueAt, Running: j.running.Load()})
		j.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Run waits for due jobs until ctx is done, then waits for running jobs
// to return.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	// Jobs added before Run are already accounted for.
	select {
	case <-s.added:
	default:
	}

	for {
		wait := s.untilNextDue()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.added:
			continue
		case <-s.clock.After(wait):
			s.dispatch(ctx, s.clock.Now())
		}
	}
}

// untilNextDue is the delay before the earliest job is due. With no jobs
// it waits an hour; Add wakes Run early.
func (s *Scheduler) untilNextDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		return time.Hour
	}
	now := s.clock.Now()
	earliest := time.Duration(1<<63 - 1)
	for _, j := range s.jobs {
		j.mu.Lock()
		d := j.nextDueAt.Sub(now)
		j.mu.Unlock()
		if d < earliest {
			earliest = d
		}
	}
	if earliest < 0 {
		return 0
	}
	return earliest
}

// dispatch starts every job that is due at now.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		due := !now.Before(j.nextDueAt)
		if due {
			j.nextDueAt = j.schedule.Next(now)
		}
		next := j.nextDueAt
		j.mu.Unlock()
		if !due {
			continue
		}

		if !j.running.CompareAndSwap(false, true) {
			metrics.RecordJob(j.name, "skipped")
			logging.Warn().Str("job", j.name).Time("next_due_at", next).Msg("Job still running, skipping trigger")
			continue
		}

		s.wg.Add(1)
		go s.runJob(ctx, j, next)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job, next time.Time) {
	defer s.wg.Done()
	defer j.running.Store(false)

	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := s.clock.Now()
	err := j.fn(ctx)
	if err != nil {
		metrics.RecordJob(j.name, "failure")
		logging.Ctx(ctx).Error().Err(err).Str("job", j.name).Msg("Scheduled job failed")
		return
	}
	metrics.RecordJob(j.name, "success")
	logging.Ctx(ctx).Info().
		Str("job", j.name).
		Dur("duration", s.clock.Now().Sub(start)).
		Time("next_due_at", next).
		Msg("Scheduled job completed")
}
