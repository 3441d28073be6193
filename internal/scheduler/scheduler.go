// Copyright 2025 James Ross
// Package scheduler implements the Scheduled-Jobs Dispatcher (spec.md
// §4.2): a table of cron-driven launchers that enqueue jobs into the same
// Job Queue a client's POST /ingest would. Grounded on the teacher's use
// of github.com/robfig/cron/v3 for schedule parsing (internal/calendar-view
// imports it for the same standard 5-field cron expression format),
// narrowed to parsing-and-next-run-computation only: the dispatcher owns
// its own tick loop and per-schedule retry/backoff bookkeeping rather than
// handing control to cron.Cron's own goroutine-per-entry runner, since
// spec.md requires the dispatcher to see every row once per tick and
// auto-disable a misbehaving schedule after max_retries.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kgraph/controlplane/internal/clock"
)

// Launcher inspects current state and enqueues zero or more jobs. The
// delta-gated launchers (epistemic-remeasurement, ontology-annealing)
// enqueue nothing on unchanged graph state; the tick launchers in
// launchers.go enqueue one job on every call.
type Launcher interface {
	Launch(ctx context.Context) (enqueued int, err error)
}

// ScheduledJob is one row of the `scheduled_jobs` table (spec.md §4.2,
// §6.8).
type ScheduledJob struct {
	Name          string
	LauncherClass string
	ScheduleCron  string
	Enabled       bool
	MaxRetries    int
	RetryCount    int
	LastRun       *clock.Instant
	LastSuccess   *clock.Instant
	LastFailure   *clock.Instant
	NextRun       clock.Instant

	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewScheduledJob parses scheduleCron and seeds next_run from now, failing
// fast on a malformed cron expression rather than at the first tick.
func NewScheduledJob(name, launcherClass, scheduleCron string, maxRetries int, now clock.Instant) (*ScheduledJob, error) {
	sched, err := cronParser.Parse(scheduleCron)
	if err != nil {
		return nil, err
	}
	return &ScheduledJob{
		Name:          name,
		LauncherClass: launcherClass,
		ScheduleCron:  scheduleCron,
		Enabled:       true,
		MaxRetries:    maxRetries,
		NextRun:       clock.From(sched.Next(now.Time())),
		schedule:      sched,
	}, nil
}

// due reports whether now has reached next_run.
func (s *ScheduledJob) due(now clock.Instant) bool {
	return s.Enabled && !now.Before(s.NextRun)
}

// backoff is the exponential delay applied to next_run after a launcher
// exception, before the schedule's next regular tick would otherwise fire
// (spec.md §4.2 "retry_count increments with exponential backoff").
func backoff(retryCount int) time.Duration {
	d := time.Minute
	for i := 0; i < retryCount && d < time.Hour; i++ {
		d *= 2
	}
	return d
}
