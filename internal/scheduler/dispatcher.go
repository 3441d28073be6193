// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/clock"
)

// Dispatcher ticks over a fixed set of ScheduledJob rows, invoking each
// due row's Launcher and applying the retry/backoff/auto-disable policy
// of spec.md §4.2.
type Dispatcher struct {
	jobs      []*ScheduledJob
	launchers map[string]Launcher
	clk       clock.Clock
	log       *zap.Logger
}

// NewDispatcher constructs a Dispatcher. launchers maps launcher_class to
// its Launcher implementation; jobs name a launcher_class that must have a
// matching entry.
func NewDispatcher(jobs []*ScheduledJob, launchers map[string]Launcher, clk clock.Clock, log *zap.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, launchers: launchers, clk: clk, log: log}
}

// Tick evaluates every row once: due rows whose launcher_class resolves
// invoke Launch, then advance next_run from the cron expression and
// reconcile retry_count (spec.md §4.2). Not due or disabled rows are
// skipped.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.clk.Now()
	for _, job := range d.jobs {
		if !job.due(now) {
			continue
		}
		d.run(ctx, job, now)
	}
}

func (d *Dispatcher) run(ctx context.Context, job *ScheduledJob, now clock.Instant) {
	launcher, ok := d.launchers[job.LauncherClass]
	if !ok {
		d.log.Error("scheduled job names an unregistered launcher_class",
			zap.String("name", job.Name), zap.String("launcher_class", job.LauncherClass))
		return
	}

	job.LastRun = &now
	n, err := launcher.Launch(ctx)
	if err != nil {
		job.RetryCount++
		job.LastFailure = &now
		d.log.Error("scheduled launcher failed",
			zap.String("name", job.Name), zap.Int("retry_count", job.RetryCount), zap.Error(err))
		if job.RetryCount >= job.MaxRetries {
			job.Enabled = false
			d.log.Error("scheduled job auto-disabled after exceeding max_retries",
				zap.String("name", job.Name), zap.Int("max_retries", job.MaxRetries))
			return
		}
		job.NextRun = now.Add(backoff(job.RetryCount))
		return
	}

	job.RetryCount = 0
	job.LastSuccess = &now
	job.NextRun = clock.From(job.schedule.Next(now.Time()))
	if n > 0 {
		d.log.Info("scheduled launcher enqueued jobs", zap.String("name", job.Name), zap.Int("enqueued", n))
	}
}

// Run calls Tick on interval until ctx is cancelled. interval must be at
// or below the smallest configured cron resolution (spec.md §4.2).
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}
