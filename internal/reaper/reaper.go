// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"github.com/kgraph/controlplane/internal/obs"
	"github.com/kgraph/controlplane/internal/queue"
	"go.uber.org/zap"
)

// Reaper periodically reclaims jobs whose worker stopped heartbeating,
// adapted from the teacher's processing-list scan (internal/reaper) to the
// new queue model's heartbeat/running-status bookkeeping.
type Reaper struct {
	q        *queue.Queue
	log      *zap.Logger
	interval time.Duration
}

func New(q *queue.Queue, log *zap.Logger) *Reaper {
	return &Reaper{q: q, log: log, interval: 5 * time.Second}
}

// WithInterval overrides the scan interval, for tests.
func (r *Reaper) WithInterval(d time.Duration) *Reaper {
	r.interval = d
	return r
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ScanOnce(ctx); err != nil {
				r.log.Warn("reaper scan error", obs.Err(err))
			}
		}
	}
}

// ScanOnce requeues every job whose worker has gone stale, and sweeps
// approval requests that timed out while waiting on a human.
func (r *Reaper) ScanOnce(ctx context.Context) error {
	stale, err := r.q.ScanStaleWorkers(ctx)
	if err != nil {
		return err
	}
	for _, sw := range stale {
		if err := r.q.Requeue(ctx, sw.JobID); err != nil {
			r.log.Error("requeue failed", obs.String("job_id", sw.JobID), obs.String("worker_id", sw.WorkerID), obs.Err(err))
			continue
		}
		r.log.Warn("requeued abandoned job", obs.String("job_id", sw.JobID), obs.String("worker_id", sw.WorkerID))
	}

	n, err := r.q.SweepExpiredApprovals(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info("cancelled expired approval requests", obs.Int("count", n))
	}
	return nil
}
