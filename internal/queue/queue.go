// Copyright 2025 James Ross
package queue

import (
	"context"
	"sort"
	"time"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/obs"
	"go.uber.org/zap"
)

// Queue implements the Job Queue contract (spec §4.1) over a Store.
type Queue struct {
	store Store
	clk   clock.Clock
	cfg   *config.Config
	log   *zap.Logger
}

// New constructs a Queue bound to a Store.
func New(store Store, cfg *config.Config, log *zap.Logger) *Queue {
	return &Queue{store: store, clk: clock.SystemClock{}, cfg: cfg, log: log}
}

// WithClock overrides the clock, for deterministic tests.
func (q *Queue) WithClock(c clock.Clock) *Queue {
	q.clk = c
	return q
}

// needsApproval applies the auto-approve policy (spec §4.1 Approval policy).
func (q *Queue) needsApproval(spec EnqueueSpec) bool {
	if spec.IsSystemJob || spec.Source == SourceScheduledTask || spec.Source == SourceSystem {
		return false
	}
	if spec.Analysis == nil {
		return false
	}
	if spec.Analysis.EstimatedChunks > q.cfg.Approval.AutoApproveUnderChunks {
		return true
	}
	if spec.Analysis.EstimatedCostCents > q.cfg.Approval.AutoApproveUnderCostCents {
		return true
	}
	return false
}

// Enqueue creates a new job, applying dedup and the approval policy.
// Returns the job and, when a completed duplicate already exists and
// force was not set, the prior job instead of a freshly created one.
func (q *Queue) Enqueue(ctx context.Context, spec EnqueueSpec) (Job, error) {
	jobID := clock.NewID()
	now := q.clk.Now()

	job := Job{
		JobID:          jobID,
		JobType:        spec.JobType,
		ContentHash:    spec.ContentHash,
		Ontology:       spec.Ontology,
		UserID:         spec.UserID,
		IsSystemJob:    spec.IsSystemJob,
		Source:         spec.Source,
		SourceMetadata: spec.SourceMetadata,
		ProcessingMode: spec.ProcessingMode,
		CreatedAt:      now,
		Analysis:       spec.Analysis,
		JobData:        spec.JobData,
		Status:         StatusPending,
	}

	if spec.ContentHash != "" && !spec.Force {
		reserved, existingID, terminal, err := q.store.ReserveDedupKey(ctx, spec.ContentHash, spec.Ontology, jobID)
		if err != nil {
			return Job{}, apierr.Unexpected(err)
		}
		if !reserved {
			return Job{}, apierr.Conflict("duplicate_job", "a non-terminal job already exists for this (content_hash, ontology)")
		}
		if existingID != "" && terminal {
			prior, ok, err := q.store.Load(ctx, existingID)
			if err != nil {
				return Job{}, apierr.Unexpected(err)
			}
			if ok && prior.Status == StatusCompleted {
				return prior, nil
			}
		}
	}

	if q.needsApproval(spec) {
		job.Status = StatusAwaitingApproval
		expires := now.Add(time.Duration(q.cfg.Queue.ApprovalTimeoutHours) * time.Hour)
		job.ExpiresAt = &expires
	} else {
		job.Status = StatusApproved
	}

	if err := q.store.Save(ctx, job); err != nil {
		return Job{}, apierr.Unexpected(err)
	}
	if job.Status == StatusApproved {
		if err := q.dispatch(ctx, &job); err != nil {
			return Job{}, err
		}
	}
	obs.JobsProduced.Inc()
	return job, nil
}

// dispatch moves an approved job onto the FIFO list and flips it to queued.
func (q *Queue) dispatch(ctx context.Context, job *Job) error {
	job.Status = StatusQueued
	if err := q.store.Save(ctx, *job); err != nil {
		return apierr.Unexpected(err)
	}
	if err := q.store.PushApproved(ctx, job.JobID); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

// Get fetches a job snapshot by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (Job, error) {
	job, ok, err := q.store.Load(ctx, jobID)
	if err != nil {
		return Job{}, apierr.Unexpected(err)
	}
	if !ok {
		return Job{}, apierr.NotFound("job_not_found", "no job with that id")
	}
	return job, nil
}

// ListFilter narrows List by status/owner/system-flag/creation time.
type ListFilter struct {
	Status      *Status
	OwnerID     string
	SystemOnly  *bool
	CreatedAfter *clock.Instant
}

// List returns jobs matching filter, newest first.
func (q *Queue) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	var jobs []Job
	var err error
	if filter.Status != nil {
		jobs, err = q.store.ListByStatus(ctx, *filter.Status)
	} else {
		jobs, err = q.store.ListAll(ctx)
	}
	if err != nil {
		return nil, apierr.Unexpected(err)
	}
	out := jobs[:0]
	for _, j := range jobs {
		if filter.OwnerID != "" && j.UserID != filter.OwnerID {
			continue
		}
		if filter.SystemOnly != nil && j.IsSystemJob != *filter.SystemOnly {
			continue
		}
		if filter.CreatedAfter != nil && !j.CreatedAt.After(*filter.CreatedAfter) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// Approve transitions an awaiting_approval job to approved and dispatches it.
func (q *Queue) Approve(ctx context.Context, jobID, approver string) (Job, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.Status != StatusAwaitingApproval {
		return Job{}, apierr.Conflict("invalid_transition", "job is not awaiting approval")
	}
	now := q.clk.Now()
	job.Status = StatusApproved
	job.ApprovedAt = &now
	job.ApprovedBy = approver
	if err := q.dispatch(ctx, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Cancel transitions an awaiting_approval/queued/running job to cancelled.
func (q *Queue) Cancel(ctx context.Context, jobID, canceller string) (Job, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	switch job.Status {
	case StatusAwaitingApproval, StatusApproved, StatusQueued, StatusRunning:
	default:
		return Job{}, apierr.Conflict("invalid_transition", "job cannot be cancelled from its current status")
	}
	job.Status = StatusCancelled
	now := q.clk.Now()
	job.CompletedAt = &now
	if job.ContentHash != "" {
		_ = q.store.ReleaseDedupKey(ctx, job.ContentHash, job.Ontology)
	}
	if err := q.store.Save(ctx, job); err != nil {
		return Job{}, apierr.Unexpected(err)
	}
	q.log.Info("job cancelled", obs.String("job_id", jobID), obs.String("canceller", canceller))
	return job, nil
}

// Delete removes a terminal job's record. Callers enforce the
// owner-or-admin-on-system-jobs rule via the authorisation kernel before
// calling Delete.
func (q *Queue) Delete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return apierr.Conflict("invalid_transition", "only terminal jobs can be deleted")
	}
	if err := q.store.Delete(ctx, jobID); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

// UpdateProgress records the worker's latest progress snapshot. Idempotent:
// a snapshot with a sequence number not newer than the stored one is a no-op.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, snapshot Progress) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Progress != nil && snapshot.Sequence <= job.Progress.Sequence {
		return nil
	}
	if job.Status == StatusQueued {
		job.Status = StatusRunning
		now := q.clk.Now()
		job.StartedAt = &now
	}
	job.Progress = &snapshot
	if err := q.store.Save(ctx, job); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

// Complete records a terminal result or error for a job. Idempotent on
// repeat calls against an already-terminal job.
func (q *Queue) Complete(ctx context.Context, jobID string, result *Result, jobErr *JobError) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	now := q.clk.Now()
	job.CompletedAt = &now
	if jobErr != nil {
		job.Status = StatusFailed
		job.Error = jobErr
		if job.ContentHash != "" {
			_ = q.store.ReleaseDedupKey(ctx, job.ContentHash, job.Ontology)
		}
		obs.JobsFailed.Inc()
	} else {
		job.Status = StatusCompleted
		job.Result = result
		if result != nil && result.ArtifactID != "" {
			job.ArtifactID = result.ArtifactID
		}
		obs.JobsCompleted.Inc()
	}
	if err := q.store.Save(ctx, job); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

// SweepExpiredApprovals transitions awaiting_approval jobs past their
// expires_at to cancelled. Intended to be called by a periodic ticker
// alongside the reaper.
func (q *Queue) SweepExpiredApprovals(ctx context.Context) (int, error) {
	jobs, err := q.store.ListByStatus(ctx, StatusAwaitingApproval)
	if err != nil {
		return 0, apierr.Unexpected(err)
	}
	now := q.clk.Now()
	n := 0
	for _, j := range jobs {
		if j.ExpiresAt == nil || !now.After(*j.ExpiresAt) {
			continue
		}
		j.Status = StatusCancelled
		j.CompletedAt = &now
		if j.ContentHash != "" {
			_ = q.store.ReleaseDedupKey(ctx, j.ContentHash, j.Ontology)
		}
		if err := q.store.Save(ctx, j); err != nil {
			return n, apierr.Unexpected(err)
		}
		n++
	}
	return n, nil
}

// Heartbeat refreshes a worker's liveness marker so the reaper does not
// reclaim the job it is currently driving.
func (q *Queue) Heartbeat(ctx context.Context, workerID string, ttlSeconds int) error {
	if err := q.store.Heartbeat(ctx, workerID, ttlSeconds); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

// ScanStaleWorkers returns workers whose heartbeat has lapsed, for the
// reaper to requeue their in-flight job.
func (q *Queue) ScanStaleWorkers(ctx context.Context) ([]StaleWorker, error) {
	stale, err := q.store.ScanStaleWorkers(ctx)
	if err != nil {
		return nil, apierr.Unexpected(err)
	}
	return stale, nil
}

// Requeue resets an abandoned running job back to queued and re-dispatches
// it, for the reaper to call once it has decided a worker is gone.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusRunning {
		return nil
	}
	job.Status = StatusApproved
	job.WorkerID = ""
	if err := q.dispatch(ctx, &job); err != nil {
		return err
	}
	obs.ReaperRecovered.Inc()
	return nil
}

// Dequeue blocks up to timeoutMS for the next approved job and marks
// workerID as driving it, for the worker pool to call.
func (q *Queue) Dequeue(ctx context.Context, workerID string, timeoutMS int) (Job, bool, error) {
	jobID, ok, err := q.store.PopApproved(ctx, timeoutMS)
	if err != nil {
		return Job{}, false, apierr.Unexpected(err)
	}
	if !ok {
		return Job{}, false, nil
	}
	job, ok, err := q.store.Load(ctx, jobID)
	if err != nil {
		return Job{}, false, apierr.Unexpected(err)
	}
	if !ok {
		return Job{}, false, nil
	}
	job.Status = StatusRunning
	job.WorkerID = workerID
	now := q.clk.Now()
	job.StartedAt = &now
	job.Heartbeat = now
	if err := q.store.Save(ctx, job); err != nil {
		return Job{}, false, apierr.Unexpected(err)
	}
	if err := q.store.MarkProcessing(ctx, workerID, job.JobID); err != nil {
		return Job{}, false, apierr.Unexpected(err)
	}
	obs.JobsConsumed.Inc()
	return job, true, nil
}
