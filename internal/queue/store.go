// Copyright 2025 James Ross
package queue

import "context"

// Store is the durable record backend behind the Job Queue. The Redis
// implementation is the fast dispatch path; a relational implementation
// can back the same interface for deployments that want SQL-queryable
// job history (see internal/storage-backends for the backend-plurality
// idiom this mirrors).
type Store interface {
	// Save persists a job, creating or overwriting its record.
	Save(ctx context.Context, job Job) error
	// Load fetches a job by ID. ok is false if no such job exists.
	Load(ctx context.Context, jobID string) (Job, bool, error)
	// Delete removes a job's record.
	Delete(ctx context.Context, jobID string) error
	// ListByStatus returns all jobs currently in the given status.
	// Intended for admin/listing use, not the hot dispatch path.
	ListByStatus(ctx context.Context, status Status) ([]Job, error)
	// ListAll returns every known job, for paged listing.
	ListAll(ctx context.Context) ([]Job, error)

	// ReserveDedupKey atomically claims (contentHash, ontology) for jobID
	// if no non-terminal job already holds it. ok is false when a
	// non-terminal job already holds the key (existingJobID is returned);
	// ok is true and existingJobID non-empty when a *completed* job holds
	// it (the caller should treat this as a prior-result hit, not a
	// conflict).
	ReserveDedupKey(ctx context.Context, contentHash, ontology, jobID string) (ok bool, existingJobID string, existingTerminal bool, err error)
	// ReleaseDedupKey drops a reservation, e.g. on a failed/cancelled job,
	// so the content hash can be retried.
	ReleaseDedupKey(ctx context.Context, contentHash, ontology string) error

	// PushApproved appends jobID to the FIFO dispatch list.
	PushApproved(ctx context.Context, jobID string) error
	// PopApproved blocks up to timeoutMS for the next approved job ID.
	PopApproved(ctx context.Context, timeoutMS int) (jobID string, ok bool, err error)

	// MarkProcessing records that workerID is driving jobID, for the
	// reaper's stale-job scan.
	MarkProcessing(ctx context.Context, workerID, jobID string) error
	// ClearProcessing removes the processing record for workerID.
	ClearProcessing(ctx context.Context, workerID string) error
	// Heartbeat refreshes the liveness TTL for workerID.
	Heartbeat(ctx context.Context, workerID string, ttlSeconds int) error
	// ScanStaleWorkers returns (workerID, jobID) pairs whose heartbeat has
	// lapsed but whose processing record still exists.
	ScanStaleWorkers(ctx context.Context) ([]StaleWorker, error)
}

// StaleWorker is a worker whose heartbeat has lapsed while still holding
// a job in its processing slot.
type StaleWorker struct {
	WorkerID string
	JobID    string
}
