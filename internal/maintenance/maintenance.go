// Copyright 2025 James Ross
// Package maintenance implements the worker.Handler side of the
// system-owned job types spec.md §4.2's Scheduled-Jobs Dispatcher and
// spec.md §6.1's /admin/restore enqueue, beyond ingestion (which has its
// own package). Grounded on internal/ingestion/pipeline.go's
// Handle/jobErr shape, narrowed to each job type's single operation.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/backup"
	"github.com/kgraph/controlplane/internal/blobstore"
	"github.com/kgraph/controlplane/internal/checkpoint"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/kgraph/controlplane/internal/worker"
)

func jobErr(err error) *queue.JobError {
	apiErr, _ := apierr.As(err)
	return &queue.JobError{
		Kind:      string(apiErr.Kind),
		Code:      apiErr.Code,
		Detail:    apiErr.Detail,
		Retryable: apiErr.Kind == apierr.KindProvider || apiErr.Kind == apierr.KindRateLimited,
	}
}

// restoreJobData mirrors internal/httpapi/admin.go's restoreJobData; the
// two packages only agree through this JSON shape, not a shared type, since
// httpapi owns the producer side and maintenance owns the consumer side.
type restoreJobData struct {
	BlobKey string `json:"blob_key"`
	Replace bool   `json:"replace"`
}

// RestoreHandler applies a TypeRestore job's staged backup upload to the
// graph under the Checkpoint Guard, then deletes the temp blob regardless
// of outcome (spec.md §6.1 "the worker deletes the temp blob in its
// finally path").
type RestoreHandler struct {
	facade graph.Facade
	blobs  blobstore.Store
	guard  *checkpoint.Guard
	tracker *epoch.Tracker
	log    *zap.Logger
}

func NewRestoreHandler(facade graph.Facade, blobs blobstore.Store, guard *checkpoint.Guard, tracker *epoch.Tracker, log *zap.Logger) *RestoreHandler {
	return &RestoreHandler{facade: facade, blobs: blobs, guard: guard, tracker: tracker, log: log}
}

var _ worker.Handler = (*RestoreHandler)(nil)

func (h *RestoreHandler) Handle(ctx context.Context, job queue.Job, _ worker.ProgressReporter) (*queue.Result, *queue.JobError) {
	var data restoreJobData
	if err := json.Unmarshal(job.JobData, &data); err != nil {
		return nil, jobErr(apierr.Unprocessable("invalid_job_data", "restore job_data did not unmarshal: "+err.Error()))
	}

	defer func() {
		if err := h.blobs.Delete(ctx, data.BlobKey); err != nil {
			h.log.Warn("restore: failed to delete staged blob", zap.String("blob_key", data.BlobKey), zap.Error(err))
		}
	}()

	raw, err := h.blobs.Get(ctx, data.BlobKey)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(fmt.Errorf("restore: fetch staged blob: %w", err)))
	}
	container, err := backup.Decode(raw)
	if err != nil {
		return nil, jobErr(apierr.Unprocessable("invalid_backup_file", "staged restore blob is not a valid backup container"))
	}
	container, err = backup.Upgrade(container)
	if err != nil {
		return nil, jobErr(err)
	}

	runErr := h.guard.RunWithCheckpoint(ctx, func(ctx context.Context, facade graph.Facade) error {
		if _, err := h.tracker.Refresh(ctx); err != nil {
			return fmt.Errorf("restore integrity check: refresh counters: %w", err)
		}
		return nil
	}, func(ctx context.Context) error {
		return backup.Restore(ctx, h.facade, container, data.Replace)
	})
	if runErr != nil {
		return nil, jobErr(runErr)
	}

	return &queue.Result{}, nil
}

// BackupHandler runs an async TypeBackup job: snapshots the graph and
// stages the encoded container to the blob store, returning its key in the
// job Result so a client can retrieve it the same way /admin/backup streams
// one synchronously.
type BackupHandler struct {
	facade graph.Facade
	blobs  blobstore.Store
	clk    clock.Clock
}

func NewBackupHandler(facade graph.Facade, blobs blobstore.Store, clk clock.Clock) *BackupHandler {
	return &BackupHandler{facade: facade, blobs: blobs, clk: clk}
}

var _ worker.Handler = (*BackupHandler)(nil)

func (h *BackupHandler) Handle(ctx context.Context, job queue.Job, _ worker.ProgressReporter) (*queue.Result, *queue.JobError) {
	container, err := backup.Create(ctx, h.facade, h.clk, backup.TypeFull)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}
	encoded, err := backup.Encode(container)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}
	key := fmt.Sprintf("backups/%s-%d.json.zst", job.JobID, h.clk.Now().Unix())
	if err := h.blobs.Put(ctx, key, encoded); err != nil {
		return nil, jobErr(apierr.Unexpected(fmt.Errorf("backup: stage container: %w", err)))
	}
	summary, _ := json.Marshal(map[string]string{"blob_key": key})
	return &queue.Result{Summary: summary}, nil
}

// ArtifactCleanupHandler runs the TypeArtifactCleanup job: sweeps expired
// artifacts (spec.md §4.2 "daily, calls artifact.Manager.CleanupExpired").
type ArtifactCleanupHandler struct {
	artifacts *artifact.Manager
}

func NewArtifactCleanupHandler(artifacts *artifact.Manager) *ArtifactCleanupHandler {
	return &ArtifactCleanupHandler{artifacts: artifacts}
}

var _ worker.Handler = (*ArtifactCleanupHandler)(nil)

func (h *ArtifactCleanupHandler) Handle(ctx context.Context, job queue.Job, _ worker.ProgressReporter) (*queue.Result, *queue.JobError) {
	n, err := h.artifacts.CleanupExpired(ctx)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}
	summary, _ := json.Marshal(map[string]int{"deleted": n})
	return &queue.Result{Summary: summary}, nil
}

// MetricsRefreshHandler backs the counter-reconciliation job types
// (projection_refresh, vocab_consolidation, category_refresh,
// epistemic_remeasurement, ontology_annealing, embedding_regeneration):
// spec.md §4.7 ties each of these scheduled ticks to a
// refresh_graph_metrics call as a reconciliation pass, and none of them
// names a richer per-type payload, so one handler instance is registered
// against every one of those job types.
type MetricsRefreshHandler struct {
	tracker *epoch.Tracker
}

func NewMetricsRefreshHandler(tracker *epoch.Tracker) *MetricsRefreshHandler {
	return &MetricsRefreshHandler{tracker: tracker}
}

var _ worker.Handler = (*MetricsRefreshHandler)(nil)

func (h *MetricsRefreshHandler) Handle(ctx context.Context, job queue.Job, _ worker.ProgressReporter) (*queue.Result, *queue.JobError) {
	counters, err := h.tracker.Refresh(ctx)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}
	summary, _ := json.Marshal(counters)
	return &queue.Result{Summary: summary}, nil
}
