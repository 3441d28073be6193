// Copyright 2025 James Ross
package worker

import (
	"context"
	"testing"
	"time"

	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T) (*Pool, *queue.Queue) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Approval.AutoApproveUnderChunks = 10
	cfg.Approval.AutoApproveUnderCostCents = 100
	cfg.Queue.ApprovalTimeoutHours = 24
	cfg.Queue.MaxConcurrentWorkers = 1
	cfg.CircuitBreaker.FailureThreshold = 0.5
	cfg.CircuitBreaker.Window = time.Minute
	cfg.CircuitBreaker.CooldownPeriod = time.Second
	cfg.CircuitBreaker.MinSamples = 1000 // effectively never trips in these tests

	q := queue.New(queue.NewMemoryStore(), cfg, zap.NewNop())
	return New(cfg, q, zap.NewNop()), q
}

func TestPoolCompletesJobThroughRegisteredHandler(t *testing.T) {
	pool, q := newTestPool(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, queue.EnqueueSpec{
		JobType: queue.TypeIngestion,
		UserID:  "1000",
		Source:  queue.SourceUserAPI,
	})
	require.NoError(t, err)
	require.Equal(t, queue.StatusQueued, job.Status)

	done := make(chan struct{})
	pool.Register(queue.TypeIngestion, HandlerFunc(func(ctx context.Context, j queue.Job, progress ProgressReporter) (*queue.Result, *queue.JobError) {
		require.NoError(t, progress.Report(ctx, queue.Progress{Stage: "extract", Percent: 50, Sequence: 1}))
		close(done)
		return &queue.Result{DocumentID: "doc-1"}, nil
	}))

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = pool.Run(runCtx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, job.JobID)
		return err == nil && got.Status == queue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, got.Status)
	require.Equal(t, "doc-1", got.Result.DocumentID)
}

func TestPoolFailsJobWithNoRegisteredHandler(t *testing.T) {
	pool, q := newTestPool(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, queue.EnqueueSpec{
		JobType: queue.TypeBackup,
		UserID:  "1000",
		Source:  queue.SourceUserAPI,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, job.JobID)
		return err == nil && got.Status == queue.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}
