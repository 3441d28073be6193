// Copyright 2025 James Ross
package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	cfg := &config.Config{}
	cfg.Approval.AutoApproveUnderChunks = 10
	cfg.Approval.AutoApproveUnderCostCents = 100
	cfg.Queue.ApprovalTimeoutHours = 24
	return queue.New(queue.NewMemoryStore(), cfg, zap.NewNop())
}

func TestReaperRequeuesStaleWorker(t *testing.T) {
	cfg := &config.Config{}
	cfg.Queue.ApprovalTimeoutHours = 24
	store := queue.NewMemoryStoreWithStaleAfter(time.Nanosecond)
	q := queue.New(store, cfg, zap.NewNop())
	ctx := context.Background()

	job, err := q.Enqueue(ctx, queue.EnqueueSpec{
		JobType: queue.TypeIngestion,
		UserID:  "1000",
		Source:  queue.SourceUserAPI,
	})
	require.NoError(t, err)

	dequeued, ok, err := q.Dequeue(ctx, "worker-dead", 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.JobID, dequeued.JobID)

	time.Sleep(time.Millisecond)

	rep := New(q, zap.NewNop())
	require.NoError(t, rep.ScanOnce(ctx))

	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusQueued, got.Status)
}

func TestReaperSweepsExpiredApprovals(t *testing.T) {
	frozen := clock.NewFrozen(clock.Now())
	q := newTestQueue(t).WithClock(frozen)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, queue.EnqueueSpec{
		JobType:  queue.TypeIngestion,
		UserID:   "1000",
		Source:   queue.SourceUserAPI,
		Analysis: &queue.Analysis{EstimatedChunks: 500},
	})
	require.NoError(t, err)
	require.Equal(t, queue.StatusAwaitingApproval, job.Status)

	frozen.Advance(25 * time.Hour)
	rep := New(q, zap.NewNop()).WithInterval(time.Millisecond)
	require.NoError(t, rep.ScanOnce(ctx))

	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCancelled, got.Status)
}
