// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	cfg := &config.Config{}
	cfg.Approval.AutoApproveUnderChunks = 10
	cfg.Approval.AutoApproveUnderCostCents = 100
	cfg.Queue.ApprovalTimeoutHours = 24
	return queue.New(queue.NewMemoryStore(), cfg, zap.NewNop())
}

func TestScheduledJobDueAfterNextRun(t *testing.T) {
	now := clock.Now()
	job, err := NewScheduledJob("category-refresh", "category-refresh", "0 * * * *", 3, now)
	require.NoError(t, err)
	require.False(t, job.due(now))
	require.True(t, job.due(job.NextRun))
}

func TestTickLauncherAlwaysEnqueues(t *testing.T) {
	q := newTestQueue(t)
	l := NewCategoryRefreshLauncher(q)

	n, err := l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	jobs, err := q.List(context.Background(), queue.ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, queue.TypeCategoryRefresh, jobs[0].JobType)
	require.True(t, jobs[0].IsSystemJob)
}

func TestEpistemicRemeasureLauncherGatesOnVocabularyDelta(t *testing.T) {
	q := newTestQueue(t)
	tracker := epoch.New(graph.NewMemory())
	l := NewEpistemicRemeasureLauncher(q, tracker)

	n, err := l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "first call only seeds the baseline")

	n, err = l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "unchanged vocabulary_change_counter must not enqueue")

	tracker.IncrementVocabularyChange()
	n, err = l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "a vocabulary_change_counter delta must enqueue exactly one job")
}

func TestOntologyAnnealingLauncherGatesOnGraphChangeDelta(t *testing.T) {
	q := newTestQueue(t)
	facade := graph.NewMemory()
	tracker := epoch.New(facade)
	_, err := tracker.Refresh(context.Background())
	require.NoError(t, err)

	l := NewOntologyAnnealingLauncher(q, tracker)
	n, err := l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "graph_change_counter starts equal to last_annealing_epoch (both zero)")

	require.NoError(t, facade.UpsertConcept(context.Background(), graph.Concept{
		ConceptID: "c1", Label: "c1", Ontology: "ont-1", CreatedAt: clock.Now(),
	}))
	_, err = tracker.Refresh(context.Background())
	require.NoError(t, err)

	n, err = l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "graph_change_counter moved, so annealing must run once")

	n, err = l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "re-running on unchanged state must enqueue nothing (idempotence)")
}

func TestDispatcherAutoDisablesAfterMaxRetries(t *testing.T) {
	clk := clock.NewFrozen(clock.Now())
	job, err := NewScheduledJob("flaky", "flaky", "* * * * *", 2, clk.Now())
	require.NoError(t, err)

	failing := failingLauncher{}
	d := NewDispatcher([]*ScheduledJob{job}, map[string]Launcher{"flaky": &failing}, clk, zap.NewNop())

	clk.Advance(0)
	job.NextRun = clk.Now()
	d.Tick(context.Background())
	require.Equal(t, 1, job.RetryCount)
	require.True(t, job.Enabled)

	job.NextRun = clk.Now()
	d.Tick(context.Background())
	require.Equal(t, 2, job.RetryCount)
	require.False(t, job.Enabled, "retry_count reaching max_retries must auto-disable the schedule")
}

type failingLauncher struct{}

func (failingLauncher) Launch(ctx context.Context) (int, error) {
	return 0, assertErr
}

var assertErr = &launchError{"launcher exploded"}

type launchError struct{ msg string }

func (e *launchError) Error() string { return e.msg }
