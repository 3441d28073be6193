// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"sync"

	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/queue"
)

// tickLauncher enqueues one system-owned job of jobType on every Launch
// call, for the three launchers spec.md §4.2 names with no delta gate
// (category-refresh, vocabulary-consolidation, projection-refresh):
// idempotence is the worker's job (re-running the refresh on unchanged
// state is a no-op write), not the scheduler's.
type tickLauncher struct {
	q       *queue.Queue
	jobType queue.Type
}

func (l *tickLauncher) Launch(ctx context.Context) (int, error) {
	if _, err := l.q.Enqueue(ctx, queue.EnqueueSpec{
		JobType:     l.jobType,
		UserID:      queue.SystemUserID,
		IsSystemJob: true,
		Source:      queue.SourceScheduledTask,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// NewCategoryRefreshLauncher enqueues queue.TypeCategoryRefresh (every 6h,
// spec.md §4.2).
func NewCategoryRefreshLauncher(q *queue.Queue) Launcher {
	return &tickLauncher{q: q, jobType: queue.TypeCategoryRefresh}
}

// NewVocabularyConsolidationLauncher enqueues queue.TypeVocabConsolidation
// (every 12h, spec.md §4.2).
func NewVocabularyConsolidationLauncher(q *queue.Queue) Launcher {
	return &tickLauncher{q: q, jobType: queue.TypeVocabConsolidation}
}

// NewProjectionRefreshLauncher enqueues queue.TypeProjectionRefresh (hourly,
// spec.md §4.2).
func NewProjectionRefreshLauncher(q *queue.Queue) Launcher {
	return &tickLauncher{q: q, jobType: queue.TypeProjectionRefresh}
}

// NewArtifactCleanupLauncher enqueues queue.TypeArtifactCleanup (daily,
// spec.md §4.2); the worker handler for this job type calls
// artifact.Manager.CleanupExpired.
func NewArtifactCleanupLauncher(q *queue.Queue) Launcher {
	return &tickLauncher{q: q, jobType: queue.TypeArtifactCleanup}
}

// epistemicRemeasureLauncher enqueues queue.TypeEpistemicRemeasure only
// when vocabulary_change_counter has moved since the last successful
// launch (spec.md §4.2 "gated on vocabulary_change_counter delta"),
// keeping the launcher itself idempotent on unchanged graph state.
type epistemicRemeasureLauncher struct {
	q       *queue.Queue
	tracker *epoch.Tracker

	mu           sync.Mutex
	lastVocabGen int64
	seeded       bool
}

// NewEpistemicRemeasureLauncher builds the delta-gated epistemic
// re-measurement launcher (hourly, spec.md §4.2).
func NewEpistemicRemeasureLauncher(q *queue.Queue, tracker *epoch.Tracker) Launcher {
	return &epistemicRemeasureLauncher{q: q, tracker: tracker}
}

func (l *epistemicRemeasureLauncher) Launch(ctx context.Context) (int, error) {
	current := l.tracker.Current().VocabularyChangeCounter

	l.mu.Lock()
	if !l.seeded {
		l.lastVocabGen = current
		l.seeded = true
		l.mu.Unlock()
		return 0, nil
	}
	if current == l.lastVocabGen {
		l.mu.Unlock()
		return 0, nil
	}
	l.mu.Unlock()

	if _, err := l.q.Enqueue(ctx, queue.EnqueueSpec{
		JobType:     queue.TypeEpistemicRemeasure,
		UserID:      queue.SystemUserID,
		IsSystemJob: true,
		Source:      queue.SourceScheduledTask,
	}); err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.lastVocabGen = current
	l.mu.Unlock()
	return 1, nil
}

// ontologyAnnealingLauncher enqueues queue.TypeOntologyAnnealing only when
// the graph has changed since the last annealing run (spec.md §4.2 "gated
// on last_annealing_epoch delta"), using epoch.Tracker's own
// last_annealing_epoch slot rather than duplicating that bookkeeping here.
type ontologyAnnealingLauncher struct {
	q       *queue.Queue
	tracker *epoch.Tracker
}

// NewOntologyAnnealingLauncher builds the delta-gated ontology-annealing
// launcher (every 6h, spec.md §4.2).
func NewOntologyAnnealingLauncher(q *queue.Queue, tracker *epoch.Tracker) Launcher {
	return &ontologyAnnealingLauncher{q: q, tracker: tracker}
}

func (l *ontologyAnnealingLauncher) Launch(ctx context.Context) (int, error) {
	counters := l.tracker.Current()
	if counters.LastAnnealingEpoch == counters.GraphChangeCounter {
		return 0, nil
	}
	if _, err := l.q.Enqueue(ctx, queue.EnqueueSpec{
		JobType:     queue.TypeOntologyAnnealing,
		UserID:      queue.SystemUserID,
		IsSystemJob: true,
		Source:      queue.SourceScheduledTask,
	}); err != nil {
		return 0, err
	}
	l.tracker.RecordAnnealingEpoch()
	return 1, nil
}

// Registry builds the launcher_class -> Launcher map the Dispatcher
// consumes, one entry per named launcher in spec.md §4.2.
func Registry(q *queue.Queue, tracker *epoch.Tracker) map[string]Launcher {
	return map[string]Launcher{
		"category-refresh":          NewCategoryRefreshLauncher(q),
		"vocabulary-consolidation":  NewVocabularyConsolidationLauncher(q),
		"projection-refresh":        NewProjectionRefreshLauncher(q),
		"epistemic-remeasurement":   NewEpistemicRemeasureLauncher(q, tracker),
		"artifact-cleanup":          NewArtifactCleanupLauncher(q),
		"ontology-annealing":        NewOntologyAnnealingLauncher(q, tracker),
	}
}

// DefaultScheduledJobs returns the `scheduled_jobs` seed rows spec.md §4.2
// names, with their cron expressions and max_retries left to the caller's
// config defaults.
func DefaultScheduledJobs() []scheduledJobSpec {
	return []scheduledJobSpec{
		{Name: "category-refresh", LauncherClass: "category-refresh", ScheduleCron: "0 */6 * * *"},
		{Name: "vocabulary-consolidation", LauncherClass: "vocabulary-consolidation", ScheduleCron: "0 */12 * * *"},
		{Name: "projection-refresh", LauncherClass: "projection-refresh", ScheduleCron: "0 * * * *"},
		{Name: "epistemic-remeasurement", LauncherClass: "epistemic-remeasurement", ScheduleCron: "0 * * * *"},
		{Name: "artifact-cleanup", LauncherClass: "artifact-cleanup", ScheduleCron: "0 0 * * *"},
		{Name: "ontology-annealing", LauncherClass: "ontology-annealing", ScheduleCron: "0 */6 * * *"},
	}
}

// scheduledJobSpec is the static configuration half of a ScheduledJob, the
// part a composition root reads from config rather than mutates at
// runtime.
type scheduledJobSpec struct {
	Name          string
	LauncherClass string
	ScheduleCron  string
}
