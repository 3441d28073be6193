// Copyright 2025 James Ross
package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seed(t *testing.T, facade graph.Facade, id string) {
	t.Helper()
	require.NoError(t, facade.UpsertConcept(context.Background(), graph.Concept{
		ConceptID: id, Label: id, Ontology: "ont-1", CreatedAt: clock.Now(),
	}))
}

func TestRunWithCheckpointCommitsOnSuccess(t *testing.T) {
	facade := graph.NewMemory()
	seed(t, facade, "existing")
	g := New(facade, clock.SystemClock{}, zap.NewNop())

	err := g.RunWithCheckpoint(context.Background(), nil, func(ctx context.Context) error {
		return facade.UpsertConcept(ctx, graph.Concept{ConceptID: "new", Label: "new", Ontology: "ont-1", CreatedAt: clock.Now()})
	})
	require.NoError(t, err)

	_, found, err := facade.GetConcept(context.Background(), "new")
	require.NoError(t, err)
	require.True(t, found)
}

func TestRunWithCheckpointRollsBackOnOpError(t *testing.T) {
	facade := graph.NewMemory()
	seed(t, facade, "existing")
	g := New(facade, clock.SystemClock{}, zap.NewNop())

	err := g.RunWithCheckpoint(context.Background(), nil, func(ctx context.Context) error {
		_ = facade.UpsertConcept(ctx, graph.Concept{ConceptID: "partial", Label: "partial", Ontology: "ont-1", CreatedAt: clock.Now()})
		return errors.New("op failed midway")
	})
	require.Error(t, err)

	_, found, getErr := facade.GetConcept(context.Background(), "partial")
	require.NoError(t, getErr)
	require.False(t, found, "rollback should have undone the partial mutation")

	_, found, getErr = facade.GetConcept(context.Background(), "existing")
	require.NoError(t, getErr)
	require.True(t, found, "rollback should preserve pre-op state")
}

func TestRunWithCheckpointRollsBackOnIntegrityCheckFailure(t *testing.T) {
	facade := graph.NewMemory()
	seed(t, facade, "existing")
	g := New(facade, clock.SystemClock{}, zap.NewNop())

	check := func(ctx context.Context, f graph.Facade) error {
		return errors.New("inconsistent graph")
	}
	err := g.RunWithCheckpoint(context.Background(), check, func(ctx context.Context) error {
		return facade.UpsertConcept(ctx, graph.Concept{ConceptID: "bad", Label: "bad", Ontology: "ont-1", CreatedAt: clock.Now()})
	})
	require.Error(t, err)

	_, found, getErr := facade.GetConcept(context.Background(), "bad")
	require.NoError(t, getErr)
	require.False(t, found)
}

func TestRunWithCheckpointRollsBackOnPanic(t *testing.T) {
	facade := graph.NewMemory()
	seed(t, facade, "existing")
	g := New(facade, clock.SystemClock{}, zap.NewNop())

	err := g.RunWithCheckpoint(context.Background(), nil, func(ctx context.Context) error {
		panic("op exploded")
	})
	require.Error(t, err)

	_, found, getErr := facade.GetConcept(context.Background(), "existing")
	require.NoError(t, getErr)
	require.True(t, found)
}
