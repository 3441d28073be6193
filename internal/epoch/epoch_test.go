// Copyright 2025 James Ross
package epoch

import (
	"context"
	"testing"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/stretchr/testify/require"
)

func TestRefreshSumsObjectCounts(t *testing.T) {
	g := graph.NewMemory()
	ctx := context.Background()
	require.NoError(t, g.UpsertConcept(ctx, graph.Concept{ConceptID: "c1", Ontology: "T1", CreatedAt: clock.Now()}))
	require.NoError(t, g.UpsertConcept(ctx, graph.Concept{ConceptID: "c2", Ontology: "T1", CreatedAt: clock.Now()}))
	require.NoError(t, g.UpsertSource(ctx, graph.Source{SourceID: "s1", ContentHash: "sha256:a"}))
	require.NoError(t, g.UpsertRelationship(ctx, graph.Relationship{FromConceptID: "c1", ToConceptID: "c2", Type: "relates_to"}))

	tr := New(g)
	counters, err := tr.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counters.ConceptCount)
	require.Equal(t, int64(1), counters.SourceCount)
	require.Equal(t, int64(1), counters.TotalEdges)
	require.Equal(t, int64(1), counters.VocabularyTypeCount)
	require.Equal(t, counters.ConceptCount+counters.TotalEdges+counters.VocabularyTypeCount+counters.SourceCount+counters.InstanceCount, counters.GraphChangeCounter)
	require.Equal(t, counters.GraphChangeCounter, tr.GraphChangeCounter())
}

func TestIncrementDocumentIngestionIsMonotonic(t *testing.T) {
	tr := New(graph.NewMemory())
	tr.IncrementDocumentIngestion()
	tr.IncrementDocumentIngestion()
	require.Equal(t, int64(2), tr.Current().DocumentIngestionCounter)
}
