// Copyright 2025 James Ross
package graph

import (
	"context"
	"testing"
	"time"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestMemorySimilaritySearchOrdersBySimilarityThenAge(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()
	older := clock.From(clock.Now().Time().Add(-1 * time.Hour))
	newer := clock.Now()

	require.NoError(t, g.UpsertConcept(ctx, Concept{ConceptID: "c-older", Label: "Alpha", Ontology: "T1", Embedding: []float32{1, 0}, CreatedAt: older}))
	require.NoError(t, g.UpsertConcept(ctx, Concept{ConceptID: "c-newer", Label: "Alpha2", Ontology: "T1", Embedding: []float32{1, 0}, CreatedAt: newer}))
	require.NoError(t, g.UpsertConcept(ctx, Concept{ConceptID: "c-other-ontology", Label: "Beta", Ontology: "T2", Embedding: []float32{1, 0}, CreatedAt: newer}))

	matches, err := g.SimilaritySearch(ctx, "T1", []float32{1, 0}, 0.85)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "c-older", matches[0].Concept.ConceptID, "ties break toward the oldest created_at")
}

func TestCosineSimilarityAtThresholdIsAMatch(t *testing.T) {
	sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.InDelta(t, 1.0, sim, 1e-9)

	g := NewMemory()
	ctx := context.Background()
	require.NoError(t, g.UpsertConcept(ctx, Concept{ConceptID: "c-edge", Ontology: "T1", Embedding: []float32{0.6, 0.8}}))
	threshold := CosineSimilarity([]float32{0.6, 0.8}, []float32{1, 0})
	matches, err := g.SimilaritySearch(ctx, "T1", []float32{1, 0}, threshold)
	require.NoError(t, err)
	require.Len(t, matches, 1, "a score exactly equal to the threshold is a match")
}

func TestMemoryDocumentMetaRoundTrip(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()
	meta := DocumentMeta{DocumentID: "sha256:abc", Ontology: "T1", SourceCount: 3}
	require.NoError(t, g.UpsertDocumentMeta(ctx, meta))

	got, ok, err := g.GetDocumentMeta(ctx, "sha256:abc", "T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, got.SourceCount)

	_, ok, err = g.GetDocumentMeta(ctx, "sha256:abc", "T2")
	require.NoError(t, err)
	require.False(t, ok, "dedup key is (hash, ontology); a different ontology is not a hit")
}
