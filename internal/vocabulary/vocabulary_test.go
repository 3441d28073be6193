// Copyright 2025 James Ross
package vocabulary

import (
	"context"
	"testing"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatch(t *testing.T) {
	v := New(clock.SystemClock{})
	v.Define(CanonicalType{Type: "depends_on", Direction: graph.DirectionOutward})

	typ, dir, ok := v.Resolve(context.Background(), "depends_on", nil, "a", "b", "job-1")
	require.True(t, ok)
	require.Equal(t, "depends_on", typ)
	require.Equal(t, graph.DirectionOutward, dir)
}

func TestResolveFallbackSubstitution(t *testing.T) {
	v := New(clock.SystemClock{})
	v.Define(CanonicalType{Type: "depends_on", Direction: graph.DirectionOutward, Embedding: []float32{1, 0}})

	typ, _, ok := v.Resolve(context.Background(), "relies_upon", []float32{1, 0}, "a", "b", "job-1")
	require.True(t, ok)
	require.Equal(t, "depends_on", typ)
	require.Empty(t, v.SkippedLog())
}

func TestResolveDropsBelowThreshold(t *testing.T) {
	v := New(clock.SystemClock{})
	v.Define(CanonicalType{Type: "depends_on", Direction: graph.DirectionOutward, Embedding: []float32{1, 0}})

	_, _, ok := v.Resolve(context.Background(), "unrelated_type", []float32{0, 1}, "a", "b", "job-1")
	require.False(t, ok)
	require.Len(t, v.SkippedLog(), 1)
	require.Equal(t, "unrelated_type", v.SkippedLog()[0].ProposedType)
}

func TestDefineDefaultsDirectionToOutward(t *testing.T) {
	v := New(clock.SystemClock{})
	v.Define(CanonicalType{Type: "mentions"})

	ct, ok := v.Lookup("mentions")
	require.True(t, ok)
	require.Equal(t, graph.DirectionOutward, ct.Direction)
}
