// Copyright 2025 James Ross
package backup

import (
	"context"
	"testing"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/stretchr/testify/require"
)

func seedConcept(t *testing.T, facade graph.Facade, ontology, label string) {
	t.Helper()
	err := facade.UpsertConcept(context.Background(), graph.Concept{
		ConceptID: label, Label: label, Ontology: ontology, CreatedAt: clock.Now(),
	})
	require.NoError(t, err)
}

func TestCreateCapturesCurrentGraphState(t *testing.T) {
	facade := graph.NewMemory()
	seedConcept(t, facade, "ont-1", "concept-a")

	c, err := Create(context.Background(), facade, clock.SystemClock{}, TypeFull)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, c.SchemaVersion)
	require.Equal(t, TypeFull, c.Type)
	require.Equal(t, 1, c.Statistics.ConceptCount)
	require.Len(t, c.Data.Concepts, 1)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	facade := graph.NewMemory()
	seedConcept(t, facade, "ont-1", "concept-a")
	c, err := Create(context.Background(), facade, clock.SystemClock{}, TypeFull)
	require.NoError(t, err)

	compressed, err := Encode(c)
	require.NoError(t, err)
	require.NotEmpty(t, compressed)

	decoded, err := Decode(compressed)
	require.NoError(t, err)
	require.Equal(t, c.Statistics, decoded.Statistics)
	require.Equal(t, c.Data.Concepts[0].ConceptID, decoded.Data.Concepts[0].ConceptID)
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	_, err := Decode([]byte("not zstd"))
	require.Error(t, err)
}

func TestRestoreImportsIntoTargetFacade(t *testing.T) {
	source := graph.NewMemory()
	seedConcept(t, source, "ont-1", "concept-a")
	c, err := Create(context.Background(), source, clock.SystemClock{}, TypeFull)
	require.NoError(t, err)

	dest := graph.NewMemory()
	require.NoError(t, Restore(context.Background(), dest, c, true))

	got, found, err := dest.GetConcept(context.Background(), "concept-a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "concept-a", got.ConceptID)
}

func TestUpgradeRejectsNewerSchema(t *testing.T) {
	_, err := Upgrade(Container{SchemaVersion: CurrentSchemaVersion + 1})
	require.Error(t, err)
}
