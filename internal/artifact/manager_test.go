// Copyright 2025 James Ross
package artifact

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kgraph/controlplane/internal/blobstore"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/stretchr/testify/require"
)

type memoryBlobs struct {
	data map[string][]byte
}

func newMemoryBlobs() *memoryBlobs { return &memoryBlobs{data: make(map[string][]byte)} }

func (m *memoryBlobs) Put(ctx context.Context, key string, data []byte) error {
	m.data[key] = data
	return nil
}
func (m *memoryBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return b, nil
}
func (m *memoryBlobs) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}
func (m *memoryBlobs) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}
func (m *memoryBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

func newTestManager(t *testing.T, inlineMax int) (*Manager, *memoryBlobs) {
	t.Helper()
	blobs := newMemoryBlobs()
	tr := epoch.New(graph.NewMemory())
	m := NewManager(NewMemoryStore(), blobs, tr, clock.SystemClock{}, inlineMax)
	return m, blobs
}

func TestPersistInlineBelowThreshold(t *testing.T) {
	m, blobs := newTestManager(t, 1024)
	ctx := context.Background()

	id, err := m.Persist(ctx, PersistInput{ArtifactType: TypeReport, Payload: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)

	meta, err := m.GetMeta(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, meta.InlineResult)
	require.Empty(t, meta.GarageKey)
	require.Empty(t, blobs.data)
}

func TestPersistBlobAboveThreshold(t *testing.T) {
	m, blobs := newTestManager(t, 4)
	ctx := context.Background()

	id, err := m.Persist(ctx, PersistInput{ArtifactType: TypeReport, Ontology: "T1", Payload: json.RawMessage(`{"much":"bigger than four bytes"}`)})
	require.NoError(t, err)

	meta, err := m.GetMeta(ctx, id)
	require.NoError(t, err)
	require.Empty(t, meta.InlineResult)
	require.NotEmpty(t, meta.GarageKey)
	require.Len(t, blobs.data, 1)

	payload, err := m.GetPayload(ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, `{"much":"bigger than four bytes"}`, string(payload))
}

func TestGetPayloadMissingBlobReturnsErrMissingPayload(t *testing.T) {
	m, blobs := newTestManager(t, 0)
	ctx := context.Background()

	id, err := m.Persist(ctx, PersistInput{ArtifactType: TypeReport, Payload: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)

	meta, err := m.GetMeta(ctx, id)
	require.NoError(t, err)
	delete(blobs.data, meta.GarageKey)

	_, err = m.GetPayload(ctx, id)
	require.ErrorIs(t, err, ErrMissingPayload)
}

func TestIsFreshComparesGraphEpoch(t *testing.T) {
	g := graph.NewMemory()
	tr := epoch.New(g)
	m := NewManager(NewMemoryStore(), newMemoryBlobs(), tr, clock.SystemClock{}, 1024)
	ctx := context.Background()

	id, err := m.Persist(ctx, PersistInput{ArtifactType: TypeReport, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	meta, err := m.GetMeta(ctx, id)
	require.NoError(t, err)
	require.True(t, meta.IsFresh, "no graph mutation yet; epoch unchanged")

	require.NoError(t, g.UpsertConcept(ctx, graph.Concept{ConceptID: "c1", Ontology: "T1", CreatedAt: clock.Now()}))
	_, err = tr.Refresh(ctx)
	require.NoError(t, err)

	meta, err = m.GetMeta(ctx, id)
	require.NoError(t, err)
	require.False(t, meta.IsFresh, "graph mutated after this artifact was written")
}
