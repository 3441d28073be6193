// Copyright 2025 James Ross
package ingestion

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/embedding"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/llm"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/kgraph/controlplane/internal/vocabulary"
	"github.com/kgraph/controlplane/internal/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	extraction llm.Extraction
	calls      int
}

func (f *fakeExtractor) ExtractConcepts(ctx context.Context, chunkText, ontology string) (llm.Extraction, error) {
	f.calls++
	return f.extraction, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string, purpose embedding.Purpose) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type recordingReporter struct {
	snapshots []queue.Progress
}

func (r *recordingReporter) Report(ctx context.Context, snapshot queue.Progress) error {
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

type staticJobs struct {
	job queue.Job
}

func (s staticJobs) Get(ctx context.Context, jobID string) (queue.Job, error) { return s.job, nil }

func newTestPipeline(t *testing.T, extraction llm.Extraction) (*Pipeline, graph.Facade, *fakeExtractor) {
	t.Helper()
	facade := graph.NewMemory()
	extractor := &fakeExtractor{extraction: extraction}
	vocab := vocabulary.New(clock.SystemClock{})
	vocab.Define(vocabulary.CanonicalType{Type: "relates_to", Direction: graph.DirectionOutward})
	tracker := epoch.New(facade)
	mgr := artifact.NewManager(artifact.NewMemoryStore(), memoryBlobs{}, tracker, clock.SystemClock{}, 1<<20)
	cfg := Config{ChunkSizeChars: 4000, ChunkOverlapChars: 100, MinConceptSimilarity: 0.85}
	job := queue.Job{JobID: "job-1", Ontology: "ont-1", Status: queue.StatusRunning}
	p := New(facade, extractor, fakeEmbedder{}, vocab, mgr, tracker, staticJobs{job: job}, clock.SystemClock{}, cfg, zap.NewNop())
	return p, facade, extractor
}

type memoryBlobs struct{}

func (memoryBlobs) Put(ctx context.Context, key string, data []byte) error   { return nil }
func (memoryBlobs) Get(ctx context.Context, key string) ([]byte, error)     { return nil, nil }
func (memoryBlobs) Delete(ctx context.Context, key string) error            { return nil }
func (memoryBlobs) Exists(ctx context.Context, key string) (bool, error)    { return false, nil }
func (memoryBlobs) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

func jobDataFor(text string) json.RawMessage {
	b, _ := json.Marshal(JobData{DocumentText: text})
	return b
}

func TestHandleIngestsNewDocument(t *testing.T) {
	extraction := llm.Extraction{
		Concepts: []llm.Concept{
			{Label: "Go", Description: "a programming language", EvidenceQuote: "Go is great"},
		},
		Relationships: nil,
	}
	p, facade, extractor := newTestPipeline(t, extraction)

	job := queue.Job{
		JobID: "job-1", Ontology: "ont-1", UserID: "1", Status: queue.StatusRunning,
		JobData: jobDataFor("Go is great.\n\nIt compiles fast."),
	}
	reporter := &recordingReporter{}

	result, jobErr := p.Handle(context.Background(), job, reporter)
	require.Nil(t, jobErr)
	require.NotNil(t, result)
	require.False(t, result.AlreadyIngested)
	require.NotEmpty(t, result.ArtifactID)
	require.Equal(t, 1, extractor.calls)

	meta, found, err := facade.GetDocumentMeta(context.Background(), result.DocumentID, "ont-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "ont-1", meta.Ontology)
	require.NotEmpty(t, reporter.snapshots)
}

func TestHandleAlreadyIngestedIsNoOp(t *testing.T) {
	extraction := llm.Extraction{Concepts: []llm.Concept{{Label: "Go", Description: "lang", EvidenceQuote: "q"}}}
	p, _, extractor := newTestPipeline(t, extraction)

	job := queue.Job{
		JobID: "job-1", Ontology: "ont-1", UserID: "1", Status: queue.StatusRunning,
		JobData: jobDataFor("Go is great."),
	}
	reporter := &recordingReporter{}

	first, jobErr := p.Handle(context.Background(), job, reporter)
	require.Nil(t, jobErr)
	require.False(t, first.AlreadyIngested)

	job2 := job
	job2.JobID = "job-2"
	second, jobErr := p.Handle(context.Background(), job2, reporter)
	require.Nil(t, jobErr)
	require.True(t, second.AlreadyIngested)
	require.Equal(t, first.DocumentID, second.DocumentID)
	require.Equal(t, 1, extractor.calls) // second run never re-extracted
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	doc := "first paragraph text here\n\nsecond paragraph text here\n\nthird paragraph"
	chunks := Split(doc, 30, 5)
	require.NotEmpty(t, chunks)
	require.Equal(t, "first paragraph text here", chunks[0].Text, "first cut lands on the paragraph break, not at 30 chars")
	for _, c := range chunks {
		require.NotEmpty(t, c.ContentHash)
	}
}

func TestSplitEmptyDocumentReturnsNoChunks(t *testing.T) {
	require.Nil(t, Split("   ", 100, 10))
}
