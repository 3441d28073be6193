// Copyright 2025 James Ross
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/embedding"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/llm"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/kgraph/controlplane/internal/vocabulary"
	"github.com/kgraph/controlplane/internal/worker"
	"go.uber.org/zap"
)

// Config carries the subset of cfg.Ingestion this pipeline needs.
type Config struct {
	ChunkSizeChars       int
	ChunkOverlapChars    int
	MinConceptSimilarity float64
}

// JobChecker reports whether a running job has been asked to cancel, so
// the pipeline can stop at the next chunk boundary (spec.md §4.6
// "Cancellation": "terminates the pipeline at a safe boundary (between
// chunks, not mid-chunk)").
type JobChecker interface {
	Get(ctx context.Context, jobID string) (queue.Job, error)
}

// Pipeline implements the Ingestion Pipeline (spec.md §4.3) as a
// worker.Handler for queue.TypeIngestion.
type Pipeline struct {
	facade     graph.Facade
	extractor  llm.Extractor
	embedder   embedding.Service
	vocab      *vocabulary.Vocabulary
	artifacts  *artifact.Manager
	epoch      *epoch.Tracker
	jobs       JobChecker
	clk        clock.Clock
	cfg        Config
	log        *zap.Logger
}

// New constructs a Pipeline.
func New(facade graph.Facade, extractor llm.Extractor, embedder embedding.Service, vocab *vocabulary.Vocabulary, artifacts *artifact.Manager, tracker *epoch.Tracker, jobs JobChecker, clk clock.Clock, cfg Config, log *zap.Logger) *Pipeline {
	return &Pipeline{
		facade: facade, extractor: extractor, embedder: embedder, vocab: vocab,
		artifacts: artifacts, epoch: tracker, jobs: jobs, clk: clk, cfg: cfg, log: log,
	}
}

var _ worker.Handler = (*Pipeline)(nil)

// report is a summary collected across the chunk loop, emitted as the
// ingestion_report artifact (spec.md §4.3 step 5).
type report struct {
	DocumentID            string `json:"document_id"`
	Ontology              string `json:"ontology"`
	ChunksProcessed       int    `json:"chunks_processed"`
	ConceptsCreated       int    `json:"concepts_created"`
	ConceptsMatched       int    `json:"concepts_matched"`
	RelationshipsCreated  int    `json:"relationships_created"`
	RelationshipsSkipped  int    `json:"relationships_skipped"`
}

// Handle implements worker.Handler (spec.md §4.3).
func (p *Pipeline) Handle(ctx context.Context, job queue.Job, progress worker.ProgressReporter) (*queue.Result, *queue.JobError) {
	data, err := DecodeJobData(job.JobData)
	if err != nil {
		return nil, jobErr(apierr.Validation("invalid_job_data", "ingestion job_data did not decode: "+err.Error()))
	}

	contentHash := job.ContentHash
	if contentHash == "" {
		contentHash = ContentHash(data.DocumentText)
	}

	// Step 1: pre-flight.
	if existing, found, err := p.facade.GetDocumentMeta(ctx, contentHash, job.Ontology); err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	} else if found && !data.Force {
		result := &queue.Result{AlreadyIngested: true, DocumentID: existing.DocumentID}
		return result, nil
	}

	// Step 2: chunking.
	chunks := Split(data.DocumentText, p.cfg.ChunkSizeChars, p.cfg.ChunkOverlapChars)
	if err := progress.Report(ctx, queue.Progress{Stage: "chunking", Percent: 0, ChunksTotal: len(chunks)}); err != nil {
		p.log.Warn("progress report failed", zap.Error(err))
	}

	rep := report{DocumentID: contentHash, Ontology: job.Ontology}
	conceptByLabel := make(map[string]graph.Concept)

	for _, chunk := range chunks {
		if p.cancelled(ctx, job.JobID) {
			return nil, jobErr(apierr.Conflict("cancelled", "ingestion cancelled at chunk boundary"))
		}

		if err := p.processChunk(ctx, job, chunk, conceptByLabel, &rep); err != nil {
			return nil, jobErr(err)
		}

		rep.ChunksProcessed++
		percent := 100
		if len(chunks) > 0 {
			percent = rep.ChunksProcessed * 100 / len(chunks)
		}
		snapshot := queue.Progress{
			Stage: "ingesting", Percent: percent,
			ItemsProcessed: rep.ChunksProcessed, ItemsTotal: len(chunks),
			ChunksProcessed: rep.ChunksProcessed, ChunksTotal: len(chunks),
			ConceptsCreated: rep.ConceptsCreated,
		}
		if err := progress.Report(ctx, snapshot); err != nil {
			p.log.Warn("progress report failed", zap.Error(err))
		}
	}

	// Step 4: finalise.
	if err := p.finalize(ctx, job, contentHash, data, rep.ChunksProcessed); err != nil {
		return nil, jobErr(err)
	}
	p.epoch.IncrementDocumentIngestion()
	if _, err := p.epoch.Refresh(ctx); err != nil {
		p.log.Warn("epoch refresh after ingestion failed", zap.Error(err))
	}

	// Step 5: emit artifact.
	payload, err := json.Marshal(rep)
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}
	artifactID, err := p.artifacts.Persist(ctx, artifact.PersistInput{
		ArtifactType:   artifact.TypeReport,
		Representation: "ingestion_report",
		Name:           "Ingestion report: " + contentHash,
		OwnerID:        job.UserID,
		Ontology:       job.Ontology,
		Payload:        payload,
	})
	if err != nil {
		return nil, jobErr(apierr.Unexpected(err))
	}

	summary, _ := json.Marshal(rep)
	return &queue.Result{DocumentID: contentHash, ArtifactID: artifactID, Summary: summary}, nil
}

// cancelled polls the job's current status (spec.md §4.6: the worker
// observes a cancellation request "at its next snapshot point").
func (p *Pipeline) cancelled(ctx context.Context, jobID string) bool {
	if p.jobs == nil {
		return false
	}
	current, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return current.Status == queue.StatusCancelled
}

// processChunk runs steps 3a-3e for one chunk.
func (p *Pipeline) processChunk(ctx context.Context, job queue.Job, chunk Chunk, conceptByLabel map[string]graph.Concept, rep *report) error {
	extraction, err := p.extractor.ExtractConcepts(ctx, chunk.Text, job.Ontology)
	if err != nil {
		return err
	}

	source, err := p.upsertSource(ctx, job, chunk)
	if err != nil {
		return err
	}

	texts := make([]string, len(extraction.Concepts))
	for i, c := range extraction.Concepts {
		texts[i] = c.Label + " — " + c.Description
	}
	var embeddings [][]float32
	if len(texts) > 0 {
		embeddings, err = p.embedder.Embed(ctx, texts, embedding.PurposeDocument)
		if err != nil {
			return err
		}
	}

	for i, candidate := range extraction.Concepts {
		concept, matched, err := p.matchOrCreateConcept(ctx, job.Ontology, candidate, embeddings[i])
		if err != nil {
			return err
		}
		conceptByLabel[candidate.Label] = concept
		if matched {
			rep.ConceptsMatched++
		} else {
			rep.ConceptsCreated++
		}

		instance := graph.Instance{
			InstanceID:    clock.NewID(),
			ConceptID:     concept.ConceptID,
			SourceID:      source.SourceID,
			EvidenceQuote: candidate.EvidenceQuote,
			CreatedAt:     p.clk.Now(),
		}
		if err := p.facade.UpsertInstance(ctx, instance); err != nil {
			return fmt.Errorf("ingestion: upsert instance: %w", err)
		}
	}

	for _, rel := range extraction.Relationships {
		from, fromOK := conceptByLabel[rel.FromLabel]
		to, toOK := conceptByLabel[rel.ToLabel]
		if !fromOK || !toOK {
			continue
		}
		resolvedType, direction, ok := p.vocab.Resolve(ctx, rel.RelationshipType, nil, rel.FromLabel, rel.ToLabel, job.JobID)
		if !ok {
			rep.RelationshipsSkipped++
			continue
		}
		edge := graph.Relationship{
			FromConceptID: from.ConceptID,
			ToConceptID:   to.ConceptID,
			Type:          resolvedType,
			Direction:     direction,
			CreatedAt:     p.clk.Now(),
			CreatedBy:     job.UserID,
			Source:        graph.RelationshipFromExtraction,
			JobID:         job.JobID,
			DocumentID:    source.ContentHash,
			Confidence:    rel.Confidence,
		}
		if err := p.facade.UpsertRelationship(ctx, edge); err != nil {
			return fmt.Errorf("ingestion: upsert relationship: %w", err)
		}
		rep.RelationshipsCreated++
	}
	return nil
}

// upsertSource creates the chunk's Source node if one doesn't already
// exist for its content hash (spec.md §4.3 step 3d, idempotence).
func (p *Pipeline) upsertSource(ctx context.Context, job queue.Job, chunk Chunk) (graph.Source, error) {
	if existing, found, err := p.facade.GetSourceByHash(ctx, chunk.ContentHash); err != nil {
		return graph.Source{}, fmt.Errorf("ingestion: lookup source: %w", err)
	} else if found {
		return existing, nil
	}

	source := graph.Source{
		SourceID:    clock.NewID(),
		Document:    job.SourceMetadata.Filename,
		Paragraph:   chunk.Index,
		FullText:    chunk.Text,
		ContentHash: chunk.ContentHash,
		ContentType: "text",
		CreatedAt:   p.clk.Now(),
	}
	if err := p.facade.UpsertSource(ctx, source); err != nil {
		return graph.Source{}, fmt.Errorf("ingestion: upsert source: %w", err)
	}
	return source, nil
}

// matchOrCreateConcept implements spec.md §4.3 step 3c/3d: cosine-match
// against existing concepts in the ontology at >= MinConceptSimilarity,
// else create a new Concept.
func (p *Pipeline) matchOrCreateConcept(ctx context.Context, ontology string, candidate llm.Concept, conceptEmbedding []float32) (graph.Concept, bool, error) {
	matches, err := p.facade.SimilaritySearch(ctx, ontology, conceptEmbedding, p.cfg.MinConceptSimilarity)
	if err != nil {
		return graph.Concept{}, false, fmt.Errorf("ingestion: similarity search: %w", err)
	}
	if len(matches) > 0 {
		return matches[0].Concept, true, nil
	}

	concept := graph.Concept{
		ConceptID:   clock.NewID(),
		Label:       candidate.Label,
		Description: candidate.Description,
		Embedding:   conceptEmbedding,
		Ontology:    ontology,
		CreatedAt:   p.clk.Now(),
	}
	if err := p.facade.UpsertConcept(ctx, concept); err != nil {
		return graph.Concept{}, false, fmt.Errorf("ingestion: upsert concept: %w", err)
	}
	return concept, false, nil
}

// finalize implements spec.md §4.3 step 4: DocumentMeta + Ontology upsert.
func (p *Pipeline) finalize(ctx context.Context, job queue.Job, contentHash string, data JobData, sourceCount int) error {
	if _, found, err := p.facade.GetOntology(ctx, job.Ontology); err != nil {
		return fmt.Errorf("ingestion: lookup ontology: %w", err)
	} else if !found {
		ont := graph.Ontology{
			OntologyID:     job.Ontology,
			Name:           job.Ontology,
			LifecycleState: "active",
			CreationEpoch:  p.epoch.GraphChangeCounter(),
			CreatedAt:      p.clk.Now(),
		}
		if err := p.facade.UpsertOntology(ctx, ont); err != nil {
			return fmt.Errorf("ingestion: upsert ontology: %w", err)
		}
	}

	meta := graph.DocumentMeta{
		DocumentID:  contentHash,
		Ontology:    job.Ontology,
		SourceCount: sourceCount,
		Filename:   data.Filename,
		SourceType: data.SourceType,
		FilePath:   data.Path,
		Hostname:   data.Hostname,
		IngestedAt: p.clk.Now(),
		IngestedBy: job.UserID,
		JobID:      job.JobID,
	}
	if err := p.facade.UpsertDocumentMeta(ctx, meta); err != nil {
		return fmt.Errorf("ingestion: upsert document meta: %w", err)
	}
	return nil
}

func jobErr(err error) *queue.JobError {
	apiErr, _ := apierr.As(err)
	return &queue.JobError{
		Kind:      string(apiErr.Kind),
		Code:      apiErr.Code,
		Detail:    apiErr.Detail,
		Retryable: apiErr.Kind == apierr.KindProvider || apiErr.Kind == apierr.KindRateLimited,
	}
}
