// Copyright 2025 James Ross
// Package graph defines the Graph Facade: the narrow interface the control
// plane consumes from the property-graph store (spec.md §6.6). The store
// itself — its Cypher-like traversal engine and vector index — is an
// external collaborator (spec.md §1); this package only types the contract
// and ships an in-memory implementation used by tests and local/dev runs.
package graph

import (
	"context"
	"math"
	"sort"

	"github.com/kgraph/controlplane/internal/clock"
)

// Concept is a semantic unit, unique within the graph by ConceptID and
// matched across ingestion runs by embedding similarity (spec.md §3, §4.4).
type Concept struct {
	ConceptID   string        `json:"concept_id"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Embedding   []float32     `json:"embedding"`
	Ontology    string        `json:"ontology"`
	CreatedAt   clock.Instant `json:"created_at"`
}

// Source is a per-chunk or per-image record of ingested content.
type Source struct {
	SourceID        string        `json:"source_id"`
	Document        string        `json:"document"`
	Paragraph       int           `json:"paragraph"`
	FullText        string        `json:"full_text"`
	ContentHash     string        `json:"content_hash"`
	ContentType     string        `json:"content_type"`
	StorageKey      string        `json:"storage_key,omitempty"`
	Embedding       []float32     `json:"embedding,omitempty"`
	VisualEmbedding []float32     `json:"visual_embedding,omitempty"`
	CreatedAt       clock.Instant `json:"created_at"`
}

// Instance is an evidence edge linking a Concept to a Source with a quoted span.
type Instance struct {
	InstanceID    string        `json:"instance_id"`
	ConceptID     string        `json:"concept_id"`
	SourceID      string        `json:"source_id"`
	EvidenceQuote string        `json:"evidence_quote"`
	CreatedAt     clock.Instant `json:"created_at"`
}

// DocumentMeta is the per-document provenance node keyed by content hash
// (spec.md §3); its existence is the ultimate source of truth for "already
// ingested" (spec.md §4.3 step 1).
type DocumentMeta struct {
	DocumentID   string        `json:"document_id"` // == content_hash
	Ontology     string        `json:"ontology"`
	SourceCount  int           `json:"source_count"`
	Filename     string        `json:"filename"`
	SourceType   string        `json:"source_type"`
	FilePath     string        `json:"file_path"`
	Hostname     string        `json:"hostname"`
	IngestedAt   clock.Instant `json:"ingested_at"`
	IngestedBy   string        `json:"ingested_by"`
	JobID        string        `json:"job_id"`
}

// Ontology is a first-class scope node (spec.md §3).
type Ontology struct {
	OntologyID     string        `json:"ontology_id"`
	Name           string        `json:"name"`
	LifecycleState string        `json:"lifecycle_state"` // "active" | ...
	CreationEpoch  int64         `json:"creation_epoch"`
	CreatedAt      clock.Instant `json:"created_at"`
}

// Direction of a relationship edge (spec.md §3).
type Direction string

const (
	DirectionOutward      Direction = "outward"
	DirectionInward       Direction = "inward"
	DirectionBidirectional Direction = "bidirectional"
)

// RelationshipSource distinguishes curator input from extractor output.
type RelationshipSource string

const (
	RelationshipFromExtraction RelationshipSource = "llm_extraction"
	RelationshipFromCuration   RelationshipSource = "human_curation"
)

// Relationship is a typed, provenance-bearing edge between two Concepts.
// Upsert key is the triple (FromConceptID, ToConceptID, Type) plus
// normalised Direction (spec.md §4.4); re-issuing the same triple updates
// provenance without duplicating the edge.
type Relationship struct {
	FromConceptID string             `json:"from_concept_id"`
	ToConceptID   string             `json:"to_concept_id"`
	Type          string             `json:"type"`
	Direction     Direction          `json:"direction"`
	CreatedAt     clock.Instant      `json:"created_at"`
	CreatedBy     string             `json:"created_by"`
	Source        RelationshipSource `json:"source"`
	JobID         string             `json:"job_id"`
	DocumentID    string             `json:"document_id"`
	Confidence    float64            `json:"confidence"`
}

// Match is a similarity-search hit: a Concept plus its cosine score against
// the query embedding.
type Match struct {
	Concept    Concept
	Similarity float64
}

// Counts is the set of object counts the Graph-Change Epoch (spec.md §4.7)
// sums into graph_change_counter.
type Counts struct {
	ConceptCount        int64
	TotalEdges          int64
	VocabularyTypeCount int64
	SourceCount         int64
	InstanceCount       int64
}

// Facade is the set of capabilities the core consumes from the
// property-graph store (spec.md §6.6): node upsert by primary key, edge
// upsert by triple plus direction, similarity search, relationship-type
// listing, object counts, and backup export/import. It has no
// traversal-by-pattern or counter-increment method.
type Facade interface {
	UpsertConcept(ctx context.Context, c Concept) error
	GetConcept(ctx context.Context, conceptID string) (Concept, bool, error)
	UpsertSource(ctx context.Context, s Source) error
	GetSourceByHash(ctx context.Context, contentHash string) (Source, bool, error)
	UpsertInstance(ctx context.Context, i Instance) error
	UpsertRelationship(ctx context.Context, r Relationship) error

	UpsertDocumentMeta(ctx context.Context, d DocumentMeta) error
	GetDocumentMeta(ctx context.Context, contentHash, ontology string) (DocumentMeta, bool, error)

	UpsertOntology(ctx context.Context, o Ontology) error
	GetOntology(ctx context.Context, ontologyID string) (Ontology, bool, error)

	// SimilaritySearch returns Concepts in ontology whose embedding's
	// cosine similarity to query is >= minSimilarity, ordered by
	// similarity descending then CreatedAt ascending (the tie-break
	// spec.md §4.3.c requires).
	SimilaritySearch(ctx context.Context, ontology string, query []float32, minSimilarity float64) ([]Match, error)

	// RelationshipTypes lists the distinct edge type labels currently in
	// the graph, for vocabulary reconciliation.
	RelationshipTypes(ctx context.Context) ([]string, error)

	Counts(ctx context.Context) (Counts, error)

	// Export streams every concept/source/instance/relationship/document_meta/
	// ontology currently stored, for internal/backup.
	Export(ctx context.Context) (BackupData, error)
	// Import replaces or merges BackupData into the graph; used by restore
	// and by the Checkpoint Guard's rollback path.
	Import(ctx context.Context, data BackupData, replace bool) error
}

// BackupData is the graph-side payload of a backup container (spec.md §6.9).
type BackupData struct {
	Concepts      []Concept      `json:"concepts"`
	Sources       []Source       `json:"sources"`
	Instances     []Instance     `json:"instances"`
	Relationships []Relationship `json:"relationships"`
	DocumentMeta  []DocumentMeta `json:"document_meta"`
	Ontologies    []Ontology     `json:"ontologies"`
}

// CosineSimilarity computes the cosine similarity of two equal-length
// embedding vectors. Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sortMatches orders matches by similarity desc, then CreatedAt asc, the
// tie-break rule in spec.md §4.3.c ("highest similarity; on a tie, oldest
// created_at").
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Concept.CreatedAt.Before(matches[j].Concept.CreatedAt)
	})
}
