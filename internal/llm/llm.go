// Copyright 2025 James Ross
// Package llm types the LLM Extractor (spec.md §6.4): an external
// collaborator this spec does not implement, only consumes through a
// narrow interface.
package llm

import "context"

// Concept is a candidate concept proposed by the extractor for one chunk.
type Concept struct {
	Label         string `json:"label"`
	Description   string `json:"description"`
	EvidenceQuote string `json:"evidence_quote"`
}

// Relationship is a candidate relationship proposed by the extractor.
type Relationship struct {
	FromLabel        string  `json:"from_label"`
	ToLabel          string  `json:"to_label"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// Extraction is the extractor's response for one chunk.
type Extraction struct {
	Concepts      []Concept      `json:"concepts"`
	Relationships []Relationship `json:"relationships"`
}

// Extractor is the capability the Ingestion Pipeline consumes (spec.md §6.4).
type Extractor interface {
	ExtractConcepts(ctx context.Context, chunkText, ontology string) (Extraction, error)
}
