// Copyright 2025 James Ross
// Package embedding types the Embedding service (spec.md §6.5): an
// external collaborator consumed through a narrow interface, with vector
// normalisation and purpose-specific prefixes applied by the active
// profile (spec.md §3 Embedding configuration).
package embedding

import "context"

// Purpose distinguishes a query embedding from a document embedding, since
// some profiles apply a different prefix to each (spec.md §6.5).
type Purpose string

const (
	PurposeQuery    Purpose = "query"
	PurposeDocument Purpose = "document"
)

// Service is the capability the Ingestion Pipeline and search surface
// consume (spec.md §6.5).
type Service interface {
	Embed(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
}
