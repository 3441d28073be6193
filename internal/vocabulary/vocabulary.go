// Copyright 2025 James Ross
// Package vocabulary implements the controlled relationship-type
// vocabulary (spec.md §4.4 "Relationship type vocabulary"): canonical edge
// labels, fallback substitution by cached type-embedding similarity, and a
// skipped-relationships log for proposals that match nothing.
package vocabulary

import (
	"context"
	"sync"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
)

// fallbackThreshold is the minimum cosine similarity against a cached type
// embedding for a fallback substitution (spec.md §4.4: "≥ 0.70").
const fallbackThreshold = 0.70

// CanonicalType is one entry in the controlled vocabulary.
type CanonicalType struct {
	Type      string
	Direction graph.Direction
	Embedding []float32
}

// Skipped is one entry in the skipped-relationships log: a proposed type
// that matched no canonical type closely enough and was dropped.
type Skipped struct {
	ProposedType string
	FromLabel    string
	ToLabel      string
	JobID        string
	RecordedAt   clock.Instant
}

// Vocabulary holds the canonical type set and the skipped-relationships
// log. Guarded by sync.RWMutex the same way internal/graph.Memory guards
// its maps, since both curator edits and concurrent ingestion workers
// read/write it.
type Vocabulary struct {
	mu       sync.RWMutex
	types    map[string]CanonicalType
	skipped  []Skipped
	clk      clock.Clock
}

// New returns an empty Vocabulary.
func New(clk clock.Clock) *Vocabulary {
	return &Vocabulary{types: make(map[string]CanonicalType), clk: clk}
}

// Define registers or updates a canonical type (curator action). Direction
// defaults to outward when unset, per spec.md §4.4.
func (v *Vocabulary) Define(ct CanonicalType) {
	if ct.Direction == "" {
		ct.Direction = graph.DirectionOutward
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[ct.Type] = ct
}

// Lookup returns the canonical type and its declared direction if type is
// already in the vocabulary.
func (v *Vocabulary) Lookup(typ string) (CanonicalType, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ct, ok := v.types[typ]
	return ct, ok
}

// Types returns every canonical type currently defined.
func (v *Vocabulary) Types() []CanonicalType {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]CanonicalType, 0, len(v.types))
	for _, ct := range v.types {
		out = append(out, ct)
	}
	return out
}

// Resolve implements spec.md §4.4's vocabulary gate for one proposed
// relationship type: exact match wins; otherwise the closest canonical
// type by cosine similarity on cached type embeddings is substituted if it
// clears fallbackThreshold; otherwise the proposal is written to the
// skipped-relationships log and dropped (ok=false).
func (v *Vocabulary) Resolve(ctx context.Context, proposedType string, proposedEmbedding []float32, fromLabel, toLabel, jobID string) (resolvedType string, direction graph.Direction, ok bool) {
	if ct, exact := v.Lookup(proposedType); exact {
		return ct.Type, ct.Direction, true
	}

	best, bestSim, found := v.closestType(proposedEmbedding)
	if found && bestSim >= fallbackThreshold {
		return best.Type, best.Direction, true
	}

	v.mu.Lock()
	v.skipped = append(v.skipped, Skipped{
		ProposedType: proposedType,
		FromLabel:    fromLabel,
		ToLabel:      toLabel,
		JobID:        jobID,
		RecordedAt:   v.clk.Now(),
	})
	v.mu.Unlock()
	return "", "", false
}

func (v *Vocabulary) closestType(embedding []float32) (CanonicalType, float64, bool) {
	if len(embedding) == 0 {
		return CanonicalType{}, 0, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	var best CanonicalType
	var bestSim float64
	found := false
	for _, ct := range v.types {
		sim := graph.CosineSimilarity(embedding, ct.Embedding)
		if !found || sim > bestSim {
			best, bestSim, found = ct, sim, true
		}
	}
	return best, bestSim, found
}

// SkippedLog returns a snapshot of the skipped-relationships log.
func (v *Vocabulary) SkippedLog() []Skipped {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Skipped, len(v.skipped))
	copy(out, v.skipped)
	return out
}
