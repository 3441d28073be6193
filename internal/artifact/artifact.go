// Copyright 2025 James Ross
// Package artifact implements the Artifact Store (spec.md §4.5): dual-tier
// persistence of computed results, inline below a size threshold, else in
// the Blob Store Facade, stamped with the Graph-Change Epoch at write time
// so readers can tell a stale artifact from a fresh one.
package artifact

import (
	"encoding/json"

	"github.com/kgraph/controlplane/internal/clock"
)

// Type names the originating job/query that produced an artifact.
type Type string

const (
	TypeProjection      Type = "projection"
	TypePolarityAnalysis Type = "polarity_analysis"
	TypeQueryResult     Type = "query_result"
	TypeReport          Type = "report"
	TypeStatsSnapshot   Type = "stats_snapshot"
)

// Artifact is the persisted computed result (spec.md §3 "Artifact").
// Exactly one of InlineResult/GarageKey is populated (invariant 3, §8).
type Artifact struct {
	ID                 string          `json:"id"`
	ArtifactType       Type            `json:"artifact_type"`
	Representation     string          `json:"representation"`
	Name               string          `json:"name"`
	OwnerID            string          `json:"owner_id,omitempty"` // empty = system-owned
	Parameters         json.RawMessage `json:"parameters,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	GraphEpoch         int64           `json:"graph_epoch"`
	InlineResult       json.RawMessage `json:"inline_result,omitempty"`
	GarageKey          string          `json:"garage_key,omitempty"`
	CreatedAt          clock.Instant   `json:"created_at"`
	ExpiresAt          *clock.Instant  `json:"expires_at,omitempty"`
	ConceptIDs         []string        `json:"concept_ids,omitempty"`
	Ontology           string          `json:"ontology,omitempty"`
	QueryDefinitionID  string          `json:"query_definition_id,omitempty"`
	Superseded         bool            `json:"superseded"`
}

// Meta is the read-path projection of Artifact plus the derived
// freshness flag (spec.md §4.5 "GetMeta").
type Meta struct {
	Artifact
	IsFresh bool `json:"is_fresh"`
}

// blobKey is the type-prefixed Blob Store key (spec.md §4.5 write path).
func blobKey(artifactType Type, ontology, id string) string {
	if ontology != "" {
		return "artifacts/" + string(artifactType) + "/" + ontology + "/" + id + ".json"
	}
	return "artifacts/" + string(artifactType) + "/" + id + ".json"
}

func marshalArtifact(a Artifact) ([]byte, error) {
	return json.Marshal(a)
}

func unmarshalArtifact(b []byte) (Artifact, error) {
	var a Artifact
	err := json.Unmarshal(b, &a)
	return a, err
}
