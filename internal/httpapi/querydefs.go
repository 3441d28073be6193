// Copyright 2025 James Ross
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/authz"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/embedding"
	"github.com/kgraph/controlplane/internal/graph"
)

// DefinitionType enumerates the recipe kinds spec.md §2 "Query Definition"
// names. Only DefinitionSearch is executable against the current Facade
// (graph.Facade exposes similarity search, not a general traversal or
// Cypher engine); the others are accepted and stored so the reusable-recipe
// half of the model is complete, but execution reports them unsupported
// until a traversal/Cypher surface exists on the Facade.
type DefinitionType string

const (
	DefinitionBlockDiagram DefinitionType = "block_diagram"
	DefinitionCypher       DefinitionType = "cypher"
	DefinitionSearch       DefinitionType = "search"
	DefinitionPolarity     DefinitionType = "polarity"
	DefinitionConnection   DefinitionType = "connection"
	DefinitionExploration  DefinitionType = "exploration"
	DefinitionProgram      DefinitionType = "program"
)

// QueryDefinition is the reusable recipe of spec.md §2.
type QueryDefinition struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	OwnerID        string          `json:"owner_id"`
	DefinitionType DefinitionType  `json:"definition_type"`
	Definition     json.RawMessage `json:"definition"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      clock.Instant   `json:"created_at"`
	UpdatedAt      clock.Instant   `json:"updated_at"`
}

// searchDefinition is the structured body of a DefinitionSearch recipe's
// Definition field: the query text and the ontology/threshold to run it
// against (spec.md §4.3.c SimilaritySearch parameters).
type searchDefinition struct {
	Query         string  `json:"query"`
	Ontology      string  `json:"ontology"`
	MinSimilarity float64 `json:"min_similarity"`
}

// queryDefStore holds the `query_definitions` table (spec.md §9 schema
// summary) in memory, grounded on internal/oauth's store.go: no testable
// property in spec.md exercises query-definition state surviving a
// restart, so a mutex-guarded map is sufficient here.
type queryDefStore struct {
	mu   sync.Mutex
	defs map[string]QueryDefinition
}

func newQueryDefStore() *queryDefStore {
	return &queryDefStore{defs: make(map[string]QueryDefinition)}
}

func (s *queryDefStore) save(d QueryDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[d.ID] = d
}

func (s *queryDefStore) get(id string) (QueryDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	return d, ok
}

func (s *queryDefStore) list(ownerID string) []QueryDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueryDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		if ownerID == "" || d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out
}

// regenerator adapts a stored query_definition into an artifact.Regenerator
// so Manager.Regenerate can re-execute it without knowing about HTTP or the
// query-definition table (spec.md §4.5 "Regeneration").
type regenerator struct {
	defs     *queryDefStore
	facade   graph.Facade
	embedder embedding.Service
}

func (s *queryDefStore) regeneratorFor(facade graph.Facade, embedder embedding.Service) artifact.Regenerator {
	return &regenerator{defs: s, facade: facade, embedder: embedder}
}

func (r *regenerator) Regenerate(ctx context.Context, a artifact.Artifact) (json.RawMessage, error) {
	def, ok := r.defs.get(a.QueryDefinitionID)
	if !ok {
		return nil, apierr.NotFound("query_definition_not_found", "query_definition "+a.QueryDefinitionID+" does not exist")
	}
	return executeDefinition(ctx, def, r.facade, r.embedder)
}

// executeDefinition runs def against facade/embedder and returns its
// payload as an artifact-ready json.RawMessage.
func executeDefinition(ctx context.Context, def QueryDefinition, facade graph.Facade, embedder embedding.Service) (json.RawMessage, error) {
	switch def.DefinitionType {
	case DefinitionSearch:
		var sd searchDefinition
		if err := json.Unmarshal(def.Definition, &sd); err != nil {
			return nil, apierr.Validation("invalid_definition", "search definition is not valid JSON: "+err.Error())
		}
		vectors, err := embedder.Embed(ctx, []string{sd.Query}, embedding.PurposeQuery)
		if err != nil {
			return nil, apierr.Provider("embedding_failed", "embedding service call failed", err)
		}
		if len(vectors) == 0 {
			return nil, apierr.Provider("embedding_failed", "embedding service returned no vectors", nil)
		}
		matches, err := facade.SimilaritySearch(ctx, sd.Ontology, vectors[0], sd.MinSimilarity)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{"matches": matches})
	default:
		return nil, apierr.Unprocessable("unsupported_definition_type", "definition_type "+string(def.DefinitionType)+" has no execution path against the current graph facade")
	}
}

// handleListQueryDefs implements GET /query-definitions?owner=.
func (s *Server) handleListQueryDefs(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = principal.UserID
	} else if owner != principal.UserID {
		if !s.authorize(w, r, "query_definition", "read", "", &authz.Target{OwnerID: owner}) {
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query_definitions": s.QueryDefs.list(owner)})
}

// createQueryDefRequest is the body of POST /query-definitions.
type createQueryDefRequest struct {
	Name           string          `json:"name"`
	DefinitionType DefinitionType  `json:"definition_type"`
	Definition     json.RawMessage `json:"definition"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// handleCreateQueryDef implements POST /query-definitions.
func (s *Server) handleCreateQueryDef(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !s.authorize(w, r, "query_definition", "create", "", &authz.Target{OwnerID: principal.UserID}) {
		return
	}

	var req createQueryDefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Log, badRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name == "" || req.DefinitionType == "" || len(req.Definition) == 0 {
		writeError(w, s.Log, badRequest("name, definition_type and definition are required"))
		return
	}

	now := s.Clock.Now()
	def := QueryDefinition{
		ID:             clock.NewID(),
		Name:           req.Name,
		OwnerID:        principal.UserID,
		DefinitionType: req.DefinitionType,
		Definition:     req.Definition,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.QueryDefs.save(def)
	writeJSON(w, http.StatusCreated, def)
}

// handleExecuteQueryDef implements POST /query-definitions/{id}/execute: runs
// the recipe and persists its result as an artifact linked back to it
// (spec.md §2 "Executing a definition produces an artifact that points back
// to it").
func (s *Server) handleExecuteQueryDef(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, ok := s.QueryDefs.get(id)
	if !ok {
		writeError(w, s.Log, apierr.NotFound("query_definition_not_found", "query_definition "+id+" does not exist"))
		return
	}
	if !s.authorize(w, r, "query_definition", "execute", id, &authz.Target{OwnerID: def.OwnerID}) {
		return
	}

	payload, err := executeDefinition(r.Context(), def, s.Graph, s.Embedding)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}

	var ontology string
	if def.DefinitionType == DefinitionSearch {
		var sd searchDefinition
		_ = json.Unmarshal(def.Definition, &sd)
		ontology = sd.Ontology
	}

	principal := principalFrom(r.Context())
	artifactID, err := s.Artifacts.Persist(r.Context(), artifact.PersistInput{
		ArtifactType:      artifact.TypeQueryResult,
		Representation:    string(def.DefinitionType),
		Name:              def.Name,
		OwnerID:           principal.UserID,
		Payload:           payload,
		Ontology:          ontology,
		QueryDefinitionID: def.ID,
	})
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"artifact_id": artifactID})
}
