// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/authz"
)

func artifactTarget(m artifact.Meta) *authz.Target {
	return &authz.Target{OwnerID: m.OwnerID, IsSystem: m.OwnerID == ""}
}

// handleListArtifacts implements GET /artifacts?owner=&type=&representation=&ontology=
// (spec.md §6.1).
func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	owner := r.URL.Query().Get("owner")

	var all []artifact.Meta
	var err error
	switch {
	case owner != "":
		if owner != principal.UserID && !s.authorize(w, r, "artifact", "read", "", &authz.Target{OwnerID: owner}) {
			return
		}
		all, err = s.Artifacts.ListByOwner(r.Context(), owner)
	case principal.UserID != "":
		all, err = s.Artifacts.ListByOwner(r.Context(), principal.UserID)
	default:
		all, err = s.Artifacts.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, s.Log, err)
		return
	}

	artType := artifact.Type(r.URL.Query().Get("type"))
	repr := r.URL.Query().Get("representation")
	ontology := r.URL.Query().Get("ontology")

	out := make([]artifact.Meta, 0, len(all))
	for _, m := range all {
		if artType != "" && m.ArtifactType != artType {
			continue
		}
		if repr != "" && m.Representation != repr {
			continue
		}
		if ontology != "" && m.Ontology != ontology {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": out})
}

// handleGetArtifact implements GET /artifacts/{id}.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.Artifacts.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "artifact", "read", id, artifactTarget(meta)) {
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleGetArtifactPayload implements GET /artifacts/{id}/payload.
func (s *Server) handleGetArtifactPayload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.Artifacts.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "artifact", "read", id, artifactTarget(meta)) {
		return
	}
	payload, err := s.Artifacts.GetPayload(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Graph-Epoch-Fresh", boolString(meta.IsFresh))
	w.Write(payload)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// createArtifactRequest is the body of POST /artifacts (spec.md §4.5 Persist).
type createArtifactRequest struct {
	ArtifactType      artifact.Type   `json:"artifact_type"`
	Representation    string          `json:"representation"`
	Name              string          `json:"name"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	ConceptIDs        []string        `json:"concept_ids,omitempty"`
	Ontology          string          `json:"ontology,omitempty"`
	QueryDefinitionID string          `json:"query_definition_id,omitempty"`
}

// handleCreateArtifact implements POST /artifacts.
func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !s.authorize(w, r, "artifact", "create", "", &authz.Target{OwnerID: principal.UserID}) {
		return
	}

	var req createArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Log, badRequest("invalid request body: "+err.Error()))
		return
	}

	id, err := s.Artifacts.Persist(r.Context(), artifact.PersistInput{
		ArtifactType:      req.ArtifactType,
		Representation:    req.Representation,
		Name:              req.Name,
		OwnerID:           principal.UserID,
		Parameters:        req.Parameters,
		Metadata:          req.Metadata,
		Payload:           req.Payload,
		ConceptIDs:        req.ConceptIDs,
		Ontology:          req.Ontology,
		QueryDefinitionID: req.QueryDefinitionID,
	})
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleRegenerateArtifact implements POST /artifacts/{id}/regenerate.
func (s *Server) handleRegenerateArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.Artifacts.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "artifact", "regenerate", id, artifactTarget(meta)) {
		return
	}
	if meta.QueryDefinitionID == "" {
		writeError(w, s.Log, badRequest("artifact has no query_definition_id to regenerate from"))
		return
	}
	if err := s.Artifacts.Regenerate(r.Context(), id, s.QueryDefs.regeneratorFor(s.Graph, s.Embedding)); err != nil {
		writeError(w, s.Log, err)
		return
	}
	updated, err := s.Artifacts.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteArtifact implements DELETE /artifacts/{id}.
func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.Artifacts.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "artifact", "delete", id, artifactTarget(meta)) {
		return
	}
	if err := s.Artifacts.Delete(r.Context(), id); err != nil {
		writeError(w, s.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
