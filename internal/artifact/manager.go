// Copyright 2025 James Ross
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/blobstore"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/epoch"
)

// ErrMissingPayload is returned by GetPayload when the artifact's blob key
// no longer resolves in the Blob Store Facade (spec.md §4.5 "MissingPayload").
var ErrMissingPayload = errors.New("artifact: missing payload")

// Regenerator re-executes whatever produced an artifact (a query_definition
// or the job type that produced it) and returns a fresh payload. Pipelines
// and the query engine implement this; Manager only orchestrates storage.
type Regenerator interface {
	Regenerate(ctx context.Context, a Artifact) (json.RawMessage, error)
}

// Manager is the Artifact Store orchestrator (spec.md §4.5).
type Manager struct {
	store         Store
	blobs         blobstore.Store
	epoch         *epoch.Tracker
	clk           clock.Clock
	inlineMaxSize int
}

// NewManager constructs a Manager. inlineMaxSize is cfg.Artifacts.InlineThresholdBytes.
func NewManager(store Store, blobs blobstore.Store, tracker *epoch.Tracker, clk clock.Clock, inlineMaxSize int) *Manager {
	return &Manager{store: store, blobs: blobs, epoch: tracker, clk: clk, inlineMaxSize: inlineMaxSize}
}

// PersistInput is the write-path request (spec.md §4.5 "Persist").
type PersistInput struct {
	ArtifactType      Type
	Representation    string
	Name              string
	OwnerID           string
	Parameters        json.RawMessage
	Metadata          json.RawMessage
	Payload           json.RawMessage
	ConceptIDs        []string
	Ontology          string
	QueryDefinitionID string
	ExpiresAt         *clock.Instant
}

// Persist implements the write path: inline below the threshold, else a
// blob-store key under artifacts/{type}/{id}.json (or
// artifacts/{type}/{ontology}/{id}.json), and stamps graph_epoch at write
// time (spec.md §4.5 write path, invariant 3 and 4 in §8).
func (m *Manager) Persist(ctx context.Context, in PersistInput) (string, error) {
	id := clock.NewID()
	a := Artifact{
		ID:                id,
		ArtifactType:      in.ArtifactType,
		Representation:    in.Representation,
		Name:              in.Name,
		OwnerID:           in.OwnerID,
		Parameters:        in.Parameters,
		Metadata:          in.Metadata,
		GraphEpoch:        m.epoch.GraphChangeCounter(),
		CreatedAt:         m.clk.Now(),
		ExpiresAt:         in.ExpiresAt,
		ConceptIDs:        in.ConceptIDs,
		Ontology:          in.Ontology,
		QueryDefinitionID: in.QueryDefinitionID,
	}

	if len(in.Payload) <= m.inlineMaxSize {
		a.InlineResult = in.Payload
	} else {
		key := blobKey(in.ArtifactType, in.Ontology, id)
		if err := m.blobs.Put(ctx, key, in.Payload); err != nil {
			return "", fmt.Errorf("artifact: write payload to blob store: %w", err)
		}
		a.GarageKey = key
	}

	if err := m.store.Save(ctx, a); err != nil {
		return "", fmt.Errorf("artifact: save metadata: %w", err)
	}
	return id, nil
}

// GetMeta implements the read path's metadata half, computing is_fresh
// against the current graph_change_counter (spec.md §4.5, §8 invariant 4).
func (m *Manager) GetMeta(ctx context.Context, id string) (Meta, error) {
	a, ok, err := m.store.Load(ctx, id)
	if err != nil {
		return Meta{}, err
	}
	if !ok {
		return Meta{}, apierr.NotFound("artifact_not_found", "artifact "+id+" does not exist")
	}
	return Meta{Artifact: a, IsFresh: a.GraphEpoch == m.epoch.GraphChangeCounter()}, nil
}

// ListByOwner returns every artifact owned by ownerID, with
// is_fresh stamped per item, for GET /artifacts?owner=... (spec.md §6.1).
func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]Meta, error) {
	items, err := m.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return m.withFreshness(items), nil
}

// ListAll returns every artifact (owner-scoped filtering, if any, is the
// caller's responsibility via the authorisation kernel), with is_fresh
// stamped per item.
func (m *Manager) ListAll(ctx context.Context) ([]Meta, error) {
	items, err := m.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return m.withFreshness(items), nil
}

func (m *Manager) withFreshness(items []Artifact) []Meta {
	epoch := m.epoch.GraphChangeCounter()
	metas := make([]Meta, len(items))
	for i, a := range items {
		metas[i] = Meta{Artifact: a, IsFresh: a.GraphEpoch == epoch}
	}
	return metas
}

// GetPayload returns the inline result if present, else fetches from the
// Blob Store Facade. Blob-missing leaves the artifact's metadata row intact
// (spec.md §4.5 read path).
func (m *Manager) GetPayload(ctx context.Context, id string) (json.RawMessage, error) {
	a, ok, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.NotFound("artifact_not_found", "artifact "+id+" does not exist")
	}
	if a.InlineResult != nil {
		return a.InlineResult, nil
	}
	if a.GarageKey == "" {
		return nil, fmt.Errorf("artifact %s: neither inline_result nor garage_key set", id)
	}
	payload, err := m.blobs.Get(ctx, a.GarageKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrMissingPayload
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: fetch payload %s: %w", id, err)
	}
	return json.RawMessage(payload), nil
}

// Regenerate re-executes the producer named by the artifact (a
// query_definition or the originating job type) and replaces the payload
// in place, preserving the artifact's ID (spec.md §4.5 "Regeneration").
func (m *Manager) Regenerate(ctx context.Context, id string, r Regenerator) error {
	a, ok, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("artifact_not_found", "artifact "+id+" does not exist")
	}

	payload, err := r.Regenerate(ctx, a)
	if err != nil {
		return fmt.Errorf("artifact: regenerate %s: %w", id, err)
	}

	a.GraphEpoch = m.epoch.GraphChangeCounter()
	a.InlineResult = nil
	a.GarageKey = ""
	if len(payload) <= m.inlineMaxSize {
		a.InlineResult = payload
	} else {
		key := blobKey(a.ArtifactType, a.Ontology, a.ID)
		if err := m.blobs.Put(ctx, key, payload); err != nil {
			return fmt.Errorf("artifact: write regenerated payload: %w", err)
		}
		a.GarageKey = key
	}
	return m.store.Save(ctx, a)
}

// CleanupExpired implements the daily scheduled cleanup (spec.md §4.5
// "Ownership & cleanup"): deletes artifacts past expires_at. Orphaned
// (owner no longer exists) and superseded-by-regeneration cleanup is
// driven by the caller, which has the authz user table and job history
// this package does not depend on.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpired(ctx, m.clk.Now())
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, a := range expired {
		if a.GarageKey != "" {
			if err := m.blobs.Delete(ctx, a.GarageKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				return deleted, fmt.Errorf("artifact: delete blob for %s: %w", a.ID, err)
			}
		}
		if err := m.store.Delete(ctx, a.ID); err != nil {
			return deleted, fmt.Errorf("artifact: delete metadata for %s: %w", a.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// Delete removes an artifact's metadata row and blob payload unconditionally
// (DELETE /artifacts/{id}, spec.md §6.1). Callers enforce ownership via the
// authorisation kernel before calling this.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, ok, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("artifact_not_found", "artifact "+id+" does not exist")
	}
	if a.GarageKey != "" {
		if err := m.blobs.Delete(ctx, a.GarageKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
	}
	return m.store.Delete(ctx, id)
}

// DeleteSuperseded removes artifacts a regeneration replaced in place but
// whose old blob key is no longer referenced; called by Regenerate callers
// that keep the previous version around as a superseded row instead of
// overwriting (the default Regenerate above overwrites in place, so this is
// for callers implementing history-preserving regeneration policies).
func (m *Manager) DeleteSuperseded(ctx context.Context, id string) error {
	a, ok, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !ok || !a.Superseded {
		return nil
	}
	if a.GarageKey != "" {
		if err := m.blobs.Delete(ctx, a.GarageKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
	}
	return m.store.Delete(ctx, id)
}
