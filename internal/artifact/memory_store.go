// Copyright 2025 James Ross
package artifact

import (
	"context"
	"sync"

	"github.com/kgraph/controlplane/internal/clock"
)

// MemoryStore is an in-process Store for tests, mirroring the shape of
// internal/queue's in-memory test double.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

func (s *MemoryStore) Save(ctx context.Context, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, id)
	return nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now clock.Instant) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Artifact
	for _, a := range s.artifacts {
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Artifact
	for _, a := range s.artifacts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
