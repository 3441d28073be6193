// Copyright 2025 James Ross
package artifact

import (
	"context"

	"github.com/kgraph/controlplane/internal/clock"
)

// Store persists Artifact metadata (not payloads — large payloads live in
// the Blob Store Facade, reached through internal/blobstore).
type Store interface {
	Save(ctx context.Context, a Artifact) error
	Load(ctx context.Context, id string) (Artifact, bool, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now clock.Instant) ([]Artifact, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Artifact, error)
	ListAll(ctx context.Context) ([]Artifact, error)
}
