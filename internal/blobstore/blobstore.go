// Copyright 2025 James Ross
// Package blobstore defines the Blob Store Facade (spec.md §6.7): opaque
// PUT/GET/DELETE/EXISTS/LIST-by-prefix storage for large artifact and
// backup payloads, plus two pluggable backends selected by configuration
// the same way the teacher's storage-backends.BackendRegistry selected a
// queue backend.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key does not exist. Delete of a
// missing key is not an error.
var ErrNotFound = errors.New("blobstore: key not found")

// Store is the facade capability consumed by internal/artifact and
// internal/backup. Keys are opaque strings (spec.md §6.7).
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
