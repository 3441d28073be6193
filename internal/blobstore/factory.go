// Copyright 2025 James Ross
package blobstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// New selects a Store implementation by backend name, the same way the
// teacher's storage-backends package picked a QueueBackend by config.
func New(backend string, rdb *redis.Client, s3cfg BlobStoreConfig) (Store, error) {
	switch backend {
	case "", "redis":
		return NewRedisStore(rdb), nil
	case "s3":
		return NewS3Store(s3cfg)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", backend)
	}
}
