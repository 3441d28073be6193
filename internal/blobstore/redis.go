// Copyright 2025 James Ross
package blobstore

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces blob keys inside the shared Redis keyspace, grounded
// on the teacher's storage-backends.RedisListsConfig.KeyPrefix idiom.
const keyPrefix = "kgcp:blob:"

// RedisStore is a Redis-backed Store, grounded on the teacher's
// storage-backends/redis_lists.go client-construction pattern, adapted
// from list operations to plain string GET/SET/DEL since a blob has no
// ordering to preserve. Intended for local/dev deployments and artifacts
// small enough that Redis's own memory budget isn't a concern.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	return s.rdb.Set(ctx, keyPrefix+key, data, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyPrefix+key).Result()
	return n > 0, err
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	return keys, iter.Err()
}

var _ Store = (*RedisStore)(nil)
