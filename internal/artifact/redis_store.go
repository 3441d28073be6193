// Copyright 2025 James Ross
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Redis key layout, grounded on internal/queue/redis_store.go's
// kgcp:job:* namespace idiom, generalized to artifact metadata.
const (
	keyArtifact      = "kgcp:artifact:%s"       // string: marshaled Artifact JSON
	keyArtifactAll   = "kgcp:artifacts:all"     // set: every known artifact ID
	keyArtifactOwner = "kgcp:artifacts:owner:%s" // set: artifact IDs for an owner
)

// RedisStore is the Redis-backed metadata Store.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, a Artifact) error {
	data, err := marshalArtifact(a)
	if err != nil {
		return fmt.Errorf("artifact: marshal %s: %w", a.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyArtifact, a.ID), data, 0)
	pipe.SAdd(ctx, keyArtifactAll, a.ID)
	if a.OwnerID != "" {
		pipe.SAdd(ctx, fmt.Sprintf(keyArtifactOwner, a.OwnerID), a.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Load(ctx context.Context, id string) (Artifact, bool, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(keyArtifact, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}
	a, err := unmarshalArtifact(b)
	if err != nil {
		return Artifact{}, false, fmt.Errorf("artifact: unmarshal %s: %w", id, err)
	}
	return a, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	a, ok, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyArtifact, id))
	pipe.SRem(ctx, keyArtifactAll, id)
	if ok && a.OwnerID != "" {
		pipe.SRem(ctx, fmt.Sprintf(keyArtifactOwner, a.OwnerID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Artifact, error) {
	ids, err := s.rdb.SMembers(ctx, keyArtifactAll).Result()
	if err != nil {
		return nil, err
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) ListExpired(ctx context.Context, now clock.Instant) ([]Artifact, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var expired []Artifact
	for _, a := range all {
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			expired = append(expired, a)
		}
	}
	return expired, nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]Artifact, error) {
	ids, err := s.rdb.SMembers(ctx, fmt.Sprintf(keyArtifactOwner, ownerID)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) loadAll(ctx context.Context, ids []string) ([]Artifact, error) {
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
