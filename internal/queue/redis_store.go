// Copyright 2025 James Ross
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout, grounded on the teacher's jobqueue:* namespace
// (internal/worker, internal/storage-backends/redis_lists.go) generalized
// from priority-queue lists to the spec's richer job lifecycle.
const (
	keyJob           = "kgcp:job:%s"            // string: marshaled Job JSON
	keyJobTerminal   = "kgcp:job:%s:terminal"    // string: "1" iff job is in a terminal status
	keyStatusIndex   = "kgcp:jobs:status:%s"     // set: job IDs in a status
	keyAllJobs       = "kgcp:jobs:all"           // set: every known job ID
	keyDedup         = "kgcp:dedup:%s:%s"        // string: job ID holding (hash,ontology)
	keyApprovedList  = "kgcp:queue:approved"     // list: FIFO of approved job IDs
	keyProcessing    = "kgcp:queue:processing:%s" // string: job ID a worker is driving
	keyHeartbeat     = "kgcp:queue:heartbeat:%s"  // string with TTL: liveness marker
	keyProcessingSet = "kgcp:queue:processing_workers" // set: worker IDs with a processing slot
)

// dedupReserveScript atomically reserves a dedup key unless a non-terminal
// job already holds it, mirroring the teacher's CheckAndReserve Lua script
// in internal/dedup/idempotency.go.
var dedupReserveScript = redis.NewScript(`
local dedupKey = KEYS[1]
local terminalKeyPrefix = ARGV[1]
local terminalKeySuffix = ARGV[2]
local newJobID = ARGV[3]

local existing = redis.call("GET", dedupKey)
if existing == false then
  redis.call("SET", dedupKey, newJobID)
  return {1, "", "0"}
end

local isTerminal = redis.call("GET", terminalKeyPrefix .. existing .. terminalKeySuffix)
if isTerminal == "1" then
  return {1, existing, "1"}
end
return {0, existing, "0"}
`)

// RedisStore is the Redis-backed Store implementation.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, job Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	terminal := "0"
	if job.Status.Terminal() {
		terminal = "1"
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyJob, job.JobID), payload, 0)
	pipe.Set(ctx, fmt.Sprintf(keyJobTerminal, job.JobID), terminal, 0)
	pipe.SAdd(ctx, keyAllJobs, job.JobID)
	for _, st := range allStatuses {
		pipe.SRem(ctx, fmt.Sprintf(keyStatusIndex, st), job.JobID)
	}
	pipe.SAdd(ctx, fmt.Sprintf(keyStatusIndex, job.Status), job.JobID)
	_, err = pipe.Exec(ctx)
	return err
}

var allStatuses = []Status{
	StatusPending, StatusAwaitingApproval, StatusApproved, StatusQueued,
	StatusRunning, StatusCompleted, StatusFailed, StatusCancelled,
}

func (s *RedisStore) Load(ctx context.Context, jobID string) (Job, bool, error) {
	v, err := s.rdb.Get(ctx, fmt.Sprintf(keyJob, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	job, err := UnmarshalJob(v)
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	job, ok, err := s.Load(ctx, jobID)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyJob, jobID))
	pipe.Del(ctx, fmt.Sprintf(keyJobTerminal, jobID))
	pipe.SRem(ctx, keyAllJobs, jobID)
	if ok {
		pipe.SRem(ctx, fmt.Sprintf(keyStatusIndex, job.Status), jobID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	ids, err := s.rdb.SMembers(ctx, fmt.Sprintf(keyStatusIndex, status)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Job, error) {
	ids, err := s.rdb.SMembers(ctx, keyAllJobs).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids)
}

func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]Job, error) {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, ok, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *RedisStore) ReserveDedupKey(ctx context.Context, contentHash, ontology, jobID string) (bool, string, bool, error) {
	dedupKey := fmt.Sprintf(keyDedup, contentHash, ontology)
	res, err := dedupReserveScript.Run(ctx, s.rdb, []string{dedupKey}, "kgcp:job:", ":terminal", jobID).Result()
	if err != nil {
		return false, "", false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return false, "", false, fmt.Errorf("queue: unexpected dedup script result %#v", res)
	}
	reserved := arr[0] == int64(1)
	existing, _ := arr[1].(string)
	terminal := arr[2] == "1"
	return reserved, existing, terminal, nil
}

func (s *RedisStore) ReleaseDedupKey(ctx context.Context, contentHash, ontology string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(keyDedup, contentHash, ontology)).Err()
}

func (s *RedisStore) PushApproved(ctx context.Context, jobID string) error {
	return s.rdb.RPush(ctx, keyApprovedList, jobID).Err()
}

func (s *RedisStore) PopApproved(ctx context.Context, timeoutMS int) (string, bool, error) {
	res, err := s.rdb.BLPop(ctx, time.Duration(timeoutMS)*time.Millisecond, keyApprovedList).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("queue: unexpected BLPOP result %#v", res)
	}
	return res[1], true, nil
}

func (s *RedisStore) MarkProcessing(ctx context.Context, workerID, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyProcessing, workerID), jobID, 0)
	pipe.SAdd(ctx, keyProcessingSet, workerID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ClearProcessing(ctx context.Context, workerID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyProcessing, workerID))
	pipe.Del(ctx, fmt.Sprintf(keyHeartbeat, workerID))
	pipe.SRem(ctx, keyProcessingSet, workerID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Heartbeat(ctx context.Context, workerID string, ttlSeconds int) error {
	return s.rdb.Set(ctx, fmt.Sprintf(keyHeartbeat, workerID), "1", time.Duration(ttlSeconds)*time.Second).Err()
}

func (s *RedisStore) ScanStaleWorkers(ctx context.Context) ([]StaleWorker, error) {
	workers, err := s.rdb.SMembers(ctx, keyProcessingSet).Result()
	if err != nil {
		return nil, err
	}
	var stale []StaleWorker
	for _, w := range workers {
		jobID, err := s.rdb.Get(ctx, fmt.Sprintf(keyProcessing, w)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		exists, err := s.rdb.Exists(ctx, fmt.Sprintf(keyHeartbeat, w)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			stale = append(stale, StaleWorker{WorkerID: w, JobID: jobID})
		}
	}
	return stale, nil
}
