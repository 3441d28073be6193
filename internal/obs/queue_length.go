// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/kgraph/controlplane/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// queueLengthStatuses are the job statuses worth tracking as a gauge; the
// approved FIFO list itself is the dispatch-ready backlog, the rest are
// lifecycle snapshots useful for spotting a stuck pipeline.
var queueLengthStatuses = []string{
	"awaiting_approval", "approved", "queued", "running",
}

// StartQueueLengthUpdater samples the job queue's Redis key schema
// (internal/queue/redis_store.go) and updates the queue_length gauge,
// adapted from the teacher's priority-list LLEN sampler.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := rdb.LLen(ctx, "kgcp:queue:approved").Result(); err != nil {
					log.Debug("queue length poll error", String("queue", "approved"), Err(err))
				} else {
					QueueLength.WithLabelValues("approved").Set(float64(n))
				}
				for _, status := range queueLengthStatuses {
					n, err := rdb.SCard(ctx, "kgcp:jobs:status:"+status).Result()
					if err != nil {
						log.Debug("queue length poll error", String("queue", status), Err(err))
						continue
					}
					QueueLength.WithLabelValues(status).Set(float64(n))
				}
			}
		}
	}()
}
