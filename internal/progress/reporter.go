// Copyright 2025 James Ross
package progress

import (
	"context"

	"github.com/kgraph/controlplane/internal/queue"
)

// Reporter wraps another worker.ProgressReporter (typically the one
// backed by the queue store) and additionally publishes every snapshot to
// a Broker, so SSE subscribers see progress without polling the store.
type Reporter struct {
	jobID string
	next  interface {
		Report(ctx context.Context, snapshot queue.Progress) error
	}
	broker *Broker
}

// NewReporter wraps next with broker fan-out for jobID.
func NewReporter(jobID string, next interface {
	Report(ctx context.Context, snapshot queue.Progress) error
}, broker *Broker) *Reporter {
	return &Reporter{jobID: jobID, next: next, broker: broker}
}

// Report persists the snapshot via next, then publishes it to the broker
// regardless of the persist outcome — a dropped store write shouldn't also
// blind live SSE subscribers to real progress.
func (r *Reporter) Report(ctx context.Context, snapshot queue.Progress) error {
	err := r.next.Report(ctx, snapshot)
	r.broker.Publish(r.jobID, snapshot)
	return err
}
