// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/breaker"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/obs"
	"github.com/kgraph/controlplane/internal/queue"
	"go.uber.org/zap"
)

// ProgressReporter lets a Handler report incremental progress without
// depending on the queue package's internals.
type ProgressReporter interface {
	Report(ctx context.Context, snapshot queue.Progress) error
}

// Handler drives one job_type to completion. Handlers return a Result on
// success or a JobError on failure; a Handler must be safe to re-invoke
// for the same job (restart safety, spec §4.1 Concurrency).
type Handler interface {
	Handle(ctx context.Context, job queue.Job, progress ProgressReporter) (*queue.Result, *queue.JobError)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job queue.Job, progress ProgressReporter) (*queue.Result, *queue.JobError)

func (f HandlerFunc) Handle(ctx context.Context, job queue.Job, progress ProgressReporter) (*queue.Result, *queue.JobError) {
	return f(ctx, job, progress)
}

// Pool drives approved jobs to completion across a fixed number of
// goroutines, adapted from the teacher's BRPOPLPUSH-per-priority worker
// loop (internal/worker/worker.go) generalized from a single synthetic
// job type to a registry of typed Handlers.
type Pool struct {
	cfg      *config.Config
	q        *queue.Queue
	log      *zap.Logger
	cb       *breaker.CircuitBreaker
	handlers map[queue.Type]Handler
	baseID   string

	mu sync.RWMutex
}

// New constructs a worker Pool bound to q.
func New(cfg *config.Config, q *queue.Queue, log *zap.Logger) *Pool {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples).WithName("worker-dispatch")
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	return &Pool{cfg: cfg, q: q, log: log, cb: cb, handlers: make(map[queue.Type]Handler), baseID: base}
}

// Register binds a Handler to a job_type. Call before Run.
func (p *Pool) Register(jobType queue.Type, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

func (p *Pool) handlerFor(jobType queue.Type) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// Run starts cfg.Queue.MaxConcurrentWorkers goroutines and blocks until ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	n := p.cfg.Queue.MaxConcurrentWorkers
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", p.baseID, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			p.runOne(ctx, workerID)
		}(id)
	}

	go p.reportBreakerState(ctx)

	wg.Wait()
	return nil
}

func (p *Pool) reportBreakerState(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch p.cb.State() {
			case breaker.Closed:
				obs.CircuitBreakerState.Set(0)
			case breaker.HalfOpen:
				obs.CircuitBreakerState.Set(1)
			case breaker.Open:
				obs.CircuitBreakerState.Set(2)
			}
		}
	}
}

const heartbeatTTLSeconds = 30
const dequeueTimeoutMS = 1000

func (p *Pool) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		if !p.cb.Allow() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		job, ok, err := p.q.Dequeue(ctx, workerID, dequeueTimeoutMS)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("dequeue error", obs.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !ok {
			continue
		}

		start := time.Now()
		success := p.processJob(ctx, workerID, job)
		obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

		prev := p.cb.State()
		p.cb.Record(success)
		if curr := p.cb.State(); prev != curr && curr == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID string, job queue.Job) bool {
	defer func() {
		if err := p.q.ClearProcessing(ctx, workerID); err != nil {
			p.log.Warn("clear processing failed", obs.Err(err))
		}
	}()

	stop := p.startHeartbeat(ctx, workerID)
	defer stop()

	handler, ok := p.handlerFor(job.JobType)
	if !ok {
		jobErr := &queue.JobError{Kind: "unexpected", Code: "no_handler", Detail: fmt.Sprintf("no handler registered for job_type %q", job.JobType)}
		_ = p.q.Complete(ctx, job.JobID, nil, jobErr)
		return false
	}

	reporter := &queueProgressReporter{q: p.q, jobID: job.JobID}
	result, jobErr := handler.Handle(ctx, job, reporter)
	if jobErr != nil {
		if err := p.q.Complete(ctx, job.JobID, nil, jobErr); err != nil {
			p.log.Error("complete(failed) error", obs.Err(err))
		}
		p.log.Warn("job failed", obs.String("job_id", job.JobID), obs.String("code", jobErr.Code))
		return !jobErr.Retryable // a retryable provider error still trips the breaker toward half-open probing
	}
	if err := p.q.Complete(ctx, job.JobID, result, nil); err != nil {
		p.log.Error("complete(success) error", obs.Err(err))
		return false
	}
	p.log.Info("job completed", obs.String("job_id", job.JobID), obs.String("job_type", string(job.JobType)))
	return true
}

// startHeartbeat refreshes the worker's liveness key until stop() is
// called, so the reaper does not reclaim a job that is still running.
func (p *Pool) startHeartbeat(ctx context.Context, workerID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatTTLSeconds / 3 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.q.Heartbeat(hbCtx, workerID, heartbeatTTLSeconds); err != nil {
					p.log.Debug("heartbeat failed", obs.Err(err))
				}
			}
		}
	}()
	return cancel
}

type queueProgressReporter struct {
	q     *queue.Queue
	jobID string
}

func (r *queueProgressReporter) Report(ctx context.Context, snapshot queue.Progress) error {
	if err := r.q.UpdateProgress(ctx, r.jobID, snapshot); err != nil {
		if e, ok := apierr.As(err); ok {
			return e
		}
		return err
	}
	return nil
}
