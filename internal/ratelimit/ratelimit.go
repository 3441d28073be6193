// Copyright 2025 James Ross
// Package ratelimit bounds outbound calls to external LLM/embedding
// providers (spec.md §4.3 "Rate-limiting & concurrency", §6.4/§6.5): a
// token-bucket limiter plus a concurrency semaphore, per provider.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter bounds one provider's outbound call rate and in-flight
// concurrency. Grounded on the teacher's advanced-rate-limiting package's
// choice of golang.org/x/time/rate for the bucket, generalized from
// priority-class producer fairness to a single per-provider budget.
type Limiter struct {
	bucket *rate.Limiter
	slots  chan struct{}
}

// New builds a Limiter allowing ratePerSecond sustained calls (burst
// equal to maxConcurrent) with at most maxConcurrent calls in flight.
func New(ratePerSecond float64, maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(ratePerSecond), maxConcurrent),
		slots:  make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until both a rate-bucket token and a concurrency slot are
// available, or ctx is cancelled. Call release() (the returned func) when
// the call completes.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.bucket.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}

	return func() { <-l.slots }, nil
}

// Registry holds one Limiter per named provider, guarded the same way
// internal/progress's broker guards its per-job map.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register binds a Limiter to a provider name (e.g. "llm", "embedding").
func (r *Registry) Register(provider string, l *Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[provider] = l
}

// Get returns the Limiter for provider, or nil if unregistered (callers
// should treat nil as unlimited).
func (r *Registry) Get(provider string) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[provider]
}
