// Copyright 2025 James Ross
// Package progress implements the Progress Broker (spec.md §4.6):
// single-writer-per-job, multi-reader fan-out of progress snapshots for
// the `/jobs/{job_id}/stream` SSE endpoint. Grounded on the teacher's
// internal/multi-cluster-control.ManagerImpl subscriber-list broadcast
// (SubscribeEvents/UnsubscribeEvents/emitEvent), generalized from one
// global event stream to one last-snapshot-plus-subscriber-list per job.
package progress

import (
	"sync"

	"github.com/kgraph/controlplane/internal/queue"
)

// EventType names the SSE event kinds spec.md §4.6/§6.2 defines.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventError     EventType = "error"
)

// Event is one message delivered to an SSE subscriber.
type Event struct {
	Type     EventType      `json:"-"`
	Snapshot queue.Progress `json:"progress,omitempty"`
	Result   *queue.Result  `json:"result,omitempty"`
	Error    *queue.JobError `json:"error,omitempty"`
}

type jobState struct {
	last        queue.Progress
	hasSnapshot bool
	subscribers map[chan Event]struct{}
	terminal    bool
}

// Broker holds the last-emitted snapshot per job_id and fans it out to
// subscribers (spec.md §4.6 "Model"). One writer (the worker owning the
// job) publishes; any number of readers (SSE handlers) subscribe.
type Broker struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{jobs: make(map[string]*jobState)}
}

func (b *Broker) stateFor(jobID string) *jobState {
	st, ok := b.jobs[jobID]
	if !ok {
		st = &jobState{subscribers: make(map[chan Event]struct{})}
		b.jobs[jobID] = st
	}
	return st
}

// Publish replaces the last-emitted snapshot for jobID and fans it out to
// every current subscriber, dropping out-of-order snapshots (spec.md §4.6
// "Ordering": "strictly increasing percent within the same stage... late
// snapshots discovered out of order are dropped").
func (b *Broker) Publish(jobID string, snapshot queue.Progress) {
	b.mu.Lock()
	st := b.stateFor(jobID)
	if st.hasSnapshot && st.last.Sequence >= snapshot.Sequence {
		b.mu.Unlock()
		return
	}
	st.last = snapshot
	st.hasSnapshot = true
	subs := snapshotSubscribers(st)
	b.mu.Unlock()

	broadcast(subs, Event{Type: EventProgress, Snapshot: snapshot})
}

// Complete publishes a terminal "completed" event and closes every
// subscriber channel for jobID (spec.md §4.6: "The stream closes when the
// job reaches a terminal state").
func (b *Broker) Complete(jobID string, result *queue.Result) {
	b.terminalEvent(jobID, Event{Type: EventCompleted, Result: result})
}

// Fail publishes a terminal "failed" event and closes every subscriber
// channel for jobID.
func (b *Broker) Fail(jobID string, jobErr *queue.JobError) {
	b.terminalEvent(jobID, Event{Type: EventFailed, Error: jobErr})
}

func (b *Broker) terminalEvent(jobID string, ev Event) {
	b.mu.Lock()
	st := b.stateFor(jobID)
	st.terminal = true
	subs := snapshotSubscribers(st)
	for ch := range st.subscribers {
		delete(st.subscribers, ch)
	}
	b.mu.Unlock()

	broadcast(subs, ev)
	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe opens a new fan-out channel for jobID, replaying the last
// snapshot (if any) so a late subscriber sees current progress immediately.
// The returned cancel func must be called when the reader disconnects
// (spec.md §4.6 "Cancellation": "Client disconnect releases subscription
// immediately").
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	st := b.stateFor(jobID)
	if st.terminal {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	st.subscribers[ch] = struct{}{}
	replay := st.hasSnapshot
	last := st.last
	b.mu.Unlock()

	if replay {
		select {
		case ch <- Event{Type: EventProgress, Snapshot: last}:
		default:
		}
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		st := b.jobs[jobID]
		if st == nil {
			return
		}
		if _, ok := st.subscribers[ch]; ok {
			delete(st.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Forget drops all broker state for jobID. Nothing in this module calls
// it, so a finished job's state stays in the broker until a caller does.
func (b *Broker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
}

func snapshotSubscribers(st *jobState) []chan Event {
	subs := make([]chan Event, 0, len(st.subscribers))
	for ch := range st.subscribers {
		subs = append(subs, ch)
	}
	return subs
}

func broadcast(subs []chan Event, ev Event) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop rather than block the single writer.
		}
	}
}
