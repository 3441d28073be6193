// Copyright 2025 James Ross
// Package epoch tracks the Graph-Change Epoch (spec.md §4.7): a small table
// of named counters used as a freshness stamp for cached artifacts.
package epoch

import (
	"context"
	"sync"
	"time"

	"github.com/kgraph/controlplane/internal/graph"
	"github.com/prometheus/client_golang/prometheus"
)

// Counters is a snapshot of every named counter spec.md §4.7 lists.
type Counters struct {
	GraphChangeCounter       int64 `json:"graph_change_counter"`
	ConceptCount             int64 `json:"concept_count"`
	TotalEdges               int64 `json:"total_edges"`
	VocabularyTypeCount      int64 `json:"vocabulary_type_count"`
	SourceCount              int64 `json:"source_count"`
	InstanceCount            int64 `json:"instance_count"`
	DocumentIngestionCounter int64 `json:"document_ingestion_counter"`
	VocabularyChangeCounter  int64 `json:"vocabulary_change_counter"`
	LastAnnealingEpoch       int64 `json:"last_annealing_epoch"`
	LastBreathingEpoch       int64 `json:"last_breathing_epoch"`
}

// Prometheus gauges, one per named counter, declared and registered the
// same way internal/obs/metrics.go declares its package-level gauges.
var (
	gaugeGraphChange  = newGauge("graph_change_counter", "Composite snapshot of graph mutation activity")
	gaugeConceptCount = newGauge("graph_concept_count", "Current number of Concept nodes")
	gaugeTotalEdges   = newGauge("graph_total_edges", "Current number of relationship edges")
	gaugeVocabTypes   = newGauge("graph_vocabulary_type_count", "Current number of distinct relationship types in use")
	gaugeSourceCount  = newGauge("graph_source_count", "Current number of Source nodes")
	gaugeInstanceCount = newGauge("graph_instance_count", "Current number of Instance nodes")
	gaugeDocIngestion = newGauge("graph_document_ingestion_counter", "Application-incremented count of completed ingestions")
	gaugeVocabChange  = newGauge("graph_vocabulary_change_counter", "Application-incremented count of vocabulary edits")
	gaugeLastAnneal   = newGauge("graph_last_annealing_epoch", "graph_change_counter value as of the last ontology annealing run")
	gaugeLastBreath   = newGauge("graph_last_breathing_epoch", "graph_change_counter value as of the last breathing cycle")
)

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	prometheus.MustRegister(g)
	return g
}

// Tracker holds the current counters and refreshes graph_change_counter
// and the raw object counts from the Graph Facade. Other counters
// (document_ingestion_counter, vocabulary_change_counter,
// last_annealing_epoch, last_breathing_epoch) are incremented directly by
// their owning components; Refresh leaves them unchanged.
type Tracker struct {
	mu       sync.RWMutex
	facade   graph.Facade
	counters Counters
}

// New constructs a Tracker bound to facade.
func New(facade graph.Facade) *Tracker {
	return &Tracker{facade: facade}
}

// Refresh recomputes graph_change_counter as the sum of current object
// counts (spec.md §4.7), called after ingestion completion, after
// backup-restore, and on a periodic ticker (Run).
func (t *Tracker) Refresh(ctx context.Context) (Counters, error) {
	counts, err := t.facade.Counts(ctx)
	if err != nil {
		return Counters{}, err
	}
	t.mu.Lock()
	t.counters.ConceptCount = counts.ConceptCount
	t.counters.TotalEdges = counts.TotalEdges
	t.counters.VocabularyTypeCount = counts.VocabularyTypeCount
	t.counters.SourceCount = counts.SourceCount
	t.counters.InstanceCount = counts.InstanceCount
	t.counters.GraphChangeCounter = counts.ConceptCount + counts.TotalEdges + counts.VocabularyTypeCount + counts.SourceCount + counts.InstanceCount
	snapshot := t.counters
	t.mu.Unlock()

	gaugeGraphChange.Set(float64(snapshot.GraphChangeCounter))
	gaugeConceptCount.Set(float64(snapshot.ConceptCount))
	gaugeTotalEdges.Set(float64(snapshot.TotalEdges))
	gaugeVocabTypes.Set(float64(snapshot.VocabularyTypeCount))
	gaugeSourceCount.Set(float64(snapshot.SourceCount))
	gaugeInstanceCount.Set(float64(snapshot.InstanceCount))
	return snapshot, nil
}

// Current returns the last-refreshed snapshot without touching the facade.
func (t *Tracker) Current() Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters
}

// GraphChangeCounter is the value artifact freshness is compared against
// (spec.md §3 Artifact invariant, §8 invariant 4).
func (t *Tracker) GraphChangeCounter() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters.GraphChangeCounter
}

// IncrementDocumentIngestion records a completed ingestion.
func (t *Tracker) IncrementDocumentIngestion() {
	t.mu.Lock()
	t.counters.DocumentIngestionCounter++
	v := t.counters.DocumentIngestionCounter
	t.mu.Unlock()
	gaugeDocIngestion.Set(float64(v))
}

// IncrementVocabularyChange records a vocabulary edit (new canonical type,
// or a fallback substitution per spec.md §4.4), consulted by the
// epistemic-remeasurement launcher's delta gate.
func (t *Tracker) IncrementVocabularyChange() {
	t.mu.Lock()
	t.counters.VocabularyChangeCounter++
	v := t.counters.VocabularyChangeCounter
	t.mu.Unlock()
	gaugeVocabChange.Set(float64(v))
}

// RecordAnnealingEpoch stamps last_annealing_epoch with the current
// graph_change_counter, consulted by the ontology-annealing launcher's
// delta gate.
func (t *Tracker) RecordAnnealingEpoch() {
	t.mu.Lock()
	t.counters.LastAnnealingEpoch = t.counters.GraphChangeCounter
	v := t.counters.LastAnnealingEpoch
	t.mu.Unlock()
	gaugeLastAnneal.Set(float64(v))
}

// RecordBreathingEpoch stamps last_breathing_epoch; breathing cycles
// themselves are an external collaborator (spec.md §9 open question), this
// package only exposes the counter slot for them.
func (t *Tracker) RecordBreathingEpoch() {
	t.mu.Lock()
	t.counters.LastBreathingEpoch = t.counters.GraphChangeCounter
	v := t.counters.LastBreathingEpoch
	t.mu.Unlock()
	gaugeLastBreath.Set(float64(v))
}

// Run periodically calls Refresh until ctx is cancelled (spec.md §4.7 "(c)
// periodically").
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = t.Refresh(ctx)
		}
	}
}
