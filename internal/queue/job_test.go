// Copyright 2025 James Ross
package queue

import (
	"testing"

	"github.com/kgraph/controlplane/internal/clock"
)

func TestJobMarshalUnmarshalRoundTrip(t *testing.T) {
	j := Job{
		JobID:          "job-1",
		JobType:        TypeIngestion,
		Status:         StatusQueued,
		ContentHash:    "sha256:abc",
		Ontology:       "default",
		UserID:         "1000",
		Source:         SourceUserAPI,
		ProcessingMode: ModeParallel,
		CreatedAt:      clock.Now(),
	}
	s, err := j.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	j2, err := UnmarshalJob(s)
	if err != nil {
		t.Fatal(err)
	}
	if j2.JobID != j.JobID || j2.ContentHash != j.ContentHash || j2.Status != j.Status {
		t.Fatalf("roundtrip mismatch: %#v vs %#v", j, j2)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAwaitingApproval, StatusApproved, StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
