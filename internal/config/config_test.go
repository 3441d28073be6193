// Copyright 2025 James Ross
package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.MaxConcurrentWorkers != 4 {
		t.Fatalf("expected default max_concurrent_workers 4, got %d", cfg.Queue.MaxConcurrentWorkers)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
	if cfg.Ingestion.MinConceptSimilarity != 0.85 {
		t.Fatalf("expected default min_concept_similarity 0.85, got %v", cfg.Ingestion.MinConceptSimilarity)
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.MaxConcurrentWorkers = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for queue.max_concurrent_workers < 1")
	}

	cfg = defaultConfig()
	cfg.Ingestion.ChunkOverlapChars = cfg.Ingestion.ChunkSizeChars
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for chunk_overlap_chars >= chunk_size_chars")
	}

	cfg = defaultConfig()
	cfg.Storage.Backend = "mongo"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown storage backend")
	}

	cfg = defaultConfig()
	cfg.Role = "bogus"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
