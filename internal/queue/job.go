// Copyright 2025 James Ross
package queue

import (
	"encoding/json"

	"github.com/kgraph/controlplane/internal/clock"
)

// Status is a Job's position in the state machine (spec §4.1).
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether a status cannot transition further.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Type enumerates the known job_type values.
type Type string

const (
	TypeIngestion            Type = "ingestion"
	TypeRestore              Type = "restore"
	TypeBackup               Type = "backup"
	TypeProjectionRefresh    Type = "projection_refresh"
	TypeEmbeddingRegen       Type = "embedding_regeneration"
	TypeVocabConsolidation   Type = "vocab_consolidation"
	TypeCategoryRefresh      Type = "category_refresh"
	TypeEpistemicRemeasure   Type = "epistemic_remeasurement"
	TypeArtifactCleanup      Type = "artifact_cleanup"
	TypeOntologyAnnealing    Type = "ontology_annealing"
)

// Source enumerates where a job originated.
type Source string

const (
	SourceUserCLI       Source = "user_cli"
	SourceUserAPI       Source = "user_api"
	SourceScheduledTask Source = "scheduled_task"
	SourceSystem        Source = "system"
)

// ProcessingMode controls whether a job needs an exclusive worker slot.
type ProcessingMode string

const (
	ModeSerial   ProcessingMode = "serial"
	ModeParallel ProcessingMode = "parallel"
)

// SystemUserID is the reserved identity used for system-originated jobs
// (spec §3 Identity: id 1 = system, no login). It is a data convention,
// never a runtime singleton.
const SystemUserID = "1"

// SourceMetadata carries the filename/path/hostname/originating-interface
// tag attached to a job at creation time.
type SourceMetadata struct {
	Filename           string `json:"filename,omitempty"`
	Path               string `json:"path,omitempty"`
	Hostname           string `json:"hostname,omitempty"`
	OriginatingIface   string `json:"originating_interface,omitempty"`
}

// Analysis is the pre-execution cost/size estimate used by the approval policy.
type Analysis struct {
	EstimatedChunks    int `json:"estimated_chunks"`
	EstimatedCostCents int `json:"estimated_cost_cents"`
}

// Progress is the latest progress snapshot (spec §3 Progress snapshot / §4.6).
type Progress struct {
	Stage            string `json:"stage"`
	Percent          int    `json:"percent"`
	ItemsProcessed   int    `json:"items_processed"`
	ItemsTotal       int    `json:"items_total"`
	Message          string `json:"message,omitempty"`
	ChunksProcessed  int    `json:"chunks_processed,omitempty"`
	ChunksTotal      int    `json:"chunks_total,omitempty"`
	ConceptsCreated  int    `json:"concepts_created,omitempty"`
	Sequence         uint64 `json:"sequence"`
}

// Result is the terminal payload of a completed job.
type Result struct {
	AlreadyIngested bool            `json:"already_ingested,omitempty"`
	DocumentID      string          `json:"document_id,omitempty"`
	ArtifactID      string          `json:"artifact_id,omitempty"`
	Summary         json.RawMessage `json:"summary,omitempty"`
}

// JobError is the serialised terminal error of a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
	Retryable bool `json:"retryable"`
}

// Job is the unit of asynchronous work (spec §3 Job).
type Job struct {
	JobID          string          `json:"job_id"`
	JobType        Type            `json:"job_type"`
	Status         Status          `json:"status"`
	ContentHash    string          `json:"content_hash,omitempty"`
	Ontology       string          `json:"ontology,omitempty"`
	UserID         string          `json:"user_id"`
	IsSystemJob    bool            `json:"is_system_job"`
	Source         Source          `json:"source"`
	SourceMetadata SourceMetadata  `json:"source_metadata"`
	ProcessingMode ProcessingMode  `json:"processing_mode"`
	CreatedAt      clock.Instant   `json:"created_at"`
	StartedAt      *clock.Instant  `json:"started_at,omitempty"`
	CompletedAt    *clock.Instant  `json:"completed_at,omitempty"`
	ApprovedAt     *clock.Instant  `json:"approved_at,omitempty"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ExpiresAt      *clock.Instant  `json:"expires_at,omitempty"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	Progress       *Progress       `json:"progress,omitempty"`
	Result         *Result         `json:"result,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
	JobData        json.RawMessage `json:"job_data,omitempty"`
	ArtifactID     string          `json:"artifact_id,omitempty"`

	// WorkerID and Heartbeat back the reaper's stale-job detection; they
	// are not part of the spec's public Job shape but are persisted
	// alongside it.
	WorkerID  string        `json:"worker_id,omitempty"`
	Heartbeat clock.Instant `json:"heartbeat,omitempty"`
}

// Marshal serializes a Job for storage.
func (j Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalJob deserializes a Job previously produced by Marshal.
func UnmarshalJob(s string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(s), &j)
	return j, err
}

// EnqueueSpec is the caller-supplied description of a job to create.
type EnqueueSpec struct {
	JobType        Type
	ContentHash    string
	Ontology       string
	UserID         string
	IsSystemJob    bool
	Source         Source
	SourceMetadata SourceMetadata
	ProcessingMode ProcessingMode
	JobData        json.RawMessage
	Analysis       *Analysis
	Force          bool
}
