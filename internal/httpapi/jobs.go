// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/authz"
	"github.com/kgraph/controlplane/internal/ingestion"
	"github.com/kgraph/controlplane/internal/progress"
	"github.com/kgraph/controlplane/internal/queue"
)

// estimatedCentsPerChunk is a rough per-chunk cost (one LLM extraction call
// plus one embedding call) used only to feed the approval policy's
// cost threshold (spec.md §4.1 "Approval policy"); it is not a billing
// figure. No example repo prices LLM calls, so this is a deliberately
// round placeholder rather than a figure grounded on any corpus file.
const estimatedCentsPerChunk = 2

// ingestRequest is the decoded multipart form of POST /ingest
// (spec.md §6.1).
type ingestRequest struct {
	Ontology       string
	Force          bool
	ProcessingMode queue.ProcessingMode
	SourceMetadata queue.SourceMetadata
	DocumentText   string
	Filename       string
}

func (s *Server) parseIngestRequest(r *http.Request) (ingestRequest, error) {
	if err := r.ParseMultipartForm(s.Cfg.HTTP.MaxUploadBytes); err != nil {
		return ingestRequest{}, apierr.Validation("invalid_multipart", "request is not a valid multipart/form-data upload: "+err.Error())
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingestRequest{}, apierr.Validation("missing_file", "multipart field \"file\" is required")
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		return ingestRequest{}, apierr.Validation("unreadable_file", "could not read uploaded file")
	}

	ontology := r.FormValue("ontology")
	if ontology == "" {
		return ingestRequest{}, apierr.Validation("missing_ontology", "form field \"ontology\" is required")
	}

	mode := queue.ModeParallel
	if r.FormValue("processing_mode") == string(queue.ModeSerial) {
		mode = queue.ModeSerial
	}

	var meta queue.SourceMetadata
	if raw := r.FormValue("source_metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return ingestRequest{}, apierr.Validation("invalid_source_metadata", "source_metadata is not valid JSON")
		}
	}
	meta.Filename = header.Filename

	return ingestRequest{
		Ontology:       ontology,
		Force:          r.FormValue("force") == "true",
		ProcessingMode: mode,
		SourceMetadata: meta,
		DocumentText:   string(body),
		Filename:       header.Filename,
	}, nil
}

// handleIngest implements POST /ingest (spec.md §6.1, §4.3).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication_required", Detail: "ingestion requires an authenticated user"})
		return
	}
	if !s.authorize(w, r, "document", "ingest", "", &authz.Target{OwnerID: principal.UserID}) {
		return
	}

	in, err := s.parseIngestRequest(r)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}

	jobData, err := json.Marshal(ingestion.JobData{
		DocumentText: in.DocumentText,
		Filename:     in.Filename,
		Hostname:     in.SourceMetadata.Hostname,
		Force:        in.Force,
	})
	if err != nil {
		writeError(w, s.Log, apierr.Unexpected(err))
		return
	}

	chunks := ingestion.Split(in.DocumentText, s.Cfg.Ingestion.ChunkSizeChars, s.Cfg.Ingestion.ChunkOverlapChars)
	analysis := &queue.Analysis{
		EstimatedChunks:    len(chunks),
		EstimatedCostCents: len(chunks) * estimatedCentsPerChunk,
	}

	job, err := s.Queue.Enqueue(r.Context(), queue.EnqueueSpec{
		JobType:        queue.TypeIngestion,
		ContentHash:    ingestion.ContentHash(in.DocumentText),
		Ontology:       in.Ontology,
		UserID:         principal.UserID,
		Source:         queue.SourceUserAPI,
		SourceMetadata: in.SourceMetadata,
		ProcessingMode: in.ProcessingMode,
		JobData:        jobData,
		Analysis:       analysis,
		Force:          in.Force,
	})
	if err != nil {
		writeError(w, s.Log, err)
		return
	}

	// Enqueue only ever hands back a job already in StatusCompleted when it
	// short-circuited on a prior completed duplicate (spec.md §4.1 "Dedup
	// details"); a freshly created job is never immediately terminal.
	if job.Status == queue.StatusCompleted {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"duplicate":        true,
			"existing_job_id":  job.JobID,
			"status":           job.Status,
			"result":           job.Result,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"status": job.Status,
	})
}

func jobTarget(job queue.Job) *authz.Target {
	return &authz.Target{OwnerID: job.UserID, IsSystem: job.IsSystemJob, ScopeID: job.JobID}
}

// handleGetJob implements GET /jobs/{job_id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := s.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "job", "read", jobID, jobTarget(job)) {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs implements GET /jobs?status=&owner=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	filter := queue.ListFilter{OwnerID: r.URL.Query().Get("owner")}
	if status := r.URL.Query().Get("status"); status != "" {
		st := queue.Status(status)
		filter.Status = &st
	}
	// Anonymous/non-admin callers are implicitly scoped to their own jobs;
	// an explicit owner filter for someone else is an authorization check.
	if filter.OwnerID == "" && principal.UserID == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []queue.Job{}})
		return
	}
	if filter.OwnerID == "" {
		filter.OwnerID = principal.UserID
	} else if filter.OwnerID != principal.UserID {
		if !s.authorize(w, r, "job", "read", "", &authz.Target{OwnerID: filter.OwnerID}) {
			return
		}
	}

	jobs, err := s.Queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		var n int
		if _, err := fmt.Sscanf(limit, "%d", &n); err == nil && n >= 0 && n < len(jobs) {
			jobs = jobs[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleCancelJob implements POST /jobs/{job_id}/cancel.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	principal := principalFrom(r.Context())

	job, err := s.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "job", "cancel", jobID, jobTarget(job)) {
		return
	}

	updated, err := s.Queue.Cancel(r.Context(), jobID, principal.UserID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	s.Broker.Fail(jobID, &queue.JobError{Kind: "cancelled", Code: "cancelled_by_user", Detail: "job was cancelled"})
	writeJSON(w, http.StatusOK, updated)
}

// handleApproveJob implements POST /jobs/{job_id}/approve.
func (s *Server) handleApproveJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	principal := principalFrom(r.Context())

	job, err := s.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "job", "approve", jobID, jobTarget(job)) {
		return
	}

	updated, err := s.Queue.Approve(r.Context(), jobID, principal.UserID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleStreamJob implements GET /jobs/{job_id}/stream (spec.md §4.6, §6.2):
// SSE fan-out of progress/completed/failed events via the Progress Broker.
// Grounded on the teacher's internal/multi-cluster-control handleEvents.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := s.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	if !s.authorize(w, r, "job", "read", jobID, jobTarget(job)) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, s.Log, apierr.Unexpected(fmt.Errorf("streaming not supported by this ResponseWriter")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // no-buffering hint for intermediaries (spec.md §6.1)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.Broker.Subscribe(jobID)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
