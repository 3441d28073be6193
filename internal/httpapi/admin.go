// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/authz"
	"github.com/kgraph/controlplane/internal/backup"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/queue"
)

// restoreJobData is the JobData payload of a TypeRestore job: the temp blob
// key the uploaded backup was streamed to (spec.md §6.1 "server streams to
// a temp blob ... enqueues a restore job"). The worker deletes the temp blob
// in its finally path once the restore completes or fails.
type restoreJobData struct {
	BlobKey string `json:"blob_key"`
	Replace bool   `json:"replace"`
}

// handleAdminBackup implements POST /admin/backup: streams a JSON dump of
// the current graph as the chunked response body with an attachment
// filename header (spec.md §6.1).
func (s *Server) handleAdminBackup(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !s.authorize(w, r, "admin", "backup", "", &authz.Target{IsSystem: true}) {
		return
	}

	container, err := backup.Create(r.Context(), s.Graph, s.Clock, backup.TypeFull)
	if err != nil {
		writeError(w, s.Log, apierr.Unexpected(err))
		return
	}

	filename := fmt.Sprintf("controlplane-backup-%d.json.zst", s.Clock.Now().Unix())
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	if err := backup.EncodeTo(w, container); err != nil {
		s.Log.Error("backup stream write failed", zap.Error(err))
		return
	}
	s.Log.Info("admin backup streamed", zap.String("user_id", principal.UserID), zap.String("filename", filename))
}

// handleAdminRestore implements POST /admin/restore: multipart upload,
// streamed to a temp blob, integrity-checked, then enqueued as a restore
// job for the worker to apply (spec.md §6.1).
func (s *Server) handleAdminRestore(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !s.authorize(w, r, "admin", "restore", "", &authz.Target{IsSystem: true}) {
		return
	}

	if err := r.ParseMultipartForm(s.Cfg.HTTP.MaxUploadBytes); err != nil {
		writeError(w, s.Log, badRequest("request is not a valid multipart/form-data upload: "+err.Error()))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.Log, badRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.Log, badRequest("could not read uploaded file"))
		return
	}

	container, err := backup.Decode(raw)
	if err != nil {
		writeError(w, s.Log, apierr.Unprocessable("invalid_backup_file", "uploaded file is not a valid backup container: "+err.Error()))
		return
	}
	if _, err := backup.Upgrade(container); err != nil {
		writeError(w, s.Log, err)
		return
	}

	tempKey := fmt.Sprintf("restore-tmp/%s.json.zst", clock.NewID())
	if err := s.Blobs.Put(r.Context(), tempKey, raw); err != nil {
		writeError(w, s.Log, apierr.Unexpected(fmt.Errorf("stage restore upload: %w", err)))
		return
	}

	jobData, err := json.Marshal(restoreJobData{
		BlobKey: tempKey,
		Replace: r.FormValue("replace") == "true",
	})
	if err != nil {
		writeError(w, s.Log, apierr.Unexpected(err))
		return
	}

	job, err := s.Queue.Enqueue(r.Context(), queue.EnqueueSpec{
		JobType:      queue.TypeRestore,
		ContentHash:  "restore:" + tempKey,
		UserID:       principal.UserID,
		Source:       queue.SourceUserAPI,
		JobData:      jobData,
		Force:        true,
		IsSystemJob:  true,
	})
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.JobID, "status": job.Status})
}
