// Copyright 2025 James Ross
package httpapi

import (
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/authz"
	"github.com/kgraph/controlplane/internal/blobstore"
	"github.com/kgraph/controlplane/internal/checkpoint"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/embedding"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/oauth"
	"github.com/kgraph/controlplane/internal/progress"
	"github.com/kgraph/controlplane/internal/queue"
)

// Server wires the control plane's domain packages to the HTTP/REST+SSE
// surface (spec.md §6.1). Every field is a previously-built component;
// Server itself holds no business logic beyond request parsing,
// authorisation checks, and response shaping.
type Server struct {
	Queue      *queue.Queue
	Artifacts  *artifact.Manager
	Broker     *progress.Broker
	Authz      *authz.Kernel
	OAuth      *oauth.Manager
	Graph      graph.Facade
	Embedding  embedding.Service
	Blobs      blobstore.Store
	Checkpoint *checkpoint.Guard
	QueryDefs  *queryDefStore
	Clock      clock.Clock
	Cfg        *config.Config
	Log        *zap.Logger
}

// New constructs a Server. QueryDefs is initialized here if the caller
// didn't supply one, since it has no external dependencies of its own.
func New(q *queue.Queue, artifacts *artifact.Manager, broker *progress.Broker, authzKernel *authz.Kernel, oauthMgr *oauth.Manager, facade graph.Facade, embedSvc embedding.Service, blobs blobstore.Store, guard *checkpoint.Guard, clk clock.Clock, cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		Queue:      q,
		Artifacts:  artifacts,
		Broker:     broker,
		Authz:      authzKernel,
		OAuth:      oauthMgr,
		Graph:      facade,
		Embedding:  embedSvc,
		Blobs:      blobs,
		Checkpoint: guard,
		QueryDefs:  newQueryDefStore(),
		Clock:      clk,
		Cfg:        cfg,
		Log:        log,
	}
}

// Router builds the full mux.Router, grounded on the teacher's
// dlq-remediation-pipeline RegisterRoutes(*mux.Router) shape.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, s.loggingMiddleware, s.authenticate)

	r.HandleFunc("/ingest", s.handleIngest).Methods("POST")
	r.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods("GET")
	r.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	r.HandleFunc("/jobs/{job_id}/cancel", requireUser(s.handleCancelJob)).Methods("POST")
	r.HandleFunc("/jobs/{job_id}/approve", requireUser(s.handleApproveJob)).Methods("POST")
	r.HandleFunc("/jobs/{job_id}/stream", s.handleStreamJob).Methods("GET")

	r.HandleFunc("/artifacts", s.handleListArtifacts).Methods("GET")
	r.HandleFunc("/artifacts", requireUser(s.handleCreateArtifact)).Methods("POST")
	r.HandleFunc("/artifacts/{id}", s.handleGetArtifact).Methods("GET")
	r.HandleFunc("/artifacts/{id}/payload", s.handleGetArtifactPayload).Methods("GET")
	r.HandleFunc("/artifacts/{id}/regenerate", requireUser(s.handleRegenerateArtifact)).Methods("POST")
	r.HandleFunc("/artifacts/{id}", requireUser(s.handleDeleteArtifact)).Methods("DELETE")

	r.HandleFunc("/query-definitions", s.handleListQueryDefs).Methods("GET")
	r.HandleFunc("/query-definitions", requireUser(s.handleCreateQueryDef)).Methods("POST")
	r.HandleFunc("/query-definitions/{id}/execute", requireUser(s.handleExecuteQueryDef)).Methods("POST")

	r.HandleFunc("/admin/backup", requireUser(s.handleAdminBackup)).Methods("POST")
	r.HandleFunc("/admin/restore", requireUser(s.handleAdminRestore)).Methods("POST")

	r.HandleFunc("/auth/oauth/token", s.handleOAuthToken).Methods("POST")
	r.HandleFunc("/auth/oauth/revoke", s.handleOAuthRevoke).Methods("POST")
	r.HandleFunc("/auth/oauth/device/authorize", s.handleDeviceAuthorize).Methods("POST")
	r.HandleFunc("/auth/oauth/authorize", requireUser(s.handleAuthorize)).Methods("GET", "POST")

	return r
}
