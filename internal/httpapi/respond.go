// Copyright 2025 James Ross
// Package httpapi implements the spec's HTTP/REST+SSE surface (spec.md
// §6.1-6.3): job ingestion and lifecycle, the progress stream, the
// artifact store, admin backup/restore, query definitions, and the OAuth
// token endpoints. Grounded on the teacher's
// internal/dlq-remediation-pipeline/handlers.go: a gorilla/mux
// HTTPHandler with RegisterRoutes(*mux.Router), writeJSON/writeError
// helpers, and Logging/Auth middleware, generalized from one pipeline's
// admin API to the full control-plane surface.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kgraph/controlplane/internal/apierr"
	"go.uber.org/zap"
)

// writeJSON encodes data as the response body with status code.
// Grounded on the teacher's writeJSON, narrowed to take an explicit status
// since the teacher's always wrote 200 and let individual handlers forget
// to set one.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the {"error": ..., "detail": ...} shape spec.md §6.1/§7
// requires every non-streaming error response to carry.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// badRequest builds a validation apierr from a free-form request-parsing
// complaint, for call sites that don't have a more specific apierr
// constructor to reach for.
func badRequest(detail string) error {
	return apierr.Validation("invalid_request", detail)
}

// writeError renders err as a tagged apierr response, or as an Unexpected
// 500 if err was never tagged (spec.md §7 "Unexpected (500): logged with
// correlation id").
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	apiErr, tagged := apierr.As(err)
	if !tagged {
		log.Error("unhandled error reached the HTTP boundary", zap.Error(err))
	}
	writeJSON(w, apiErr.Kind.HTTPStatus(), errorBody{Error: apiErr.Code, Detail: apiErr.Detail})
}
