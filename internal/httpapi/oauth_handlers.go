// Copyright 2025 James Ross
package httpapi

import (
	"net/http"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/oauth"
)

// handleOAuthToken implements POST /auth/oauth/token, dispatching on the
// grant_type form field to the matching oauth.Manager grant method
// (spec.md §6.1, §6.8).
func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, s.Log, badRequest("request body is not valid form data: "+err.Error()))
		return
	}

	grantType := oauth.GrantType(r.FormValue("grant_type"))
	clientID := r.FormValue("client_id")

	var (
		resp oauth.TokenResponse
		err  error
	)
	switch grantType {
	case oauth.GrantClientCredentials:
		resp, err = s.OAuth.ClientCredentialsGrant(r.Context(), clientID, r.FormValue("client_secret"))
	case oauth.GrantDeviceCode:
		resp, err = s.OAuth.DeviceTokenGrant(r.Context(), r.FormValue("device_code"), clientID)
	case oauth.GrantAuthorizationCode:
		resp, err = s.OAuth.AuthorizationCodeGrant(r.Context(), r.FormValue("code"), clientID, r.FormValue("redirect_uri"), r.FormValue("code_verifier"))
	case oauth.GrantRefreshToken:
		resp, err = s.OAuth.RefreshTokenGrant(r.Context(), r.FormValue("refresh_token"), clientID)
	default:
		writeError(w, s.Log, apierr.Validation("unsupported_grant_type", "grant_type \""+string(grantType)+"\" is not supported"))
		return
	}
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOAuthRevoke implements POST /auth/oauth/revoke.
func (s *Server) handleOAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, s.Log, badRequest("request body is not valid form data: "+err.Error()))
		return
	}
	token := r.FormValue("token")
	if token == "" {
		writeError(w, s.Log, badRequest("form field \"token\" is required"))
		return
	}
	if err := s.OAuth.Revoke(r.Context(), token); err != nil {
		writeError(w, s.Log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDeviceAuthorize implements POST /auth/oauth/device/authorize
// (RFC 8628 §3.1).
func (s *Server) handleDeviceAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, s.Log, badRequest("request body is not valid form data: "+err.Error()))
		return
	}
	resp, err := s.OAuth.StartDeviceAuthorization(r.Context(), r.FormValue("client_id"))
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorizeRequest is the body/query of GET/POST /auth/oauth/authorize: the
// already-authenticated user approving (or denying) a pending
// authorization_code or device-code grant (spec.md §6.1).
type authorizeRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	UserCode            string `json:"user_code"`
	Deny                bool   `json:"deny"`
}

// handleAuthorize implements GET/POST /auth/oauth/authorize: approves a
// pending device-code grant (user_code present) or mints an authorization
// code for the authorization_code grant (response_type=code), on behalf of
// the already-authenticated principal requireUser guarantees is present.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	req := authorizeRequest{
		ResponseType:        r.URL.Query().Get("response_type"),
		ClientID:            r.URL.Query().Get("client_id"),
		RedirectURI:         r.URL.Query().Get("redirect_uri"),
		CodeChallenge:       r.URL.Query().Get("code_challenge"),
		CodeChallengeMethod: r.URL.Query().Get("code_challenge_method"),
		UserCode:            r.URL.Query().Get("user_code"),
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if v := r.FormValue("user_code"); v != "" {
				req.UserCode = v
			}
			if v := r.FormValue("response_type"); v != "" {
				req.ResponseType = v
			}
			if v := r.FormValue("client_id"); v != "" {
				req.ClientID = v
			}
			if v := r.FormValue("redirect_uri"); v != "" {
				req.RedirectURI = v
			}
			if v := r.FormValue("code_challenge"); v != "" {
				req.CodeChallenge = v
			}
			if v := r.FormValue("code_challenge_method"); v != "" {
				req.CodeChallengeMethod = v
			}
			req.Deny = r.FormValue("deny") == "true"
		}
	}

	if req.UserCode != "" {
		if req.Deny {
			if err := s.OAuth.DenyDevice(r.Context(), req.UserCode); err != nil {
				writeError(w, s.Log, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := s.OAuth.ApproveDevice(r.Context(), req.UserCode, principal.UserID, principal.Roles); err != nil {
			writeError(w, s.Log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if req.ResponseType != "code" {
		writeError(w, s.Log, apierr.Validation("unsupported_response_type", "response_type must be \"code\" or user_code must be set"))
		return
	}
	code, err := s.OAuth.IssueAuthorizationCode(r.Context(), req.ClientID, principal.UserID, principal.Roles, req.RedirectURI, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		writeError(w, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}
