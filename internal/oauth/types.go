// Copyright 2025 James Ross
// Package oauth implements the OAuth token endpoints of spec.md §6.1:
// authorization_code (with PKCE), client_credentials, device_code, and
// refresh_token grants, plus device authorization and revocation.
// Grounded on the teacher's internal/rbac-and-tokens.Manager: the same
// header.payload.signature bearer-token shape and HMAC key-rotation model,
// generalized from a single GenerateToken call to the four OAuth grant
// flows spec.md names.
package oauth

import (
	"github.com/kgraph/controlplane/internal/clock"
)

// GrantType names the grant_type values spec.md §6.1 accepts at
// POST /auth/oauth/token.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Client is a registered OAuth client (the `oauth_clients` table, spec.md §6.8).
type Client struct {
	ClientID     string
	ClientSecret string // empty for public clients (device code, PKCE)
	Public       bool
	Roles        []string // roles granted to tokens minted for this client (client_credentials)
	RedirectURIs []string
}

// AuthorizationCode is one issued `code` awaiting exchange (`oauth_authorization_codes`).
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	Roles               []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" | "plain"
	ExpiresAt           clock.Instant
	Consumed            bool
}

// DeviceCode is one in-flight device-authorization grant (`oauth_device_codes`).
type DeviceCode struct {
	DeviceCode string
	UserCode   string
	ClientID   string
	ExpiresAt  clock.Instant
	Interval   int

	// Approved/UserID are set once a user completes GET/POST
	// /auth/oauth/authorize against UserCode.
	Approved bool
	Denied   bool
	UserID   string
	Roles    []string
}

// RefreshTokenRecord is one issued refresh token (`oauth_refresh_tokens`).
type RefreshTokenRecord struct {
	Token     string
	ClientID  string
	UserID    string
	Roles     []string
	ExpiresAt clock.Instant
	Revoked   bool
}

// Claims is the payload signed into an access token (mirrors the teacher's
// Claims: subject/issuer/expiry/jti/roles, narrowed to this kernel's needs).
type Claims struct {
	Subject   string   `json:"sub"`
	ClientID  string   `json:"client_id"`
	Roles     []string `json:"roles"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	JWTID     string   `json:"jti"`
	KeyID     string   `json:"kid"`
}

// TokenResponse is the JSON body of a successful POST /auth/oauth/token
// (RFC 6749 §5.1 shape).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// DeviceAuthorizationResponse is the body of POST /auth/oauth/device/authorize
// (RFC 8628 §3.2).
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}
