// Copyright 2025 James Ross
package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/clock"
)

// Manager implements the four OAuth grants and device/authorize endpoints
// spec.md §6.1 lists. One Manager instance backs a process.
type Manager struct {
	store *store
	sign  *signer
	clk   clock.Clock

	accessTTL  time.Duration
	refreshTTL time.Duration
	authCodeTTL time.Duration
	deviceTTL  time.Duration
	deviceInterval int

	verificationURI string
}

// New constructs a Manager. verificationURI is echoed into device
// authorization responses (spec.md §6.1's device_code flow; RFC 8628 §3.2).
func New(clk clock.Clock, accessTTL, refreshTTL, authCodeTTL, deviceTTL time.Duration, verificationURI string) (*Manager, error) {
	sign, err := newSigner()
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:           newStore(),
		sign:            sign,
		clk:             clk,
		accessTTL:       accessTTL,
		refreshTTL:      refreshTTL,
		authCodeTTL:     authCodeTTL,
		deviceTTL:       deviceTTL,
		deviceInterval:  5,
		verificationURI: verificationURI,
	}, nil
}

// RegisterClient adds or replaces an oauth_clients row.
func (m *Manager) RegisterClient(c Client) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.clients[c.ClientID] = c
}

func (m *Manager) client(clientID string) (Client, bool) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	c, ok := m.store.clients[clientID]
	return c, ok
}

func (m *Manager) mintTokens(clientID, userID string, roles []string, withRefresh bool) (TokenResponse, error) {
	now := m.clk.Now()
	claims := Claims{
		Subject:   userID,
		ClientID:  clientID,
		Roles:     roles,
		IssuedAt:  now.Time().Unix(),
		ExpiresAt: now.Add(m.accessTTL).Time().Unix(),
		JWTID:     clock.NewID(),
	}
	access, err := m.sign.sign(claims)
	if err != nil {
		return TokenResponse{}, err
	}

	resp := TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(m.accessTTL.Seconds()),
	}
	if withRefresh {
		rt := clock.NewID()
		m.store.mu.Lock()
		m.store.refresh[rt] = &RefreshTokenRecord{
			Token: rt, ClientID: clientID, UserID: userID, Roles: roles,
			ExpiresAt: now.Add(m.refreshTTL),
		}
		m.store.mu.Unlock()
		resp.RefreshToken = rt
	}
	return resp, nil
}

// ClientCredentialsGrant implements grant_type=client_credentials: the
// client authenticates as itself, with the roles its registration carries
// (spec.md §6.1, RFC 6749 §4.4).
func (m *Manager) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret string) (TokenResponse, error) {
	c, ok := m.client(clientID)
	if !ok || c.Public || subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(clientSecret)) != 1 {
		return TokenResponse{}, apierr.Authentication("invalid_client", "unknown client or bad client secret")
	}
	return m.mintTokens(clientID, "client:"+clientID, c.Roles, false)
}

// StartDeviceAuthorization implements POST /auth/oauth/device/authorize
// (RFC 8628 §3.1).
func (m *Manager) StartDeviceAuthorization(ctx context.Context, clientID string) (DeviceAuthorizationResponse, error) {
	if _, ok := m.client(clientID); !ok {
		return DeviceAuthorizationResponse{}, apierr.Authentication("invalid_client", "unknown client")
	}
	dc := &DeviceCode{
		DeviceCode: clock.NewID(),
		UserCode:   randomUserCode(),
		ClientID:   clientID,
		ExpiresAt:  m.clk.Now().Add(m.deviceTTL),
		Interval:   m.deviceInterval,
	}
	m.store.mu.Lock()
	m.store.device[dc.DeviceCode] = dc
	m.store.byUser[dc.UserCode] = dc.DeviceCode
	m.store.mu.Unlock()

	return DeviceAuthorizationResponse{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: m.verificationURI,
		ExpiresIn:       int(m.deviceTTL.Seconds()),
		Interval:        dc.Interval,
	}, nil
}

// ApproveDevice is called by GET/POST /auth/oauth/authorize once the
// already-authenticated user approves a pending user_code.
func (m *Manager) ApproveDevice(ctx context.Context, userCode, userID string, roles []string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	deviceCode, ok := m.store.byUser[userCode]
	if !ok {
		return apierr.NotFound("device_code_unknown", "no pending device authorization for that user code")
	}
	dc := m.store.device[deviceCode]
	if m.clk.Now().After(dc.ExpiresAt) {
		return apierr.Validation("device_code_expired", "device authorization request has expired")
	}
	dc.Approved = true
	dc.UserID = userID
	dc.Roles = roles
	return nil
}

// DenyDevice marks a pending device authorization as denied.
func (m *Manager) DenyDevice(ctx context.Context, userCode string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	deviceCode, ok := m.store.byUser[userCode]
	if !ok {
		return apierr.NotFound("device_code_unknown", "no pending device authorization for that user code")
	}
	m.store.device[deviceCode].Denied = true
	return nil
}

// DeviceTokenGrant implements polling grant_type=device_code (RFC 8628
// §3.4): authorization_pending / access_denied / expired_token / success.
func (m *Manager) DeviceTokenGrant(ctx context.Context, deviceCode, clientID string) (TokenResponse, error) {
	m.store.mu.Lock()
	dc, ok := m.store.device[deviceCode]
	m.store.mu.Unlock()
	if !ok || dc.ClientID != clientID {
		return TokenResponse{}, apierr.Validation("invalid_grant", "unknown device_code")
	}
	if m.clk.Now().After(dc.ExpiresAt) {
		return TokenResponse{}, apierr.Validation("expired_token", "device code has expired")
	}
	if dc.Denied {
		return TokenResponse{}, apierr.Authorization("access_denied", "the user denied the device authorization request")
	}
	if !dc.Approved {
		return TokenResponse{}, apierr.Validation("authorization_pending", "the user has not yet completed authorization")
	}

	m.store.mu.Lock()
	delete(m.store.device, deviceCode)
	delete(m.store.byUser, dc.UserCode)
	m.store.mu.Unlock()

	return m.mintTokens(clientID, dc.UserID, dc.Roles, true)
}

// IssueAuthorizationCode is called by GET/POST /auth/oauth/authorize for
// the authorization_code flow, once the user is authenticated and consents.
func (m *Manager) IssueAuthorizationCode(ctx context.Context, clientID, userID string, roles []string, redirectURI, codeChallenge, method string) (string, error) {
	c, ok := m.client(clientID)
	if !ok {
		return "", apierr.Authentication("invalid_client", "unknown client")
	}
	if !redirectURIAllowed(c, redirectURI) {
		return "", apierr.Validation("invalid_redirect_uri", "redirect_uri is not registered for this client")
	}
	code := &AuthorizationCode{
		Code: clock.NewID(), ClientID: clientID, UserID: userID, Roles: roles,
		RedirectURI: redirectURI, CodeChallenge: codeChallenge, CodeChallengeMethod: method,
		ExpiresAt: m.clk.Now().Add(m.authCodeTTL),
	}
	m.store.mu.Lock()
	m.store.authCode[code.Code] = code
	m.store.mu.Unlock()
	return code.Code, nil
}

// AuthorizationCodeGrant implements grant_type=authorization_code with
// mandatory PKCE verification (RFC 7636 §4.6) — public clients (device,
// native, SPA) never present a client secret, so PKCE is the only thing
// binding the code to its original requester.
func (m *Manager) AuthorizationCodeGrant(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (TokenResponse, error) {
	m.store.mu.Lock()
	ac, ok := m.store.authCode[code]
	m.store.mu.Unlock()
	if !ok || ac.ClientID != clientID || ac.Consumed {
		return TokenResponse{}, apierr.Validation("invalid_grant", "unknown, already-used, or mismatched authorization code")
	}
	if m.clk.Now().After(ac.ExpiresAt) {
		return TokenResponse{}, apierr.Validation("invalid_grant", "authorization code has expired")
	}
	if ac.RedirectURI != redirectURI {
		return TokenResponse{}, apierr.Validation("invalid_grant", "redirect_uri does not match the one used to issue the code")
	}
	if !verifyPKCE(ac.CodeChallenge, ac.CodeChallengeMethod, codeVerifier) {
		return TokenResponse{}, apierr.Validation("invalid_grant", "code_verifier does not match code_challenge")
	}

	m.store.mu.Lock()
	ac.Consumed = true
	m.store.mu.Unlock()

	return m.mintTokens(clientID, ac.UserID, ac.Roles, true)
}

// RefreshTokenGrant implements grant_type=refresh_token, rotating the
// refresh token so a stolen-and-replayed old token is detectable (the new
// token replaces the old one; the old one stops validating).
func (m *Manager) RefreshTokenGrant(ctx context.Context, refreshToken, clientID string) (TokenResponse, error) {
	m.store.mu.Lock()
	rt, ok := m.store.refresh[refreshToken]
	m.store.mu.Unlock()
	if !ok || rt.Revoked || rt.ClientID != clientID {
		return TokenResponse{}, apierr.Validation("invalid_grant", "unknown, revoked, or mismatched refresh token")
	}
	if m.clk.Now().After(rt.ExpiresAt) {
		return TokenResponse{}, apierr.Validation("invalid_grant", "refresh token has expired")
	}

	m.store.mu.Lock()
	rt.Revoked = true
	m.store.mu.Unlock()

	return m.mintTokens(clientID, rt.UserID, rt.Roles, true)
}

// Revoke implements POST /auth/oauth/revoke for both access and refresh
// tokens (RFC 7009). Access-token revocation is recorded by jti; the
// signer itself has no notion of revocation.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if rt, ok := m.store.refresh[token]; ok {
		m.store.mu.Lock()
		rt.Revoked = true
		m.store.mu.Unlock()
		return nil
	}
	claims, err := m.sign.verify(token)
	if err != nil {
		// RFC 7009 §2.2: revoking an already-invalid token is not an error.
		return nil
	}
	m.store.mu.Lock()
	m.store.revoked[claims.JWTID] = true
	m.store.mu.Unlock()
	return nil
}

// Authenticate verifies a bearer access token's signature, expiry, and
// revocation status, returning its Claims for the httpapi auth middleware
// to turn into an authz.Principal.
func (m *Manager) Authenticate(ctx context.Context, bearerToken string) (Claims, error) {
	claims, err := m.sign.verify(bearerToken)
	if err != nil {
		return Claims{}, err
	}
	if m.clk.Now().Time().Unix() >= claims.ExpiresAt {
		return Claims{}, apierr.Authentication("token_expired", "bearer token has expired")
	}
	m.store.mu.Lock()
	revoked := m.store.revoked[claims.JWTID]
	m.store.mu.Unlock()
	if revoked {
		return Claims{}, apierr.Authentication("token_revoked", "bearer token was revoked")
	}
	return claims, nil
}

func redirectURIAllowed(c Client, redirectURI string) bool {
	for _, u := range c.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return verifier == "" // client registered without PKCE (confidential clients only)
	}
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case "plain", "":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

// randomUserCode produces a short, human-typeable code for the device flow
// (RFC 8628 recommends a code easy to transcribe from a second screen).
func randomUserCode() string {
	id := clock.NewID()
	return fmt.Sprintf("%s-%s", id[:4], id[4:8])
}
