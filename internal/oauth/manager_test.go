// Copyright 2025 James Ross
package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/kgraph/controlplane/internal/clock"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(clock.SystemClock{}, time.Hour, 30*24*time.Hour, 10*time.Minute, 10*time.Minute, "https://example.test/device")
	require.NoError(t, err)
	return m
}

func TestClientCredentialsGrantIssuesAccessToken(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "svc-a", ClientSecret: "s3cret", Roles: []string{"contributor"}})

	resp, err := m.ClientCredentialsGrant(context.Background(), "svc-a", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.Empty(t, resp.RefreshToken)

	claims, err := m.Authenticate(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"contributor"}, claims.Roles)
}

func TestClientCredentialsGrantRejectsBadSecret(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "svc-a", ClientSecret: "s3cret"})

	_, err := m.ClientCredentialsGrant(context.Background(), "svc-a", "wrong")
	require.Error(t, err)
}

func TestDeviceCodeFlowEndToEnd(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "cli", Public: true})

	auth, err := m.StartDeviceAuthorization(context.Background(), "cli")
	require.NoError(t, err)
	require.NotEmpty(t, auth.UserCode)

	_, err = m.DeviceTokenGrant(context.Background(), auth.DeviceCode, "cli")
	require.Error(t, err, "should be authorization_pending before approval")

	require.NoError(t, m.ApproveDevice(context.Background(), auth.UserCode, "user-1", []string{"curator"}))

	resp, err := m.DeviceTokenGrant(context.Background(), auth.DeviceCode, "cli")
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
}

func TestDeviceCodeFlowDenied(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "cli", Public: true})
	auth, err := m.StartDeviceAuthorization(context.Background(), "cli")
	require.NoError(t, err)

	require.NoError(t, m.DenyDevice(context.Background(), auth.UserCode))
	_, err = m.DeviceTokenGrant(context.Background(), auth.DeviceCode, "cli")
	require.Error(t, err)
}

func TestAuthorizationCodeGrantWithPKCE(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "spa", Public: true, RedirectURIs: []string{"https://app.test/callback"}})

	verifier := "a-very-random-code-verifier-string-1234567890"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, err := m.IssueAuthorizationCode(context.Background(), "spa", "user-1", []string{"read_only"},
		"https://app.test/callback", challenge, "S256")
	require.NoError(t, err)

	_, err = m.AuthorizationCodeGrant(context.Background(), code, "spa", "https://app.test/callback", "wrong-verifier")
	require.Error(t, err, "wrong verifier must be rejected")

	resp, err := m.AuthorizationCodeGrant(context.Background(), code, "spa", "https://app.test/callback", verifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)

	_, err = m.AuthorizationCodeGrant(context.Background(), code, "spa", "https://app.test/callback", verifier)
	require.Error(t, err, "codes are single-use")
}

func TestRefreshTokenGrantRotatesToken(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "cli", Public: true})
	auth, err := m.StartDeviceAuthorization(context.Background(), "cli")
	require.NoError(t, err)
	require.NoError(t, m.ApproveDevice(context.Background(), auth.UserCode, "user-1", []string{"admin"}))
	first, err := m.DeviceTokenGrant(context.Background(), auth.DeviceCode, "cli")
	require.NoError(t, err)

	second, err := m.RefreshTokenGrant(context.Background(), first.RefreshToken, "cli")
	require.NoError(t, err)
	require.NotEmpty(t, second.AccessToken)

	_, err = m.RefreshTokenGrant(context.Background(), first.RefreshToken, "cli")
	require.Error(t, err, "refresh tokens are single-use")
}

func TestRevokeInvalidatesAccessToken(t *testing.T) {
	m := newTestManager(t)
	m.RegisterClient(Client{ClientID: "svc-a", ClientSecret: "s3cret", Roles: []string{"contributor"}})
	resp, err := m.ClientCredentialsGrant(context.Background(), "svc-a", "s3cret")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), resp.AccessToken))
	_, err = m.Authenticate(context.Background(), resp.AccessToken)
	require.Error(t, err)
}
