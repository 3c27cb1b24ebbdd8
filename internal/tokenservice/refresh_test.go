package tokenservice

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore/memory"
	"github.com/getsentry/sentry-mcp-oauth/internal/refreshcoordinator"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenstring"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func issueInitialTokens(t *testing.T, store *memory.Storage, creds upstream.Credentials) (accessToken, refreshToken string) {
	t.Helper()
	seedPublicClient(t, store, "client1", "https://app.example/cb")
	code := issueAuthCode(t, store, authzservice.AuthRequest{
		ResponseType: "code",
		ClientID:     "client1",
		RedirectURI:  "https://app.example/cb",
	}, "user1", creds)

	svc := New(store, nil, testLogger(), nil)
	resp, terr := svc.Handle(context.Background(), Request{
		GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "client1"},
		Code: code, RedirectURI: "https://app.example/cb",
	})
	require.Nil(t, terr, "failed to set up initial tokens")
	return resp.AccessToken, resp.RefreshToken
}

// TestRefreshReusesFreshUpstreamToken covers spec.md §4.5's near-expiry
// decision: when the bound upstream access token still has comfortable
// headroom, the refresh grant must not call upstream at all.
func TestRefreshReusesFreshUpstreamToken(t *testing.T) {
	store := memory.New(testLogger())
	farFuture := time.Now().Add(time.Hour).Unix()
	_, refreshToken := issueInitialTokens(t, store, upstream.Credentials{
		AccessToken: "upstream-at", RefreshToken: "upstream-rt", AccessTokenExpiresAt: farFuture,
	})

	// No coordinator is configured; if the service tried to call upstream
	// here, it would panic on the nil coordinator.
	svc := New(store, nil, testLogger(), nil)
	resp, terr := svc.Handle(context.Background(), Request{
		GrantType: GrantTypeRefreshToken, Client: ClientCredentials{ClientID: "client1"},
		RefreshToken: refreshToken,
	})
	require.Nil(t, terr, "expected success")
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, refreshToken, resp.RefreshToken, "expected the refresh token to be rotated even on the reuse path")
}

// TestRefreshForcesUpstreamRotation covers the other branch: when the bound
// upstream access token is near expiry, the service must call upstream via
// the coordinator and persist the rotated credentials.
func TestRefreshForcesUpstreamRotation(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "upstream-rt", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-upstream-at",
			"refresh_token": "new-upstream-rt",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	}))
	defer ts.Close()

	store := memory.New(testLogger())
	nearExpiry := time.Now().Add(30 * time.Second).Unix()
	_, refreshToken := issueInitialTokens(t, store, upstream.Credentials{
		AccessToken: "upstream-at", RefreshToken: "upstream-rt", AccessTokenExpiresAt: nearExpiry,
	})

	host := strings.TrimPrefix(ts.URL, "https://")
	insecureClient := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	upstreamClient := upstream.New(upstream.Config{ClientID: "broker", ClientSecret: "secret", Host: host, HTTPClient: insecureClient})
	coordinator := refreshcoordinator.New(store, upstreamClient, testLogger())

	svc := New(store, coordinator, testLogger(), nil)
	resp, terr := svc.Handle(context.Background(), Request{
		GrantType: GrantTypeRefreshToken, Client: ClientCredentials{ClientID: "client1"},
		RefreshToken: refreshToken,
	})
	require.Nil(t, terr, "expected success")
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.EqualValues(t, 3600, resp.ExpiresIn, "expected the downstream TTL to be capped at the access-token TTL")

	// The grant re-save after a forced upstream rotation must preserve the
	// grant's no-expiry lifetime set at code consumption (ttl=0), not reset
	// it to the 10-minute auth-code TTL, or the durable consent record
	// (and the refresh path's grant-fallback decrypt) would vanish long
	// before the 30-day refresh token expires.
	parsed, err := tokenstring.Parse(refreshToken)
	require.NoError(t, err)
	_, err = store.GetGrant(context.Background(), parsed.UserID, parsed.GrantID)
	require.NoError(t, err, "expected the grant to still be present after a forced upstream rotation")
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	store := memory.New(testLogger())
	seedPublicClient(t, store, "client1", "https://app.example/cb")
	svc := New(store, nil, testLogger(), nil)

	_, terr := svc.Handle(context.Background(), Request{
		GrantType: GrantTypeRefreshToken, Client: ClientCredentials{ClientID: "client1"},
		RefreshToken: "user1:grant1:doesnotexist",
	})
	require.NotNil(t, terr)
	assert.Equal(t, "invalid_grant", terr.Code)
}
