package tokenservice

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore/memory"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedPublicClient(t *testing.T, store *memory.Storage, clientID, redirectURI string) {
	t.Helper()
	store.Seed(oauthstore.Client{
		ClientID:                clientID,
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: oauthstore.AuthMethodNone,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
	})
}

func issueAuthCode(t *testing.T, store *memory.Storage, req authzservice.AuthRequest, userID string, creds upstream.Credentials) string {
	t.Helper()
	authz := authzservice.New(store)
	redirectURL, aerr := authz.CompleteAuthorization(context.Background(), req, userID, creds)
	require.Nil(t, aerr, "CompleteAuthorization failed")
	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code, "redirect URL carried no code: %s", redirectURL)
	return code
}

func TestAuthorizationCodeHappyPath(t *testing.T) {
	store := memory.New(testLogger())
	seedPublicClient(t, store, "client1", "https://app.example/cb")

	code := issueAuthCode(t, store, authzservice.AuthRequest{
		ResponseType: "code",
		ClientID:     "client1",
		RedirectURI:  "https://app.example/cb",
		Scope:        []string{"org:read"},
	}, "user1", upstream.Credentials{AccessToken: "upstream-at", RefreshToken: "upstream-rt", AccessTokenExpiresAt: 9999999999})

	svc := New(store, nil, testLogger(), nil)
	resp, terr := svc.Handle(context.Background(), Request{
		GrantType:   GrantTypeAuthorizationCode,
		Client:      ClientCredentials{ClientID: "client1"},
		Code:        code,
		RedirectURI: "https://app.example/cb",
	})
	require.Nil(t, terr, "expected success")
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "org:read", resp.Scope)
}

func TestAuthorizationCodeReplayIsRejected(t *testing.T) {
	store := memory.New(testLogger())
	seedPublicClient(t, store, "client1", "https://app.example/cb")

	code := issueAuthCode(t, store, authzservice.AuthRequest{
		ResponseType: "code",
		ClientID:     "client1",
		RedirectURI:  "https://app.example/cb",
	}, "user1", upstream.Credentials{AccessToken: "upstream-at", RefreshToken: "upstream-rt", AccessTokenExpiresAt: 9999999999})

	svc := New(store, nil, testLogger(), nil)
	req := Request{GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "client1"}, Code: code, RedirectURI: "https://app.example/cb"}

	_, terr := svc.Handle(context.Background(), req)
	require.Nil(t, terr, "first exchange should succeed")

	_, terr = svc.Handle(context.Background(), req)
	require.NotNil(t, terr, "expected replay to be rejected")
	assert.Equal(t, "invalid_grant", terr.Code)
	assert.Equal(t, "Authorization code has already been used", terr.Description)
}

func TestAuthorizationCodePKCE(t *testing.T) {
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	newCode := func(t *testing.T) (*memory.Storage, string) {
		store := memory.New(testLogger())
		seedPublicClient(t, store, "client1", "https://app.example/cb")
		code := issueAuthCode(t, store, authzservice.AuthRequest{
			ResponseType:        "code",
			ClientID:            "client1",
			RedirectURI:         "https://app.example/cb",
			CodeChallenge:       challenge,
			CodeChallengeMethod: "S256",
		}, "user1", upstream.Credentials{AccessToken: "upstream-at", RefreshToken: "upstream-rt", AccessTokenExpiresAt: 9999999999})
		return store, code
	}

	t.Run("missing verifier", func(t *testing.T) {
		store, code := newCode(t)
		svc := New(store, nil, testLogger(), nil)
		_, terr := svc.Handle(context.Background(), Request{
			GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "client1"},
			Code: code, RedirectURI: "https://app.example/cb",
		})
		require.NotNil(t, terr)
		assert.Equal(t, "Missing code_verifier", terr.Description)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		store, code := newCode(t)
		svc := New(store, nil, testLogger(), nil)
		_, terr := svc.Handle(context.Background(), Request{
			GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "client1"},
			Code: code, RedirectURI: "https://app.example/cb", CodeVerifier: "wrong-verifier",
		})
		require.NotNil(t, terr)
		assert.Equal(t, "Invalid code_verifier", terr.Description)
	})

	t.Run("correct verifier", func(t *testing.T) {
		store, code := newCode(t)
		svc := New(store, nil, testLogger(), nil)
		resp, terr := svc.Handle(context.Background(), Request{
			GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "client1"},
			Code: code, RedirectURI: "https://app.example/cb", CodeVerifier: verifier,
		})
		require.Nil(t, terr, "expected success")
		assert.NotEmpty(t, resp.AccessToken)
	})
}

func TestUnsupportedGrantType(t *testing.T) {
	store := memory.New(testLogger())
	seedPublicClient(t, store, "client1", "https://app.example/cb")
	svc := New(store, nil, testLogger(), nil)

	_, terr := svc.Handle(context.Background(), Request{GrantType: "password", Client: ClientCredentials{ClientID: "client1"}})
	require.NotNil(t, terr)
	assert.Equal(t, "unsupported_grant_type", terr.Code)
}

func TestUnknownClientIsRejected(t *testing.T) {
	store := memory.New(testLogger())
	svc := New(store, nil, testLogger(), nil)

	_, terr := svc.Handle(context.Background(), Request{GrantType: GrantTypeAuthorizationCode, Client: ClientCredentials{ClientID: "nope"}})
	require.NotNil(t, terr)
	assert.Equal(t, "invalid_client", terr.Code)
}
