package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/config"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore/memory"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func testServer(t *testing.T) (*Server, *memory.Storage) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(logger)
	cfg := config.Config{
		Issuer:   "https://broker.example",
		Scopes:   []string{"org:read", "org:write"},
		Cookie:   config.Cookie{HashKey: "0123456789abcdef0123456789abcdef"},
		Upstream: config.Upstream{ClientID: "broker", ClientSecret: "secret"},
	}
	authz := authzservice.New(store)
	tokens := tokenservice.New(store, nil, logger, nil)
	upstreamClient := upstream.New(upstream.Config{ClientID: cfg.Upstream.ClientID, ClientSecret: cfg.Upstream.ClientSecret})
	return New(cfg, store, authz, tokens, upstreamClient, logger, nil), store
}

func TestHandleRegisterCreatesClient(t *testing.T) {
	s, store := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"redirect_uris": []string{"https://app.example/cb"},
		"client_name":   "Test Client",
	})
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRegister(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp registrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ClientID)
	assert.NotEmpty(t, resp.ClientSecret)
	assert.Equal(t, "client_secret_post", resp.TokenEndpointAuthMethod)

	stored, err := store.GetClient(req.Context(), resp.ClientID)
	require.NoError(t, err, "expected the client to be persisted")
	assert.NotEqual(t, resp.ClientSecret, stored.ClientSecret, "expected the stored secret to be hashed, not the plaintext value returned to the caller")
}

func TestHandleRegisterRejectsMissingRedirectURIs(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRegister(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterPublicClientHasNoSecret(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"redirect_uris":              []string{"https://app.example/cb"},
		"token_endpoint_auth_method": "none",
	})
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRegister(rec, req)

	var resp registrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.ClientSecret, "expected no client_secret for a public client")
}

func TestHandleASMetadata(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	s.handleASMetadata(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://broker.example", doc["issuer"])
	assert.Equal(t, "https://broker.example/oauth/authorize", doc["authorization_endpoint"])
}

func TestHandleResourceMetadata(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	s.handleResourceMetadata(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://broker.example", doc["resource"])
}
