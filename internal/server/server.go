// Package server wires the authorization, token, and bearer-validation
// services to their HTTP endpoints, using gorilla/mux for routing and
// gorilla/handlers for CORS, exactly as server/server.go does
// (mux.NewRouter().SkipClean(true).UseEncodedPath(),
// handlers.CORS(...)). The approval-dialog UI, the upstream authorization
// redirect construction, and the HTTP framework's security middleware are
// external collaborators specified only by the interfaces they expose;
// this package supplies the narrowest concrete implementation of each so
// the full endpoint table is reachable, not a production UI.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/bearer"
	"github.com/getsentry/sentry-mcp-oauth/internal/config"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/telemetry"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// Server holds the constructed services and configuration needed to build
// the HTTP router. It is built once at startup (cmd/oauth-broker) and never
// mutated afterward, deliberately avoiding module-level mutable
// configuration.
type Server struct {
	cfg         config.Config
	store       oauthstore.Storage
	authz       *authzservice.Service
	tokens      *tokenservice.Service
	upstream    *upstream.Client
	bearer      *bearer.Validator
	state       *stateSigner
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// New constructs a Server. metrics may be nil in tests.
func New(cfg config.Config, store oauthstore.Storage, authz *authzservice.Service, tokens *tokenservice.Service, upstreamClient *upstream.Client, logger *slog.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		authz:    authz,
		tokens:   tokens,
		upstream: upstreamClient,
		bearer:   bearer.New(store, "mcp"),
		state:    newStateSigner(cfg.Cookie.HashKey, cfg.Cookie.BlockKey),
		logger:   logger,
		metrics:  metrics,
	}
}

// Router builds the complete route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()

	cors := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if len(s.cfg.Web.AllowedOrigins) > 0 {
			handler = handlers.CORS(
				handlers.AllowedOrigins(s.cfg.Web.AllowedOrigins),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
			)(handler)
		}
		return handler
	}

	r.Handle("/oauth/authorize", cors(s.handleAuthorizeGet)).Methods(http.MethodGet)
	r.Handle("/oauth/authorize", cors(s.handleAuthorizePost)).Methods(http.MethodPost)
	r.Handle("/oauth/callback", cors(s.handleCallback)).Methods(http.MethodGet)
	r.Handle("/oauth/token", cors(s.handleToken)).Methods(http.MethodPost)
	r.Handle("/oauth/register", cors(s.handleRegister)).Methods(http.MethodPost)
	r.Handle("/.well-known/oauth-authorization-server", cors(s.handleASMetadata)).Methods(http.MethodGet)
	r.Handle("/.well-known/oauth-protected-resource", cors(s.handleResourceMetadata)).Methods(http.MethodGet)

	r.NotFoundHandler = http.NotFoundHandler()
	return r
}

// Bearer returns the bearer-token validation middleware, for protected
// resource routes hosted outside this package.
func (s *Server) Bearer() *bearer.Validator { return s.bearer }

// eventID mints a correlation id for a server_error response, surfaced via
// the X-Event-ID response header.
func (s *Server) eventID() string { return uuid.NewString() }

// handleASMetadata implements the RFC 8414 authorization server metadata
// document.
func (s *Server) handleASMetadata(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"issuer":                                s.cfg.Issuer,
		"authorization_endpoint":                s.cfg.Issuer + "/oauth/authorize",
		"token_endpoint":                         s.cfg.Issuer + "/oauth/token",
		"registration_endpoint":                  s.cfg.Issuer + "/oauth/register",
		"scopes_supported":                       s.cfg.Scopes,
		"response_types_supported":               []string{"code"},
		"grant_types_supported":                  []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":       []string{"S256"},
		"token_endpoint_auth_methods_supported":  []string{"client_secret_post"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleResourceMetadata implements the protected-resource metadata
// document.
func (s *Server) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"resource":               s.cfg.Issuer,
		"scopes_supported":       s.cfg.Scopes,
		"bearer_methods_supported": []string{"header"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// serverErr logs a fatal invariant/internal failure at issue level with a
// correlation id and renders it as the JSON server_error body.
func (s *Server) serverErr(w http.ResponseWriter, r *http.Request, context string, err error) {
	id := s.eventID()
	s.logger.ErrorContext(r.Context(), "server: "+context, "event_id", id, "err", err)
	writeTokenError(w, id, oautherr.New(oautherr.ServerError, ""))
}
